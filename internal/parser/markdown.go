// Package parser turns source documents into sentence-aligned chunks and
// keyword tags.
package parser

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document represents a parsed source document.
type Document struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from first h1 or frontmatter
	Title string

	// Body is the prose with Markdown syntax removed
	Body string
}

var (
	h1Regex       = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	listRegex     = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	linkRegex     = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	emphasisRegex = regexp.MustCompile("[*_`]{1,3}")
)

// ParseMarkdown parses a Markdown document. Frontmatter YAML errors are
// ignored and yield empty frontmatter.
func ParseMarkdown(content string) *Document {
	doc := &Document{
		Frontmatter: make(map[string]any),
	}

	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Body = plainText(remaining)
	return doc
}

// ParsePlain wraps plain text without any Markdown handling.
func ParsePlain(content string) *Document {
	return &Document{Frontmatter: map[string]any{}, Body: content}
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// plainText strips Markdown markup. Headings and list items become
// sentences of their own so they never merge with the following prose.
func plainText(content string) string {
	var b strings.Builder
	inFence := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || strings.HasPrefix(trimmed, "|") {
			b.WriteString("\n")
			continue
		}

		standalone := false
		if match := headingRegex.FindStringSubmatch(trimmed); match != nil {
			trimmed = match[2]
			standalone = true
		} else if listRegex.MatchString(trimmed) {
			trimmed = listRegex.ReplaceAllString(trimmed, "")
			standalone = true
		}
		trimmed = strings.TrimPrefix(trimmed, "> ")
		trimmed = linkRegex.ReplaceAllString(trimmed, "$1")
		trimmed = emphasisRegex.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" {
			continue
		}

		if standalone && !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
			trimmed += "."
		}
		b.WriteString(trimmed)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *Document) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}
