package parser

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// stopwords is a small English list; anything shorter than three letters
// is dropped separately.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "all": true, "any": true, "can": true, "has": true,
	"have": true, "had": true, "was": true, "were": true, "will": true, "with": true,
	"this": true, "that": true, "these": true, "those": true, "from": true, "into": true,
	"onto": true, "over": true, "under": true, "then": true, "than": true, "them": true,
	"they": true, "their": true, "there": true, "here": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "who": true, "whom": true, "why": true,
	"how": true, "about": true, "after": true, "before": true, "also": true, "just": true,
	"only": true, "such": true, "more": true, "most": true, "some": true, "each": true,
	"other": true, "our": true, "out": true, "off": true, "own": true, "same": true,
	"too": true, "very": true, "does": true, "did": true, "doing": true, "done": true,
	"its": true, "his": true, "her": true, "him": true, "she": true, "may": true,
	"might": true, "must": true, "should": true, "would": true, "could": true, "been": true,
	"being": true, "use": true, "used": true, "using": true, "via": true, "per": true,
	"one": true, "two": true, "both": true, "either": true, "neither": true, "because": true,
}

type candidate struct {
	word    string
	count   int
	first   int
	capital int
}

// ExtractKeywords returns up to topK salient terms of text, scored by
// frequency damped by first position with a bonus for capitalized use.
// Terms are returned lowercased, best first.
func ExtractKeywords(text string, topK int) []string {
	if topK <= 0 {
		return nil
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	byWord := make(map[string]*candidate)
	for pos, tok := range tokens {
		tok = strings.Trim(tok, "-")
		lower := strings.ToLower(tok)
		if len([]rune(lower)) < 3 || stopwords[lower] || isNumber(lower) {
			continue
		}
		c, ok := byWord[lower]
		if !ok {
			c = &candidate{word: lower, first: pos}
			byWord[lower] = c
		}
		c.count++
		if unicode.IsUpper([]rune(tok)[0]) && pos > 0 {
			c.capital++
		}
	}

	scored := make([]*candidate, 0, len(byWord))
	for _, c := range byWord {
		scored = append(scored, c)
	}
	score := func(c *candidate) float64 {
		position := 1 / math.Log2(float64(c.first)+2)
		return float64(c.count)*(1+position) + float64(c.capital)*0.5
	}
	sort.Slice(scored, func(i, j int) bool {
		si, sj := score(scored[i]), score(scored[j])
		if si != sj {
			return si > sj
		}
		return scored[i].first < scored[j].first
	})

	out := make([]string, 0, min(topK, len(scored)))
	for _, c := range scored[:min(topK, len(scored))] {
		out = append(out, c.word)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return true
}

// MatchVocabulary keeps the terms that appear in vocabulary, compared
// case-insensitively, and returns them in the vocabulary's spelling.
// Duplicates are removed and at most limit terms are returned.
func MatchVocabulary(terms, vocabulary []string, limit int) []string {
	canonical := make(map[string]string, len(vocabulary))
	for _, v := range vocabulary {
		canonical[strings.ToLower(strings.TrimSpace(v))] = v
	}

	seen := make(map[string]bool)
	var out []string
	for _, t := range terms {
		v, ok := canonical[strings.ToLower(strings.TrimSpace(t))]
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
