package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// AnonymousIdentity is the identity used when the caller is not logged in.
const AnonymousIdentity = "anonymous"

// Profile describes the domain the assistant serves: who it is, what the
// query backend looks like and which keywords tag the document corpus.
type Profile struct {
	Assistant      string   `yaml:"assistant"`
	Domain         string   `yaml:"domain"`
	Dialect        string   `yaml:"dialect"`
	Schema         string   `yaml:"schema"`
	IdentityColumn string   `yaml:"identity_column"`
	IdentityTables []string `yaml:"identity_tables"`
	QueryRules     []string `yaml:"query_rules"`
	Keywords       []string `yaml:"keywords"`
	Language       string   `yaml:"language"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() Profile {
	p, err := parseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	return p
}

// LoadProfile reads a YAML profile from path. An empty path returns the
// built-in profile. Fields missing from the file fall back to the built-in values.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	p, err := parseProfile(data)
	if err != nil {
		return Profile{}, err
	}
	return p.withDefaults(DefaultProfile()), nil
}

func parseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	p.Schema = strings.TrimSpace(p.Schema)
	return p, nil
}

func (p Profile) withDefaults(d Profile) Profile {
	if p.Assistant == "" {
		p.Assistant = d.Assistant
	}
	if p.Domain == "" {
		p.Domain = d.Domain
	}
	if p.Dialect == "" {
		p.Dialect = d.Dialect
	}
	if p.Schema == "" {
		p.Schema = d.Schema
	}
	if p.IdentityColumn == "" {
		p.IdentityColumn = d.IdentityColumn
	}
	if len(p.IdentityTables) == 0 {
		p.IdentityTables = d.IdentityTables
	}
	if len(p.QueryRules) == 0 {
		p.QueryRules = d.QueryRules
	}
	if len(p.Keywords) == 0 {
		p.Keywords = d.Keywords
	}
	if p.Language == "" {
		p.Language = d.Language
	}
	return p
}
