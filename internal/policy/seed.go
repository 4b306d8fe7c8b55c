package policy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a declarative rule catalog as shipped in seed files.
type Document struct {
	Version string     `yaml:"version"`
	Rules   []SeedRule `yaml:"rules"`
}

// SeedRule mirrors Rule with seed-file defaults: rules are active unless the
// file says otherwise.
type SeedRule struct {
	Code        string         `yaml:"code"`
	Description string         `yaml:"description"`
	Conditions  map[string]any `yaml:"conditions"`
	Action      Action         `yaml:"action"`
	Priority    int            `yaml:"priority"`
	Active      *bool          `yaml:"active"`
	Version     int            `yaml:"version"`
}

// LoadDocument reads a YAML rule document from disk.
func LoadDocument(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read rule document: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse rule document: %w", err)
	}
	return doc, nil
}

func (d Document) toRules() []Rule {
	rules := make([]Rule, 0, len(d.Rules))
	for _, sr := range d.Rules {
		active := true
		if sr.Active != nil {
			active = *sr.Active
		}
		version := sr.Version
		if version == 0 {
			version = 1
		}
		rules = append(rules, Rule{
			Code:        sr.Code,
			Description: sr.Description,
			Conditions:  sr.Conditions,
			Action:      sr.Action,
			Priority:    sr.Priority,
			Active:      active,
			Version:     version,
		})
	}
	return rules
}

// FileSource is a Source backed by a YAML rule document. The file is re-read
// on every load, so Reload picks up edits without a restart.
type FileSource struct {
	Path string
}

// LoadActiveRules implements Source.
func (s *FileSource) LoadActiveRules(_ context.Context) ([]Rule, error) {
	doc, err := LoadDocument(s.Path)
	if err != nil {
		return nil, err
	}
	return doc.toRules(), nil
}
