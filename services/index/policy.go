// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed classifications.yaml
var defaultClassifications []byte

// Confidence grades how likely a pattern match is a true positive.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch v := Confidence(s); v {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		*c = v
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

// Pattern is one regular expression within a classification.
type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	re *regexp.Regexp
}

// Classification groups patterns under a name such as "secret".
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Block       bool      `yaml:"block"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Finding is a single pattern match. The matched text itself is not
// kept so findings are safe to log.
type Finding struct {
	Path           string
	Line           int
	Classification string
	PatternID      string
	Confidence     Confidence
	Block          bool
}

// Policy classifies file content before it is indexed.
type Policy struct {
	classes []Classification
}

// DefaultPolicy loads the classifications compiled into the binary.
func DefaultPolicy() (*Policy, error) {
	return LoadPolicy(defaultClassifications)
}

// LoadPolicy parses a classifications document, compiles its patterns
// and orders classifications from highest to lowest priority.
func LoadPolicy(data []byte) (*Policy, error) {
	var doc struct {
		Classifications []Classification `yaml:"classifications"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse classifications: %w", err)
	}
	for i := range doc.Classifications {
		c := &doc.Classifications[i]
		for j := range c.Patterns {
			p := &c.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("classification %s pattern %s: %w", c.Name, p.ID, err)
			}
			p.re = re
		}
	}
	sort.SliceStable(doc.Classifications, func(i, j int) bool {
		return doc.Classifications[i].Priority > doc.Classifications[j].Priority
	})
	return &Policy{classes: doc.Classifications}, nil
}

// Scan returns every match in content, line by line.
func (p *Policy) Scan(path, content string) []Finding {
	var findings []Finding
	for n, line := range strings.Split(content, "\n") {
		for _, c := range p.classes {
			for _, pat := range c.Patterns {
				if pat.re.MatchString(line) {
					findings = append(findings, Finding{
						Path:           path,
						Line:           n + 1,
						Classification: c.Name,
						PatternID:      pat.ID,
						Confidence:     pat.Confidence,
						Block:          c.Block,
					})
				}
			}
		}
	}
	return findings
}

// Blocked reports the first blocking finding in content, if any.
func (p *Policy) Blocked(path, content string) (Finding, bool) {
	for _, c := range p.classes {
		if !c.Block {
			continue
		}
		for _, pat := range c.Patterns {
			if loc := pat.re.FindStringIndex(content); loc != nil {
				return Finding{
					Path:           path,
					Line:           strings.Count(content[:loc[0]], "\n") + 1,
					Classification: c.Name,
					PatternID:      pat.ID,
					Confidence:     pat.Confidence,
					Block:          true,
				}, true
			}
		}
	}
	return Finding{}, false
}
