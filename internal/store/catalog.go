// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Catalog is the YAML seed document:
//
//	subjects:
//	  - key: com.example.game
//	    name: Game
//	    enabled: true
//	    rules:
//	      - pattern: workday
//	        window: "09:00-17:00"
//	        timeBudgetMinutes: 30
//	      - pattern: custom
//	        days: [Sat]
//	        window: "22:00-06:00"
//	        countBudget: 2
type Catalog struct {
	Subjects []CatalogSubject `yaml:"subjects"`
}

type CatalogSubject struct {
	Key     string         `yaml:"key"`
	Name    string         `yaml:"name"`
	Enabled *bool          `yaml:"enabled"`
	Rules   []CatalogEntry `yaml:"rules"`
}

// CatalogEntry is one pattern template; it expands to one rule per day.
type CatalogEntry struct {
	Pattern           string   `yaml:"pattern" json:"pattern"`
	Days              []string `yaml:"days" json:"days,omitempty"`
	Window            string   `yaml:"window" json:"window"`
	TimeBudgetMinutes int      `yaml:"timeBudgetMinutes" json:"timeBudgetMinutes"`
	CountBudget       int      `yaml:"countBudget" json:"countBudget"`
}

// ImportResult counts what ImportCatalog wrote.
type ImportResult struct {
	Subjects int
	Rules    int
	Replaced int
}

// ParseCatalog decodes a catalog strictly; unknown fields are errors.
func ParseCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

type plannedSubject struct {
	subject   schedule.Subject
	templates []template
}

type template struct {
	pattern schedule.Pattern
	window  schedule.Window
	budget  schedule.Budget
}

// ImportCatalog reads a catalog and makes each listed subject's rules equal
// to the expanded templates. Every template is validated before anything is
// written. Subjects not in the catalog are left alone.
func ImportCatalog(ctx context.Context, s RuleStore, r io.Reader, createdAt time.Time) (ImportResult, error) {
	cat, err := ParseCatalog(r)
	if err != nil {
		return ImportResult{}, err
	}
	plan, err := planCatalog(cat)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for _, p := range plan {
		subj, err := s.UpsertSubject(ctx, p.subject)
		if err != nil {
			return res, err
		}
		res.Subjects++

		old, err := s.RulesForSubject(ctx, subj.ID)
		if err != nil {
			return res, err
		}

		var rules []schedule.Rule
		for _, t := range p.templates {
			expanded, err := schedule.Expand(t.pattern, t.window, t.budget, subj.ID, createdAt)
			if err != nil {
				return res, err
			}
			rules = append(rules, expanded...)
		}
		if len(rules) > 0 {
			created, err := s.CreateRules(ctx, rules)
			if err != nil {
				return res, fmt.Errorf("subject %q: %w", subj.Key, err)
			}
			res.Rules += len(created)
		}

		for _, o := range old {
			if err := s.DeleteRule(ctx, o.ID); err != nil && !errors.Is(err, ErrRuleNotFound) {
				return res, fmt.Errorf("subject %q: drop rule %d: %w", subj.Key, o.ID, err)
			}
			res.Replaced++
		}
	}
	return res, nil
}

func planCatalog(cat Catalog) ([]plannedSubject, error) {
	seen := make(map[string]struct{}, len(cat.Subjects))
	plan := make([]plannedSubject, 0, len(cat.Subjects))
	for i, cs := range cat.Subjects {
		subj := schedule.Subject{Key: cs.Key, Name: cs.Name, Enabled: true}
		if cs.Enabled != nil {
			subj.Enabled = *cs.Enabled
		}
		if err := validateSubject(subj); err != nil {
			return nil, fmt.Errorf("subjects[%d]: %w", i, err)
		}
		if _, dup := seen[cs.Key]; dup {
			return nil, fmt.Errorf("subjects[%d]: duplicate key %q", i, cs.Key)
		}
		seen[cs.Key] = struct{}{}

		p := plannedSubject{subject: subj}
		for j, e := range cs.Rules {
			t, err := e.template()
			if err != nil {
				return nil, fmt.Errorf("subjects[%d].rules[%d]: %w", i, j, err)
			}
			// Expand against a placeholder subject to validate up front.
			if _, err := schedule.Expand(t.pattern, t.window, t.budget, 1, time.Time{}); err != nil {
				return nil, fmt.Errorf("subjects[%d].rules[%d]: %w", i, j, err)
			}
			p.templates = append(p.templates, t)
		}
		plan = append(plan, p)
	}
	return plan, nil
}

// Template parses the entry into its expansion inputs.
func (e CatalogEntry) Template() (schedule.Pattern, schedule.Window, schedule.Budget, error) {
	t, err := e.template()
	return t.pattern, t.window, t.budget, err
}

func (e CatalogEntry) template() (template, error) {
	days := make([]schedule.Day, 0, len(e.Days))
	for _, s := range e.Days {
		d, err := schedule.ParseDay(s)
		if err != nil {
			return template{}, &schedule.ValidationError{Field: "days", Reason: err.Error()}
		}
		days = append(days, d)
	}
	p, err := schedule.ParsePattern(e.Pattern, days)
	if err != nil {
		return template{}, err
	}
	w, err := schedule.ParseWindow(e.Window)
	if err != nil {
		return template{}, &schedule.ValidationError{Field: "window", Reason: err.Error()}
	}
	return template{
		pattern: p,
		window:  w,
		budget:  schedule.Budget{TimeMinutes: e.TimeBudgetMinutes, Count: e.CountBudget},
	}, nil
}
