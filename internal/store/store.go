// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists subjects and their atomic rules. The engine reads
// it only when rebuilding the rule index; evaluation never touches it.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ManuGH/timegate/internal/schedule"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrRuleNotFound    = errors.New("rule not found")
)

// RuleStore is the durable rule catalog.
//
// List methods return rules ordered by (SubjectID, Day, CreatedAt, ID).
// SubjectByID and SubjectByKey report a miss with ok=false and a nil error.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]schedule.Rule, error)
	RulesForSubject(ctx context.Context, subjectID int64) ([]schedule.Rule, error)
	SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error)
	SubjectByKey(ctx context.Context, key string) (schedule.Subject, bool, error)
	ListSubjects(ctx context.Context) ([]schedule.Subject, error)

	// UpsertSubject creates or updates the subject identified by s.Key and
	// returns the stored record with its ID.
	UpsertSubject(ctx context.Context, s schedule.Subject) (schedule.Subject, error)
	SetSubjectEnabled(ctx context.Context, key string, enabled bool) error
	// DeleteSubject removes the subject and all of its rules.
	DeleteSubject(ctx context.Context, key string) error
	// CreateRules validates and inserts rules atomically, returning them with
	// IDs assigned. Either every rule is stored or none is.
	CreateRules(ctx context.Context, rules []schedule.Rule) ([]schedule.Rule, error)
	DeleteRule(ctx context.Context, id int64) error

	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config selects and locates a backend.
type Config struct {
	Backend string `yaml:"backend"`
	// Path is a database file for sqlite and a directory for badger.
	// Relative paths resolve against DataDir.
	Path    string `yaml:"path"`
	DataDir string `yaml:"-"`
}

// ResolvedPath returns Path joined onto DataDir, with a per-backend default.
func (c Config) ResolvedPath() string {
	p := c.Path
	if p == "" {
		switch c.backend() {
		case BackendBadger:
			p = "rules.badger"
		default:
			p = "rules.sqlite"
		}
	}
	if filepath.IsAbs(p) || c.DataDir == "" {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func (c Config) backend() string {
	b := strings.ToLower(strings.TrimSpace(c.Backend))
	if b == "" {
		return BackendSQLite
	}
	return b
}

// Open creates a RuleStore for cfg.Backend (default sqlite).
func Open(ctx context.Context, cfg Config) (RuleStore, error) {
	switch cfg.backend() {
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.ResolvedPath())
	case BackendBadger:
		return OpenBadger(cfg.ResolvedPath())
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func validateRules(rules []schedule.Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func validateSubject(s schedule.Subject) error {
	if strings.TrimSpace(s.Key) == "" {
		return &schedule.ValidationError{Field: "key", Reason: "must not be empty"}
	}
	return nil
}

func sortRules(rules []schedule.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func sortSubjects(subjects []schedule.Subject) {
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Key < subjects[j].Key })
}
