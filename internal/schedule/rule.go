// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule holds the rule model and the pure functions over it:
// window matching, pattern expansion and coverage projection.
package schedule

import (
	"fmt"
	"time"
)

// Budget limits usage inside a window. Zero disables the respective limit.
type Budget struct {
	TimeMinutes int `json:"timeBudgetMinutes" yaml:"timeBudgetMinutes"`
	Count       int `json:"countBudget" yaml:"countBudget"`
}

// Rule restricts one subject on one day during one window.
type Rule struct {
	ID                int64     `json:"id"`
	SubjectID         int64     `json:"subjectId"`
	Day               Day       `json:"day"`
	Window            Window    `json:"window"`
	TimeBudgetMinutes int       `json:"timeBudgetMinutes"`
	CountBudget       int       `json:"countBudget"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Budget returns the rule's budgets as a value.
func (r Rule) Budget() Budget {
	return Budget{TimeMinutes: r.TimeBudgetMinutes, Count: r.CountBudget}
}

// Exceeded reports whether the observed usage reaches either non-zero budget.
func (r Rule) Exceeded(minutes, count int) bool {
	return r.TimeExceeded(minutes) || r.CountExceeded(count)
}

// TimeExceeded reports whether minutes reaches a non-zero time budget.
func (r Rule) TimeExceeded(minutes int) bool {
	return r.TimeBudgetMinutes > 0 && minutes >= r.TimeBudgetMinutes
}

// CountExceeded reports whether count reaches a non-zero count budget.
func (r Rule) CountExceeded(count int) bool {
	return r.CountBudget > 0 && count >= r.CountBudget
}

// Validate checks a stored or hand-built rule. Expand output always passes.
func (r Rule) Validate() error {
	if r.SubjectID <= 0 {
		return &ValidationError{Field: "subjectId", Reason: "must be positive"}
	}
	if !r.Day.Valid() {
		return &ValidationError{Field: "day", Reason: fmt.Sprintf("day %d out of range 1..7", int(r.Day))}
	}
	return validateTemplate(Custom(r.Day), r.Window, r.Budget())
}

// Subject is a monitored entity. Disabled subjects are never restricted.
type Subject struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"enabled"`
}
