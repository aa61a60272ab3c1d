// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects authoring input before any rule is generated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PatternKind discriminates the Pattern variants.
type PatternKind int

const (
	PatternWorkday PatternKind = iota + 1
	PatternWeekend
	PatternCustom
)

func (k PatternKind) String() string {
	switch k {
	case PatternWorkday:
		return "workday"
	case PatternWeekend:
		return "weekend"
	case PatternCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Pattern is an authoring-time template. The zero value is not a valid pattern;
// build one with Workday, Weekend or Custom.
type Pattern struct {
	kind PatternKind
	days []Day
}

// Workday selects Monday through Friday.
func Workday() Pattern { return Pattern{kind: PatternWorkday} }

// Weekend selects Saturday and Sunday.
func Weekend() Pattern { return Pattern{kind: PatternWeekend} }

// Custom selects an explicit set of days. Duplicates collapse; an empty set
// is accepted here and rejected by Expand.
func Custom(days ...Day) Pattern {
	return Pattern{kind: PatternCustom, days: dedupeDays(days)}
}

// ParsePattern maps a wire name ("workday", "weekend", "custom") to a Pattern.
func ParsePattern(name string, days []Day) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "workday", "workdays":
		return Workday(), nil
	case "weekend":
		return Weekend(), nil
	case "custom":
		return Custom(days...), nil
	default:
		return Pattern{}, &ValidationError{Field: "pattern", Reason: fmt.Sprintf("unknown pattern %q", name)}
	}
}

// Kind returns the variant tag.
func (p Pattern) Kind() PatternKind { return p.kind }

// Days returns the days the pattern expands to, ascending.
func (p Pattern) Days() []Day {
	switch p.kind {
	case PatternWorkday:
		return []Day{Monday, Tuesday, Wednesday, Thursday, Friday}
	case PatternWeekend:
		return []Day{Saturday, Sunday}
	case PatternCustom:
		return append([]Day(nil), p.days...)
	default:
		return nil
	}
}

func (p Pattern) String() string {
	if p.kind != PatternCustom {
		return p.kind.String()
	}
	names := make([]string, len(p.days))
	for i, d := range p.days {
		names[i] = d.String()
	}
	return "custom(" + strings.Join(names, ",") + ")"
}

// Expand turns a pattern into one atomic rule per selected day. All rules share
// window, budgets, subject and createdAt. Nothing is persisted.
func Expand(p Pattern, w Window, b Budget, subjectID int64, createdAt time.Time) ([]Rule, error) {
	if err := validateTemplate(p, w, b); err != nil {
		return nil, err
	}

	days := p.Days()
	rules := make([]Rule, 0, len(days))
	for _, d := range days {
		rules = append(rules, Rule{
			SubjectID:         subjectID,
			Day:               d,
			Window:            w,
			TimeBudgetMinutes: b.TimeMinutes,
			CountBudget:       b.Count,
			CreatedAt:         createdAt,
		})
	}
	return rules, nil
}

func validateTemplate(p Pattern, w Window, b Budget) error {
	switch p.kind {
	case PatternWorkday, PatternWeekend:
	case PatternCustom:
		if len(p.days) == 0 {
			return &ValidationError{Field: "days", Reason: "custom pattern requires at least one day"}
		}
		for _, d := range p.days {
			if !d.Valid() {
				return &ValidationError{Field: "days", Reason: fmt.Sprintf("day %d out of range 1..7", int(d))}
			}
		}
	default:
		return &ValidationError{Field: "pattern", Reason: "pattern not set"}
	}
	if !w.Start.Valid() {
		return &ValidationError{Field: "window.start", Reason: fmt.Sprintf("%02d:%02d out of range", w.Start.Hour, w.Start.Minute)}
	}
	if !w.End.Valid() {
		return &ValidationError{Field: "window.end", Reason: fmt.Sprintf("%02d:%02d out of range", w.End.Hour, w.End.Minute)}
	}
	if b.TimeMinutes < 0 {
		return &ValidationError{Field: "timeBudgetMinutes", Reason: "must not be negative"}
	}
	if b.Count < 0 {
		return &ValidationError{Field: "countBudget", Reason: "must not be negative"}
	}
	return nil
}

func dedupeDays(days []Day) []Day {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[Day]struct{}, len(days))
	out := make([]Day, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
