// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package evaluator

import (
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
)

// Reason explains a Decision in one stable machine-readable token.
type Reason string

const (
	ReasonSubjectUnknown      Reason = "subject_unknown"
	ReasonSubjectDisabled     Reason = "subject_disabled"
	ReasonNoActiveRule        Reason = "no_active_rule"
	ReasonWithinBudget        Reason = "within_budget"
	ReasonTimeBudgetExceeded  Reason = "time_budget_exceeded"
	ReasonCountBudgetExceeded Reason = "count_budget_exceeded"
	ReasonEvaluationFailed    Reason = "evaluation_failed"
)

// Decision is the result of one evaluation. Rule is set iff Blocked.
// UsageMinutes and UsageCount hold the values that triggered the block, or
// the last values observed when allowed.
type Decision struct {
	Blocked         bool           `json:"blocked"`
	Rule            *schedule.Rule `json:"violatedRule,omitempty"`
	UsageMinutes    int            `json:"usageTime"`
	UsageCount      int            `json:"usageCount"`
	Reason          Reason         `json:"reason"`
	SubjectKey      string         `json:"subjectKey"`
	EvaluatedAt     time.Time      `json:"evaluatedAt"`
	SnapshotVersion uint64         `json:"snapshotVersion"`
	// UsageDegraded is set when at least one usage lookup failed open.
	UsageDegraded bool `json:"usageDegraded,omitempty"`
}

func allowed(key string, now time.Time, reason Reason) Decision {
	return Decision{SubjectKey: key, EvaluatedAt: now, Reason: reason}
}
