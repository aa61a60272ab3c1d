// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldSubjectKey = "subject_key"
	FieldSubjectID  = "subject_id"
	FieldRuleID     = "rule_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTrigger   = "trigger"

	// Index fields
	FieldSnapshotVersion = "snapshot_version"
	FieldSubjects        = "subjects"
	FieldRules           = "rules"

	// Decision fields
	FieldBlocked      = "blocked"
	FieldReason       = "reason"
	FieldUsageMinutes = "usage_minutes"
	FieldUsageCount   = "usage_count"

	// Path / storage fields
	FieldPath    = "path"
	FieldBackend = "backend"
)
