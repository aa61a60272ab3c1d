// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span the service emits.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	SubjectKeyKey      = "timegate.subject_key"
	RuleIDKey          = "timegate.rule_id"
	DecisionBlockedKey = "timegate.decision.blocked"
	DecisionReasonKey  = "timegate.decision.reason"
	UsageDegradedKey   = "timegate.usage.degraded"

	SnapshotVersionKey = "timegate.index.version"
	IndexSubjectsKey   = "timegate.index.subjects"
	IndexRulesKey      = "timegate.index.rules"
	IndexDroppedKey    = "timegate.index.dropped"
	RebuildTriggerKey  = "timegate.rebuild.trigger"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DecisionAttributes describes an evaluation outcome. ruleID <= 0 is omitted.
func DecisionAttributes(subjectKey string, blocked bool, reason string, ruleID int64, degraded bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SubjectKeyKey, subjectKey),
		attribute.Bool(DecisionBlockedKey, blocked),
		attribute.String(DecisionReasonKey, reason),
	}
	if ruleID > 0 {
		attrs = append(attrs, attribute.Int64(RuleIDKey, ruleID))
	}
	if degraded {
		attrs = append(attrs, attribute.Bool(UsageDegradedKey, true))
	}
	return attrs
}

// IndexAttributes describes an installed snapshot.
func IndexAttributes(version uint64, subjects, rules, dropped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(SnapshotVersionKey, int64(version)),
		attribute.Int(IndexSubjectsKey, subjects),
		attribute.Int(IndexRulesKey, rules),
		attribute.Int(IndexDroppedKey, dropped),
	}
}

func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
