// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package evaluator

import (
	"context"
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
)

// Usage is the activity observed for a subject inside one window.
type Usage struct {
	Minutes int `json:"minutes"`
	Count   int `json:"count"`
}

// UsageProvider supplies usage counters keyed by subject and window.
// Implementations should honour ctx; the evaluator stops waiting at its
// deadline either way.
type UsageProvider interface {
	Usage(ctx context.Context, subjectKey string, w schedule.Window, now time.Time) (Usage, error)
}

// UsageProviderFunc adapts a function to UsageProvider.
type UsageProviderFunc func(ctx context.Context, subjectKey string, w schedule.Window, now time.Time) (Usage, error)

func (f UsageProviderFunc) Usage(ctx context.Context, subjectKey string, w schedule.Window, now time.Time) (Usage, error) {
	return f(ctx, subjectKey, w, now)
}
