// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package usage implements evaluator.UsageProvider: Redis-backed counters,
// a TTL-cached wrapper and a no-op provider.
package usage

import (
	"context"
	"time"

	"github.com/ManuGH/timegate/internal/evaluator"
	"github.com/ManuGH/timegate/internal/schedule"
)

// Recorder accumulates usage for one window occurrence.
type Recorder interface {
	Record(ctx context.Context, subjectKey string, w schedule.Window, at time.Time, minutes, count int) error
}

// Zero reports no usage. Rules with budgets never block under it.
type Zero struct{}

func (Zero) Usage(context.Context, string, schedule.Window, time.Time) (evaluator.Usage, error) {
	return evaluator.Usage{}, nil
}

// OccurrenceDate returns the calendar date on which the occurrence of w that
// contains at began. For a window crossing midnight, instants before End
// belong to the occurrence that started the previous day.
func OccurrenceDate(w schedule.Window, at time.Time) time.Time {
	y, m, d := at.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, at.Location())
	if w.CrossesMidnight() {
		end := day.Add(time.Duration(w.End.Minutes()) * time.Minute)
		if at.Before(end) {
			return day.AddDate(0, 0, -1)
		}
	}
	return day
}

// Key is the storage key for subjectKey's usage in the occurrence of w
// containing at: "usage:{key}:{yyyy-mm-dd}:{HHMM-HHMM}".
func Key(subjectKey string, w schedule.Window, at time.Time) string {
	return "usage:" + subjectKey + ":" + OccurrenceDate(w, at).Format(time.DateOnly) + ":" + w.Key()
}
