// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock hour and minute without a date.
type TimeOfDay struct {
	Hour   int `json:"hour" yaml:"hour"`
	Minute int `json:"minute" yaml:"minute"`
}

// Valid reports whether the hour is 0..23 and the minute 0..59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" or "HHMM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(clean) != 4 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	n, err := strconv.Atoi(clean)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	tod := TimeOfDay{Hour: n / 100, Minute: n % 100}
	if !tod.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return tod, nil
}

// Window is a time-of-day range. End before Start means the window crosses midnight.
type Window struct {
	Start TimeOfDay `json:"start" yaml:"start"`
	End   TimeOfDay `json:"end" yaml:"end"`
}

// NewWindow builds a window from hours and minutes.
func NewWindow(startHour, startMinute, endHour, endMinute int) Window {
	return Window{
		Start: TimeOfDay{Hour: startHour, Minute: startMinute},
		End:   TimeOfDay{Hour: endHour, Minute: endMinute},
	}
}

// ParseWindow parses "HH:MM-HH:MM" (colons optional), e.g. "22:00-06:00".
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: want HH:MM-HH:MM", s)
	}
	start, err := ParseTimeOfDay(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseTimeOfDay(parts[1])
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// Valid reports whether both ends are valid times of day.
func (w Window) Valid() bool {
	return w.Start.Valid() && w.End.Valid()
}

// CrossesMidnight reports whether End is before Start.
func (w Window) CrossesMidnight() bool {
	return w.End.Minutes() < w.Start.Minutes()
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Key is a compact, stable form ("HHMM-HHMM") used in storage and cache keys.
func (w Window) Key() string {
	return fmt.Sprintf("%02d%02d-%02d%02d", w.Start.Hour, w.Start.Minute, w.End.Hour, w.End.Minute)
}

// Contains reports whether the time of day of t falls strictly inside w.
// Both boundaries are exclusive: t equal to Start or End never matches.
// A window with Start == End is treated as non-crossing and matches nothing.
func (w Window) Contains(t time.Time) bool {
	at := sinceMidnight(t)
	start, end := w.Start.offset(), w.End.offset()
	if !w.CrossesMidnight() {
		return at > start && at < end
	}
	return at > start || at < end
}

// Contains is the function form of Window.Contains.
func Contains(w Window, t time.Time) bool {
	return w.Contains(t)
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
