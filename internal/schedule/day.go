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

// Day is an ISO-style day of week: Monday=1 … Sunday=7.
type Day int

const (
	Monday Day = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Valid reports whether d is within 1..7.
func (d Day) Valid() bool {
	return d >= Monday && d <= Sunday
}

// Index returns the zero-based row of d in a coverage grid (Mon=0 … Sun=6).
func (d Day) Index() int {
	return int(d) - 1
}

func (d Day) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Day(%d)", int(d))
	}
	return dayNames[d.Index()]
}

// DayOf returns the Day of t in t's own location.
func DayOf(t time.Time) Day {
	// time.Weekday counts Sunday as 0.
	return Day((int(t.Weekday())+6)%7 + 1)
}

// ParseDay accepts 1..7 or a three-letter English abbreviation (case-insensitive).
func ParseDay(s string) (Day, error) {
	s = strings.TrimSpace(s)
	for i, name := range dayNames {
		if strings.EqualFold(name, s) {
			return Day(i + 1), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Day(n).Valid() {
		return Day(n), nil
	}
	return 0, fmt.Errorf("invalid day %q", s)
}
