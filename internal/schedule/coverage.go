// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import "strings"

// Grid is a day × hour coverage matrix, rows Mon=0 … Sun=6.
type Grid [7][24]bool

// BuildCoverage projects rules onto a Grid. It shows potential coverage and
// ignores budgets and the current time. Rules with an invalid day or window
// are skipped.
//
// A non-crossing window marks [startHour..endHour] inclusive on its day. A
// window that crosses midnight marks [startHour..23] on its day and the hours
// up to its end on the following day (Sunday wraps to Monday); an end on the
// full hour does not cover that hour, so 22:00-06:00 marks 0..5.
func BuildCoverage(rules []Rule) Grid {
	var g Grid
	for _, r := range rules {
		if !r.Day.Valid() || !r.Window.Valid() {
			continue
		}
		row := r.Day.Index()
		start, end := r.Window.Start.Hour, r.Window.End.Hour
		if !r.Window.CrossesMidnight() {
			g.mark(row, start, end)
			continue
		}
		g.mark(row, start, 23)
		if r.Window.End.Minute == 0 {
			end--
		}
		g.mark((row+1)%7, 0, end)
	}
	return g
}

func (g *Grid) mark(row, from, to int) {
	for h := from; h <= to; h++ {
		g[row][h] = true
	}
}

// Hours returns the marked hours of the given day.
func (g Grid) Hours(d Day) []int {
	if !d.Valid() {
		return nil
	}
	var hours []int
	for h, on := range g[d.Index()] {
		if on {
			hours = append(hours, h)
		}
	}
	return hours
}

// Count returns the number of marked cells.
func (g Grid) Count() int {
	n := 0
	for _, row := range g {
		for _, on := range row {
			if on {
				n++
			}
		}
	}
	return n
}

// String renders the grid as seven text rows, '#' for covered hours.
func (g Grid) String() string {
	var b strings.Builder
	b.WriteString("    000000000011111111112222\n")
	b.WriteString("    012345678901234567890123\n")
	for i, row := range g {
		b.WriteString(dayNames[i])
		b.WriteByte(' ')
		for _, on := range row {
			if on {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
