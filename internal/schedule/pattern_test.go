// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, time.January, 10, 8, 0, 0, 0, time.UTC)

func daysOf(rules []Rule) []Day {
	out := make([]Day, len(rules))
	for i, r := range rules {
		out[i] = r.Day
	}
	return out
}

func assertSharedFields(t *testing.T, rules []Rule, w Window, b Budget, subjectID int64) {
	t.Helper()
	for _, r := range rules {
		assert.Equal(t, w, r.Window)
		assert.Equal(t, b, r.Budget())
		assert.Equal(t, subjectID, r.SubjectID)
		assert.Equal(t, created, r.CreatedAt)
		assert.Zero(t, r.ID)
	}
}

func TestExpand_Workday(t *testing.T) {
	w := NewWindow(9, 0, 17, 0)
	b := Budget{TimeMinutes: 30, Count: 5}

	rules, err := Expand(Workday(), w, b, 42, created)
	require.NoError(t, err)
	require.Len(t, rules, 5)
	assert.Equal(t, []Day{Monday, Tuesday, Wednesday, Thursday, Friday}, daysOf(rules))
	assertSharedFields(t, rules, w, b, 42)
}

func TestExpand_Weekend(t *testing.T) {
	w := NewWindow(22, 0, 6, 0)
	b := Budget{TimeMinutes: 0, Count: 2}

	rules, err := Expand(Weekend(), w, b, 7, created)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []Day{Saturday, Sunday}, daysOf(rules))
	assertSharedFields(t, rules, w, b, 7)
}

func TestExpand_Custom(t *testing.T) {
	w := NewWindow(18, 30, 20, 0)
	b := Budget{TimeMinutes: 60}

	rules, err := Expand(Custom(Friday, Monday, Wednesday, Monday), w, b, 3, created)
	require.NoError(t, err)
	assert.Equal(t, []Day{Monday, Wednesday, Friday}, daysOf(rules))
	assertSharedFields(t, rules, w, b, 3)
}

func TestExpand_CustomEveryDaySubset(t *testing.T) {
	all := []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
	// Every non-empty subset yields exactly one rule per member.
	for mask := 1; mask < 1<<7; mask++ {
		var set []Day
		for i, d := range all {
			if mask&(1<<i) != 0 {
				set = append(set, d)
			}
		}
		rules, err := Expand(Custom(set...), NewWindow(1, 0, 2, 0), Budget{}, 1, created)
		require.NoError(t, err)
		assert.Equal(t, set, daysOf(rules))
	}
}

func TestExpand_ValidationErrors(t *testing.T) {
	okWindow := NewWindow(9, 0, 10, 0)
	tests := []struct {
		name    string
		pattern Pattern
		window  Window
		budget  Budget
		field   string
	}{
		{"empty custom", Custom(), okWindow, Budget{}, "days"},
		{"day out of range", Custom(Day(9)), okWindow, Budget{}, "days"},
		{"zero pattern", Pattern{}, okWindow, Budget{}, "pattern"},
		{"bad start", Workday(), NewWindow(24, 0, 10, 0), Budget{}, "window.start"},
		{"bad end", Workday(), NewWindow(9, 0, 10, 61), Budget{}, "window.end"},
		{"negative time", Weekend(), okWindow, Budget{TimeMinutes: -1}, "timeBudgetMinutes"},
		{"negative count", Weekend(), okWindow, Budget{Count: -1}, "countBudget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := Expand(tt.pattern, tt.window, tt.budget, 1, created)
			require.Error(t, err)
			assert.Nil(t, rules)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("Workday", nil)
	require.NoError(t, err)
	assert.Equal(t, PatternWorkday, p.Kind())

	p, err = ParsePattern("custom", []Day{Sunday, Saturday})
	require.NoError(t, err)
	assert.Equal(t, "custom(Sat,Sun)", p.String())

	_, err = ParsePattern("fortnightly", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRuleValidate(t *testing.T) {
	ok := Rule{SubjectID: 1, Day: Friday, Window: NewWindow(9, 0, 10, 0)}
	require.NoError(t, ok.Validate())

	cases := map[string]Rule{
		"subjectId":         {Day: Friday, Window: ok.Window},
		"day":               {SubjectID: 1, Day: 8, Window: ok.Window},
		"window.end":        {SubjectID: 1, Day: Friday, Window: NewWindow(9, 0, 24, 0)},
		"timeBudgetMinutes": {SubjectID: 1, Day: Friday, Window: ok.Window, TimeBudgetMinutes: -1},
	}
	for field, r := range cases {
		var verr *ValidationError
		err := r.Validate()
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}
}
