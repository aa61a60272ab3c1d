// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
)

// SubjectLookup resolves a subject by its store ID. A miss is (zero, false, nil).
type SubjectLookup interface {
	SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error)
}

// SubjectLookupFunc adapts a function to SubjectLookup.
type SubjectLookupFunc func(ctx context.Context, id int64) (schedule.Subject, bool, error)

func (f SubjectLookupFunc) SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error) {
	return f(ctx, id)
}

// Snapshot is an immutable subject key → rules mapping. It is never mutated
// after Build returns; slices handed out by Rules must be treated as read-only.
type Snapshot struct {
	version   uint64
	builtAt   time.Time
	subjects  map[string]schedule.Subject
	rules     map[string][]schedule.Rule
	ruleCount int
	dropped   int
}

var emptySnapshot = &Snapshot{
	subjects: map[string]schedule.Subject{},
	rules:    map[string][]schedule.Rule{},
}

// Build groups rules by subject, resolves each subject's key via lookup and
// returns a fresh snapshot. Unresolvable subjects are omitted. Any lookup
// error aborts the build.
//
// Each subject's rules are ordered by (Day, CreatedAt, ID) so that the first
// violated rule reported by the evaluator is reproducible.
func Build(ctx context.Context, rules []schedule.Rule, lookup SubjectLookup) (*Snapshot, error) {
	bySubject := make(map[int64][]schedule.Rule)
	for _, r := range rules {
		bySubject[r.SubjectID] = append(bySubject[r.SubjectID], r)
	}

	ids := make([]int64, 0, len(bySubject))
	for id := range bySubject {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := &Snapshot{
		builtAt:  time.Now(),
		subjects: make(map[string]schedule.Subject, len(ids)),
		rules:    make(map[string][]schedule.Rule, len(ids)),
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		subj, ok, err := lookup.SubjectByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve subject %d: %w", id, err)
		}
		group := bySubject[id]
		if !ok || subj.Key == "" {
			snap.dropped += len(group)
			continue
		}
		// Two IDs resolving to one key would be a store bug; keep both groups.
		list := append(snap.rules[subj.Key], group...)
		sortRules(list)
		snap.rules[subj.Key] = list
		snap.subjects[subj.Key] = subj
		snap.ruleCount += len(group)
	}

	return snap, nil
}

func sortRules(rules []schedule.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Version is the install sequence number; 0 for the initial empty snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt is when Build finished grouping.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Subject returns the subject record captured at build time.
func (s *Snapshot) Subject(key string) (schedule.Subject, bool) {
	subj, ok := s.subjects[key]
	return subj, ok
}

// Rules returns the ordered rules for key, nil if absent. Read-only.
func (s *Snapshot) Rules(key string) []schedule.Rule {
	return s.rules[key]
}

// Len is the number of subject keys.
func (s *Snapshot) Len() int { return len(s.rules) }

// RuleCount is the total number of indexed rules.
func (s *Snapshot) RuleCount() int { return s.ruleCount }

// Dropped counts rules whose subject could not be resolved during Build.
func (s *Snapshot) Dropped() int { return s.dropped }

// Keys returns the subject keys in ascending order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.rules))
	for k := range s.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
