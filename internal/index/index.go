// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package index serves subject rule lists from an immutable snapshot that is
// replaced wholesale on rebuild. Readers never take a lock.
package index

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/timegate/internal/schedule"
)

// Index publishes the current Snapshot through an atomic pointer.
type Index struct {
	current atomic.Pointer[Snapshot]

	// installMu orders concurrent installs so versions stay monotonic.
	// Readers never touch it.
	installMu sync.Mutex
}

// New returns an index serving an empty snapshot.
func New() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot)
	return idx
}

// Current returns the live snapshot. Never nil.
func (i *Index) Current() *Snapshot {
	return i.current.Load()
}

// Lookup returns a copy of the rules for key, or an empty slice on a miss.
func (i *Index) Lookup(key string) []schedule.Rule {
	rules := i.Current().Rules(key)
	if len(rules) == 0 {
		return []schedule.Rule{}
	}
	return slices.Clone(rules)
}

// Subject returns the subject captured by the live snapshot.
func (i *Index) Subject(key string) (schedule.Subject, bool) {
	return i.Current().Subject(key)
}

// Rebuild builds a new snapshot and installs it. On error the live snapshot
// is left untouched and the error is returned.
func (i *Index) Rebuild(ctx context.Context, rules []schedule.Rule, lookup SubjectLookup) (*Snapshot, error) {
	snap, err := Build(ctx, rules, lookup)
	if err != nil {
		return nil, err
	}
	i.Install(snap)
	return snap, nil
}

// Install publishes snap, assigning it the next version. snap must not be
// shared with another Index.
func (i *Index) Install(snap *Snapshot) {
	i.installMu.Lock()
	defer i.installMu.Unlock()
	snap.version = i.current.Load().version + 1
	i.current.Store(snap)
}
