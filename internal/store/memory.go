// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
)

// MemoryStore is a process-local RuleStore for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[int64]schedule.Subject
	byKey    map[string]int64
	rules    map[int64]schedule.Rule
	nextSubj int64
	nextRule int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[int64]schedule.Subject),
		byKey:    make(map[string]int64),
		rules:    make(map[int64]schedule.Rule),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ListEnabledRules(ctx context.Context) ([]schedule.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []schedule.Rule{}
	for _, r := range m.rules {
		if m.subjects[r.SubjectID].Enabled {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, ctx.Err()
}

func (m *MemoryStore) RulesForSubject(ctx context.Context, subjectID int64) ([]schedule.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []schedule.Rule{}
	for _, r := range m.rules {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, ctx.Err()
}

func (m *MemoryStore) SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	return s, ok, ctx.Err()
}

func (m *MemoryStore) SubjectByKey(ctx context.Context, key string) (schedule.Subject, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return schedule.Subject{}, false, ctx.Err()
	}
	return m.subjects[id], true, ctx.Err()
}

func (m *MemoryStore) ListSubjects(ctx context.Context) ([]schedule.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schedule.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	sortSubjects(out)
	return out, ctx.Err()
}

func (m *MemoryStore) UpsertSubject(ctx context.Context, s schedule.Subject) (schedule.Subject, error) {
	if err := validateSubject(s); err != nil {
		return schedule.Subject{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[s.Key]; ok {
		s.ID = id
	} else {
		m.nextSubj++
		s.ID = m.nextSubj
		m.byKey[s.Key] = s.ID
	}
	m.subjects[s.ID] = s
	return s, nil
}

func (m *MemoryStore) SetSubjectEnabled(ctx context.Context, key string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return ErrSubjectNotFound
	}
	s := m.subjects[id]
	s.Enabled = enabled
	m.subjects[id] = s
	return nil
}

func (m *MemoryStore) DeleteSubject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return ErrSubjectNotFound
	}
	for rid, r := range m.rules {
		if r.SubjectID == id {
			delete(m.rules, rid)
		}
	}
	delete(m.subjects, id)
	delete(m.byKey, key)
	return nil
}

func (m *MemoryStore) CreateRules(ctx context.Context, rules []schedule.Rule) ([]schedule.Rule, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rules {
		if _, ok := m.subjects[r.SubjectID]; !ok {
			return nil, fmt.Errorf("subject %d: %w", r.SubjectID, ErrSubjectNotFound)
		}
	}
	out := make([]schedule.Rule, 0, len(rules))
	for _, r := range rules {
		m.nextRule++
		r.ID = m.nextRule
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		r.CreatedAt = time.UnixMilli(r.CreatedAt.UnixMilli()).UTC()
		m.rules[r.ID] = r
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}
