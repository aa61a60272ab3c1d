// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements RuleStore on Badger. Layout:
//   - subjects: "subj:<id>" (JSON), "subjkey:<key>" → id
//   - rules: "rule:<subjectID>:<ruleID>" (JSON), "ruleid:<ruleID>" → subjectID
//
// IDs are zero-padded so prefix scans return them in numeric order.
type BadgerStore struct {
	db       *badger.DB
	subjects *badger.Sequence
	rules    *badger.Sequence
}

const (
	prefixSubject    = "subj:"
	prefixSubjectKey = "subjkey:"
	prefixRule       = "rule:"
	prefixRuleID     = "ruleid:"

	seqBandwidth = 64
)

// OpenBadger opens (creating if needed) a Badger directory at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	subjects, err := db.GetSequence([]byte("seq:subject"), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rules, err := db.GetSequence([]byte("seq:rule"), seqBandwidth)
	if err != nil {
		_ = subjects.Release()
		_ = db.Close()
		return nil, err
	}
	return &BadgerStore{db: db, subjects: subjects, rules: rules}, nil
}

func (s *BadgerStore) Close() error {
	err := errors.Join(s.subjects.Release(), s.rules.Release())
	return errors.Join(err, s.db.Close())
}

func subjectKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixSubject, id)) }
func subjectKeyIndex(key string) []byte {
	return []byte(prefixSubjectKey + key)
}
func rulePrefix(subjectID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixRule, subjectID))
}
func ruleKey(subjectID, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixRule, subjectID, id))
}
func ruleIDKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixRuleID, id)) }

// Sequences start at 0; stored IDs start at 1 to match SQLite.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, buf)
}

func getInt(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		var perr error
		id, perr = strconv.ParseInt(string(val), 10, 64)
		return perr
	})
	return id, err
}

func setInt(txn *badger.Txn, key []byte, v int64) error {
	return txn.Set(key, []byte(strconv.FormatInt(v, 10)))
}

// scanPrefix decodes every value under prefix into a fresh T.
func scanPrefix[T any](ctx context.Context, txn *badger.Txn, prefix []byte, fn func(T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) ListEnabledRules(ctx context.Context) ([]schedule.Rule, error) {
	out := []schedule.Rule{}
	err := s.db.View(func(txn *badger.Txn) error {
		enabled := make(map[int64]bool)
		if err := scanPrefix(ctx, txn, []byte(prefixSubject), func(subj schedule.Subject) error {
			enabled[subj.ID] = subj.Enabled
			return nil
		}); err != nil {
			return err
		}
		return scanPrefix(ctx, txn, []byte(prefixRule), func(r schedule.Rule) error {
			if enabled[r.SubjectID] {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRules(out)
	return out, nil
}

func (s *BadgerStore) RulesForSubject(ctx context.Context, subjectID int64) ([]schedule.Rule, error) {
	out := []schedule.Rule{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(ctx, txn, rulePrefix(subjectID), func(r schedule.Rule) error {
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRules(out)
	return out, nil
}

func (s *BadgerStore) SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error) {
	var subj schedule.Subject
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, subjectKey(id), &subj)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return schedule.Subject{}, false, nil
	}
	if err != nil {
		return schedule.Subject{}, false, err
	}
	return subj, true, nil
}

func (s *BadgerStore) SubjectByKey(ctx context.Context, key string) (schedule.Subject, bool, error) {
	var subj schedule.Subject
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getInt(txn, subjectKeyIndex(key))
		if err != nil {
			return err
		}
		return getJSON(txn, subjectKey(id), &subj)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return schedule.Subject{}, false, nil
	}
	if err != nil {
		return schedule.Subject{}, false, err
	}
	return subj, true, nil
}

func (s *BadgerStore) ListSubjects(ctx context.Context) ([]schedule.Subject, error) {
	out := []schedule.Subject{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(ctx, txn, []byte(prefixSubject), func(subj schedule.Subject) error {
			out = append(out, subj)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSubjects(out)
	return out, nil
}

func (s *BadgerStore) UpsertSubject(ctx context.Context, subj schedule.Subject) (schedule.Subject, error) {
	if err := validateSubject(subj); err != nil {
		return schedule.Subject{}, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := getInt(txn, subjectKeyIndex(subj.Key))
		switch {
		case err == nil:
			subj.ID = id
		case errors.Is(err, badger.ErrKeyNotFound):
			if subj.ID, err = nextID(s.subjects); err != nil {
				return err
			}
			if err := setInt(txn, subjectKeyIndex(subj.Key), subj.ID); err != nil {
				return err
			}
		default:
			return err
		}
		return setJSON(txn, subjectKey(subj.ID), subj)
	})
	if err != nil {
		return schedule.Subject{}, fmt.Errorf("upsert subject %q: %w", subj.Key, err)
	}
	return subj, nil
}

func (s *BadgerStore) SetSubjectEnabled(ctx context.Context, key string, enabled bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := getInt(txn, subjectKeyIndex(key))
		if err != nil {
			return err
		}
		var subj schedule.Subject
		if err := getJSON(txn, subjectKey(id), &subj); err != nil {
			return err
		}
		subj.Enabled = enabled
		return setJSON(txn, subjectKey(id), subj)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSubjectNotFound
	}
	return err
}

// DeleteSubject cascades to the subject's rules in the same transaction.
func (s *BadgerStore) DeleteSubject(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := getInt(txn, subjectKeyIndex(key))
		if err != nil {
			return err
		}
		var ruleIDs []int64
		if err := scanPrefix(ctx, txn, rulePrefix(id), func(r schedule.Rule) error {
			ruleIDs = append(ruleIDs, r.ID)
			return nil
		}); err != nil {
			return err
		}
		for _, rid := range ruleIDs {
			if err := txn.Delete(ruleKey(id, rid)); err != nil {
				return err
			}
			if err := txn.Delete(ruleIDKey(rid)); err != nil {
				return err
			}
		}
		if err := txn.Delete(subjectKey(id)); err != nil {
			return err
		}
		return txn.Delete(subjectKeyIndex(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSubjectNotFound
	}
	return err
}

func (s *BadgerStore) CreateRules(ctx context.Context, rules []schedule.Rule) ([]schedule.Rule, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	var out []schedule.Rule
	err := s.db.Update(func(txn *badger.Txn) error {
		out = make([]schedule.Rule, 0, len(rules))
		checked := make(map[int64]struct{})
		for _, r := range rules {
			if _, ok := checked[r.SubjectID]; !ok {
				if _, err := txn.Get(subjectKey(r.SubjectID)); err != nil {
					if errors.Is(err, badger.ErrKeyNotFound) {
						return fmt.Errorf("subject %d: %w", r.SubjectID, ErrSubjectNotFound)
					}
					return err
				}
				checked[r.SubjectID] = struct{}{}
			}
			id, err := nextID(s.rules)
			if err != nil {
				return err
			}
			r.ID = id
			if r.CreatedAt.IsZero() {
				r.CreatedAt = time.Now()
			}
			r.CreatedAt = time.UnixMilli(r.CreatedAt.UnixMilli()).UTC()
			if err := setJSON(txn, ruleKey(r.SubjectID, r.ID), r); err != nil {
				return err
			}
			if err := setInt(txn, ruleIDKey(r.ID), r.SubjectID); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) DeleteRule(ctx context.Context, id int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		subjectID, err := getInt(txn, ruleIDKey(id))
		if err != nil {
			return err
		}
		if err := txn.Delete(ruleKey(subjectID, id)); err != nil {
			return err
		}
		return txn.Delete(ruleIDKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRuleNotFound
	}
	return err
}
