// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/timegate/internal/persistence/sqlite"
	"github.com/ManuGH/timegate/internal/schedule"
)

var sqliteMigrations = []sqlite.Migration{
	{
		Name: "subjects and rules",
		SQL: `
	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		day INTEGER NOT NULL CHECK (day BETWEEN 1 AND 7),
		start_hour INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_hour INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		time_budget_minutes INTEGER NOT NULL DEFAULT 0,
		count_budget INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_subject ON rules(subject_id, day, created_at_ms, id);
	`,
	},
	{
		Name: "enabled subject index",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_subjects_enabled ON subjects(enabled);`,
	},
}

// SqliteStore implements RuleStore on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) and migrates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, _, err := sqlite.Migrate(ctx, db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rule store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

const ruleColumns = `r.id, r.subject_id, r.day, r.start_hour, r.start_minute, r.end_hour, r.end_minute,
	r.time_budget_minutes, r.count_budget, r.created_at_ms`

func (s *SqliteStore) ListEnabledRules(ctx context.Context) ([]schedule.Rule, error) {
	return s.queryRules(ctx, `
	SELECT `+ruleColumns+`
	FROM rules r JOIN subjects s ON s.id = r.subject_id
	WHERE s.enabled = 1
	ORDER BY r.subject_id, r.day, r.created_at_ms, r.id`)
}

func (s *SqliteStore) RulesForSubject(ctx context.Context, subjectID int64) ([]schedule.Rule, error) {
	return s.queryRules(ctx, `
	SELECT `+ruleColumns+`
	FROM rules r
	WHERE r.subject_id = ?
	ORDER BY r.day, r.created_at_ms, r.id`, subjectID)
}

func (s *SqliteStore) queryRules(ctx context.Context, query string, args ...any) ([]schedule.Rule, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []schedule.Rule{}
	for rows.Next() {
		var (
			r         schedule.Rule
			createdMs int64
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Day,
			&r.Window.Start.Hour, &r.Window.Start.Minute, &r.Window.End.Hour, &r.Window.End.Minute,
			&r.TimeBudgetMinutes, &r.CountBudget, &createdMs); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqliteStore) SubjectByID(ctx context.Context, id int64) (schedule.Subject, bool, error) {
	return s.querySubject(ctx, `SELECT id, key, name, enabled FROM subjects WHERE id = ?`, id)
}

func (s *SqliteStore) SubjectByKey(ctx context.Context, key string) (schedule.Subject, bool, error) {
	return s.querySubject(ctx, `SELECT id, key, name, enabled FROM subjects WHERE key = ?`, key)
}

func (s *SqliteStore) querySubject(ctx context.Context, query string, arg any) (schedule.Subject, bool, error) {
	var subj schedule.Subject
	err := s.DB.QueryRowContext(ctx, query, arg).Scan(&subj.ID, &subj.Key, &subj.Name, &subj.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Subject{}, false, nil
	}
	if err != nil {
		return schedule.Subject{}, false, err
	}
	return subj, true, nil
}

func (s *SqliteStore) ListSubjects(ctx context.Context) ([]schedule.Subject, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, key, name, enabled FROM subjects ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []schedule.Subject{}
	for rows.Next() {
		var subj schedule.Subject
		if err := rows.Scan(&subj.ID, &subj.Key, &subj.Name, &subj.Enabled); err != nil {
			return nil, err
		}
		out = append(out, subj)
	}
	return out, rows.Err()
}

func (s *SqliteStore) UpsertSubject(ctx context.Context, subj schedule.Subject) (schedule.Subject, error) {
	if err := validateSubject(subj); err != nil {
		return schedule.Subject{}, err
	}
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO subjects (key, name, enabled, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		name = excluded.name,
		enabled = excluded.enabled,
		updated_at_ms = excluded.updated_at_ms
	RETURNING id`
	if err := s.DB.QueryRowContext(ctx, query, subj.Key, subj.Name, subj.Enabled, now, now).Scan(&subj.ID); err != nil {
		return schedule.Subject{}, fmt.Errorf("upsert subject %q: %w", subj.Key, err)
	}
	return subj, nil
}

func (s *SqliteStore) SetSubjectEnabled(ctx context.Context, key string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE subjects SET enabled = ?, updated_at_ms = ? WHERE key = ?`,
		enabled, time.Now().UnixMilli(), key)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrSubjectNotFound)
}

func (s *SqliteStore) DeleteSubject(ctx context.Context, key string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM subjects WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrSubjectNotFound)
}

func (s *SqliteStore) CreateRules(ctx context.Context, rules []schedule.Rule) ([]schedule.Rule, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	checked := make(map[int64]struct{})
	out := make([]schedule.Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := checked[r.SubjectID]; !ok {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = ?`, r.SubjectID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("subject %d: %w", r.SubjectID, ErrSubjectNotFound)
			}
			if err != nil {
				return nil, err
			}
			checked[r.SubjectID] = struct{}{}
		}

		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		r.CreatedAt = time.UnixMilli(r.CreatedAt.UnixMilli()).UTC()

		res, err := tx.ExecContext(ctx, `
		INSERT INTO rules (subject_id, day, start_hour, start_minute, end_hour, end_minute,
			time_budget_minutes, count_budget, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SubjectID, int(r.Day),
			r.Window.Start.Hour, r.Window.Start.Minute, r.Window.End.Hour, r.Window.End.Minute,
			r.TimeBudgetMinutes, r.CountBudget, r.CreatedAt.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("insert rule: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SqliteStore) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRuleNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
