// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema step. Steps are applied in order; step i moves the
// database from user_version i to i+1.
type Migration struct {
	Name string
	SQL  string
}

// SchemaVersion reads PRAGMA user_version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read user_version: %w", err)
	}
	return v, nil
}

// Migrate applies every step past the current user_version, each in its own
// transaction. It returns the version found and the version reached.
// A database newer than the step list is an error.
func Migrate(ctx context.Context, db *sql.DB, steps []Migration) (from, to int, err error) {
	from, err = SchemaVersion(ctx, db)
	if err != nil {
		return 0, 0, err
	}
	if from > len(steps) {
		return from, from, fmt.Errorf("sqlite: schema version %d is newer than supported %d", from, len(steps))
	}

	to = from
	for i := from; i < len(steps); i++ {
		if err := applyStep(ctx, db, i+1, steps[i]); err != nil {
			return from, to, err
		}
		to = i + 1
	}
	return from, to, nil
}

func applyStep(ctx context.Context, db *sql.DB, version int, step Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return fmt.Errorf("sqlite: migration %d (%s): %w", version, step.Name, err)
	}
	// PRAGMA does not accept bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("sqlite: set user_version %d: %w", version, err)
	}
	return tx.Commit()
}
