// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSteps = []Migration{
	{Name: "create items", SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"},
	{Name: "add note", SQL: "ALTER TABLE items ADD COLUMN note TEXT;"},
}

func TestMigrate_AppliesPendingSteps(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "m.db"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	from, to, err := Migrate(ctx, db, testSteps[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.Equal(t, 1, to)

	from, to, err = Migrate(ctx, db, testSteps)
	require.NoError(t, err)
	assert.Equal(t, 1, from)
	assert.Equal(t, 2, to)

	_, err = db.Exec("INSERT INTO items (name, note) VALUES ('a', 'b')")
	require.NoError(t, err)

	// Re-running is a no-op.
	from, to, err = Migrate(ctx, db, testSteps)
	require.NoError(t, err)
	assert.Equal(t, 2, from)
	assert.Equal(t, 2, to)
}

func TestMigrate_FailedStepRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "m.db"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	bad := append([]Migration{}, testSteps[0], Migration{Name: "broken", SQL: "ALTER TABLE nope ADD COLUMN x TEXT;"})
	_, to, err := Migrate(ctx, db, bad)
	require.Error(t, err)
	assert.Equal(t, 1, to)

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "m.db"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("PRAGMA user_version = 9")
	require.NoError(t, err)
	_, _, err = Migrate(ctx, db, testSteps)
	assert.Error(t, err)
}

func TestOpen_AppliesPragmas(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "p.db"), Config{})
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
