// Package testutil builds throwaway database and object-store fixtures for
// package tests. Every fixture lives in a t.TempDir and needs no external
// services.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
)

// Env implements command.Env over a temp directory. Clock is swappable so
// tests can freeze or advance time.
type Env struct {
	Dir     string
	Objects objstore.Store
	Clock   func() time.Time
}

func (e *Env) Open(ctx context.Context, name string, opts database.Options) (database.Database, error) {
	return database.Open(ctx, e.Dir, name, opts)
}

func (e *Env) ObjectStore() objstore.Store { return e.Objects }

func (e *Env) Now() time.Time { return e.Clock() }

// NewEnv creates the four schema-initialised databases in a temp dir plus an
// in-memory object store with all fixed buckets.
func NewEnv(tb testing.TB) *Env {
	tb.Helper()

	ctx := context.Background()
	env := &Env{
		Dir:     tb.TempDir(),
		Objects: objstore.NewMemory(),
		Clock:   time.Now,
	}

	for _, name := range database.Names {
		db, errOpen := database.Open(ctx, env.Dir, name, database.Options{ForeignKeys: true})
		require.NoError(tb, errOpen)
		require.NoError(tb, database.EnsureSchema(ctx, db, name))
		require.NoError(tb, db.Close())
	}

	require.NoError(tb, objstore.EnsureBuckets(ctx, env.Objects))

	return env
}

// MustOpen returns a handle to one of the fixture databases, closed when the
// test finishes.
func (e *Env) MustOpen(tb testing.TB, name string, opts database.Options) database.Database {
	tb.Helper()

	db, errOpen := database.Open(context.Background(), e.Dir, name, opts)
	require.NoError(tb, errOpen)

	tb.Cleanup(func() { _ = db.Close() })

	return db
}

// CreateUser inserts a bare user row and returns its id.
func CreateUser(tb testing.TB, db database.Database) int64 {
	tb.Helper()

	var userID int64

	require.NoError(tb, db.ExecInsertBuilderWithReturnValue(context.Background(), db.Builder().
		Insert("users").
		Columns("join_date").
		Values(time.Now().Unix()), &userID))

	return userID
}

// CreatePlayer inserts a player row linked to no user and returns its id.
func CreatePlayer(tb testing.TB, db database.Database, name string) int64 {
	tb.Helper()

	var playerID int64

	require.NoError(tb, db.ExecInsertBuilderWithReturnValue(context.Background(), db.Builder().
		Insert("players").
		Columns("name", "country_code", "is_hidden", "is_shadow", "join_date").
		Values(name, "XX", false, false, time.Now().Unix()), &playerID))

	return playerID
}
