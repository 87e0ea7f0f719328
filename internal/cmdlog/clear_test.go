package cmdlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/cmdlog"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/testutil"
)

func countJournalRows(t *testing.T, db database.Database) int {
	t.Helper()

	count, errCount := db.GetCount(context.Background(), db.Builder().
		Select("1").
		From("command_log"))
	require.NoError(t, errCount)

	return int(count)
}

func TestClearKeepsUnarchivedRows(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	ctx := context.Background()

	appendEntries(t, journal, 50)

	clear := cmdlog.ClearJob{DB: db, Store: env.Objects, State: jobs.NewStateStore(db)}

	// Nothing archived yet, so nothing may be deleted.
	require.NoError(t, clear.Run(ctx))
	require.Equal(t, 50, countJournalRows(t, db))

	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))
	appendEntries(t, journal, 5)

	require.NoError(t, clear.Run(ctx))
	require.Equal(t, 5, countJournalRows(t, db))
}

func TestClearWaitsForConsumers(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	state := jobs.NewStateStore(db)
	ctx := context.Background()

	appendEntries(t, journal, 20)
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	clear := cmdlog.ClearJob{DB: db, Store: env.Objects, State: state, Consumers: []string{"replica_feed"}}

	// An absent consumer cursor blocks clearing entirely.
	require.NoError(t, clear.Run(ctx))
	require.Equal(t, 20, countJournalRows(t, db))

	require.NoError(t, state.Update(ctx, "replica_feed", cmdlog.ConsumerCursor{Cursor: 9}))
	require.NoError(t, clear.Run(ctx))
	require.Equal(t, 10, countJournalRows(t, db))
}
