package cmdlog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/cmdlog"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/testutil"
)

func appendEntries(t *testing.T, journal *cmdlog.Journal, count int) {
	t.Helper()

	ctx := context.Background()
	base := time.Now().Unix()

	for i := range count {
		payload := fmt.Sprintf(`{"seq":%d}`, i)
		require.NoError(t, journal.Append(ctx, "grant_role", []byte(payload), base+int64(i)))
	}
}

func TestArchiveSegments(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	ctx := context.Background()

	appendEntries(t, journal, 1500)

	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	lastID, errLast := env.Objects.GetObject(ctx, objstore.BucketCommandLog, "lastid")
	require.NoError(t, errLast)
	require.Equal(t, "1499", string(lastID))

	var (
		seen     []int64
		expected int64
	)

	require.NoError(t, cmdlog.Replay(ctx, env.Objects, 0, func(entry cmdlog.Entry) error {
		require.Equal(t, expected, entry.ID)
		require.Equal(t, "grant_role", entry.Type)
		expected++
		seen = append(seen, entry.ID)

		return nil
	}))
	require.Len(t, seen, 1500)
}

func TestArchiveExtendsPartialSegment(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	ctx := context.Background()

	appendEntries(t, journal, 300)
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	appendEntries(t, journal, 900)
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	lastID, errLast := env.Objects.GetObject(ctx, objstore.BucketCommandLog, "lastid")
	require.NoError(t, errLast)
	require.Equal(t, "1199", string(lastID))

	// The partial first segment was extended in place, not duplicated.
	var count int

	require.NoError(t, cmdlog.Replay(ctx, env.Objects, 0, func(cmdlog.Entry) error {
		count++

		return nil
	}))
	require.Equal(t, 1200, count)
}

func TestArchiveIdempotentWhenDrained(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	ctx := context.Background()

	appendEntries(t, journal, 10)
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	var count int

	require.NoError(t, cmdlog.Replay(ctx, env.Objects, 0, func(cmdlog.Entry) error {
		count++

		return nil
	}))
	require.Equal(t, 10, count)
}

func TestReplayFromOffset(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{})
	journal := cmdlog.NewJournal(db)
	ctx := context.Background()

	appendEntries(t, journal, 1100)
	require.NoError(t, cmdlog.Archive(ctx, db, env.Objects))

	var first int64 = -1

	require.NoError(t, cmdlog.Replay(ctx, env.Objects, 1050, func(entry cmdlog.Entry) error {
		if first < 0 {
			first = entry.ID
		}

		return nil
	}))
	require.Equal(t, int64(1050), first)
}
