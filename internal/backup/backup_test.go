package backup_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/backup"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/testutil"
)

func TestSnapshotUploadsEveryDatabase(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	mainDB := env.MustOpen(t, database.Main, database.Options{})
	ctx := context.Background()

	job := backup.SnapshotJob{Dir: env.Dir, Store: env.Objects, State: jobs.NewStateStore(mainDB)}
	require.NoError(t, job.Run(ctx))

	objects, errList := env.Objects.ListObjects(ctx, objstore.BucketDBBackup)
	require.NoError(t, errList)
	require.Len(t, objects, len(database.Names))

	var prefix string

	for _, object := range objects {
		setName, file, found := strings.Cut(object.Key, "/")
		require.True(t, found)
		require.True(t, strings.HasSuffix(file, ".db"))
		require.Positive(t, object.Size, "snapshots are real database files")

		if prefix == "" {
			prefix = setName
		}

		require.Equal(t, prefix, setName, "one run shares a single set prefix")
	}
}
