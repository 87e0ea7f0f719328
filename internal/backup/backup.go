// Package backup snapshots every logical database into object storage and
// prunes old snapshot sets under a tiered retention policy.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/pkg/log"
)

// setTimeFormat names a snapshot set; every file of one run shares the prefix.
const setTimeFormat = "20060102-150405"

//nolint:gochecknoglobals
var timeNow = time.Now

// state remembers the last completed snapshot set for operator inspection.
type state struct {
	LastSet   string   `json:"last_set"`
	Databases []string `json:"databases"`
}

// SnapshotJob produces one consistent copy per logical database. Databases are
// snapshotted in parallel; a failing database is skipped so the others still
// make it into the set.
type SnapshotJob struct {
	Dir   string
	Store objstore.Store
	State *jobs.StateStore
}

func (j *SnapshotJob) Name() string { return "db_backup" }

func (j *SnapshotJob) Delay() time.Duration { return time.Minute * 60 }

func (j *SnapshotJob) Run(ctx context.Context) error {
	setName := timeNow().UTC().Format(setTimeFormat)

	var (
		mu   sync.Mutex
		done []string
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, name := range database.Names {
		group.Go(func() error {
			if errSnapshot := j.snapshot(groupCtx, setName, name); errSnapshot != nil {
				slog.Error("Failed to snapshot database",
					slog.String("database", name), log.ErrAttr(errSnapshot))

				return nil
			}

			mu.Lock()
			done = append(done, name)
			mu.Unlock()

			return nil
		})
	}

	if errWait := group.Wait(); errWait != nil {
		return errWait
	}

	if len(done) == 0 {
		return nil
	}

	slog.Info("Completed database snapshot set",
		slog.String("set", setName), slog.Int("databases", len(done)))

	return j.State.Update(ctx, j.Name(), state{LastSet: setName, Databases: done})
}

// snapshot copies one database with VACUUM INTO over a read-only connection,
// uploads the copy and removes the scratch file.
func (j *SnapshotJob) snapshot(ctx context.Context, setName string, name string) error {
	db, errOpen := database.Open(ctx, j.Dir, name, database.Options{ReadOnly: true})
	if errOpen != nil {
		return errOpen
	}

	defer func() { _ = db.Close() }()

	scratch := filepath.Join(os.TempDir(), fmt.Sprintf("registry-backup-%s-%s.db", setName, name))

	// VACUUM INTO refuses to overwrite an existing file.
	_ = os.Remove(scratch)

	defer func() { _ = os.Remove(scratch) }()

	if errVacuum := db.Exec(ctx, "VACUUM INTO ?", scratch); errVacuum != nil {
		return database.DBErr(errVacuum)
	}

	body, errRead := os.ReadFile(scratch)
	if errRead != nil {
		return fmt.Errorf("failed to read snapshot file: %w", errRead)
	}

	key := setName + "/" + name + ".db"

	return j.Store.PutObject(ctx, objstore.BucketDBBackup, key, body, "private")
}
