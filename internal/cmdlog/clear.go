package cmdlog

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/pkg/log"
)

// ConsumerCursor is the job-state shape a command-log consumer publishes so
// the clear job knows how far it has read.
type ConsumerCursor struct {
	Cursor int64 `json:"cursor"`
}

// ClearJob deletes journal rows that the archiver and every registered
// consumer have processed.
type ClearJob struct {
	DB        database.Database
	Store     objstore.Store
	State     *jobs.StateStore
	Consumers []string
}

func (j *ClearJob) Name() string         { return "commandlog_clear" }
func (j *ClearJob) Delay() time.Duration { return 30 * time.Minute }

func (j *ClearJob) Run(ctx context.Context) error {
	minCursor, errLast := readLastID(ctx, j.Store)
	if errLast != nil {
		return errLast
	}

	if minCursor < 0 {
		// Nothing archived yet; keep everything.
		return nil
	}

	for _, consumer := range j.Consumers {
		var cursor ConsumerCursor

		found, errState := j.State.Get(ctx, consumer, &cursor)
		if errState != nil {
			slog.Error("Failed to read consumer cursor", slog.String("consumer", consumer), log.ErrAttr(errState))

			return errState
		}

		if !found {
			// A consumer that has never run holds back clearing entirely.
			return nil
		}

		if cursor.Cursor < minCursor {
			minCursor = cursor.Cursor
		}
	}

	return database.DBErr(j.DB.ExecDeleteBuilder(ctx, j.DB.Builder().
		Delete("command_log").
		Where(sq.LtOrEq{"id": minCursor})))
}
