package tournament

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

// CloseRegistrationsJob flips registrations_open off once a tournament's
// deadline passes.
type CloseRegistrationsJob struct {
	DB database.Database
}

func (j *CloseRegistrationsJob) Name() string { return "close_registrations" }

func (j *CloseRegistrationsJob) Delay() time.Duration { return time.Minute }

func (j *CloseRegistrationsJob) Run(ctx context.Context) error {
	due, errDue := j.dueTournaments(ctx, time.Now().Unix())
	if errDue != nil {
		return errDue
	}

	for _, tournamentID := range due {
		if errClose := j.DB.ExecUpdateBuilder(ctx, j.DB.Builder().
			Update("tournaments").
			Set("registrations_open", false).
			Where(sq.Eq{"id": tournamentID})); errClose != nil {
			return errClose
		}

		slog.Info("Closed tournament registrations", slog.Int64("tournament_id", tournamentID))
	}

	return nil
}

func (j *CloseRegistrationsJob) dueTournaments(ctx context.Context, now int64) ([]int64, error) {
	rows, errRows := j.DB.QueryBuilder(ctx, j.DB.Builder().
		Select("id").
		From("tournaments").
		Where(sq.And{
			sq.Eq{"registrations_open": true},
			sq.NotEq{"registration_deadline": nil},
			sq.LtOrEq{"registration_deadline": now},
		}))
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var due []int64

	for rows.Next() {
		var tournamentID int64
		if errScan := rows.Scan(&tournamentID); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		due = append(due, tournamentID)
	}

	return due, rows.Err()
}
