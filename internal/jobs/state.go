package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

var ErrStateDecode = errors.New("failed to decode job state")

// StateStore persists per-job state as JSON keyed by job name in the primary
// database's job_state table.
type StateStore struct {
	db database.Database
}

func NewStateStore(db database.Database) *StateStore {
	return &StateStore{db: db}
}

// Get loads the state for jobName into out. Returns false when the job has no
// persisted state yet.
func (s *StateStore) Get(ctx context.Context, jobName string, out any) (bool, error) {
	row, errRow := s.db.QueryRowBuilder(ctx, s.db.Builder().
		Select("state").
		From("job_state").
		Where(sq.Eq{"job_name": jobName}))
	if errRow != nil {
		return false, database.DBErr(errRow)
	}

	var state string
	if errScan := row.Scan(&state); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return false, nil
		}

		return false, database.DBErr(errScan)
	}

	if errDecode := json.Unmarshal([]byte(state), out); errDecode != nil {
		return false, errors.Join(errDecode, ErrStateDecode)
	}

	return true, nil
}

func (s *StateStore) Update(ctx context.Context, jobName string, state any) error {
	encoded, errEncode := json.Marshal(state)
	if errEncode != nil {
		return errors.Join(errEncode, ErrStateDecode)
	}

	return database.DBErr(s.db.ExecInsertBuilder(ctx, s.db.Builder().
		Insert("job_state").
		Columns("job_name", "state", "updated_on").
		Values(jobName, string(encoded), time.Now().Unix()).
		Suffix("ON CONFLICT (job_name) DO UPDATE SET state = excluded.state, updated_on = excluded.updated_on")))
}
