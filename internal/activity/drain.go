package activity

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

//nolint:gochecknoglobals
var timeNow = time.Now

const drainBatchSize = 1000

// DrainJob moves queued activity rows into the activity database. Queue is the
// handle holding user_activity_queue, Activity the handle holding the
// ip_addresses / user_ips / user_ip_time_ranges tables.
type DrainJob struct {
	Queue    database.Database
	Activity database.Database
}

func (j *DrainJob) Name() string { return "activity_drain" }

func (j *DrainJob) Delay() time.Duration { return time.Second * 30 }

func (j *DrainJob) Run(ctx context.Context) error {
	for {
		moved, errDrain := j.drainBatch(ctx)
		if errDrain != nil {
			return errDrain
		}

		if moved == 0 {
			return nil
		}

		slog.Debug("Drained activity batch", slog.Int("rows", moved))
	}
}

type queuedEvent struct {
	ID        int64
	UserID    int64
	IPAddress string
	Timestamp int64
}

// drainBatch consumes one id window of at most drainBatchSize rows. The window
// is [MIN(id), MIN(id)+999] clipped to MAX(id) so concurrent enqueues past the
// window are left for the next pass.
func (j *DrainJob) drainBatch(ctx context.Context) (int, error) {
	var (
		lowID  *int64
		highID *int64
	)

	rowBounds := j.Queue.Handle().QueryRowContext(ctx, "SELECT MIN(id), MAX(id) FROM user_activity_queue")
	if errScan := rowBounds.Scan(&lowID, &highID); errScan != nil {
		return 0, database.DBErr(errScan)
	}

	if lowID == nil || highID == nil {
		return 0, nil
	}

	windowEnd := *lowID + drainBatchSize - 1
	if windowEnd > *highID {
		windowEnd = *highID
	}

	events, errEvents := j.queuedEvents(ctx, *lowID, windowEnd)
	if errEvents != nil {
		return 0, errEvents
	}

	if len(events) == 0 {
		return 0, nil
	}

	if errApply := j.applyEvents(ctx, events); errApply != nil {
		return 0, errApply
	}

	if errDelete := j.Queue.ExecDeleteBuilder(ctx, j.Queue.Builder().
		Delete("user_activity_queue").
		Where(sq.And{sq.GtOrEq{"id": *lowID}, sq.LtOrEq{"id": windowEnd}})); errDelete != nil {
		return 0, errDelete
	}

	return len(events), nil
}

func (j *DrainJob) queuedEvents(ctx context.Context, lowID int64, highID int64) ([]queuedEvent, error) {
	rows, errRows := j.Queue.QueryBuilder(ctx, j.Queue.Builder().
		Select("id", "user_id", "ip_address", "timestamp").
		From("user_activity_queue").
		Where(sq.And{sq.GtOrEq{"id": lowID}, sq.LtOrEq{"id": highID}}).
		OrderBy("id"))
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var events []queuedEvent

	for rows.Next() {
		var event queuedEvent
		if errScan := rows.Scan(&event.ID, &event.UserID, &event.IPAddress, &event.Timestamp); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

type pairKey struct {
	userID int64
	ipID   int64
}

// applyEvents upserts the distinct addresses and (user, address) pairs seen in
// the batch, then records one time range per distinct pair. The range carries
// the smallest timestamp observed for the pair in this batch and times=1; the
// compression job later folds ranges together.
func (j *DrainJob) applyEvents(ctx context.Context, events []queuedEvent) error {
	ipIDs := map[string]int64{}

	for _, event := range events {
		if _, known := ipIDs[event.IPAddress]; known {
			continue
		}

		ipID, errIP := EnsureIPAddress(ctx, j.Activity, event.IPAddress)
		if errIP != nil {
			return errIP
		}

		ipIDs[event.IPAddress] = ipID
	}

	earliest := map[pairKey]int64{}

	for _, event := range events {
		key := pairKey{userID: event.UserID, ipID: ipIDs[event.IPAddress]}
		if current, seen := earliest[key]; !seen || event.Timestamp < current {
			earliest[key] = event.Timestamp
		}
	}

	for key, firstSeen := range earliest {
		userIPID, errPair := j.ensureUserIP(ctx, key.userID, key.ipID)
		if errPair != nil {
			return errPair
		}

		if errRange := j.Activity.ExecInsertBuilder(ctx, j.Activity.Builder().
			Insert("user_ip_time_ranges").
			Columns("user_ip_id", "date_earliest", "date_latest", "times", "granularity").
			Values(userIPID, firstSeen, firstSeen, 1, 0)); errRange != nil {
			return errRange
		}
	}

	return nil
}

func (j *DrainJob) ensureUserIP(ctx context.Context, userID int64, ipID int64) (int64, error) {
	if errInsert := j.Activity.ExecInsertBuilder(ctx, j.Activity.Builder().
		Insert("user_ips").
		Columns("user_id", "ip_address_id").
		Values(userID, ipID).
		Suffix("ON CONFLICT (user_id, ip_address_id) DO NOTHING")); errInsert != nil {
		return 0, errInsert
	}

	rowID, errRow := j.Activity.QueryRowBuilder(ctx, j.Activity.Builder().
		Select("id").
		From("user_ips").
		Where(sq.And{sq.Eq{"user_id": userID}, sq.Eq{"ip_address_id": ipID}}))
	if errRow != nil {
		return 0, errRow
	}

	var userIPID int64
	if errScan := rowID.Scan(&userIPID); errScan != nil {
		return 0, database.DBErr(errScan)
	}

	return userIPID, nil
}

// EnsureIPAddress inserts an address row if missing and returns its id. New
// rows start unchecked so the enrichment job will classify them.
func EnsureIPAddress(ctx context.Context, db database.Database, address string) (int64, error) {
	if errInsert := db.ExecInsertBuilder(ctx, db.Builder().
		Insert("ip_addresses").
		Columns("ip_address").
		Values(address).
		Suffix("ON CONFLICT (ip_address) DO NOTHING")); errInsert != nil {
		return 0, errInsert
	}

	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id").
		From("ip_addresses").
		Where(sq.Eq{"ip_address": address}))
	if errRow != nil {
		return 0, errRow
	}

	var ipID int64
	if errScan := row.Scan(&ipID); errScan != nil {
		return 0, database.DBErr(errScan)
	}

	return ipID, nil
}
