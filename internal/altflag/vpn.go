package altflag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
)

// ipCursor is the shared high-water mark for the IP-based detectors: the
// largest user_ips id scanned plus the newest classifier check seen. Either
// moving forward exposes new work.
type ipCursor struct {
	LastUserIPID         int64 `json:"last_user_ip_id"`
	LastCheckedTimestamp int64 `json:"last_checked_timestamp"`
}

func loadIPCursor(ctx context.Context, state *jobs.StateStore, jobName string) (ipCursor, error) {
	var cursor ipCursor

	if _, errGet := state.Get(ctx, jobName, &cursor); errGet != nil {
		return ipCursor{}, errGet
	}

	return cursor, nil
}

// nextIPCursor snapshots the current frontier before scanning so rows written
// mid-run are picked up again next tick.
func nextIPCursor(ctx context.Context, db database.Database) (ipCursor, error) {
	rowIP, errRowIP := db.QueryRowBuilder(ctx, db.Builder().
		Select("COALESCE(MAX(id), 0)").From("user_ips"))
	if errRowIP != nil {
		return ipCursor{}, errRowIP
	}

	lastUserIP, errUserIP := scanCount(rowIP)
	if errUserIP != nil {
		return ipCursor{}, errUserIP
	}

	rowChecked, errRowChecked := db.QueryRowBuilder(ctx, db.Builder().
		Select("COALESCE(MAX(checked_at), 0)").From("ip_addresses"))
	if errRowChecked != nil {
		return ipCursor{}, errRowChecked
	}

	lastChecked, errChecked := scanCount(rowChecked)
	if errChecked != nil {
		return ipCursor{}, errChecked
	}

	return ipCursor{LastUserIPID: lastUserIP, LastCheckedTimestamp: lastChecked}, nil
}

// VPNJob flags users seen on classified VPN addresses. One flag per user,
// score 1, dated at the user's earliest VPN time range.
type VPNJob struct {
	DB    database.Database
	State *jobs.StateStore
}

func (j *VPNJob) Name() string { return "vpn_detection" }

func (j *VPNJob) Delay() time.Duration { return time.Minute }

func (j *VPNJob) Run(ctx context.Context) error {
	cursor, errCursor := loadIPCursor(ctx, j.State, j.Name())
	if errCursor != nil {
		return errCursor
	}

	frontier, errFrontier := nextIPCursor(ctx, j.DB)
	if errFrontier != nil {
		return errFrontier
	}

	const vpnUsersQuery = `
		SELECT ui.user_id, MIN(r.date_earliest)
		FROM user_ips ui
		JOIN ip_addresses ip ON ip.id = ui.ip_address_id AND ip.is_checked = 1 AND ip.is_vpn = 1
		JOIN user_ip_time_ranges r ON r.user_ip_id = ui.id
		WHERE ui.id > ? OR ip.checked_at > ?
		GROUP BY ui.user_id`

	rows, errRows := j.DB.Query(ctx, vpnUsersQuery, cursor.LastUserIPID, cursor.LastCheckedTimestamp)
	if errRows != nil {
		return errRows
	}

	defer rows.Close()

	type vpnUser struct {
		userID   int64
		earliest int64
	}

	var candidates []vpnUser

	for rows.Next() {
		var candidate vpnUser
		if errScan := rows.Scan(&candidate.userID, &candidate.earliest); errScan != nil {
			return database.DBErr(errScan)
		}

		candidates = append(candidates, candidate)
	}

	if errIter := rows.Err(); errIter != nil {
		return database.DBErr(errIter)
	}

	prevMax, errMax := maxFlagID(ctx, j.DB)
	if errMax != nil {
		return errMax
	}

	flagged := 0

	for _, candidate := range candidates {
		const insertQuery = `
			INSERT INTO alt_flags (type, flag_key, data, score, date)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (type, flag_key) DO NOTHING`

		data := fmt.Sprintf(`{"user_id_1":%d}`, candidate.userID)

		if errInsert := j.DB.Exec(ctx, insertQuery,
			TypeVPN, strconv.FormatInt(candidate.userID, 10), data, ScoreVPNUse, candidate.earliest); errInsert != nil {
			return database.DBErr(errInsert)
		}

		flagged++
	}

	if errLink := linkNewFlags(ctx, j.DB, prevMax); errLink != nil {
		return errLink
	}

	if flagged > 0 {
		slog.Info("Flagged VPN users", slog.Int("count", flagged))
	}

	return j.State.Update(ctx, j.Name(), frontier)
}
