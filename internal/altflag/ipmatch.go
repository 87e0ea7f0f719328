package altflag

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
)

// IPMatchJob flags user pairs that share a classified address. Regular
// addresses score 10, VPN exit nodes 3 and mobile carrier addresses 1; an
// address that is both VPN and mobile keeps the higher score. Re-detections
// only raise an existing flag's score, never lower it.
type IPMatchJob struct {
	DB    database.Database
	State *jobs.StateStore
}

func (j *IPMatchJob) Name() string { return "ip_match_detection" }

func (j *IPMatchJob) Delay() time.Duration { return time.Minute }

func (j *IPMatchJob) Run(ctx context.Context) error {
	cursor, errCursor := loadIPCursor(ctx, j.State, j.Name())
	if errCursor != nil {
		return errCursor
	}

	frontier, errFrontier := nextIPCursor(ctx, j.DB)
	if errFrontier != nil {
		return errFrontier
	}

	const sharedIPQuery = `
		SELECT u1.user_id, u2.user_id, ip.is_vpn, ip.is_mobile
		FROM user_ips u1
		JOIN user_ips u2 ON u2.ip_address_id = u1.ip_address_id AND u1.user_id < u2.user_id
		JOIN ip_addresses ip ON ip.id = u1.ip_address_id AND ip.is_checked = 1
		WHERE u1.id > ? OR u2.id > ? OR ip.checked_at > ?`

	rows, errRows := j.DB.Query(ctx, sharedIPQuery,
		cursor.LastUserIPID, cursor.LastUserIPID, cursor.LastCheckedTimestamp)
	if errRows != nil {
		return errRows
	}

	defer rows.Close()

	type pair struct {
		userA int64
		userB int64
	}

	// Several shared addresses may implicate the same pair in one scan; keep
	// the best score.
	best := map[pair]int{}

	for rows.Next() {
		var (
			userA    int64
			userB    int64
			isVPN    bool
			isMobile bool
		)

		if errScan := rows.Scan(&userA, &userB, &isVPN, &isMobile); errScan != nil {
			return database.DBErr(errScan)
		}

		score := pairScore(isVPN, isMobile)

		key := pair{userA: userA, userB: userB}
		if score > best[key] {
			best[key] = score
		}
	}

	if errIter := rows.Err(); errIter != nil {
		return database.DBErr(errIter)
	}

	prevMax, errMax := maxFlagID(ctx, j.DB)
	if errMax != nil {
		return errMax
	}

	now := time.Now().Unix()

	for key, score := range best {
		if errUpsert := upsertPairFlag(ctx, j.DB, TypeIPMatch, key.userA, key.userB, score, now, nil); errUpsert != nil {
			return errUpsert
		}
	}

	if errLink := linkNewFlags(ctx, j.DB, prevMax); errLink != nil {
		return errLink
	}

	if len(best) > 0 {
		slog.Info("Evaluated shared address pairs", slog.Int("pairs", len(best)))
	}

	return j.State.Update(ctx, j.Name(), frontier)
}

func pairScore(isVPN bool, isMobile bool) int {
	switch {
	case isVPN:
		return ScoreSharedVPN
	case isMobile:
		return ScoreSharedMobile
	default:
		return ScoreSharedIP
	}
}
