// Package altflag derives scored alt-account evidence from login and activity
// records. Each detector is incremental: a persisted cursor marks how far it
// has scanned, and a failed run leaves the cursor untouched so the work is
// retried on the next tick.
package altflag

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mkcommunity/registry/internal/database"
)

// Flag types written by the detectors.
const (
	TypeVPN              = "vpn"
	TypeIPMatch          = "ip_match"
	TypeFingerprintMatch = "fingerprint_match"
	TypeCookieMatch      = "persistent_cookie_match"
)

// Scores per signal. Pair scores for shared IPs depend on the address class;
// the detector keeps the higher applicable score when an address is both VPN
// and mobile.
const (
	ScoreVPNUse      = 1
	ScoreSharedIP    = 10
	ScoreSharedVPN   = 3
	ScoreSharedMobile = 1
	ScoreSharedLogin = 15
)

// PairKey builds the canonical flag key for a user pair. Callers pass the
// smaller id first.
func PairKey(userA int64, userB int64) string {
	return fmt.Sprintf("user_id_1=%d,user_id_2=%d", userA, userB)
}

// maxFlagID returns the current largest alt_flags id, 0 when empty. Detectors
// capture it before inserting so the linking pass only touches new flags.
func maxFlagID(ctx context.Context, db database.Database) (int64, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("COALESCE(MAX(id), 0)").
		From("alt_flags"))
	if errRow != nil {
		return 0, errRow
	}

	var maxID int64
	if errScan := row.Scan(&maxID); errScan != nil {
		return 0, database.DBErr(errScan)
	}

	return maxID, nil
}

// linkNewFlags associates users with every flag written after prevMaxFlagID by
// extracting the user ids embedded in the flag data.
func linkNewFlags(ctx context.Context, db database.Database, prevMaxFlagID int64) error {
	const linkQuery = `
		INSERT INTO user_alt_flags (user_id, flag_id)
		SELECT json_extract(data, '$.%s'), id
		FROM alt_flags
		WHERE id > ? AND json_extract(data, '$.%s') IS NOT NULL
		ON CONFLICT DO NOTHING`

	for _, field := range []string{"user_id_1", "user_id_2"} {
		if errExec := db.Exec(ctx, fmt.Sprintf(linkQuery, field, field), prevMaxFlagID); errExec != nil {
			return database.DBErr(errExec)
		}
	}

	return nil
}

// upsertPairFlag writes a pair flag, replacing an existing row only when the
// incoming score strictly exceeds the stored one.
func upsertPairFlag(ctx context.Context, db database.Database, flagType string,
	userA int64, userB int64, score int, date int64, loginID *int64,
) error {
	const upsertQuery = `
		INSERT INTO alt_flags (type, flag_key, data, score, date, login_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, flag_key) DO UPDATE
		SET data = excluded.data, score = excluded.score, date = excluded.date, login_id = excluded.login_id
		WHERE excluded.score > alt_flags.score`

	data := fmt.Sprintf(`{"user_id_1":%d,"user_id_2":%d}`, userA, userB)

	var loginValue any
	if loginID != nil {
		loginValue = *loginID
	}

	return database.DBErr(db.Exec(ctx, upsertQuery,
		flagType, PairKey(userA, userB), data, score, date, loginValue))
}

func scanCount(row *sql.Row) (int64, error) {
	var count int64
	if errScan := row.Scan(&count); errScan != nil {
		return 0, database.DBErr(errScan)
	}

	return count, nil
}
