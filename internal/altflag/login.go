package altflag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
)

// loginCursor tracks the newest user_logins row a login-pair detector has
// scanned.
type loginCursor struct {
	LastLoginID int64 `json:"last_login_id"`
}

// loginPairDetector pairs logins from different users that share a column
// value (browser fingerprint or persistent cookie). Both concrete detectors
// write score-15 flags dated at the newer login.
type loginPairDetector struct {
	db       database.Database
	state    *jobs.StateStore
	jobName  string
	flagType string
	column   string
}

func (d *loginPairDetector) run(ctx context.Context) error {
	var cursor loginCursor
	if _, errGet := d.state.Get(ctx, d.jobName, &cursor); errGet != nil {
		return errGet
	}

	rowFrontier, errRowFrontier := d.db.QueryRowBuilder(ctx, d.db.Builder().
		Select("COALESCE(MAX(id), 0)").From("user_logins"))
	if errRowFrontier != nil {
		return errRowFrontier
	}

	frontier, errFrontier := scanCount(rowFrontier)
	if errFrontier != nil {
		return errFrontier
	}

	pairQuery := fmt.Sprintf(`
		SELECT l1.user_id, l2.user_id, l1.id, l2.id, l1.date, l2.date
		FROM user_logins l1
		JOIN user_logins l2 ON l2.%s = l1.%s AND l1.user_id < l2.user_id
		WHERE l1.%s != '' AND (l1.id > ? OR l2.id > ?)`, d.column, d.column, d.column)

	rows, errRows := d.db.Query(ctx, pairQuery, cursor.LastLoginID, cursor.LastLoginID)
	if errRows != nil {
		return errRows
	}

	defer rows.Close()

	type pair struct {
		userA int64
		userB int64
	}

	type match struct {
		date    int64
		loginID int64
	}

	latest := map[pair]match{}

	for rows.Next() {
		var (
			userA   int64
			userB   int64
			loginA  int64
			loginB  int64
			dateA   int64
			dateB   int64
		)

		if errScan := rows.Scan(&userA, &userB, &loginA, &loginB, &dateA, &dateB); errScan != nil {
			return database.DBErr(errScan)
		}

		candidate := match{date: dateA, loginID: loginA}
		if dateB > dateA || (dateB == dateA && loginB > loginA) {
			candidate = match{date: dateB, loginID: loginB}
		}

		key := pair{userA: userA, userB: userB}
		if existing, seen := latest[key]; !seen || candidate.date > existing.date {
			latest[key] = candidate
		}
	}

	if errIter := rows.Err(); errIter != nil {
		return database.DBErr(errIter)
	}

	prevMax, errMax := maxFlagID(ctx, d.db)
	if errMax != nil {
		return errMax
	}

	for key, found := range latest {
		loginID := found.loginID
		if errUpsert := upsertPairFlag(ctx, d.db, d.flagType,
			key.userA, key.userB, ScoreSharedLogin, found.date, &loginID); errUpsert != nil {
			return errUpsert
		}
	}

	if errLink := linkNewFlags(ctx, d.db, prevMax); errLink != nil {
		return errLink
	}

	if len(latest) > 0 {
		slog.Info("Evaluated shared login pairs",
			slog.String("detector", d.jobName), slog.Int("pairs", len(latest)))
	}

	return d.state.Update(ctx, d.jobName, loginCursor{LastLoginID: frontier})
}

// FingerprintMatchJob pairs users whose logins carried the same browser
// fingerprint.
type FingerprintMatchJob struct {
	detector loginPairDetector
}

func NewFingerprintMatchJob(db database.Database, state *jobs.StateStore) *FingerprintMatchJob {
	return &FingerprintMatchJob{detector: loginPairDetector{
		db:       db,
		state:    state,
		jobName:  "fingerprint_match_detection",
		flagType: TypeFingerprintMatch,
		column:   "fingerprint",
	}}
}

func (j *FingerprintMatchJob) Name() string { return j.detector.jobName }

func (j *FingerprintMatchJob) Delay() time.Duration { return time.Minute * 5 }

func (j *FingerprintMatchJob) Run(ctx context.Context) error { return j.detector.run(ctx) }

// CookieMatchJob pairs users whose logins presented the same persistent
// session cookie.
type CookieMatchJob struct {
	detector loginPairDetector
}

func NewCookieMatchJob(db database.Database, state *jobs.StateStore) *CookieMatchJob {
	return &CookieMatchJob{detector: loginPairDetector{
		db:       db,
		state:    state,
		jobName:  "persistent_cookie_detection",
		flagType: TypeCookieMatch,
		column:   "persistent_session_id",
	}}
}

func (j *CookieMatchJob) Name() string { return j.detector.jobName }

func (j *CookieMatchJob) Delay() time.Duration { return time.Minute * 5 }

func (j *CookieMatchJob) Run(ctx context.Context) error { return j.detector.run(ctx) }
