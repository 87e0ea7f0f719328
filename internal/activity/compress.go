package activity

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mkcommunity/registry/internal/database"
)

// Granularity levels for user_ip_time_ranges rows, finest to coarsest.
const (
	GranularityNone       = 0
	GranularityMinute     = 1
	GranularityTenMinutes = 2
	GranularityHalfHour   = 3
	GranularityHour       = 4
	GranularityDay        = 5
)

// dayAlignOffset shifts the day window so boundaries fall on 06:00 UTC.
const dayAlignOffset = 6 * 3600

type compressionBand struct {
	minAge      time.Duration
	maxAge      time.Duration // zero means unbounded
	granularity int
	window      int64 // seconds
}

//nolint:gochecknoglobals
var compressionBands = []compressionBand{
	{minAge: time.Hour * 24 * 30, granularity: GranularityDay, window: 86400},
	{minAge: time.Hour * 48, maxAge: time.Hour * 24 * 30, granularity: GranularityHour, window: 3600},
	{minAge: time.Hour * 6, maxAge: time.Hour * 48, granularity: GranularityHalfHour, window: 1800},
	{minAge: time.Hour, maxAge: time.Hour * 6, granularity: GranularityTenMinutes, window: 600},
	{minAge: time.Minute * 10, maxAge: time.Hour, granularity: GranularityMinute, window: 60},
}

// alignWindow floors a timestamp to its window boundary. Day windows start at
// 06:00 UTC rather than midnight.
func alignWindow(timestamp int64, window int64) int64 {
	if window == 86400 {
		return (timestamp-dayAlignOffset)/window*window + dayAlignOffset
	}

	return timestamp / window * window
}

// CompressJob folds finer-grained activity ranges into coarser ones as they
// age. Bands run oldest to newest, each under its own transaction, so a crash
// between bands leaves every touched range internally consistent.
type CompressJob struct {
	Activity database.Database
}

func (j *CompressJob) Name() string { return "activity_compression" }

func (j *CompressJob) Delay() time.Duration { return time.Minute * 15 }

func (j *CompressJob) Run(ctx context.Context) error {
	now := timeNow().Unix()

	for _, band := range compressionBands {
		if errBand := j.compressBand(ctx, now, band); errBand != nil {
			return errBand
		}
	}

	return nil
}

type mergedRange struct {
	userIPID     int64
	dateEarliest int64
	dateLatest   int64
	times        int64
}

// compressBand replaces all ranges per user_ip whose date_latest falls inside
// the band and whose granularity is still finer than the band's target with a
// single merged row. The merged row keeps the summed event count, its earliest
// boundary aligned down to the band's window.
func (j *CompressJob) compressBand(ctx context.Context, now int64, band compressionBand) error {
	upperBound := now - int64(band.minAge.Seconds())

	lowerBound := int64(0)
	if band.maxAge > 0 {
		lowerBound = now - int64(band.maxAge.Seconds())
	}

	return j.Activity.WrapTx(ctx, func(tx *sql.Tx) error {
		const selectQuery = `
			SELECT user_ip_id, MIN(date_earliest), MAX(date_latest), SUM(times)
			FROM user_ip_time_ranges
			WHERE date_latest >= ? AND date_latest < ? AND granularity < ?
			GROUP BY user_ip_id`

		rows, errRows := tx.QueryContext(ctx, selectQuery, lowerBound, upperBound, band.granularity)
		if errRows != nil {
			return database.DBErr(errRows)
		}

		defer rows.Close()

		var merged []mergedRange

		for rows.Next() {
			var entry mergedRange
			if errScan := rows.Scan(&entry.userIPID, &entry.dateEarliest, &entry.dateLatest, &entry.times); errScan != nil {
				return database.DBErr(errScan)
			}

			merged = append(merged, entry)
		}

		if errIter := rows.Err(); errIter != nil {
			return database.DBErr(errIter)
		}

		if len(merged) == 0 {
			return nil
		}

		const deleteQuery = `
			DELETE FROM user_ip_time_ranges
			WHERE date_latest >= ? AND date_latest < ? AND granularity < ?`

		if _, errDelete := tx.ExecContext(ctx, deleteQuery, lowerBound, upperBound, band.granularity); errDelete != nil {
			return database.DBErr(errDelete)
		}

		const insertQuery = `
			INSERT INTO user_ip_time_ranges (user_ip_id, date_earliest, date_latest, times, granularity)
			VALUES (?, ?, ?, ?, ?)`

		for _, entry := range merged {
			if _, errInsert := tx.ExecContext(ctx, insertQuery,
				entry.userIPID, alignWindow(entry.dateEarliest, band.window),
				entry.dateLatest, entry.times, band.granularity); errInsert != nil {
				return database.DBErr(errInsert)
			}
		}

		slog.Debug("Compressed activity ranges",
			slog.Int("granularity", band.granularity), slog.Int("groups", len(merged)))

		return nil
	})
}
