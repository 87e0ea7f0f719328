package activity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/testutil"
)

type rangeRow struct {
	DateEarliest int64
	DateLatest   int64
	Times        int64
	Granularity  int64
}

func insertRange(t *testing.T, db database.Database, userIPID int64, row rangeRow) {
	t.Helper()

	require.NoError(t, db.ExecInsertBuilder(context.Background(), db.Builder().
		Insert("user_ip_time_ranges").
		Columns("user_ip_id", "date_earliest", "date_latest", "times", "granularity").
		Values(userIPID, row.DateEarliest, row.DateLatest, row.Times, row.Granularity)))
}

func loadRanges(t *testing.T, db database.Database, userIPID int64) []rangeRow {
	t.Helper()

	rows, errRows := db.QueryBuilder(context.Background(), db.Builder().
		Select("date_earliest", "date_latest", "times", "granularity").
		From("user_ip_time_ranges").
		Where("user_ip_id = ?", userIPID).
		OrderBy("date_earliest"))
	require.NoError(t, errRows)

	defer rows.Close()

	var out []rangeRow

	for rows.Next() {
		var row rangeRow
		require.NoError(t, rows.Scan(&row.DateEarliest, &row.DateLatest, &row.Times, &row.Granularity))
		out = append(out, row)
	}

	require.NoError(t, rows.Err())

	return out
}

func newUserIP(t *testing.T, db database.Database, address string) int64 {
	t.Helper()

	ctx := context.Background()

	ipID, errIP := activity.EnsureIPAddress(ctx, db, address)
	require.NoError(t, errIP)

	require.NoError(t, db.ExecInsertBuilder(ctx, db.Builder().
		Insert("user_ips").
		Columns("user_id", "ip_address_id").
		Values(int64(1), ipID)))

	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id").
		From("user_ips").
		Where("ip_address_id = ?", ipID))
	require.NoError(t, errRow)

	var userIPID int64
	require.NoError(t, row.Scan(&userIPID))

	return userIPID
}

func TestCompressMergesAgedRanges(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Activity, database.Options{ForeignKeys: true})
	userIPID := newUserIP(t, db, "203.0.113.20")

	now := time.Now().Unix()

	// Five raw ranges between 20 and 11 minutes old, two minutes apart.
	var earliest int64

	for i := range int64(5) {
		stamp := now - 20*60 + i*120
		if i == 0 {
			earliest = stamp
		}

		insertRange(t, db, userIPID, rangeRow{DateEarliest: stamp, DateLatest: stamp, Times: 1})
	}

	job := activity.CompressJob{Activity: db}
	require.NoError(t, job.Run(context.Background()))

	ranges := loadRanges(t, db, userIPID)
	require.Len(t, ranges, 1)

	merged := ranges[0]
	require.Equal(t, int64(5), merged.Times)
	require.Equal(t, int64(activity.GranularityMinute), merged.Granularity)
	require.Equal(t, earliest/60*60, merged.DateEarliest, "earliest boundary aligns down to the minute")
	require.Equal(t, now-20*60+4*120, merged.DateLatest, "latest boundary is preserved")
}

func TestCompressLeavesFreshRangesAlone(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Activity, database.Options{ForeignKeys: true})
	userIPID := newUserIP(t, db, "203.0.113.21")

	now := time.Now().Unix()

	insertRange(t, db, userIPID, rangeRow{DateEarliest: now - 120, DateLatest: now - 120, Times: 1})
	insertRange(t, db, userIPID, rangeRow{DateEarliest: now - 60, DateLatest: now - 60, Times: 1})

	job := activity.CompressJob{Activity: db}
	require.NoError(t, job.Run(context.Background()))

	ranges := loadRanges(t, db, userIPID)
	require.Len(t, ranges, 2, "ranges younger than ten minutes stay raw")

	for _, row := range ranges {
		require.Equal(t, int64(activity.GranularityNone), row.Granularity)
	}
}

func TestCompressPreservesEventSum(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Activity, database.Options{ForeignKeys: true})
	userIPID := newUserIP(t, db, "203.0.113.22")

	now := time.Now().Unix()

	// Ranges spread over several bands: day-old, hours-old and minutes-old.
	stamps := []struct {
		age   int64
		times int64
	}{
		{age: 40 * 24 * 3600, times: 7},
		{age: 3 * 24 * 3600, times: 3},
		{age: 8 * 3600, times: 2},
		{age: 90 * 60, times: 4},
		{age: 15 * 60, times: 1},
	}

	var total int64

	for _, stamp := range stamps {
		insertRange(t, db, userIPID, rangeRow{
			DateEarliest: now - stamp.age,
			DateLatest:   now - stamp.age,
			Times:        stamp.times,
		})
		total += stamp.times
	}

	job := activity.CompressJob{Activity: db}
	require.NoError(t, job.Run(context.Background()))

	var sum int64

	for _, row := range loadRanges(t, db, userIPID) {
		sum += row.Times
	}

	require.Equal(t, total, sum)

	// A second pass does not change anything further.
	require.NoError(t, job.Run(context.Background()))

	sum = 0
	for _, row := range loadRanges(t, db, userIPID) {
		sum += row.Times
	}

	require.Equal(t, total, sum)
}
