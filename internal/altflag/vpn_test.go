package altflag_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/altflag"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/testutil"
)

type flagFixture struct {
	db    database.Database
	state *jobs.StateStore
}

// newFlagFixture opens the flag database with the activity database attached,
// the way the worker wires the detectors.
func newFlagFixture(t *testing.T) flagFixture {
	t.Helper()

	env := testutil.NewEnv(t)
	flagsDB := env.MustOpen(t, database.AltFlags, database.Options{
		Attach: []string{database.Main, database.Activity},
	})
	mainDB := env.MustOpen(t, database.Main, database.Options{})

	return flagFixture{db: flagsDB, state: jobs.NewStateStore(mainDB)}
}

func (f flagFixture) addAddress(t *testing.T, address string, isVPN bool, isMobile bool, checkedAt int64) int64 {
	t.Helper()

	var ipID int64

	require.NoError(t, f.db.ExecInsertBuilderWithReturnValue(context.Background(), f.db.Builder().
		Insert("ip_addresses").
		Columns("ip_address", "is_vpn", "is_mobile", "is_checked", "checked_at").
		Values(address, isVPN, isMobile, true, checkedAt), &ipID))

	return ipID
}

func (f flagFixture) reclassify(t *testing.T, ipID int64, isVPN bool, isMobile bool, checkedAt int64) {
	t.Helper()

	require.NoError(t, f.db.Exec(context.Background(),
		"UPDATE ip_addresses SET is_vpn = ?, is_mobile = ?, checked_at = ? WHERE id = ?",
		isVPN, isMobile, checkedAt, ipID))
}

func (f flagFixture) addUserIP(t *testing.T, userID int64, ipID int64, earliest int64) {
	t.Helper()

	ctx := context.Background()

	var userIPID int64

	require.NoError(t, f.db.ExecInsertBuilderWithReturnValue(ctx, f.db.Builder().
		Insert("user_ips").
		Columns("user_id", "ip_address_id").
		Values(userID, ipID), &userIPID))

	require.NoError(t, f.db.ExecInsertBuilder(ctx, f.db.Builder().
		Insert("user_ip_time_ranges").
		Columns("user_ip_id", "date_earliest", "date_latest", "times", "granularity").
		Values(userIPID, earliest, earliest, 1, 0)))
}

type flagRow struct {
	ID    int64
	Score int64
	Date  int64
}

func (f flagFixture) loadFlag(t *testing.T, flagType string, flagKey string) (flagRow, bool) {
	t.Helper()

	rows, errRows := f.db.QueryBuilder(context.Background(), f.db.Builder().
		Select("id", "score", "date").
		From("alt_flags").
		Where("type = ? AND flag_key = ?", flagType, flagKey))
	require.NoError(t, errRows)

	defer rows.Close()

	if !rows.Next() {
		require.NoError(t, rows.Err())

		return flagRow{}, false
	}

	var row flagRow
	require.NoError(t, rows.Scan(&row.ID, &row.Score, &row.Date))

	return row, true
}

func TestVPNDetection(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	ipID := fixture.addAddress(t, "185.220.101.4", true, false, now)
	fixture.addUserIP(t, 7, ipID, now-3600)
	fixture.addUserIP(t, 8, ipID, now-1800)

	job := altflag.VPNJob{DB: fixture.db, State: fixture.state}
	require.NoError(t, job.Run(ctx))

	flag7, found7 := fixture.loadFlag(t, altflag.TypeVPN, "7")
	require.True(t, found7)
	require.Equal(t, int64(altflag.ScoreVPNUse), flag7.Score)
	require.Equal(t, now-3600, flag7.Date, "flag carries the earliest VPN range")

	_, found8 := fixture.loadFlag(t, altflag.TypeVPN, "8")
	require.True(t, found8)

	// The flag is linked back to its user.
	linked, errLinked := fixture.db.GetCount(ctx, fixture.db.Builder().
		Select("1").
		From("user_alt_flags").
		Where("user_id = ? AND flag_id = ?", int64(7), flag7.ID))
	require.NoError(t, errLinked)
	require.Equal(t, int64(1), linked)

	// A second pass past the cursor is a no-op.
	require.NoError(t, job.Run(ctx))

	total, errTotal := fixture.db.GetCount(ctx, fixture.db.Builder().
		Select("1").
		From("alt_flags"))
	require.NoError(t, errTotal)
	require.Equal(t, int64(2), total)
}

func TestIPMatchScoreMonotonic(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	ipID := fixture.addAddress(t, "203.0.113.50", true, false, now)
	fixture.addUserIP(t, 1, ipID, now-7200)
	fixture.addUserIP(t, 2, ipID, now-3600)

	job := altflag.IPMatchJob{DB: fixture.db, State: fixture.state}
	require.NoError(t, job.Run(ctx))

	key := altflag.PairKey(1, 2)

	flag, found := fixture.loadFlag(t, altflag.TypeIPMatch, key)
	require.True(t, found)
	require.Equal(t, int64(altflag.ScoreSharedVPN), flag.Score)

	// Reclassified as a residential address the pair is worth more.
	fixture.reclassify(t, ipID, false, false, now+10)
	require.NoError(t, job.Run(ctx))

	flag, found = fixture.loadFlag(t, altflag.TypeIPMatch, key)
	require.True(t, found)
	require.Equal(t, int64(altflag.ScoreSharedIP), flag.Score)

	// A later, weaker classification must not lower the stored score.
	fixture.reclassify(t, ipID, false, true, now+20)
	require.NoError(t, job.Run(ctx))

	flag, found = fixture.loadFlag(t, altflag.TypeIPMatch, key)
	require.True(t, found)
	require.Equal(t, int64(altflag.ScoreSharedIP), flag.Score)
}

func TestIPMatchKeepsHigherScoreWithinScan(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	// The same pair shares both a VPN address and a residential one.
	vpnID := fixture.addAddress(t, "185.220.101.9", true, false, now)
	fixture.addUserIP(t, 3, vpnID, now-60)
	fixture.addUserIP(t, 4, vpnID, now-30)

	plainID := fixture.addAddress(t, "198.51.100.80", false, false, now)
	fixture.addUserIP(t, 3, plainID, now-60)
	fixture.addUserIP(t, 4, plainID, now-30)

	job := altflag.IPMatchJob{DB: fixture.db, State: fixture.state}
	require.NoError(t, job.Run(ctx))

	flag, found := fixture.loadFlag(t, altflag.TypeIPMatch, altflag.PairKey(3, 4))
	require.True(t, found)
	require.Equal(t, int64(altflag.ScoreSharedIP), flag.Score)
}
