package altflag_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/altflag"
)

func (f flagFixture) addLogin(t *testing.T, userID int64, fingerprint string, cookie string, date int64) int64 {
	t.Helper()

	ctx := context.Background()

	var addressID int64

	require.NoError(t, f.db.ExecInsertBuilderWithReturnValue(ctx, f.db.Builder().
		Insert("ip_addresses").
		Columns("ip_address").
		Values(fmt.Sprintf("192.0.2.%d", userID)), &addressID))

	var loginID int64

	require.NoError(t, f.db.ExecInsertBuilderWithReturnValue(ctx, f.db.Builder().
		Insert("user_logins").
		Columns("user_id", "ip_address_id", "session_id", "persistent_session_id", "fingerprint", "date").
		Values(userID, addressID, "s", cookie, fingerprint, date), &loginID))

	return loginID
}

func TestFingerprintMatch(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	fixture.addLogin(t, 10, "fp-abc", "cookie-1", now-100)
	newer := fixture.addLogin(t, 11, "fp-abc", "cookie-2", now-50)
	fixture.addLogin(t, 12, "fp-other", "cookie-3", now-10)

	job := altflag.NewFingerprintMatchJob(fixture.db, fixture.state)
	require.NoError(t, job.Run(ctx))

	flag, found := fixture.loadFlag(t, altflag.TypeFingerprintMatch, altflag.PairKey(10, 11))
	require.True(t, found)
	require.Equal(t, int64(altflag.ScoreSharedLogin), flag.Score)
	require.Equal(t, now-50, flag.Date, "flag is dated at the newer login")

	row, errRow := fixture.db.QueryRowBuilder(ctx, fixture.db.Builder().
		Select("login_id").
		From("alt_flags").
		Where("id = ?", flag.ID))
	require.NoError(t, errRow)

	var loginID int64
	require.NoError(t, row.Scan(&loginID))
	require.Equal(t, newer, loginID)

	_, foundOther := fixture.loadFlag(t, altflag.TypeFingerprintMatch, altflag.PairKey(10, 12))
	require.False(t, foundOther)
}

func TestCookieMatchIgnoresEmptyValues(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	// Sessions issued without a persistent cookie must never pair up.
	fixture.addLogin(t, 20, "fp-1", "", now-100)
	fixture.addLogin(t, 21, "fp-2", "", now-50)
	fixture.addLogin(t, 22, "fp-3", "shared-cookie", now-40)
	fixture.addLogin(t, 23, "fp-4", "shared-cookie", now-30)

	job := altflag.NewCookieMatchJob(fixture.db, fixture.state)
	require.NoError(t, job.Run(ctx))

	_, foundEmpty := fixture.loadFlag(t, altflag.TypeCookieMatch, altflag.PairKey(20, 21))
	require.False(t, foundEmpty)

	flag, foundShared := fixture.loadFlag(t, altflag.TypeCookieMatch, altflag.PairKey(22, 23))
	require.True(t, foundShared)
	require.Equal(t, int64(altflag.ScoreSharedLogin), flag.Score)
}

func TestCookieMatchCursorSkipsScanned(t *testing.T) {
	t.Parallel()

	fixture := newFlagFixture(t)
	ctx := context.Background()
	now := time.Now().Unix()

	fixture.addLogin(t, 30, "fp-a", "c-shared", now-100)
	fixture.addLogin(t, 31, "fp-b", "c-shared", now-50)

	job := altflag.NewCookieMatchJob(fixture.db, fixture.state)
	require.NoError(t, job.Run(ctx))

	flag, found := fixture.loadFlag(t, altflag.TypeCookieMatch, altflag.PairKey(30, 31))
	require.True(t, found)
	firstDate := flag.Date

	// No new logins since the cursor advanced, so nothing is re-evaluated.
	require.NoError(t, job.Run(ctx))

	flag, found = fixture.loadFlag(t, altflag.TypeCookieMatch, altflag.PairKey(30, 31))
	require.True(t, found)
	require.Equal(t, firstDate, flag.Date)
}
