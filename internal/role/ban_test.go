package role_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/role"
	"github.com/mkcommunity/registry/internal/testutil"
)

type banFixture struct {
	exec     *command.Executor
	db       database.Database
	playerID int64
	userID   int64
	modID    int64
}

func newBanFixture(t *testing.T) banFixture {
	t.Helper()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeGlobal, role.BannedRoleName, 99))

	playerID := testutil.CreatePlayer(t, db, "Target")
	modID := testutil.CreatePlayer(t, db, "Moderator")

	var userID int64

	require.NoError(t, db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("users").
		Columns("join_date", "player_id").
		Values(time.Now().Unix(), playerID), &userID))

	return banFixture{
		exec:     command.NewExecutor(env, nil),
		db:       db,
		playerID: playerID,
		userID:   userID,
		modID:    modID,
	}
}

func (f banFixture) countRows(t *testing.T, table string, where string, args ...any) int64 {
	t.Helper()

	count, errCount := f.db.GetCount(context.Background(), f.db.Builder().
		Select("1").
		From(table).
		Where(where, args...))
	require.NoError(t, errCount)

	return count
}

func TestBanLifecycle(t *testing.T) {
	t.Parallel()

	fixture := newBanFixture(t)
	ctx := context.Background()

	_, errBan := fixture.exec.Run(ctx, &role.BanPlayerCommand{
		PlayerID:     fixture.playerID,
		BannedBy:     fixture.modID,
		IsIndefinite: true,
		Reason:       "Alt account abuse",
	})
	require.NoError(t, errBan)

	expiration, active, errActive := role.ActiveBanExpiration(ctx, fixture.db, fixture.playerID)
	require.NoError(t, errActive)
	require.True(t, active)
	require.Nil(t, expiration, "an indefinite ban has no expiry")

	require.Equal(t, int64(1), fixture.countRows(t, "players", "id = ? AND is_banned = 1", fixture.playerID))
	require.Equal(t, int64(1), fixture.countRows(t, "user_roles", "user_id = ?", fixture.userID))
	require.Equal(t, int64(1), fixture.countRows(t, "notifications", "user_id = ? AND type = 'BANNED'", fixture.userID))

	// One active ban per player.
	_, errAgain := fixture.exec.Run(ctx, &role.BanPlayerCommand{
		PlayerID:     fixture.playerID,
		BannedBy:     fixture.modID,
		IsIndefinite: true,
		Reason:       "Again",
	})
	require.Error(t, errAgain)

	prob, isProblem := problem.As(errAgain)
	require.True(t, isProblem)
	require.Equal(t, "Player is already banned", prob.Title)

	_, errUnban := fixture.exec.Run(ctx, &role.UnbanPlayerCommand{
		PlayerID:   fixture.playerID,
		UnbannedBy: fixture.modID,
	})
	require.NoError(t, errUnban)

	_, active, errAfter := role.ActiveBanExpiration(ctx, fixture.db, fixture.playerID)
	require.NoError(t, errAfter)
	require.False(t, active)

	require.Equal(t, int64(1), fixture.countRows(t, "player_bans_historical", "player_id = ?", fixture.playerID))
	require.Equal(t, int64(1), fixture.countRows(t, "players", "id = ? AND is_banned = 0", fixture.playerID))
	require.Zero(t, fixture.countRows(t, "user_roles", "user_id = ?", fixture.userID))
	require.Equal(t, int64(1), fixture.countRows(t, "notifications", "user_id = ? AND type = 'UNBANNED'", fixture.userID))
}

func TestBanRequiresExpiryUnlessIndefinite(t *testing.T) {
	t.Parallel()

	fixture := newBanFixture(t)

	_, errBan := fixture.exec.Run(context.Background(), &role.BanPlayerCommand{
		PlayerID: fixture.playerID,
		BannedBy: fixture.modID,
		Reason:   "No expiry given",
	})
	require.Error(t, errBan)

	prob, isProblem := problem.As(errBan)
	require.True(t, isProblem)
	require.Equal(t, 400, prob.Status)
}

func TestEditBanSyncsRoleExpiry(t *testing.T) {
	t.Parallel()

	fixture := newBanFixture(t)
	ctx := context.Background()

	expiry := time.Now().Add(24 * time.Hour).Unix()

	_, errBan := fixture.exec.Run(ctx, &role.BanPlayerCommand{
		PlayerID:       fixture.playerID,
		BannedBy:       fixture.modID,
		ExpirationDate: &expiry,
		Reason:         "Short ban",
	})
	require.NoError(t, errBan)

	extended := time.Now().Add(30 * 24 * time.Hour).Unix()

	_, errEdit := fixture.exec.Run(ctx, &role.EditBanCommand{
		PlayerID:       fixture.playerID,
		ExpirationDate: &extended,
		Reason:         "Extended",
	})
	require.NoError(t, errEdit)

	expiration, active, errActive := role.ActiveBanExpiration(ctx, fixture.db, fixture.playerID)
	require.NoError(t, errActive)
	require.True(t, active)
	require.NotNil(t, expiration)
	require.Equal(t, extended, *expiration)

	require.Equal(t, int64(1),
		fixture.countRows(t, "user_roles", "user_id = ? AND expires_on = ?", fixture.userID, extended))
}

func TestUnbanWithoutBan(t *testing.T) {
	t.Parallel()

	fixture := newBanFixture(t)

	_, errUnban := fixture.exec.Run(context.Background(), &role.UnbanPlayerCommand{
		PlayerID:   fixture.playerID,
		UnbannedBy: fixture.modID,
	})
	require.Error(t, errUnban)

	prob, isProblem := problem.As(errUnban)
	require.True(t, isProblem)
	require.Equal(t, "Player is not banned", prob.Title)
}
