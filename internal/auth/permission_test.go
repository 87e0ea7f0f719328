package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/role"
	"github.com/mkcommunity/registry/internal/testutil"
)

func grantScopedRole(t *testing.T, db database.Database, kind auth.ScopeKind, userID int64, roleName string, scopeID int64) {
	t.Helper()

	tables := auth.TablesFor(kind)
	ctx := context.Background()

	var roleID int64

	row := db.Handle().QueryRowContext(ctx, "SELECT id FROM "+tables.Roles+" WHERE name = ?", roleName)
	require.NoError(t, row.Scan(&roleID))

	if tables.ScopeColumn == "" {
		require.NoError(t, db.Exec(ctx,
			"INSERT INTO "+tables.UserRoles+" (user_id, role_id) VALUES (?, ?)", userID, roleID))
	} else {
		require.NoError(t, db.Exec(ctx,
			"INSERT INTO "+tables.UserRoles+" (user_id, role_id, "+tables.ScopeColumn+") VALUES (?, ?, ?)",
			userID, roleID, scopeID))
	}
}

func createSeries(t *testing.T, db database.Database) int64 {
	t.Helper()

	var seriesID int64

	require.NoError(t, db.ExecInsertBuilderWithReturnValue(context.Background(), db.Builder().
		Insert("series").
		Columns("name", "game", "mode", "short_description").
		Values("Test Series", "mkw", "150cc", ""), &seriesID))

	return seriesID
}

func createTournament(t *testing.T, db database.Database, seriesID *int64) int64 {
	t.Helper()

	now := time.Now().Unix()

	var tournamentID int64

	require.NoError(t, db.ExecInsertBuilderWithReturnValue(context.Background(), db.Builder().
		Insert("tournaments").
		Columns("name", "game", "mode", "series_id", "date_start", "date_end").
		Values("Test Cup", "mkw", "150cc", seriesID, now, now+3600), &tournamentID))

	return tournamentID
}

// A series-level deny must be visible from the tournament scope while an
// unrelated global grant still evaluates true.
func TestPermissionVetoAcrossScopes(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeGlobal, "tournament_edit"))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeGlobal, "Administrator", 1))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeGlobal, "Administrator", "tournament_edit", false))

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeSeries, "tournament_register"))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeSeries, "Banned", 99))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeSeries, "Banned", "tournament_register", true))

	userID := testutil.CreateUser(t, db)
	seriesID := createSeries(t, db)
	tournamentID := createTournament(t, db, &seriesID)

	grantScopedRole(t, db, auth.ScopeGlobal, userID, "Administrator", 0)
	grantScopedRole(t, db, auth.ScopeSeries, userID, "Banned", seriesID)

	denied, errDenied := auth.CheckUserHasPermission(ctx, db, userID,
		"tournament_register", auth.TournamentScope(tournamentID), true)
	require.NoError(t, errDenied)
	require.False(t, denied, "series-level deny must veto from the tournament scope")

	granted, errGranted := auth.CheckUserHasPermission(ctx, db, userID,
		"tournament_edit", auth.TournamentScope(tournamentID), false)
	require.NoError(t, errGranted)
	require.True(t, granted)
}

// With only denied rows the evaluator refuses in both modes; one non-denied
// grant anywhere flips both.
func TestDeniedRowsThenGrant(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeGlobal, "tournament_register"))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeGlobal, "Banned", 99))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeGlobal, "Banned", "tournament_register", true))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeGlobal, "Supporter", 50))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeGlobal, "Supporter", "tournament_register", false))

	userID := testutil.CreateUser(t, db)
	grantScopedRole(t, db, auth.ScopeGlobal, userID, "Banned", 0)

	granted, errCheck := auth.CheckUserHasPermission(ctx, db, userID, "tournament_register", auth.GlobalScope(), false)
	require.NoError(t, errCheck)
	require.False(t, granted)

	deniedOnly, errDenied := auth.CheckUserHasPermission(ctx, db, userID, "tournament_register", auth.GlobalScope(), true)
	require.NoError(t, errDenied)
	require.False(t, deniedOnly)

	grantScopedRole(t, db, auth.ScopeGlobal, userID, "Supporter", 0)

	granted, errCheck = auth.CheckUserHasPermission(ctx, db, userID, "tournament_register", auth.GlobalScope(), false)
	require.NoError(t, errCheck)
	require.True(t, granted, "adding a non-denied grant must flip the result")
}

// Expired grants never count.
func TestExpiredGrantIgnored(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeGlobal, "tournament_edit"))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeGlobal, "Organizer", 1))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeGlobal, "Organizer", "tournament_edit", false))

	userID := testutil.CreateUser(t, db)

	var roleID int64

	row := db.Handle().QueryRowContext(ctx, "SELECT id FROM roles WHERE name = ?", "Organizer")
	require.NoError(t, row.Scan(&roleID))

	require.NoError(t, db.Exec(ctx,
		"INSERT INTO user_roles (user_id, role_id, expires_on) VALUES (?, ?, ?)",
		userID, roleID, time.Now().Add(-time.Hour).Unix()))

	granted, errCheck := auth.CheckUserHasPermission(ctx, db, userID, "tournament_edit", auth.GlobalScope(), false)
	require.NoError(t, errCheck)
	require.False(t, granted)
}

// A tournament without a series skips the series scope entirely.
func TestTournamentWithoutSeries(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeTournament, "tournament_register"))
	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeTournament, "Host", 2))
	require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeTournament, "Host", "tournament_register", false))

	userID := testutil.CreateUser(t, db)
	tournamentID := createTournament(t, db, nil)
	grantScopedRole(t, db, auth.ScopeTournament, userID, "Host", tournamentID)

	granted, errCheck := auth.CheckUserHasPermission(ctx, db, userID,
		"tournament_register", auth.TournamentScope(tournamentID), false)
	require.NoError(t, errCheck)
	require.True(t, granted)
}
