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

type grantFixture struct {
	env          *testutil.Env
	exec         *command.Executor
	db           database.Database
	tournamentID int64
}

func newGrantFixture(t *testing.T) grantFixture {
	t.Helper()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	ctx := context.Background()

	require.NoError(t, role.EnsurePermission(ctx, db, auth.ScopeTournament, "tournament_roles_manage"))

	for _, seeded := range []struct {
		name     string
		position int64
	}{
		{"Super Administrator", 0},
		{"Organizer", 1},
		{"Host Banned", 99},
	} {
		require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeTournament, seeded.name, seeded.position))
		require.NoError(t, role.LinkPermission(ctx, db, auth.ScopeTournament, seeded.name, "tournament_roles_manage", seeded.name == "Host Banned"))
	}

	now := time.Now().Unix()

	var tournamentID int64

	require.NoError(t, db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("tournaments").
		Columns("name", "game", "mode", "date_start", "date_end").
		Values("Cup", "mkw", "150cc", now, now+3600), &tournamentID))

	return grantFixture{
		env:          env,
		exec:         command.NewExecutor(env, nil),
		db:           db,
		tournamentID: tournamentID,
	}
}

func TestGrantAuthorityHierarchy(t *testing.T) {
	t.Parallel()

	fixture := newGrantFixture(t)
	ctx := context.Background()

	superUser := testutil.CreateUser(t, fixture.db)
	userX := testutil.CreateUser(t, fixture.db)
	userY := testutil.CreateUser(t, fixture.db)

	// System grant gives the super user top authority at the tournament.
	_, errSeed := fixture.exec.Run(ctx, &role.GrantRoleCommand{
		UserID:    superUser,
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Super Administrator",
	})
	require.NoError(t, errSeed)

	// Position 0 grants position 1.
	_, errGrant := fixture.exec.Run(ctx, &role.GrantRoleCommand{
		ActorID:   superUser,
		UserID:    userX,
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Organizer",
	})
	require.NoError(t, errGrant)

	// Position 1 cannot grant another position 1.
	_, errPeer := fixture.exec.Run(ctx, &role.GrantRoleCommand{
		ActorID:   userX,
		UserID:    userY,
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Organizer",
	})
	require.Error(t, errPeer)

	prob, isProblem := problem.As(errPeer)
	require.True(t, isProblem)
	require.Equal(t, "Not authorized to grant role", prob.Title)

	// But a strictly lower role is fine.
	_, errLower := fixture.exec.Run(ctx, &role.GrantRoleCommand{
		ActorID:   userX,
		UserID:    userY,
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Host Banned",
	})
	require.NoError(t, errLower)
}

func TestDoubleGrantConflicts(t *testing.T) {
	t.Parallel()

	fixture := newGrantFixture(t)
	ctx := context.Background()

	userID := testutil.CreateUser(t, fixture.db)

	grant := func() error {
		_, errRun := fixture.exec.Run(ctx, &role.GrantRoleCommand{
			UserID:    userID,
			ScopeKind: auth.ScopeTournament,
			ScopeID:   fixture.tournamentID,
			RoleName:  "Organizer",
		})

		return errRun
	}

	require.NoError(t, grant())

	errDup := grant()
	require.Error(t, errDup)

	prob, isProblem := problem.As(errDup)
	require.True(t, isProblem)
	require.Equal(t, "Player already has role Organizer", prob.Title)

	// Remove then grant again succeeds.
	_, errRemove := fixture.exec.Run(ctx, &role.RemoveRoleCommand{
		UserID:    userID,
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Organizer",
	})
	require.NoError(t, errRemove)
	require.NoError(t, grant())
}

func TestGrantPastExpiryRejected(t *testing.T) {
	t.Parallel()

	fixture := newGrantFixture(t)
	past := time.Now().Add(-time.Hour).Unix()

	_, errRun := fixture.exec.Run(context.Background(), &role.GrantRoleCommand{
		UserID:    testutil.CreateUser(t, fixture.db),
		ScopeKind: auth.ScopeTournament,
		ScopeID:   fixture.tournamentID,
		RoleName:  "Organizer",
		ExpiresOn: &past,
	})
	require.Error(t, errRun)
}

func TestTeamLeaderCap(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	require.NoError(t, role.EnsureRole(ctx, db, auth.ScopeTeam, role.LeaderRoleName, 0))

	var teamID int64

	require.NoError(t, db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("teams").
		Columns("name", "tag", "creation_date").
		Values("Crew", "CRW", time.Now().Unix()), &teamID))

	for range role.TeamLeaderCap {
		_, errGrant := exec.Run(ctx, &role.GrantRoleCommand{
			UserID:    testutil.CreateUser(t, db),
			ScopeKind: auth.ScopeTeam,
			ScopeID:   teamID,
			RoleName:  role.LeaderRoleName,
		})
		require.NoError(t, errGrant)
	}

	_, errOver := exec.Run(ctx, &role.GrantRoleCommand{
		UserID:    testutil.CreateUser(t, db),
		ScopeKind: auth.ScopeTeam,
		ScopeID:   teamID,
		RoleName:  role.LeaderRoleName,
	})
	require.Error(t, errOver, "fifth leader must be rejected")
}
