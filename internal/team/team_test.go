package team_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/team"
	"github.com/mkcommunity/registry/internal/testutil"
)

func TestTeamApprovalFlow(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	created, errCreate := exec.Run(ctx, &team.CreateTeamCommand{
		TeamName: "Mushroom Kingdom",
		Tag:  "MK",
	})
	require.NoError(t, errCreate)

	teamID := created.(team.CreateTeamResult).TeamID

	loaded, errLoad := team.ByID(ctx, db, teamID)
	require.NoError(t, errLoad)
	require.Equal(t, team.ApprovalPending, loaded.ApprovalStatus)

	_, errApprove := exec.Run(ctx, &team.ApproveTeamCommand{TeamID: teamID, Approved: true})
	require.NoError(t, errApprove)

	loaded, errLoad = team.ByID(ctx, db, teamID)
	require.NoError(t, errLoad)
	require.Equal(t, team.ApprovalApproved, loaded.ApprovalStatus)
}

func TestCreateTeamValidation(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	exec := command.NewExecutor(env, nil)

	_, errCreate := exec.Run(context.Background(), &team.CreateTeamCommand{TeamName: "No Tag"})
	require.Error(t, errCreate)

	prob, isProblem := problem.As(errCreate)
	require.True(t, isProblem)
	require.Equal(t, 400, prob.Status)
}

func TestRosterInvites(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	playerID := testutil.CreatePlayer(t, db, "Rosalina")

	madeTeam, errTeam := exec.Run(ctx, &team.CreateTeamCommand{TeamName: "Star Cup", Tag: "SC"})
	require.NoError(t, errTeam)

	teamID := madeTeam.(team.CreateTeamResult).TeamID

	madeRoster, errRoster := exec.Run(ctx, &team.CreateRosterCommand{
		TeamID: teamID,
		Game:   "mk8dx",
		Mode:   "200cc",
	})
	require.NoError(t, errRoster)

	rosterID := madeRoster.(team.CreateRosterResult).RosterID

	// A pending roster cannot recruit.
	_, errEarly := exec.Run(ctx, &team.InviteToRosterCommand{RosterID: rosterID, PlayerID: playerID})
	require.Error(t, errEarly)

	require.NoError(t, db.Exec(ctx,
		"UPDATE team_rosters SET approval_status = ? WHERE id = ?", team.ApprovalApproved, rosterID))

	_, errInvite := exec.Run(ctx, &team.InviteToRosterCommand{RosterID: rosterID, PlayerID: playerID})
	require.NoError(t, errInvite)

	_, errDup := exec.Run(ctx, &team.InviteToRosterCommand{RosterID: rosterID, PlayerID: playerID})
	require.Error(t, errDup)

	prob, isProblem := problem.As(errDup)
	require.True(t, isProblem)
	require.Equal(t, "Player is already on this roster", prob.Title)

	// After leaving, the player can be invited back.
	require.NoError(t, db.Exec(ctx,
		"UPDATE team_members SET leave_date = join_date WHERE roster_id = ? AND player_id = ?",
		rosterID, playerID))

	_, errReturn := exec.Run(ctx, &team.InviteToRosterCommand{RosterID: rosterID, PlayerID: playerID})
	require.NoError(t, errReturn)
}
