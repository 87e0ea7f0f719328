package tournament_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/testutil"
	"github.com/mkcommunity/registry/internal/tournament"
)

func TestCreateTournamentWithRuleset(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	now := time.Now().Unix()

	created, errCreate := exec.Run(ctx, &tournament.CreateTournamentCommand{
		TournamentName:       "Autumn Cup",
		Game:       "mk8dx",
		Mode:       "150cc",
		IsPublic:   true,
		IsViewable: true,
		DateStart:  now + 3600,
		DateEnd:    now + 7200,
		Ruleset:    "No items in finals.",
	})
	require.NoError(t, errCreate)

	tournamentID := created.(tournament.CreateTournamentResult).TournamentID

	loaded, errLoad := tournament.Get(ctx, db, env.Objects, tournamentID)
	require.NoError(t, errLoad)
	require.Equal(t, "Autumn Cup", loaded.Name)
	require.Equal(t, "No items in finals.", loaded.Ruleset)
}

func TestCreateTournamentValidation(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	now := time.Now().Unix()

	_, errDates := exec.Run(ctx, &tournament.CreateTournamentCommand{
		TournamentName:      "Backwards Cup",
		Game:      "mkw",
		Mode:      "150cc",
		DateStart: now + 7200,
		DateEnd:   now + 3600,
	})
	require.Error(t, errDates)

	prob, isProblem := problem.As(errDates)
	require.True(t, isProblem)
	require.Equal(t, "Tournament cannot end before it starts", prob.Title)

	missing := int64(999)

	_, errSeries := exec.Run(ctx, &tournament.CreateTournamentCommand{
		TournamentName:      "Orphan Cup",
		Game:      "mkw",
		Mode:      "150cc",
		SeriesID:  &missing,
		DateStart: now,
		DateEnd:   now + 3600,
	})
	require.Error(t, errSeries)
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	now := time.Now().Unix()
	playerID := testutil.CreatePlayer(t, db, "Birdo")

	created, errCreate := exec.Run(ctx, &tournament.CreateTournamentCommand{
		TournamentName:              "Open Cup",
		Game:              "mkw",
		Mode:              "150cc",
		DateStart:         now + 3600,
		DateEnd:           now + 7200,
		RegistrationsOpen: true,
	})
	require.NoError(t, errCreate)

	tournamentID := created.(tournament.CreateTournamentResult).TournamentID

	_, errRegister := exec.Run(ctx, &tournament.RegisterPlayerCommand{
		TournamentID: tournamentID,
		PlayerID:     playerID,
	})
	require.NoError(t, errRegister)

	_, errDup := exec.Run(ctx, &tournament.RegisterPlayerCommand{
		TournamentID: tournamentID,
		PlayerID:     playerID,
	})
	require.Error(t, errDup)

	prob, isProblem := problem.As(errDup)
	require.True(t, isProblem)
	require.Equal(t, "Player is already registered for this tournament", prob.Title)

	// Closed registrations refuse self-signup but still accept invites.
	require.NoError(t, db.Exec(ctx,
		"UPDATE tournaments SET registrations_open = 0 WHERE id = ?", tournamentID))

	other := testutil.CreatePlayer(t, db, "King Boo")

	_, errClosed := exec.Run(ctx, &tournament.RegisterPlayerCommand{
		TournamentID: tournamentID,
		PlayerID:     other,
	})
	require.Error(t, errClosed)

	_, errInvite := exec.Run(ctx, &tournament.RegisterPlayerCommand{
		TournamentID: tournamentID,
		PlayerID:     other,
		IsInvite:     true,
	})
	require.NoError(t, errInvite)
}

func TestCloseRegistrationsJob(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	now := time.Now().Unix()
	pastDeadline := now - 60
	futureDeadline := now + 3600

	makeTournament := func(name string, deadline *int64) int64 {
		t.Helper()

		created, errCreate := exec.Run(ctx, &tournament.CreateTournamentCommand{
			TournamentName:                 name,
			Game:                 "mkw",
			Mode:                 "150cc",
			DateStart:            now,
			DateEnd:              now + 7200,
			RegistrationsOpen:    true,
			RegistrationDeadline: deadline,
		})
		require.NoError(t, errCreate)

		return created.(tournament.CreateTournamentResult).TournamentID
	}

	dueID := makeTournament("Due Cup", &pastDeadline)
	laterID := makeTournament("Later Cup", &futureDeadline)
	openID := makeTournament("No Deadline Cup", nil)

	job := tournament.CloseRegistrationsJob{DB: db}
	require.NoError(t, job.Run(ctx))

	stillOpen := func(tournamentID int64) bool {
		t.Helper()

		count, errCount := db.GetCount(ctx, db.Builder().
			Select("1").
			From("tournaments").
			Where("id = ? AND registrations_open = 1", tournamentID))
		require.NoError(t, errCount)

		return count == 1
	}

	require.False(t, stillOpen(dueID))
	require.True(t, stillOpen(laterID))
	require.True(t, stillOpen(openID))
}

func TestSeriesRoundtrip(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	created, errCreate := exec.Run(ctx, &tournament.CreateSeriesCommand{
		SeriesName:              "Lounge",
		Game:             "mk8dx",
		Mode:             "150cc",
		ShortDescription: "Ranked matchmaking",
		Description:      "Long form description.",
		Ruleset:          "Standard lounge rules.",
	})
	require.NoError(t, errCreate)

	seriesID := created.(tournament.CreateSeriesResult).SeriesID

	loaded, errLoad := tournament.GetSeries(ctx, db, env.Objects, seriesID)
	require.NoError(t, errLoad)
	require.Equal(t, "Lounge", loaded.Name)
	require.Equal(t, "Long form description.", loaded.Description)
	require.Equal(t, "Standard lounge rules.", loaded.Ruleset)
}
