package player_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/player"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/testutil"
)

func TestFriendCodeFormat(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	playerID := testutil.CreatePlayer(t, db, "Yoshi")

	_, errBad := exec.Run(ctx, &player.CreateFriendCodeCommand{
		PlayerID: playerID,
		Game:     "mkw",
		FC:       "12345678",
		Type:     "switch_fc",
	})
	require.Error(t, errBad)

	prob, isProblem := problem.As(errBad)
	require.True(t, isProblem)
	require.Equal(t, "FC is in bad format", prob.Title)

	// nnid codes are free-form usernames, exempt from the digit pattern.
	_, errNNID := exec.Run(ctx, &player.CreateFriendCodeCommand{
		PlayerID: playerID,
		Game:     "mkw",
		FC:       "cool-yoshi_99",
		Type:     "nnid",
	})
	require.NoError(t, errNNID)
}

func TestFriendCodePrimarySwitching(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	playerID := testutil.CreatePlayer(t, db, "Toad")

	create := func(code string) player.CreateFriendCodeResult {
		t.Helper()

		result, errRun := exec.Run(ctx, &player.CreateFriendCodeCommand{
			PlayerID: playerID,
			Game:     "mk8dx",
			FC:       code,
			Type:     "switch_fc",
		})
		require.NoError(t, errRun)

		return result.(player.CreateFriendCodeResult)
	}

	first := create("1111-2222-3333")
	require.True(t, first.IsPrimary, "first code for a game is primary")

	second := create("4444-5555-6666")
	require.False(t, second.IsPrimary)

	_, errSwitch := exec.Run(ctx, &player.SetPrimaryFCCommand{
		PlayerID:     playerID,
		FriendCodeID: second.FriendCodeID,
	})
	require.NoError(t, errSwitch)

	codes, errCodes := player.FriendCodesFor(ctx, db, playerID)
	require.NoError(t, errCodes)
	require.Len(t, codes, 2)

	for _, code := range codes {
		require.Equal(t, code.ID == second.FriendCodeID, code.IsPrimary)
	}
}

func TestFriendCodeDuplicateRejected(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	playerID := testutil.CreatePlayer(t, db, "Daisy")

	cmd := player.CreateFriendCodeCommand{
		PlayerID: playerID,
		Game:     "mkw",
		FC:       "9999-8888-7777",
		Type:     "switch_fc",
	}

	first := cmd
	_, errFirst := exec.Run(ctx, &first)
	require.NoError(t, errFirst)

	dup := cmd
	_, errDup := exec.Run(ctx, &dup)
	require.Error(t, errDup)

	prob, isProblem := problem.As(errDup)
	require.True(t, isProblem)
	require.Equal(t, "You are already using this FC", prob.Title)
}

func TestFriendCodeDeactivateClearsPrimary(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	db := env.MustOpen(t, database.Main, database.Options{ForeignKeys: true})
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	playerID := testutil.CreatePlayer(t, db, "Waluigi")

	created, errCreate := exec.Run(ctx, &player.CreateFriendCodeCommand{
		PlayerID: playerID,
		Game:     "mkw",
		FC:       "1234-5678-9012",
		Type:     "switch_fc",
	})
	require.NoError(t, errCreate)

	fcID := created.(player.CreateFriendCodeResult).FriendCodeID
	inactive := false

	edited, errEdit := exec.Run(ctx, &player.EditFriendCodeCommand{
		PlayerID:     playerID,
		FriendCodeID: fcID,
		IsActive:     &inactive,
	})
	require.NoError(t, errEdit)

	code := edited.(player.FriendCode)
	require.False(t, code.IsActive)
	require.False(t, code.IsPrimary, "an inactive code cannot stay primary")

	_, errPromote := exec.Run(ctx, &player.SetPrimaryFCCommand{
		PlayerID:     playerID,
		FriendCodeID: fcID,
	})
	require.Error(t, errPromote)

	// Editing someone else's code reads as not found.
	otherPlayer := testutil.CreatePlayer(t, db, "Wario")
	_, errForeign := exec.Run(ctx, &player.SetPrimaryFCCommand{
		PlayerID:     otherPlayer,
		FriendCodeID: fcID,
	})
	require.Error(t, errForeign)

	prob, isProblem := problem.As(errForeign)
	require.True(t, isProblem)
	require.Equal(t, "FC not found", prob.Title)
}
