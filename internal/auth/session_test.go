package auth_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/testutil"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestSessionIssuance(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	signedUp, errSignup := exec.Run(ctx, &auth.SignupCommand{Email: "e@x.test", Password: "hunter2hunter2"})
	require.NoError(t, errSignup)

	userID := signedUp.(auth.SignupResult).UserID

	created, errSession := exec.Run(ctx, &auth.CreateSessionCommand{
		UserID:      userID,
		IPAddress:   "198.51.100.7",
		Fingerprint: "fpX",
	})
	require.NoError(t, errSession)

	session := created.(auth.SessionResult)
	require.Regexp(t, hex32, session.SessionID)
	require.Regexp(t, hex32, session.PersistentSessionID)
	require.True(t, session.IsNewPersistent)

	activityDB := env.MustOpen(t, database.Activity, database.Options{})

	var (
		fingerprint   string
		hadPersistent bool
	)

	row := activityDB.Handle().QueryRowContext(ctx,
		"SELECT fingerprint, had_persistent_session FROM user_logins WHERE user_id = ?", userID)
	require.NoError(t, row.Scan(&fingerprint, &hadPersistent))
	require.Equal(t, "fpX", fingerprint)
	require.False(t, hadPersistent)

	// A returning browser presents its persistent cookie; the login row keeps
	// the same id instead of minting another.
	again, errAgain := exec.Run(ctx, &auth.CreateSessionCommand{
		UserID:                  userID,
		PrevPersistentSessionID: session.PersistentSessionID,
		Fingerprint:             "fpX",
	})
	require.NoError(t, errAgain)

	second := again.(auth.SessionResult)
	require.Equal(t, session.PersistentSessionID, second.PersistentSessionID)
	require.False(t, second.IsNewPersistent)
	require.NotEqual(t, session.SessionID, second.SessionID)
}

func TestLogoutClosesLogin(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	signedUp, errSignup := exec.Run(ctx, &auth.SignupCommand{Email: "out@x.test", Password: "hunter2hunter2"})
	require.NoError(t, errSignup)

	created, errSession := exec.Run(ctx, &auth.CreateSessionCommand{
		UserID:      signedUp.(auth.SignupResult).UserID,
		Fingerprint: "fp",
	})
	require.NoError(t, errSession)

	session := created.(auth.SessionResult)

	_, errLogout := exec.Run(ctx, &auth.LogoutCommand{SessionID: session.SessionID})
	require.NoError(t, errLogout)

	mainDB := env.MustOpen(t, database.Main, database.Options{})

	var count int64

	row := mainDB.Handle().QueryRowContext(ctx, "SELECT count(*) FROM sessions WHERE session_id = ?", session.SessionID)
	require.NoError(t, row.Scan(&count))
	require.Zero(t, count)

	activityDB := env.MustOpen(t, database.Activity, database.Options{})

	var logoutDate *int64

	row = activityDB.Handle().QueryRowContext(ctx,
		"SELECT logout_date FROM user_logins WHERE session_id = ?", session.SessionID)
	require.NoError(t, row.Scan(&logoutDate))
	require.NotNil(t, logoutDate)
}

func TestLoginBadPassword(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	exec := command.NewExecutor(env, nil)
	ctx := context.Background()

	_, errSignup := exec.Run(ctx, &auth.SignupCommand{Email: "pw@x.test", Password: "hunter2hunter2"})
	require.NoError(t, errSignup)

	_, errLogin := exec.Run(ctx, &auth.LoginCommand{Email: "pw@x.test", Password: "wrong-password"})
	require.Error(t, errLogin)

	good, errGood := exec.Run(ctx, &auth.LoginCommand{Email: "PW@X.TEST", Password: "hunter2hunter2"})
	require.NoError(t, errGood, "email comparison is case-insensitive")
	require.NotZero(t, good.(auth.LoginResult).UserID)
}
