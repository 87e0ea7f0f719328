package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

//nolint:gochecknoinits
func init() {
	command.Register("create_session", false, func() command.Command { return &CreateSessionCommand{} })
	command.Register("logout", false, func() command.Command { return &LogoutCommand{} })
}

// SessionResult is handed back to the HTTP layer to set cookies.
type SessionResult struct {
	SessionID           string `json:"session_id"`
	PersistentSessionID string `json:"persistent_session_id"`
	ExpiresOn           int64  `json:"expires_on"`
	IsNewPersistent     bool   `json:"is_new_persistent"`
}

// CreateSessionCommand mints a session for an already-authenticated user and
// records the login for alt detection. Timestamps are snapshotted into the
// arguments so the command replays deterministically.
type CreateSessionCommand struct {
	UserID                  int64  `json:"user_id"`
	IPAddress               string `json:"ip_address"`
	PrevPersistentSessionID string `json:"prev_persistent_session_id,omitempty"`
	Fingerprint             string `json:"fingerprint"`
	IssuedAt                int64  `json:"issued_at"`
}

func (c *CreateSessionCommand) Name() string { return "create_session" }

func (c *CreateSessionCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.IssuedAt == 0 {
		c.IssuedAt = env.Now().Unix()
	}

	if c.IPAddress == "" {
		c.IPAddress = "0.0.0.0"
	}

	sessionID := stringutil.SecureRandomHex(TokenIDLength)

	persistentID := c.PrevPersistentSessionID
	hadPersistent := persistentID != ""

	if !hadPersistent {
		persistentID = stringutil.SecureRandomHex(TokenIDLength)
	}

	expiresOn := c.IssuedAt + int64(SessionDuration.Seconds())

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	if errInsert := mainDB.ExecInsertBuilder(ctx, mainDB.Builder().
		Insert("sessions").
		Columns("session_id", "user_id", "expires_on").
		Values(sessionID, c.UserID, expiresOn)); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	activityDB, errActivity := env.Open(ctx, database.Activity, database.Options{ForeignKeys: true})
	if errActivity != nil {
		return nil, errActivity
	}
	defer func() { _ = activityDB.Close() }()

	ipID, errIP := activity.EnsureIPAddress(ctx, activityDB, c.IPAddress)
	if errIP != nil {
		return nil, errIP
	}

	if errLogin := activityDB.ExecInsertBuilder(ctx, activityDB.Builder().
		Insert("user_logins").
		Columns("user_id", "ip_address_id", "session_id", "persistent_session_id",
			"fingerprint", "had_persistent_session", "date").
		Values(c.UserID, ipID, sessionID, persistentID, c.Fingerprint, hadPersistent, c.IssuedAt)); errLogin != nil {
		return nil, database.DBErr(errLogin)
	}

	return SessionResult{
		SessionID:           sessionID,
		PersistentSessionID: persistentID,
		ExpiresOn:           expiresOn,
		IsNewPersistent:     !hadPersistent,
	}, nil
}

// LogoutCommand closes the login row and removes the session.
type LogoutCommand struct {
	SessionID string `json:"session_id"`
	At        int64  `json:"at"`
}

func (c *LogoutCommand) Name() string { return "logout" }

func (c *LogoutCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.At == 0 {
		c.At = env.Now().Unix()
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("session_id").
		From("sessions").
		Where(sq.Eq{"session_id": c.SessionID}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var found string
	if errScan := row.Scan(&found); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, problem.New(http.StatusUnauthorized, "Not logged in")
		}

		return nil, database.DBErr(errScan)
	}

	if errDelete := mainDB.ExecDeleteBuilder(ctx, mainDB.Builder().
		Delete("sessions").
		Where(sq.Eq{"session_id": c.SessionID})); errDelete != nil {
		return nil, database.DBErr(errDelete)
	}

	activityDB, errActivity := env.Open(ctx, database.Activity, database.Options{ForeignKeys: true})
	if errActivity != nil {
		return nil, errActivity
	}
	defer func() { _ = activityDB.Close() }()

	if errUpdate := activityDB.ExecUpdateBuilder(ctx, activityDB.Builder().
		Update("user_logins").
		Set("logout_date", c.At).
		Where(sq.And{sq.Eq{"session_id": c.SessionID}, sq.Eq{"logout_date": nil}})); errUpdate != nil {
		return nil, database.DBErr(errUpdate)
	}

	return nil, nil //nolint:nilnil
}
