// Package auth is the authorization kernel: request-to-user resolution,
// scoped permission evaluation with explicit deny, and session plus API token
// issuance.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

const (
	SessionCookieName           = "session"
	PersistentSessionCookieName = "persistentSession"
	SessionDuration             = 365 * 24 * time.Hour
	TokenIDLength               = 16 // bytes; 32 hex chars
)

var ErrNotLoggedIn = errors.New("not logged in")

// User is the resolved caller identity.
type User struct {
	ID       int64
	PlayerID *int64
}

// Repository reads auth state from the primary database handle.
type Repository struct {
	db database.Database
}

func NewRepository(db database.Database) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() database.Database {
	return r.db
}

// UserBySession resolves a session cookie value. Expired sessions resolve to
// no user.
func (r *Repository) UserBySession(ctx context.Context, sessionID string) (*User, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select("u.id", "u.player_id").
		From("sessions s").
		Join("users u ON u.id = s.user_id").
		Where(sq.And{sq.Eq{"s.session_id": sessionID}, sq.Gt{"s.expires_on": time.Now().Unix()}}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	return scanUser(row)
}

// UserByAPIToken resolves a bearer token.
func (r *Repository) UserByAPIToken(ctx context.Context, tokenID string) (*User, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select("u.id", "u.player_id").
		From("api_tokens t").
		Join("users u ON u.id = t.user_id").
		Where(sq.Eq{"t.token_id": tokenID}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		user     User
		playerID sql.NullInt64
	)

	if errScan := row.Scan(&user.ID, &playerID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, ErrNotLoggedIn
		}

		return nil, database.DBErr(errScan)
	}

	if playerID.Valid {
		user.PlayerID = &playerID.Int64
	}

	return &user, nil
}
