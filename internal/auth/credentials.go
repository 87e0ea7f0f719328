package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

//nolint:gochecknoinits
func init() {
	command.Register("signup", false, func() command.Command { return &SignupCommand{} })
	command.Register("login", false, func() command.Command { return &LoginCommand{} })
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	minPasswordLen = 8
	legacyUserKey  = "users.json"
)

// SignupCommand creates the user and auth rows and mints an email
// verification token. The caller issues the session afterwards.
type SignupCommand struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	JoinedAt int64  `json:"joined_at"`
}

type SignupResult struct {
	UserID            int64  `json:"user_id"`
	VerificationToken string `json:"verification_token"`
}

func (c *SignupCommand) Name() string { return "signup" }

func (c *SignupCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	email := stringutil.NormalizeEmail(c.Email)
	if !emailPattern.MatchString(email) {
		return nil, problem.Validation("Invalid email address")
	}

	if len(c.Password) < minPasswordLen {
		return nil, problem.Validation("Password too short")
	}

	if c.JoinedAt == 0 {
		c.JoinedAt = env.Now().Unix()
	}

	hash, errHash := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if errHash != nil {
		return nil, errHash //nolint:wrapcheck
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	verification := stringutil.SecureRandomHex(TokenIDLength)
	result := SignupResult{VerificationToken: verification}

	errTx := mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		res, errUser := tx.ExecContext(ctx, "INSERT INTO users (join_date) VALUES (?)", c.JoinedAt)
		if errUser != nil {
			return database.DBErr(errUser)
		}

		userID, errID := res.LastInsertId()
		if errID != nil {
			return errID //nolint:wrapcheck
		}

		result.UserID = userID

		if _, errAuth := tx.ExecContext(ctx,
			"INSERT INTO user_auth (user_id, email, password_hash) VALUES (?, ?, ?)",
			userID, email, string(hash)); errAuth != nil {
			if errors.Is(database.DBErr(errAuth), database.ErrDuplicate) {
				return problem.Conflict("Email already in use")
			}

			return database.DBErr(errAuth)
		}

		// Verification tokens last a day.
		if _, errToken := tx.ExecContext(ctx,
			"INSERT INTO email_verifications (token_id, user_id, expires_on) VALUES (?, ?, ?)",
			verification, userID, c.JoinedAt+86400); errToken != nil {
			return database.DBErr(errToken)
		}

		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	return result, nil
}

// LoginCommand verifies credentials. When the email is unknown it falls back
// to the legacy user export under mkcv1/users.json and imports a matching
// account on the fly.
type LoginCommand struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	UserID             int64 `json:"user_id"`
	ForcePasswordReset bool  `json:"force_password_reset"`
}

func (c *LoginCommand) Name() string { return "login" }

func (c *LoginCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	email := stringutil.NormalizeEmail(c.Email)

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("user_id", "password_hash", "force_password_reset").
		From("user_auth").
		Where(sq.Eq{"email": email}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var (
		userID     int64
		hash       sql.NullString
		forceReset bool
	)

	errScan := row.Scan(&userID, &hash, &forceReset)

	switch {
	case errScan == nil:
		if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(c.Password)) != nil {
			return nil, problem.New(http.StatusUnauthorized, "Invalid login details")
		}

		return LoginResult{UserID: userID, ForcePasswordReset: forceReset}, nil
	case errors.Is(errScan, sql.ErrNoRows):
		return c.legacyLogin(ctx, env, mainDB, email)
	default:
		return nil, database.DBErr(errScan)
	}
}

type legacyUser struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	RegisterDate int64  `json:"register_date"`
}

func (c *LoginCommand) legacyLogin(ctx context.Context, env command.Env, mainDB database.Database, email string) (any, error) {
	body, errGet := env.ObjectStore().GetObject(ctx, objstore.BucketLegacy, legacyUserKey)
	if errGet != nil || body == nil {
		return nil, problem.New(http.StatusUnauthorized, "Invalid login details")
	}

	var imported []legacyUser
	if errDecode := json.Unmarshal(body, &imported); errDecode != nil {
		return nil, problem.External("Legacy user import unreadable", errDecode)
	}

	for _, legacy := range imported {
		if stringutil.NormalizeEmail(legacy.Email) != email {
			continue
		}

		if bcrypt.CompareHashAndPassword([]byte(legacy.PasswordHash), []byte(c.Password)) != nil {
			return nil, problem.New(http.StatusUnauthorized, "Invalid login details")
		}

		joined := legacy.RegisterDate
		if joined == 0 {
			joined = env.Now().Unix()
		}

		var userID int64

		errTx := mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
			res, errUser := tx.ExecContext(ctx, "INSERT INTO users (join_date) VALUES (?)", joined)
			if errUser != nil {
				return database.DBErr(errUser)
			}

			newID, errID := res.LastInsertId()
			if errID != nil {
				return errID //nolint:wrapcheck
			}

			userID = newID

			// Imported accounts keep the legacy hash and are forced through
			// a password reset on first login.
			if _, errAuth := tx.ExecContext(ctx,
				"INSERT INTO user_auth (user_id, email, password_hash, email_confirmed, force_password_reset) VALUES (?, ?, ?, 1, 1)",
				userID, email, legacy.PasswordHash); errAuth != nil {
				return database.DBErr(errAuth)
			}

			return nil
		})
		if errTx != nil {
			return nil, errTx
		}

		return LoginResult{UserID: userID, ForcePasswordReset: true}, nil
	}

	return nil, problem.New(http.StatusUnauthorized, "Invalid login details")
}
