package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/pkg/log"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

//nolint:gochecknoinits
func init() {
	command.Register("confirm_email", false, func() command.Command { return &ConfirmEmailCommand{} })
	command.Register("request_password_reset", false, func() command.Command { return &RequestPasswordResetCommand{} })
	command.Register("complete_password_reset", false, func() command.Command { return &CompletePasswordResetCommand{} })
}

// ConfirmEmailCommand consumes an email verification token.
type ConfirmEmailCommand struct {
	TokenID string `json:"token_id"`
}

func (c *ConfirmEmailCommand) Name() string { return "confirm_email" }

func (c *ConfirmEmailCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("user_id").
		From("email_verifications").
		Where(sq.And{sq.Eq{"token_id": c.TokenID}, sq.Gt{"expires_on": env.Now().Unix()}}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var userID int64
	if errScan := row.Scan(&userID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, problem.NotFound("Verification token not found")
		}

		return nil, database.DBErr(errScan)
	}

	return userID, mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE user_auth SET email_confirmed = 1 WHERE user_id = ?", userID); err != nil {
			return database.DBErr(err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM email_verifications WHERE token_id = ?", c.TokenID); err != nil {
			return database.DBErr(err)
		}

		return nil
	})
}

// RequestPasswordResetCommand mints a reset token for an email. Always
// succeeds from the caller's view so that account existence is not leaked;
// the result is empty when the email is unknown.
type RequestPasswordResetCommand struct {
	Email string `json:"email"`
}

func (c *RequestPasswordResetCommand) Name() string { return "request_password_reset" }

func (c *RequestPasswordResetCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("user_id").
		From("user_auth").
		Where(sq.Eq{"email": stringutil.NormalizeEmail(c.Email)}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var userID int64
	if errScan := row.Scan(&userID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return "", nil
		}

		return nil, database.DBErr(errScan)
	}

	token := stringutil.SecureRandomHex(TokenIDLength)

	if errInsert := mainDB.ExecInsertBuilder(ctx, mainDB.Builder().
		Insert("password_resets").
		Columns("token_id", "user_id", "expires_on").
		Values(token, userID, env.Now().Unix()+3600)); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	return token, nil
}

// CompletePasswordResetCommand consumes a reset token and replaces the hash.
type CompletePasswordResetCommand struct {
	TokenID  string `json:"token_id"`
	Password string `json:"password"`
}

func (c *CompletePasswordResetCommand) Name() string { return "complete_password_reset" }

func (c *CompletePasswordResetCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if len(c.Password) < minPasswordLen {
		return nil, problem.Validation("Password too short")
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("user_id").
		From("password_resets").
		Where(sq.And{sq.Eq{"token_id": c.TokenID}, sq.Gt{"expires_on": env.Now().Unix()}}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var userID int64
	if errScan := row.Scan(&userID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, problem.NotFound("Reset token not found")
		}

		return nil, database.DBErr(errScan)
	}

	hash, errHash := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if errHash != nil {
		return nil, errHash //nolint:wrapcheck
	}

	return userID, mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE user_auth SET password_hash = ?, force_password_reset = 0 WHERE user_id = ?",
			string(hash), userID); err != nil {
			return database.DBErr(err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM password_resets WHERE token_id = ?", c.TokenID); err != nil {
			return database.DBErr(err)
		}

		return nil
	})
}

// TokenSweepJob prunes expired email verification and password reset tokens.
type TokenSweepJob struct {
	DB database.Database
}

func (j *TokenSweepJob) Name() string        { return "expired_tokens" }
func (j *TokenSweepJob) Delay() time.Duration { return 5 * time.Minute }

func (j *TokenSweepJob) Run(ctx context.Context) error {
	now := time.Now().Unix()

	for _, table := range []string{"email_verifications", "password_resets"} {
		if errDelete := j.DB.ExecDeleteBuilder(ctx, j.DB.Builder().
			Delete(table).
			Where(sq.LtOrEq{"expires_on": now})); errDelete != nil {
			slog.Error("Failed to sweep expired tokens", slog.String("table", table), log.ErrAttr(errDelete))
		}
	}

	return nil
}
