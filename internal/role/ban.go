package role

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/notification"
	"github.com/mkcommunity/registry/internal/problem"
)

//nolint:gochecknoinits
func init() {
	command.Register("ban_player", true, func() command.Command { return &BanPlayerCommand{} })
	command.Register("unban_player", true, func() command.Command { return &UnbanPlayerCommand{} })
	command.Register("edit_ban", true, func() command.Command { return &EditBanCommand{} })
}

// BanPlayerCommand records a ban, flags the player, grants the BANNED global
// role for the ban duration and notifies the user. One active ban per player.
type BanPlayerCommand struct {
	PlayerID       int64  `json:"player_id"`
	BannedBy       int64  `json:"banned_by"`
	IsIndefinite   bool   `json:"is_indefinite"`
	ExpirationDate *int64 `json:"expiration_date,omitempty"`
	Reason         string `json:"reason"`
	Comment        string `json:"comment"`
	BanDate        int64  `json:"ban_date"`
}

func (c *BanPlayerCommand) Name() string { return "ban_player" }

func (c *BanPlayerCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.BanDate == 0 {
		c.BanDate = env.Now().Unix()
	}

	if !c.IsIndefinite && c.ExpirationDate == nil {
		return nil, problem.Validation("Ban requires an expiration date unless indefinite")
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	banned, errRole := lookupRole(ctx, mainDB, auth.ScopeGlobal, BannedRoleName)
	if errRole != nil {
		return nil, errRole
	}

	errTx := mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		if _, errInsert := tx.ExecContext(ctx,
			`INSERT INTO player_bans (player_id, banned_by, is_indefinite, ban_date, expiration_date, reason, comment)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.PlayerID, c.BannedBy, c.IsIndefinite, c.BanDate, c.ExpirationDate, c.Reason, c.Comment); errInsert != nil {
			if errors.Is(database.DBErr(errInsert), database.ErrDuplicate) {
				return problem.Conflict("Player is already banned")
			}

			return database.DBErr(errInsert)
		}

		if _, errFlag := tx.ExecContext(ctx,
			"UPDATE players SET is_banned = 1 WHERE id = ?", c.PlayerID); errFlag != nil {
			return database.DBErr(errFlag)
		}

		userID, errUser := userForPlayer(ctx, tx, c.PlayerID)
		if errUser != nil {
			return errUser
		}

		// Shadow players have no account to flag or notify.
		if userID == nil {
			return nil
		}

		if _, errGrant := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id, expires_on) VALUES (?, ?, ?)
			 ON CONFLICT (user_id, role_id) DO UPDATE SET expires_on = excluded.expires_on`,
			*userID, banned.ID, c.ExpirationDate); errGrant != nil {
			return database.DBErr(errGrant)
		}

		if _, errNotify := tx.ExecContext(ctx,
			"INSERT INTO notifications (user_id, type, content, created_date) VALUES (?, ?, ?, ?)",
			*userID, notification.TypeBanned, c.Reason, c.BanDate); errNotify != nil {
			return database.DBErr(errNotify)
		}

		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	return nil, nil //nolint:nilnil
}

// UnbanPlayerCommand moves the active ban to the historical table, clears the
// player flag, revokes the BANNED role and notifies. All in one transaction.
type UnbanPlayerCommand struct {
	PlayerID   int64 `json:"player_id"`
	UnbannedBy int64 `json:"unbanned_by"`
	At         int64 `json:"at"`
}

func (c *UnbanPlayerCommand) Name() string { return "unban_player" }

func (c *UnbanPlayerCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.At == 0 {
		c.At = env.Now().Unix()
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	banned, errRole := lookupRole(ctx, mainDB, auth.ScopeGlobal, BannedRoleName)
	if errRole != nil {
		return nil, errRole
	}

	errTx := mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT banned_by, is_indefinite, ban_date, expiration_date, reason, comment FROM player_bans WHERE player_id = ?",
			c.PlayerID)

		var (
			bannedBy     int64
			isIndefinite bool
			banDate      int64
			expiration   sql.NullInt64
			reason       string
			comment      string
		)

		if errScan := row.Scan(&bannedBy, &isIndefinite, &banDate, &expiration, &reason, &comment); errScan != nil {
			if errors.Is(errScan, sql.ErrNoRows) {
				return problem.NotFound("Player is not banned")
			}

			return database.DBErr(errScan)
		}

		if _, errHist := tx.ExecContext(ctx,
			`INSERT INTO player_bans_historical
			 (player_id, banned_by, is_indefinite, ban_date, expiration_date, reason, comment, unbanned_by, unban_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.PlayerID, bannedBy, isIndefinite, banDate, expiration, reason, comment, c.UnbannedBy, c.At); errHist != nil {
			return database.DBErr(errHist)
		}

		if _, errDelete := tx.ExecContext(ctx,
			"DELETE FROM player_bans WHERE player_id = ?", c.PlayerID); errDelete != nil {
			return database.DBErr(errDelete)
		}

		if _, errFlag := tx.ExecContext(ctx,
			"UPDATE players SET is_banned = 0 WHERE id = ?", c.PlayerID); errFlag != nil {
			return database.DBErr(errFlag)
		}

		userID, errUser := userForPlayer(ctx, tx, c.PlayerID)
		if errUser != nil {
			return errUser
		}

		if userID == nil {
			return nil
		}

		if _, errRevoke := tx.ExecContext(ctx,
			"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", *userID, banned.ID); errRevoke != nil {
			return database.DBErr(errRevoke)
		}

		if _, errNotify := tx.ExecContext(ctx,
			"INSERT INTO notifications (user_id, type, content, created_date) VALUES (?, ?, '', ?)",
			*userID, notification.TypeUnbanned, c.At); errNotify != nil {
			return database.DBErr(errNotify)
		}

		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	return nil, nil //nolint:nilnil
}

// EditBanCommand adjusts an active ban's fields and keeps the BANNED role
// expiry in step.
type EditBanCommand struct {
	PlayerID       int64  `json:"player_id"`
	IsIndefinite   bool   `json:"is_indefinite"`
	ExpirationDate *int64 `json:"expiration_date,omitempty"`
	Reason         string `json:"reason"`
	Comment        string `json:"comment"`
}

func (c *EditBanCommand) Name() string { return "edit_ban" }

func (c *EditBanCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	banned, errRole := lookupRole(ctx, mainDB, auth.ScopeGlobal, BannedRoleName)
	if errRole != nil {
		return nil, errRole
	}

	errTx := mainDB.WrapTx(ctx, func(tx *sql.Tx) error {
		result, errUpdate := tx.ExecContext(ctx,
			"UPDATE player_bans SET is_indefinite = ?, expiration_date = ?, reason = ?, comment = ? WHERE player_id = ?",
			c.IsIndefinite, c.ExpirationDate, c.Reason, c.Comment, c.PlayerID)
		if errUpdate != nil {
			return database.DBErr(errUpdate)
		}

		affected, errAffected := result.RowsAffected()
		if errAffected != nil {
			return errAffected //nolint:wrapcheck
		}

		if affected == 0 {
			return problem.NotFound("Player is not banned")
		}

		userID, errUser := userForPlayer(ctx, tx, c.PlayerID)
		if errUser != nil {
			return errUser
		}

		if userID == nil {
			return nil
		}

		if _, errSync := tx.ExecContext(ctx,
			"UPDATE user_roles SET expires_on = ? WHERE user_id = ? AND role_id = ?",
			c.ExpirationDate, *userID, banned.ID); errSync != nil {
			return database.DBErr(errSync)
		}

		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	return nil, nil //nolint:nilnil
}

func userForPlayer(ctx context.Context, tx *sql.Tx, playerID int64) (*int64, error) {
	row := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE player_id = ?", playerID)

	var userID int64
	if errScan := row.Scan(&userID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, database.DBErr(errScan)
	}

	return &userID, nil
}

// ActiveBanExpiration returns the expiration of a player's active ban, or
// false when not banned.
func ActiveBanExpiration(ctx context.Context, db database.Database, playerID int64) (*int64, bool, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("expiration_date").
		From("player_bans").
		Where(sq.Eq{"player_id": playerID}))
	if errRow != nil {
		return nil, false, database.DBErr(errRow)
	}

	var expiration sql.NullInt64
	if errScan := row.Scan(&expiration); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, database.DBErr(errScan)
	}

	if !expiration.Valid {
		return nil, true, nil
	}

	return &expiration.Int64, true, nil
}
