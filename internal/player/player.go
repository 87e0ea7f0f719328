// Package player manages player records and their friend codes. Players may
// exist without a user account ("shadow" players, created by staff for
// historical results) and be claimed later.
package player

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
)

//nolint:gochecknoinits
func init() {
	command.Register("create_player", true, func() command.Command { return &CreatePlayerCommand{} })
	command.Register("claim_player", true, func() command.Command { return &ClaimPlayerCommand{} })
	command.Register("create_friend_code", true, func() command.Command { return &CreateFriendCodeCommand{} })
	command.Register("set_primary_friend_code", true, func() command.Command { return &SetPrimaryFCCommand{} })
	command.Register("edit_friend_code", true, func() command.Command { return &EditFriendCodeCommand{} })
}

// Player mirrors a players row.
type Player struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	CountryCode string  `json:"country_code"`
	IsHidden    bool    `json:"is_hidden"`
	IsShadow    bool    `json:"is_shadow"`
	IsBanned    bool    `json:"is_banned"`
	JoinDate    int64   `json:"join_date"`
	DiscordID   *string `json:"discord_id,omitempty"`
}

// ByID loads a single player.
func ByID(ctx context.Context, db database.Database, playerID int64) (Player, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "name", "country_code", "is_hidden", "is_shadow", "is_banned", "join_date", "discord_id").
		From("players").
		Where(sq.Eq{"id": playerID}))
	if errRow != nil {
		return Player{}, errRow
	}

	var found Player
	if errScan := row.Scan(&found.ID, &found.Name, &found.CountryCode, &found.IsHidden,
		&found.IsShadow, &found.IsBanned, &found.JoinDate, &found.DiscordID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return Player{}, problem.NotFound("Player not found")
		}

		return Player{}, database.DBErr(errScan)
	}

	return found, nil
}

// CreatePlayerCommand registers a player. UserID 0 creates a shadow player
// with no owning account.
type CreatePlayerCommand struct {
	UserID      int64  `json:"user_id"`
	PlayerName  string `json:"name"`
	CountryCode string `json:"country_code"`
	IsHidden    bool   `json:"is_hidden"`
	CreatedAt   int64  `json:"created_at"`
}

type CreatePlayerResult struct {
	PlayerID int64 `json:"player_id"`
}

func (c *CreatePlayerCommand) Name() string { return "create_player" }

func (c *CreatePlayerCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.PlayerName == "" {
		return nil, problem.Validation("Player name is required")
	}

	if c.CountryCode == "" {
		return nil, problem.Validation("Country code is required")
	}

	if c.CreatedAt == 0 {
		c.CreatedAt = env.Now().Unix()
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	if c.UserID != 0 {
		existing, errExisting := userPlayerID(ctx, db, c.UserID)
		if errExisting != nil {
			return nil, errExisting
		}

		if existing != nil {
			return nil, problem.Conflict("User already has a player")
		}
	}

	var playerID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("players").
		Columns("name", "country_code", "is_hidden", "is_shadow", "join_date").
		Values(c.PlayerName, c.CountryCode, c.IsHidden, c.UserID == 0, c.CreatedAt), &playerID); errInsert != nil {
		if errors.Is(database.DBErr(errInsert), database.ErrDuplicate) {
			return nil, problem.Conflict("Player name is already taken")
		}

		return nil, database.DBErr(errInsert)
	}

	if c.UserID != 0 {
		if errLink := db.ExecUpdateBuilder(ctx, db.Builder().
			Update("users").
			Set("player_id", playerID).
			Where(sq.Eq{"id": c.UserID})); errLink != nil {
			return nil, database.DBErr(errLink)
		}
	}

	return CreatePlayerResult{PlayerID: playerID}, nil
}

// ClaimPlayerCommand attaches a shadow player to a user account.
type ClaimPlayerCommand struct {
	UserID   int64 `json:"user_id"`
	PlayerID int64 `json:"player_id"`
}

func (c *ClaimPlayerCommand) Name() string { return "claim_player" }

func (c *ClaimPlayerCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	existing, errExisting := userPlayerID(ctx, db, c.UserID)
	if errExisting != nil {
		return nil, errExisting
	}

	if existing != nil {
		return nil, problem.Conflict("User already has a player")
	}

	target, errTarget := ByID(ctx, db, c.PlayerID)
	if errTarget != nil {
		return nil, errTarget
	}

	if !target.IsShadow {
		return nil, problem.New(http.StatusConflict, "Player is not claimable")
	}

	if errTx := db.WrapTx(ctx, func(tx *sql.Tx) error {
		if _, errUpdate := tx.ExecContext(ctx,
			"UPDATE players SET is_shadow = 0 WHERE id = ?", c.PlayerID); errUpdate != nil {
			return database.DBErr(errUpdate)
		}

		if _, errLink := tx.ExecContext(ctx,
			"UPDATE users SET player_id = ? WHERE id = ?", c.PlayerID, c.UserID); errLink != nil {
			return database.DBErr(errLink)
		}

		return nil
	}); errTx != nil {
		return nil, errTx
	}

	return target, nil
}

// userPlayerID returns the player id linked to a user, nil when unlinked.
func userPlayerID(ctx context.Context, db database.Database, userID int64) (*int64, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("player_id").
		From("users").
		Where(sq.Eq{"id": userID}))
	if errRow != nil {
		return nil, errRow
	}

	var playerID *int64
	if errScan := row.Scan(&playerID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, problem.NotFound("User not found")
		}

		return nil, database.DBErr(errScan)
	}

	return playerID, nil
}
