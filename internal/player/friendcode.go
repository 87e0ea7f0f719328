package player

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
)

// fcPattern is enforced for every friend-code type except nnid, which is a
// free-form Nintendo Network username.
var fcPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}$`)

const typeNNID = "nnid"

// FriendCode mirrors a friend_codes row.
type FriendCode struct {
	ID           int64   `json:"id"`
	PlayerID     int64   `json:"player_id"`
	Game         string  `json:"game"`
	FC           string  `json:"fc"`
	Type         string  `json:"type"`
	IsVerified   bool    `json:"is_verified"`
	IsPrimary    bool    `json:"is_primary"`
	IsActive     bool    `json:"is_active"`
	Description  *string `json:"description,omitempty"`
	CreationDate int64   `json:"creation_date"`
}

// CreateFriendCodeCommand adds a friend code for a player. The first code for
// a game becomes primary automatically.
type CreateFriendCodeCommand struct {
	PlayerID    int64  `json:"player_id"`
	Game        string `json:"game"`
	FC          string `json:"fc"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type CreateFriendCodeResult struct {
	FriendCodeID int64 `json:"friend_code_id"`
	IsPrimary    bool  `json:"is_primary"`
}

func (c *CreateFriendCodeCommand) Name() string { return "create_friend_code" }

func (c *CreateFriendCodeCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.Type != typeNNID && !fcPattern.MatchString(c.FC) {
		return nil, problem.Validation("FC is in bad format")
	}

	if c.CreatedAt == 0 {
		c.CreatedAt = env.Now().Unix()
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	duplicates, errDuplicates := db.GetCount(ctx, db.Builder().
		Select("1").
		From("friend_codes").
		Where(sq.And{sq.Eq{"player_id": c.PlayerID}, sq.Eq{"game": c.Game}, sq.Eq{"fc": c.FC}}))
	if errDuplicates != nil {
		return nil, errDuplicates
	}

	if duplicates > 0 {
		return nil, problem.Conflict("You are already using this FC")
	}

	existing, errExisting := db.GetCount(ctx, db.Builder().
		Select("1").
		From("friend_codes").
		Where(sq.And{sq.Eq{"player_id": c.PlayerID}, sq.Eq{"game": c.Game}, sq.Eq{"is_active": true}}))
	if errExisting != nil {
		return nil, errExisting
	}

	isPrimary := existing == 0

	var description any
	if c.Description != "" {
		description = c.Description
	}

	var fcID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("friend_codes").
		Columns("player_id", "game", "fc", "type", "is_primary", "is_active", "description", "creation_date").
		Values(c.PlayerID, c.Game, c.FC, c.Type, isPrimary, true, description, c.CreatedAt), &fcID); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	return CreateFriendCodeResult{FriendCodeID: fcID, IsPrimary: isPrimary}, nil
}

// SetPrimaryFCCommand makes one friend code primary for its (player, game)
// pair, demoting every other code of that pair in the same transaction.
type SetPrimaryFCCommand struct {
	PlayerID     int64 `json:"player_id"`
	FriendCodeID int64 `json:"friend_code_id"`
}

func (c *SetPrimaryFCCommand) Name() string { return "set_primary_friend_code" }

func (c *SetPrimaryFCCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	target, errTarget := friendCodeByID(ctx, db, c.FriendCodeID)
	if errTarget != nil {
		return nil, errTarget
	}

	if target.PlayerID != c.PlayerID {
		return nil, problem.NotFound("FC not found")
	}

	if !target.IsActive {
		return nil, problem.Validation("Cannot set an inactive FC as primary")
	}

	if errTx := db.WrapTx(ctx, func(tx *sql.Tx) error {
		if _, errDemote := tx.ExecContext(ctx,
			"UPDATE friend_codes SET is_primary = 0 WHERE player_id = ? AND game = ?",
			target.PlayerID, target.Game); errDemote != nil {
			return database.DBErr(errDemote)
		}

		if _, errPromote := tx.ExecContext(ctx,
			"UPDATE friend_codes SET is_primary = 1 WHERE id = ?", target.ID); errPromote != nil {
			return database.DBErr(errPromote)
		}

		return nil
	}); errTx != nil {
		return nil, errTx
	}

	target.IsPrimary = true

	return target, nil
}

// EditFriendCodeCommand updates mutable friend-code fields. Deactivating a
// primary code clears its primary bit so an inactive code can never be
// primary.
type EditFriendCodeCommand struct {
	PlayerID     int64   `json:"player_id"`
	FriendCodeID int64   `json:"friend_code_id"`
	Description  *string `json:"description,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

func (c *EditFriendCodeCommand) Name() string { return "edit_friend_code" }

func (c *EditFriendCodeCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	target, errTarget := friendCodeByID(ctx, db, c.FriendCodeID)
	if errTarget != nil {
		return nil, errTarget
	}

	if target.PlayerID != c.PlayerID {
		return nil, problem.NotFound("FC not found")
	}

	update := db.Builder().Update("friend_codes").Where(sq.Eq{"id": target.ID})

	if c.Description != nil {
		update = update.Set("description", *c.Description)
	}

	if c.IsActive != nil {
		update = update.Set("is_active", *c.IsActive)

		if !*c.IsActive {
			update = update.Set("is_primary", false)
		}
	}

	if c.Description == nil && c.IsActive == nil {
		return target, nil
	}

	if errUpdate := db.ExecUpdateBuilder(ctx, update); errUpdate != nil {
		return nil, errUpdate
	}

	return friendCodeByID(ctx, db, target.ID)
}

// FriendCodesFor lists a player's codes, primaries first.
func FriendCodesFor(ctx context.Context, db database.Database, playerID int64) ([]FriendCode, error) {
	rows, errRows := db.QueryBuilder(ctx, db.Builder().
		Select("id", "player_id", "game", "fc", "type", "is_verified", "is_primary",
			"is_active", "description", "creation_date").
		From("friend_codes").
		Where(sq.Eq{"player_id": playerID}).
		OrderBy("is_primary DESC", "game", "id"))
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var codes []FriendCode

	for rows.Next() {
		var code FriendCode
		if errScan := rows.Scan(&code.ID, &code.PlayerID, &code.Game, &code.FC, &code.Type,
			&code.IsVerified, &code.IsPrimary, &code.IsActive, &code.Description, &code.CreationDate); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		codes = append(codes, code)
	}

	return codes, rows.Err()
}

func friendCodeByID(ctx context.Context, db database.Database, fcID int64) (FriendCode, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "player_id", "game", "fc", "type", "is_verified", "is_primary",
			"is_active", "description", "creation_date").
		From("friend_codes").
		Where(sq.Eq{"id": fcID}))
	if errRow != nil {
		return FriendCode{}, errRow
	}

	var code FriendCode
	if errScan := row.Scan(&code.ID, &code.PlayerID, &code.Game, &code.FC, &code.Type,
		&code.IsVerified, &code.IsPrimary, &code.IsActive, &code.Description, &code.CreationDate); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return FriendCode{}, problem.NotFound("FC not found")
		}

		return FriendCode{}, database.DBErr(errScan)
	}

	return code, nil
}
