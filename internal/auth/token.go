package auth

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

//nolint:gochecknoinits
func init() {
	command.Register("create_api_token", true, func() command.Command { return &CreateAPITokenCommand{} })
	command.Register("delete_api_token", true, func() command.Command { return &DeleteAPITokenCommand{} })
}

// CreateAPITokenCommand mints a named bearer token for a user. The token id is
// snapshotted into the arguments at creation so the journal replays the same
// token.
type CreateAPITokenCommand struct {
	UserID  int64  `json:"user_id"`
	TokenID string `json:"token_id,omitempty"`
	Label   string `json:"name"`
}

func (c *CreateAPITokenCommand) Name() string { return "create_api_token" }

func (c *CreateAPITokenCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.Label == "" {
		return nil, problem.Validation("Token name required")
	}

	if c.TokenID == "" {
		c.TokenID = stringutil.SecureRandomHex(TokenIDLength)
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	if errInsert := database.DBErr(mainDB.ExecInsertBuilder(ctx, mainDB.Builder().
		Insert("api_tokens").
		Columns("token_id", "user_id", "name").
		Values(c.TokenID, c.UserID, c.Label))); errInsert != nil {
		if errInsert == database.ErrDuplicate { //nolint:errorlint
			return nil, problem.Conflict("Token with this name already exists")
		}

		return nil, errInsert
	}

	return c.TokenID, nil
}

type DeleteAPITokenCommand struct {
	UserID int64  `json:"user_id"`
	Label  string `json:"name"`
}

func (c *DeleteAPITokenCommand) Name() string { return "delete_api_token" }

func (c *DeleteAPITokenCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	if errDelete := mainDB.ExecDeleteBuilder(ctx, mainDB.Builder().
		Delete("api_tokens").
		Where(sq.And{sq.Eq{"user_id": c.UserID}, sq.Eq{"name": c.Label}})); errDelete != nil {
		return nil, database.DBErr(errDelete)
	}

	return nil, nil //nolint:nilnil
}
