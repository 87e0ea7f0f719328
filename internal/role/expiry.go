package role

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/pkg/log"
)

// ExpiryJob removes role grants whose expiry has passed, across all four
// scopes. When a BANNED global grant lapses it verifies the ban row is gone
// and unbans the player if its own expiry passed independently.
type ExpiryJob struct {
	DB   database.Database
	Exec *command.Executor
}

func (j *ExpiryJob) Name() string         { return "role_expiry" }
func (j *ExpiryJob) Delay() time.Duration { return time.Minute }

func (j *ExpiryJob) Run(ctx context.Context) error {
	now := time.Now().Unix()

	if err := j.handleExpiredBans(ctx, now); err != nil {
		slog.Error("Failed to reconcile expired BANNED grants", log.ErrAttr(err))
	}

	for _, kind := range []auth.ScopeKind{auth.ScopeGlobal, auth.ScopeTeam, auth.ScopeSeries, auth.ScopeTournament} {
		tables := auth.TablesFor(kind)

		if errDelete := j.DB.ExecDeleteBuilder(ctx, j.DB.Builder().
			Delete(tables.UserRoles).
			Where(sq.LtOrEq{"expires_on": now})); errDelete != nil {
			slog.Error("Failed to delete expired role grants",
				slog.String("table", tables.UserRoles), log.ErrAttr(errDelete))
		}
	}

	return nil
}

// handleExpiredBans unbans players whose BANNED grant just lapsed but whose
// ban row is still present with a passed expiration.
func (j *ExpiryJob) handleExpiredBans(ctx context.Context, now int64) error {
	banned, errRole := lookupRole(ctx, j.DB, auth.ScopeGlobal, BannedRoleName)
	if errRole != nil {
		return errRole
	}

	rows, errQuery := j.DB.QueryBuilder(ctx, j.DB.Builder().
		Select("u.player_id").
		From("user_roles ur").
		Join("users u ON u.id = ur.user_id").
		Where(sq.And{
			sq.Eq{"ur.role_id": banned.ID},
			sq.LtOrEq{"ur.expires_on": now},
			sq.NotEq{"u.player_id": nil},
		}))
	if errQuery != nil {
		return database.DBErr(errQuery)
	}

	var playerIDs []int64

	for rows.Next() {
		var playerID int64
		if errScan := rows.Scan(&playerID); errScan != nil {
			_ = rows.Close()

			return database.DBErr(errScan)
		}

		playerIDs = append(playerIDs, playerID)
	}

	_ = rows.Close()

	if errRows := rows.Err(); errRows != nil {
		return database.DBErr(errRows)
	}

	for _, playerID := range playerIDs {
		expiration, isBanned, errBan := ActiveBanExpiration(ctx, j.DB, playerID)
		if errBan != nil {
			return errBan
		}

		if !isBanned || expiration == nil || *expiration > now {
			continue
		}

		if _, errUnban := j.Exec.Run(ctx, &UnbanPlayerCommand{PlayerID: playerID, At: now}); errUnban != nil {
			slog.Error("Failed to unban player with expired grant",
				slog.Int64("player_id", playerID), log.ErrAttr(errUnban))
		}
	}

	return nil
}

// UnbanExpiredJob unbans players whose ban expiration has passed.
type UnbanExpiredJob struct {
	DB   database.Database
	Exec *command.Executor
}

func (j *UnbanExpiredJob) Name() string         { return "unban_expired" }
func (j *UnbanExpiredJob) Delay() time.Duration { return time.Minute }

func (j *UnbanExpiredJob) Run(ctx context.Context) error {
	now := time.Now().Unix()

	rows, errQuery := j.DB.QueryBuilder(ctx, j.DB.Builder().
		Select("player_id").
		From("player_bans").
		Where(sq.And{sq.Eq{"is_indefinite": false}, sq.LtOrEq{"expiration_date": now}}))
	if errQuery != nil {
		return database.DBErr(errQuery)
	}

	var playerIDs []int64

	for rows.Next() {
		var playerID int64
		if errScan := rows.Scan(&playerID); errScan != nil {
			_ = rows.Close()

			return database.DBErr(errScan)
		}

		playerIDs = append(playerIDs, playerID)
	}

	_ = rows.Close()

	if errRows := rows.Err(); errRows != nil {
		return database.DBErr(errRows)
	}

	for _, playerID := range playerIDs {
		if _, errUnban := j.Exec.Run(ctx, &UnbanPlayerCommand{PlayerID: playerID, At: now}); errUnban != nil {
			slog.Error("Failed to unban expired ban", slog.Int64("player_id", playerID), log.ErrAttr(errUnban))
		}
	}

	return nil
}
