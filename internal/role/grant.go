package role

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/notification"
	"github.com/mkcommunity/registry/internal/problem"
)

//nolint:gochecknoinits
func init() {
	command.Register("grant_role", true, func() command.Command { return &GrantRoleCommand{} })
	command.Register("remove_role", true, func() command.Command { return &RemoveRoleCommand{} })
}

// GrantRoleCommand grants a scoped role to a user. ActorID 0 means the system
// itself (ban lifecycle, seeding) and bypasses the authority check.
type GrantRoleCommand struct {
	ActorID   int64          `json:"actor_id"`
	UserID    int64          `json:"user_id"`
	ScopeKind auth.ScopeKind `json:"scope_kind"`
	ScopeID   int64          `json:"scope_id,omitempty"`
	RoleName  string         `json:"role_name"`
	ExpiresOn *int64         `json:"expires_on,omitempty"`
	GrantedAt int64          `json:"granted_at"`
}

func (c *GrantRoleCommand) Name() string { return "grant_role" }

func (c *GrantRoleCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.GrantedAt == 0 {
		c.GrantedAt = env.Now().Unix()
	}

	if c.ExpiresOn != nil && *c.ExpiresOn <= c.GrantedAt {
		return nil, problem.Validation("Role expiration cannot be in the past")
	}

	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	target, errRole := lookupRole(ctx, mainDB, c.ScopeKind, c.RoleName)
	if errRole != nil {
		if errors.Is(errRole, database.ErrNoResult) {
			return nil, problem.NotFound("Role not found")
		}

		return nil, errRole
	}

	if c.ActorID != 0 {
		if errAuthz := checkGrantAuthority(ctx, mainDB, c.ActorID, c.ScopeKind, c.ScopeID, target); errAuthz != nil {
			return nil, errAuthz
		}
	}

	if c.ScopeKind == auth.ScopeTeam && c.RoleName == LeaderRoleName {
		if errCap := checkLeaderCap(ctx, mainDB, c.ScopeID, target.ID); errCap != nil {
			return nil, errCap
		}
	}

	if errInsert := insertGrant(ctx, mainDB, c.UserID, c.ScopeKind, c.ScopeID, target, c.ExpiresOn); errInsert != nil {
		return nil, errInsert
	}

	// Grants made by people are announced; seeding and the ban lifecycle
	// stay silent.
	if c.ActorID != 0 {
		if errNotify := notification.Notify(ctx, mainDB, c.UserID,
			notification.TypeRoleGranted, c.RoleName); errNotify != nil {
			return nil, errNotify
		}
	}

	return nil, nil //nolint:nilnil
}

func checkGrantAuthority(ctx context.Context, db database.Database, actorID int64,
	kind auth.ScopeKind, scopeID int64, target Info,
) error {
	managePerm := ManagePermission(kind)

	// A global holder of the scope's manage permission can grant anywhere.
	global, errGlobal := auth.CheckUserHasPermission(ctx, db, actorID, managePerm, auth.GlobalScope(), false)
	if errGlobal != nil {
		return errGlobal
	}

	if global {
		return nil
	}

	if kind == auth.ScopeGlobal {
		return problem.InsufficientPermission()
	}

	scope := auth.Scope{Kind: kind, ID: scopeID}

	// Same-scope grant requires the manage permission there (series authority
	// covers tournaments via the scope chain) plus a strictly higher role.
	scoped, errScoped := auth.CheckUserHasPermission(ctx, db, actorID, managePerm, scope, false)
	if errScoped != nil {
		return errScoped
	}

	if !scoped {
		return problem.InsufficientPermission()
	}

	best, holds, errBest := bestPosition(ctx, db, actorID, scope)
	if errBest != nil {
		return errBest
	}

	if !holds || best >= target.Position {
		return problem.New(401, "Not authorized to grant role")
	}

	return nil
}

func checkLeaderCap(ctx context.Context, db database.Database, teamID int64, roleID int64) error {
	count, errCount := db.GetCount(ctx, db.Builder().
		Select("count(*)").
		From("user_team_roles").
		Where(sq.And{sq.Eq{"team_id": teamID}, sq.Eq{"role_id": roleID}}))
	if errCount != nil {
		return database.DBErr(errCount)
	}

	if count >= TeamLeaderCap {
		return problem.Validation(fmt.Sprintf("Team cannot have more than %d leaders", TeamLeaderCap))
	}

	return nil
}

func insertGrant(ctx context.Context, db database.Database, userID int64,
	kind auth.ScopeKind, scopeID int64, target Info, expiresOn *int64,
) error {
	tables := auth.TablesFor(kind)

	columns := []string{"user_id", "role_id", "expires_on"}
	values := []any{userID, target.ID, expiresOn}

	if tables.ScopeColumn != "" {
		columns = append(columns, tables.ScopeColumn)
		values = append(values, scopeID)
	}

	errInsert := database.DBErr(db.ExecInsertBuilder(ctx, db.Builder().
		Insert(tables.UserRoles).
		Columns(columns...).
		Values(values...)))
	if errInsert != nil {
		if errors.Is(errInsert, database.ErrDuplicate) {
			return problem.Conflict(fmt.Sprintf("Player already has role %s", target.RoleName))
		}

		return errInsert
	}

	return nil
}

// RemoveRoleCommand removes a scoped role grant, under the same authority
// rules as granting.
type RemoveRoleCommand struct {
	ActorID   int64          `json:"actor_id"`
	UserID    int64          `json:"user_id"`
	ScopeKind auth.ScopeKind `json:"scope_kind"`
	ScopeID   int64          `json:"scope_id,omitempty"`
	RoleName  string         `json:"role_name"`
}

func (c *RemoveRoleCommand) Name() string { return "remove_role" }

func (c *RemoveRoleCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	mainDB, errMain := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errMain
	}
	defer func() { _ = mainDB.Close() }()

	target, errRole := lookupRole(ctx, mainDB, c.ScopeKind, c.RoleName)
	if errRole != nil {
		if errors.Is(errRole, database.ErrNoResult) {
			return nil, problem.NotFound("Role not found")
		}

		return nil, errRole
	}

	if c.ActorID != 0 {
		if errAuthz := checkGrantAuthority(ctx, mainDB, c.ActorID, c.ScopeKind, c.ScopeID, target); errAuthz != nil {
			return nil, errAuthz
		}
	}

	tables := auth.TablesFor(c.ScopeKind)

	where := sq.And{sq.Eq{"user_id": c.UserID}, sq.Eq{"role_id": target.ID}}
	if tables.ScopeColumn != "" {
		where = append(where, sq.Eq{tables.ScopeColumn: c.ScopeID})
	}

	var existing int64

	row, errRow := mainDB.QueryRowBuilder(ctx, mainDB.Builder().
		Select("count(*)").
		From(tables.UserRoles).
		Where(where))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	if errScan := row.Scan(&existing); errScan != nil && !errors.Is(errScan, sql.ErrNoRows) {
		return nil, database.DBErr(errScan)
	}

	if existing == 0 {
		return nil, problem.NotFound("Player does not have this role")
	}

	if errDelete := mainDB.ExecDeleteBuilder(ctx, mainDB.Builder().
		Delete(tables.UserRoles).
		Where(where)); errDelete != nil {
		return nil, database.DBErr(errDelete)
	}

	return nil, nil //nolint:nilnil
}
