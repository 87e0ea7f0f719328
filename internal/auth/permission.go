package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
)

// ScopeKind selects one of the four parallel role/permission table sets.
type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopeTeam       ScopeKind = "team"
	ScopeSeries     ScopeKind = "series"
	ScopeTournament ScopeKind = "tournament"
)

// Scope identifies where a permission check applies. ID is ignored for the
// global scope.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

func TeamScope(teamID int64) Scope {
	return Scope{Kind: ScopeTeam, ID: teamID}
}

func SeriesScope(seriesID int64) Scope {
	return Scope{Kind: ScopeSeries, ID: seriesID}
}

func TournamentScope(tournamentID int64) Scope {
	return Scope{Kind: ScopeTournament, ID: tournamentID}
}

// ScopeTables names the four tables backing one scope level. Exported for the
// role lifecycle which shares the layout.
type ScopeTables struct {
	Roles       string
	Permissions string
	RolePerms   string
	UserRoles   string
	ScopeColumn string // empty for global
}

//nolint:gochecknoglobals
var scopeTables = map[ScopeKind]ScopeTables{
	ScopeGlobal: {
		Roles:       "roles",
		Permissions: "permissions",
		RolePerms:   "role_permissions",
		UserRoles:   "user_roles",
	},
	ScopeTeam: {
		Roles:       "team_roles",
		Permissions: "team_permissions",
		RolePerms:   "team_role_permissions",
		UserRoles:   "user_team_roles",
		ScopeColumn: "team_id",
	},
	ScopeSeries: {
		Roles:       "series_roles",
		Permissions: "series_permissions",
		RolePerms:   "series_role_permissions",
		UserRoles:   "user_series_roles",
		ScopeColumn: "series_id",
	},
	ScopeTournament: {
		Roles:       "tournament_roles",
		Permissions: "tournament_permissions",
		RolePerms:   "tournament_role_permissions",
		UserRoles:   "user_tournament_roles",
		ScopeColumn: "tournament_id",
	},
}

// TablesFor returns the table layout for a scope kind.
func TablesFor(kind ScopeKind) ScopeTables {
	return scopeTables[kind]
}

// CheckUserHasPermission evaluates a permission for a user against a scope
// chain, innermost scope first: tournament, then the tournament's series when
// it has one, then team, then global. At each level a non-denied grant wins
// immediately unless checkDeniedOnly is set, in which case scanning continues
// so an outer deny can still veto. Rows whose expiry has passed never count.
func CheckUserHasPermission(ctx context.Context, db database.Database, userID int64,
	permission string, scope Scope, checkDeniedOnly bool,
) (bool, error) {
	chain, errChain := scopeChain(ctx, db, scope)
	if errChain != nil {
		return false, errChain
	}

	var (
		deniedSeen bool
		granted    bool
	)

	now := time.Now().Unix()

	for _, level := range chain {
		rows, errRows := permissionRows(ctx, db, userID, permission, level, now)
		if errRows != nil {
			return false, errRows
		}

		if len(rows) == 0 {
			continue
		}

		anyGrant := false

		for _, isDenied := range rows {
			if !isDenied {
				anyGrant = true

				break
			}
		}

		if anyGrant {
			if !checkDeniedOnly {
				return true, nil
			}

			granted = true

			continue
		}

		// Rows exist but every one is an explicit deny at this level.
		deniedSeen = true
	}

	if checkDeniedOnly {
		return !deniedSeen, nil
	}

	return granted, nil
}

// scopeChain expands a scope into the ordered levels to inspect.
func scopeChain(ctx context.Context, db database.Database, scope Scope) ([]Scope, error) {
	switch scope.Kind {
	case ScopeTournament:
		chain := []Scope{scope}

		seriesID, errSeries := tournamentSeries(ctx, db, scope.ID)
		if errSeries != nil {
			return nil, errSeries
		}

		if seriesID != nil {
			chain = append(chain, SeriesScope(*seriesID))
		}

		return append(chain, GlobalScope()), nil
	case ScopeSeries, ScopeTeam:
		return []Scope{scope, GlobalScope()}, nil
	case ScopeGlobal:
		return []Scope{scope}, nil
	default:
		return nil, database.ErrUnknownDB
	}
}

func tournamentSeries(ctx context.Context, db database.Database, tournamentID int64) (*int64, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("series_id").
		From("tournaments").
		Where(sq.Eq{"id": tournamentID}))
	if errRow != nil {
		return nil, database.DBErr(errRow)
	}

	var seriesID sql.NullInt64
	if errScan := row.Scan(&seriesID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, database.DBErr(errScan)
	}

	if !seriesID.Valid {
		return nil, nil
	}

	return &seriesID.Int64, nil
}

func permissionRows(ctx context.Context, db database.Database, userID int64,
	permission string, scope Scope, now int64,
) ([]bool, error) {
	tables := scopeTables[scope.Kind]

	where := sq.And{
		sq.Eq{"ur.user_id": userID},
		sq.Eq{"p.name": permission},
		sq.Or{sq.Eq{"ur.expires_on": nil}, sq.Gt{"ur.expires_on": now}},
	}
	if tables.ScopeColumn != "" {
		where = append(where, sq.Eq{"ur." + tables.ScopeColumn: scope.ID})
	}

	rows, errQuery := db.QueryBuilder(ctx, db.Builder().
		Select("rp.is_denied").
		From(tables.UserRoles+" ur").
		Join(tables.RolePerms+" rp ON rp.role_id = ur.role_id").
		Join(tables.Permissions+" p ON p.id = rp.permission_id").
		Where(where))
	if errQuery != nil {
		return nil, database.DBErr(errQuery)
	}

	defer func() {
		_ = rows.Close()
	}()

	var denials []bool

	for rows.Next() {
		var isDenied bool
		if errScan := rows.Scan(&isDenied); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		denials = append(denials, isDenied)
	}

	return denials, database.DBErr(rows.Err())
}
