// Package role implements scoped role grants with hierarchy constraints and
// the ban/unban lifecycle tied to the BANNED global role.
package role

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/database"
)

const (
	// BannedRoleName is the global role granted for the duration of a ban.
	BannedRoleName = "BANNED"
	// LeaderRoleName is capped per team.
	LeaderRoleName = "Leader"
	// TeamLeaderCap is the max Leader grants per team.
	TeamLeaderCap = 4
)

// ManagePermission names the permission that authorizes grants at a scope.
func ManagePermission(kind auth.ScopeKind) string {
	switch kind {
	case auth.ScopeTeam:
		return "team_roles_manage"
	case auth.ScopeSeries:
		return "series_roles_manage"
	case auth.ScopeTournament:
		return "tournament_roles_manage"
	case auth.ScopeGlobal:
		fallthrough
	default:
		return "roles_manage"
	}
}

// Info is one role row.
type Info struct {
	ID       int64
	RoleName string
	Position int64
}

// lookupRole fetches a role by name within a scope's role table.
func lookupRole(ctx context.Context, db database.Database, kind auth.ScopeKind, name string) (Info, error) {
	tables := auth.TablesFor(kind)

	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "name", "position").
		From(tables.Roles).
		Where(sq.Eq{"name": name}))
	if errRow != nil {
		return Info{}, database.DBErr(errRow)
	}

	var info Info
	if errScan := row.Scan(&info.ID, &info.RoleName, &info.Position); errScan != nil {
		return Info{}, database.DBErr(errScan)
	}

	return info, nil
}

// bestPosition returns the smallest (highest authority) role position the
// user holds at the given scope, or false when they hold none. For tournament
// scopes the tournament's series roles also count.
func bestPosition(ctx context.Context, db database.Database, userID int64, scope auth.Scope) (int64, bool, error) {
	positions, errSelf := scopePositions(ctx, db, userID, scope)
	if errSelf != nil {
		return 0, false, errSelf
	}

	if scope.Kind == auth.ScopeTournament {
		seriesID, errSeries := tournamentSeriesID(ctx, db, scope.ID)
		if errSeries != nil {
			return 0, false, errSeries
		}

		if seriesID != nil {
			seriesPositions, errPos := scopePositions(ctx, db, userID, auth.SeriesScope(*seriesID))
			if errPos != nil {
				return 0, false, errPos
			}

			positions = append(positions, seriesPositions...)
		}
	}

	if len(positions) == 0 {
		return 0, false, nil
	}

	best := positions[0]
	for _, pos := range positions[1:] {
		if pos < best {
			best = pos
		}
	}

	return best, true, nil
}

func scopePositions(ctx context.Context, db database.Database, userID int64, scope auth.Scope) ([]int64, error) {
	tables := auth.TablesFor(scope.Kind)

	where := sq.And{sq.Eq{"ur.user_id": userID}}
	if tables.ScopeColumn != "" {
		where = append(where, sq.Eq{"ur." + tables.ScopeColumn: scope.ID})
	}

	rows, errQuery := db.QueryBuilder(ctx, db.Builder().
		Select("r.position").
		From(tables.UserRoles+" ur").
		Join(tables.Roles+" r ON r.id = ur.role_id").
		Where(where))
	if errQuery != nil {
		return nil, database.DBErr(errQuery)
	}

	defer func() { _ = rows.Close() }()

	var positions []int64

	for rows.Next() {
		var position int64
		if errScan := rows.Scan(&position); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		positions = append(positions, position)
	}

	return positions, database.DBErr(rows.Err())
}

func tournamentSeriesID(ctx context.Context, db database.Database, tournamentID int64) (*int64, error) {
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
