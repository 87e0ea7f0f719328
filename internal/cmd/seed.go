package cmd

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/role"
)

type seedRole struct {
	name     string
	position int64
	grants   []string
	denies   []string
}

// Scope-level seed data. Positions follow the hierarchy convention: lower
// means higher authority. Inserts are idempotent so seeding runs on every
// startup.
//
//nolint:gochecknoglobals
var (
	globalPermissions = []string{
		"registry_admin", "roles_manage", "player_ban", "team_approval",
		"team_roles_manage", "series_roles_manage", "tournament_roles_manage",
		"tournament_create", "tournament_edit", "tournament_register",
	}

	globalRoles = []seedRole{
		{name: "Super Administrator", position: 0, grants: globalPermissions},
		{name: "Administrator", position: 1, grants: []string{
			"roles_manage", "player_ban", "team_approval",
			"team_roles_manage", "series_roles_manage", "tournament_roles_manage",
			"tournament_create", "tournament_edit", "tournament_register",
		}},
		{name: "Moderator", position: 2, grants: []string{"player_ban", "team_approval"}},
		{name: "Supporter", position: 50, grants: []string{"tournament_register"}},
		{name: role.BannedRoleName, position: 99, denies: []string{"tournament_register"}},
	}

	teamPermissions = []string{"team_roles_manage", "team_roster_manage"}

	teamRoles = []seedRole{
		{name: role.LeaderRoleName, position: 0, grants: teamPermissions},
		{name: "Manager", position: 1, grants: []string{"team_roster_manage"}},
	}

	seriesPermissions = []string{
		"series_roles_manage", "tournament_roles_manage",
		"tournament_edit", "tournament_register",
	}

	seriesRoles = []seedRole{
		{name: "Administrator", position: 0, grants: seriesPermissions},
		{name: "Organizer", position: 1, grants: []string{"tournament_edit", "tournament_register"}},
		{name: "Banned", position: 99, denies: []string{"tournament_register"}},
	}

	tournamentPermissions = []string{
		"tournament_roles_manage", "tournament_edit", "tournament_register",
	}

	tournamentRoles = []seedRole{
		{name: "Administrator", position: 0, grants: tournamentPermissions},
		{name: "Organizer", position: 1, grants: []string{"tournament_edit", "tournament_register"}},
		{name: "Host", position: 2, grants: []string{"tournament_register"}},
		{name: "Host Banned", position: 99, denies: []string{"tournament_register"}},
	}
)

func seed(ctx context.Context, app *App) error {
	scopes := []struct {
		kind  auth.ScopeKind
		perms []string
		roles []seedRole
	}{
		{auth.ScopeGlobal, globalPermissions, globalRoles},
		{auth.ScopeTeam, teamPermissions, teamRoles},
		{auth.ScopeSeries, seriesPermissions, seriesRoles},
		{auth.ScopeTournament, tournamentPermissions, tournamentRoles},
	}

	for _, scope := range scopes {
		if errScope := seedScope(ctx, app.mainDB, scope.kind, scope.perms, scope.roles); errScope != nil {
			return errScope
		}
	}

	return seedAdmin(ctx, app)
}

func seedScope(ctx context.Context, db database.Database, kind auth.ScopeKind, perms []string, roles []seedRole) error {
	for _, perm := range perms {
		if errPerm := role.EnsurePermission(ctx, db, kind, perm); errPerm != nil {
			return errPerm
		}
	}

	for _, seeded := range roles {
		if errRole := role.EnsureRole(ctx, db, kind, seeded.name, seeded.position); errRole != nil {
			return errRole
		}

		for _, grant := range seeded.grants {
			if errLink := role.LinkPermission(ctx, db, kind, seeded.name, grant, false); errLink != nil {
				return errLink
			}
		}

		for _, deny := range seeded.denies {
			if errLink := role.LinkPermission(ctx, db, kind, seeded.name, deny, true); errLink != nil {
				return errLink
			}
		}
	}

	return nil
}

// seedAdmin creates the configured admin account on first run and makes sure
// it holds the top global role.
func seedAdmin(ctx context.Context, app *App) error {
	email := app.conf.Admin.Email
	if email == "" || app.conf.Admin.Password == "" {
		return nil
	}

	var userID int64

	row := app.mainDB.Handle().QueryRowContext(ctx,
		"SELECT user_id FROM user_auth WHERE email = ?", email)
	if errScan := row.Scan(&userID); errScan != nil {
		if !errors.Is(errScan, sql.ErrNoRows) {
			return database.DBErr(errScan)
		}

		result, errSignup := app.exec.Run(ctx, &auth.SignupCommand{Email: email, Password: app.conf.Admin.Password})
		if errSignup != nil {
			return errSignup
		}

		created, ok := result.(auth.SignupResult)
		if !ok {
			return ErrSetup
		}

		userID = created.UserID

		slog.Info("Created admin account", slog.String("email", email))
	}

	if _, errGrant := app.exec.Run(ctx, &role.GrantRoleCommand{
		UserID:    userID,
		ScopeKind: auth.ScopeGlobal,
		RoleName:  "Super Administrator",
	}); errGrant != nil {
		// Already holding the role on restart is the normal case.
		slog.Debug("Admin role grant skipped", slog.String("email", email))
	}

	return nil
}
