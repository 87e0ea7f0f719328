package role

import (
	"context"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/database"
)

// EnsurePermission inserts a permission name at a scope level if missing.
func EnsurePermission(ctx context.Context, db database.Database, kind auth.ScopeKind, name string) error {
	tables := auth.TablesFor(kind)

	if errExec := db.Exec(ctx,
		"INSERT INTO "+tables.Permissions+" (name) VALUES (?) ON CONFLICT (name) DO NOTHING", name); errExec != nil {
		return database.DBErr(errExec)
	}

	return nil
}

// EnsureRole upserts a role at a scope level, keeping the position current.
func EnsureRole(ctx context.Context, db database.Database, kind auth.ScopeKind, name string, position int64) error {
	tables := auth.TablesFor(kind)

	if errExec := db.Exec(ctx,
		"INSERT INTO "+tables.Roles+" (name, position) VALUES (?, ?) "+
			"ON CONFLICT (name) DO UPDATE SET position = excluded.position",
		name, position); errExec != nil {
		return database.DBErr(errExec)
	}

	return nil
}

// LinkPermission attaches a permission to a role at a scope level; denied
// links are the veto edges the evaluator honours.
func LinkPermission(ctx context.Context, db database.Database, kind auth.ScopeKind, roleName string, permName string, denied bool) error {
	tables := auth.TablesFor(kind)

	if errExec := db.Exec(ctx,
		"INSERT INTO "+tables.RolePerms+" (role_id, permission_id, is_denied) "+
			"SELECT r.id, p.id, ? FROM "+tables.Roles+" r, "+tables.Permissions+" p "+
			"WHERE r.name = ? AND p.name = ? "+
			"ON CONFLICT (role_id, permission_id) DO UPDATE SET is_denied = excluded.is_denied",
		denied, roleName, permName); errExec != nil {
		return database.DBErr(errExec)
	}

	return nil
}
