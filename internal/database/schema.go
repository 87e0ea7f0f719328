package database

import (
	"context"
	"errors"
)

var ErrSchema = errors.New("failed to apply schema")

// EnsureSchema applies the DDL for a logical database. Statements are all
// IF NOT EXISTS so the call is idempotent and safe on every writable open.
func EnsureSchema(ctx context.Context, db Database, name string) error {
	ddl, found := schemas[name]
	if !found {
		return ErrUnknownDB
	}

	if err := db.Exec(ctx, ddl); err != nil {
		return errors.Join(err, ErrSchema)
	}

	return nil
}

//nolint:gochecknoglobals
var schemas = map[string]string{
	Main:          schemaMain,
	ActivityQueue: schemaActivityQueue,
	Activity:      schemaActivity,
	AltFlags:      schemaAltFlags,
}

const schemaMain = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    join_date INTEGER NOT NULL,
    player_id INTEGER UNIQUE REFERENCES players(id)
);

CREATE TABLE IF NOT EXISTS user_auth (
    user_id INTEGER PRIMARY KEY REFERENCES users(id),
    email TEXT NOT NULL COLLATE NOCASE UNIQUE,
    password_hash TEXT,
    email_confirmed INTEGER NOT NULL DEFAULT 0,
    force_password_reset INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_tokens (
    token_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    name TEXT NOT NULL,
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    expires_on INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS email_verifications (
    token_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    expires_on INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS password_resets (
    token_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    expires_on INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_discords (
    user_id INTEGER PRIMARY KEY REFERENCES users(id),
    discord_id TEXT NOT NULL,
    username TEXT NOT NULL,
    discriminator TEXT NOT NULL,
    global_name TEXT,
    avatar TEXT,
    access_token TEXT NOT NULL,
    token_expires_on INTEGER NOT NULL,
    refresh_token TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS permissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS role_permissions (
    role_id INTEGER NOT NULL REFERENCES roles(id),
    permission_id INTEGER NOT NULL REFERENCES permissions(id),
    is_denied INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (role_id, permission_id)
);
CREATE TABLE IF NOT EXISTS user_roles (
    user_id INTEGER NOT NULL REFERENCES users(id),
    role_id INTEGER NOT NULL REFERENCES roles(id),
    expires_on INTEGER,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS team_roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS team_permissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS team_role_permissions (
    role_id INTEGER NOT NULL REFERENCES team_roles(id),
    permission_id INTEGER NOT NULL REFERENCES team_permissions(id),
    is_denied INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (role_id, permission_id)
);
CREATE TABLE IF NOT EXISTS user_team_roles (
    user_id INTEGER NOT NULL REFERENCES users(id),
    role_id INTEGER NOT NULL REFERENCES team_roles(id),
    team_id INTEGER NOT NULL REFERENCES teams(id),
    expires_on INTEGER,
    PRIMARY KEY (user_id, role_id, team_id)
);

CREATE TABLE IF NOT EXISTS series_roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS series_permissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS series_role_permissions (
    role_id INTEGER NOT NULL REFERENCES series_roles(id),
    permission_id INTEGER NOT NULL REFERENCES series_permissions(id),
    is_denied INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (role_id, permission_id)
);
CREATE TABLE IF NOT EXISTS user_series_roles (
    user_id INTEGER NOT NULL REFERENCES users(id),
    role_id INTEGER NOT NULL REFERENCES series_roles(id),
    series_id INTEGER NOT NULL REFERENCES series(id),
    expires_on INTEGER,
    PRIMARY KEY (user_id, role_id, series_id)
);

CREATE TABLE IF NOT EXISTS tournament_roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tournament_permissions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS tournament_role_permissions (
    role_id INTEGER NOT NULL REFERENCES tournament_roles(id),
    permission_id INTEGER NOT NULL REFERENCES tournament_permissions(id),
    is_denied INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (role_id, permission_id)
);
CREATE TABLE IF NOT EXISTS user_tournament_roles (
    user_id INTEGER NOT NULL REFERENCES users(id),
    role_id INTEGER NOT NULL REFERENCES tournament_roles(id),
    tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
    expires_on INTEGER,
    PRIMARY KEY (user_id, role_id, tournament_id)
);

CREATE TABLE IF NOT EXISTS players (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    country_code TEXT NOT NULL,
    is_hidden INTEGER NOT NULL DEFAULT 0,
    is_shadow INTEGER NOT NULL DEFAULT 0,
    is_banned INTEGER NOT NULL DEFAULT 0,
    join_date INTEGER NOT NULL,
    discord_id TEXT
);

CREATE TABLE IF NOT EXISTS friend_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id INTEGER NOT NULL REFERENCES players(id),
    game TEXT NOT NULL,
    fc TEXT NOT NULL,
    type TEXT NOT NULL,
    is_verified INTEGER NOT NULL DEFAULT 0,
    is_primary INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    description TEXT,
    creation_date INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS teams (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    tag TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    approval_status TEXT NOT NULL DEFAULT 'pending',
    is_historical INTEGER NOT NULL DEFAULT 0,
    creation_date INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS team_rosters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    team_id INTEGER NOT NULL REFERENCES teams(id),
    game TEXT NOT NULL,
    mode TEXT NOT NULL,
    name TEXT,
    tag TEXT,
    is_recruiting INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    approval_status TEXT NOT NULL DEFAULT 'pending'
);
CREATE TABLE IF NOT EXISTS team_members (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    roster_id INTEGER NOT NULL REFERENCES team_rosters(id),
    player_id INTEGER NOT NULL REFERENCES players(id),
    join_date INTEGER NOT NULL,
    leave_date INTEGER,
    is_bagger_clause INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS series (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    url TEXT,
    game TEXT NOT NULL,
    mode TEXT NOT NULL,
    is_historical INTEGER NOT NULL DEFAULT 0,
    is_public INTEGER NOT NULL DEFAULT 1,
    short_description TEXT NOT NULL DEFAULT '',
    logo TEXT
);
CREATE TABLE IF NOT EXISTS tournaments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    game TEXT NOT NULL,
    mode TEXT NOT NULL,
    series_id INTEGER REFERENCES series(id),
    is_squad INTEGER NOT NULL DEFAULT 0,
    is_public INTEGER NOT NULL DEFAULT 1,
    is_viewable INTEGER NOT NULL DEFAULT 1,
    date_start INTEGER NOT NULL,
    date_end INTEGER NOT NULL,
    registrations_open INTEGER NOT NULL DEFAULT 0,
    registration_deadline INTEGER,
    bagger_clause_enabled INTEGER NOT NULL DEFAULT 0,
    require_single_fc INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tournament_registrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
    name TEXT,
    tag TEXT,
    is_registered INTEGER NOT NULL DEFAULT 1,
    is_approved INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tournament_players (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id INTEGER NOT NULL REFERENCES players(id),
    tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
    registration_id INTEGER NOT NULL REFERENCES tournament_registrations(id),
    is_invite INTEGER NOT NULL DEFAULT 0 CHECK (is_invite IN (0, 1)),
    is_bagger_clause INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS player_bans (
    player_id INTEGER PRIMARY KEY REFERENCES players(id),
    banned_by INTEGER NOT NULL REFERENCES players(id),
    is_indefinite INTEGER NOT NULL DEFAULT 0,
    ban_date INTEGER NOT NULL,
    expiration_date INTEGER,
    reason TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS player_bans_historical (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id INTEGER NOT NULL REFERENCES players(id),
    banned_by INTEGER NOT NULL,
    is_indefinite INTEGER NOT NULL DEFAULT 0,
    ban_date INTEGER NOT NULL,
    expiration_date INTEGER,
    reason TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT '',
    unbanned_by INTEGER NOT NULL,
    unban_date INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    created_date INTEGER NOT NULL,
    is_read INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS command_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    data TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_state (
    job_name TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_on INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS word_filters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern TEXT NOT NULL,
    is_regex INTEGER NOT NULL DEFAULT 0,
    is_enabled INTEGER NOT NULL DEFAULT 1
);
`

const schemaActivityQueue = `
CREATE TABLE IF NOT EXISTS user_activity_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    ip_address TEXT NOT NULL,
    path TEXT NOT NULL,
    referer TEXT,
    timestamp INTEGER NOT NULL
);
`

const schemaActivity = `
CREATE TABLE IF NOT EXISTS ip_addresses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ip_address TEXT NOT NULL UNIQUE,
    is_mobile INTEGER NOT NULL DEFAULT 0,
    is_vpn INTEGER NOT NULL DEFAULT 0,
    country TEXT,
    region TEXT,
    city TEXT,
    asn INTEGER,
    is_checked INTEGER NOT NULL DEFAULT 0,
    checked_at INTEGER
);

CREATE TABLE IF NOT EXISTS user_ips (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    ip_address_id INTEGER NOT NULL REFERENCES ip_addresses(id),
    UNIQUE (user_id, ip_address_id)
);

CREATE TABLE IF NOT EXISTS user_ip_time_ranges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_ip_id INTEGER NOT NULL REFERENCES user_ips(id),
    date_earliest INTEGER NOT NULL,
    date_latest INTEGER NOT NULL,
    times INTEGER NOT NULL DEFAULT 1,
    granularity INTEGER NOT NULL DEFAULT 0 CHECK (granularity BETWEEN 0 AND 5)
);

CREATE TABLE IF NOT EXISTS user_logins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    ip_address_id INTEGER NOT NULL REFERENCES ip_addresses(id),
    session_id TEXT NOT NULL,
    persistent_session_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    had_persistent_session INTEGER NOT NULL DEFAULT 0,
    date INTEGER NOT NULL,
    logout_date INTEGER
);
`

const schemaAltFlags = `
CREATE TABLE IF NOT EXISTS alt_flags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    flag_key TEXT NOT NULL,
    data TEXT NOT NULL,
    score INTEGER NOT NULL,
    date INTEGER NOT NULL,
    login_id INTEGER,
    UNIQUE (type, flag_key)
);

CREATE TABLE IF NOT EXISTS user_alt_flags (
    user_id INTEGER NOT NULL,
    flag_id INTEGER NOT NULL REFERENCES alt_flags(id),
    PRIMARY KEY (user_id, flag_id)
);
`
