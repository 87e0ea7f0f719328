// Package team covers team records, their per-game rosters and roster
// membership.
package team

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/notification"
	"github.com/mkcommunity/registry/internal/problem"
)

// Approval states shared by teams and rosters.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

//nolint:gochecknoinits
func init() {
	command.Register("create_team", true, func() command.Command { return &CreateTeamCommand{} })
	command.Register("approve_team", true, func() command.Command { return &ApproveTeamCommand{} })
	command.Register("create_roster", true, func() command.Command { return &CreateRosterCommand{} })
	command.Register("invite_to_roster", true, func() command.Command { return &InviteToRosterCommand{} })
}

// Team mirrors a teams row.
type Team struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Tag            string `json:"tag"`
	Description    string `json:"description"`
	ApprovalStatus string `json:"approval_status"`
	IsHistorical   bool   `json:"is_historical"`
	CreationDate   int64  `json:"creation_date"`
}

// Roster mirrors a team_rosters row.
type Roster struct {
	ID             int64   `json:"id"`
	TeamID         int64   `json:"team_id"`
	Game           string  `json:"game"`
	Mode           string  `json:"mode"`
	Name           *string `json:"name,omitempty"`
	Tag            *string `json:"tag,omitempty"`
	IsRecruiting   bool    `json:"is_recruiting"`
	IsActive       bool    `json:"is_active"`
	ApprovalStatus string  `json:"approval_status"`
}

// ByID loads a team.
func ByID(ctx context.Context, db database.Database, teamID int64) (Team, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "name", "tag", "description", "approval_status", "is_historical", "creation_date").
		From("teams").
		Where(sq.Eq{"id": teamID}))
	if errRow != nil {
		return Team{}, errRow
	}

	var found Team
	if errScan := row.Scan(&found.ID, &found.Name, &found.Tag, &found.Description,
		&found.ApprovalStatus, &found.IsHistorical, &found.CreationDate); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return Team{}, problem.NotFound("Team not found")
		}

		return Team{}, database.DBErr(errScan)
	}

	return found, nil
}

// CreateTeamCommand registers a team awaiting moderator approval.
type CreateTeamCommand struct {
	TeamName    string `json:"name"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
}

type CreateTeamResult struct {
	TeamID int64 `json:"team_id"`
}

func (c *CreateTeamCommand) Name() string { return "create_team" }

func (c *CreateTeamCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.TeamName == "" || c.Tag == "" {
		return nil, problem.Validation("Team name and tag are required")
	}

	if c.CreatedAt == 0 {
		c.CreatedAt = env.Now().Unix()
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	var teamID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("teams").
		Columns("name", "tag", "description", "approval_status", "creation_date").
		Values(c.TeamName, c.Tag, c.Description, ApprovalPending, c.CreatedAt), &teamID); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	return CreateTeamResult{TeamID: teamID}, nil
}

// ApproveTeamCommand moves a pending team to approved or denied.
type ApproveTeamCommand struct {
	TeamID   int64  `json:"team_id"`
	Approved bool   `json:"approved"`
}

func (c *ApproveTeamCommand) Name() string { return "approve_team" }

func (c *ApproveTeamCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	if _, errFound := ByID(ctx, db, c.TeamID); errFound != nil {
		return nil, errFound
	}

	status := ApprovalDenied
	if c.Approved {
		status = ApprovalApproved
	}

	if errUpdate := db.ExecUpdateBuilder(ctx, db.Builder().
		Update("teams").
		Set("approval_status", status).
		Where(sq.Eq{"id": c.TeamID})); errUpdate != nil {
		return nil, errUpdate
	}

	return ByID(ctx, db, c.TeamID)
}

// CreateRosterCommand adds a per-game roster to a team.
type CreateRosterCommand struct {
	TeamID int64  `json:"team_id"`
	Game   string `json:"game"`
	Mode       string `json:"mode"`
	RosterName string `json:"name,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

type CreateRosterResult struct {
	RosterID int64 `json:"roster_id"`
}

func (c *CreateRosterCommand) Name() string { return "create_roster" }

func (c *CreateRosterCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.Game == "" || c.Mode == "" {
		return nil, problem.Validation("Roster game and mode are required")
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	if _, errFound := ByID(ctx, db, c.TeamID); errFound != nil {
		return nil, errFound
	}

	var (
		name any
		tag  any
	)

	if c.RosterName != "" {
		name = c.RosterName
	}

	if c.Tag != "" {
		tag = c.Tag
	}

	var rosterID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("team_rosters").
		Columns("team_id", "game", "mode", "name", "tag", "approval_status").
		Values(c.TeamID, c.Game, c.Mode, name, tag, ApprovalPending), &rosterID); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	return CreateRosterResult{RosterID: rosterID}, nil
}

// InviteToRosterCommand adds a player to a roster. Only approved rosters may
// recruit.
type InviteToRosterCommand struct {
	RosterID       int64 `json:"roster_id"`
	PlayerID       int64 `json:"player_id"`
	IsBaggerClause bool  `json:"is_bagger_clause"`
	InvitedAt      int64 `json:"invited_at"`
}

func (c *InviteToRosterCommand) Name() string { return "invite_to_roster" }

func (c *InviteToRosterCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.InvitedAt == 0 {
		c.InvitedAt = env.Now().Unix()
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	roster, errRoster := rosterByID(ctx, db, c.RosterID)
	if errRoster != nil {
		return nil, errRoster
	}

	if roster.ApprovalStatus != ApprovalApproved {
		return nil, problem.Validation("Cannot invite players to roster if not approved")
	}

	active, errActive := db.GetCount(ctx, db.Builder().
		Select("1").
		From("team_members").
		Where(sq.And{
			sq.Eq{"roster_id": c.RosterID},
			sq.Eq{"player_id": c.PlayerID},
			sq.Eq{"leave_date": nil},
		}))
	if errActive != nil {
		return nil, errActive
	}

	if active > 0 {
		return nil, problem.Conflict("Player is already on this roster")
	}

	if errInsert := db.ExecInsertBuilder(ctx, db.Builder().
		Insert("team_members").
		Columns("roster_id", "player_id", "join_date", "is_bagger_clause").
		Values(c.RosterID, c.PlayerID, c.InvitedAt, c.IsBaggerClause)); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	if errNotify := notifyInvite(ctx, db, c.PlayerID, roster.TeamID); errNotify != nil {
		return nil, errNotify
	}

	return nil, nil //nolint:nilnil
}

// notifyInvite tells the invited player's user about the roster invite.
// Shadow players have no account to notify.
func notifyInvite(ctx context.Context, db database.Database, playerID int64, teamID int64) error {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id").
		From("users").
		Where(sq.Eq{"player_id": playerID}))
	if errRow != nil {
		return errRow
	}

	var userID int64
	if errScan := row.Scan(&userID); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return nil
		}

		return database.DBErr(errScan)
	}

	invited, errTeam := ByID(ctx, db, teamID)
	if errTeam != nil {
		return errTeam
	}

	return notification.Notify(ctx, db, userID, notification.TypeRosterInvite, invited.Name)
}

func rosterByID(ctx context.Context, db database.Database, rosterID int64) (Roster, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "team_id", "game", "mode", "name", "tag", "is_recruiting", "is_active", "approval_status").
		From("team_rosters").
		Where(sq.Eq{"id": rosterID}))
	if errRow != nil {
		return Roster{}, errRow
	}

	var roster Roster
	if errScan := row.Scan(&roster.ID, &roster.TeamID, &roster.Game, &roster.Mode, &roster.Name,
		&roster.Tag, &roster.IsRecruiting, &roster.IsActive, &roster.ApprovalStatus); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return Roster{}, problem.NotFound("Roster not found")
		}

		return Roster{}, database.DBErr(errScan)
	}

	return roster, nil
}
