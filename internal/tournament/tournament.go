// Package tournament hosts tournaments and their registration lifecycle.
// Relational fields live in the primary database; the free-form ruleset body
// is a blob under tournaments/<id>.json.
package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/problem"
)

//nolint:gochecknoinits
func init() {
	command.Register("create_tournament", true, func() command.Command { return &CreateTournamentCommand{} })
	command.Register("edit_tournament", true, func() command.Command { return &EditTournamentCommand{} })
	command.Register("register_tournament_player", true, func() command.Command { return &RegisterPlayerCommand{} })
}

// Tournament mirrors a tournaments row plus the blob-held ruleset.
type Tournament struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Game                 string `json:"game"`
	Mode                 string `json:"mode"`
	SeriesID             *int64 `json:"series_id,omitempty"`
	IsSquad              bool   `json:"is_squad"`
	IsPublic             bool   `json:"is_public"`
	IsViewable           bool   `json:"is_viewable"`
	DateStart            int64  `json:"date_start"`
	DateEnd              int64  `json:"date_end"`
	RegistrationsOpen    bool   `json:"registrations_open"`
	RegistrationDeadline *int64 `json:"registration_deadline,omitempty"`
	BaggerClauseEnabled  bool   `json:"bagger_clause_enabled"`
	RequireSingleFC      bool   `json:"require_single_fc"`
	Ruleset              string `json:"ruleset,omitempty"`
}

type rulesetBlob struct {
	Ruleset string `json:"ruleset"`
}

func blobKey(tournamentID int64) string {
	return fmt.Sprintf("%d.json", tournamentID)
}

// CreateTournamentCommand inserts the tournament row and writes the ruleset
// blob.
type CreateTournamentCommand struct {
	TournamentName       string `json:"name"`
	Game                 string `json:"game"`
	Mode                 string `json:"mode"`
	SeriesID             *int64 `json:"series_id,omitempty"`
	IsSquad              bool   `json:"is_squad"`
	IsPublic             bool   `json:"is_public"`
	IsViewable           bool   `json:"is_viewable"`
	DateStart            int64  `json:"date_start"`
	DateEnd              int64  `json:"date_end"`
	RegistrationsOpen    bool   `json:"registrations_open"`
	RegistrationDeadline *int64 `json:"registration_deadline,omitempty"`
	BaggerClauseEnabled  bool   `json:"bagger_clause_enabled"`
	RequireSingleFC      bool   `json:"require_single_fc"`
	Ruleset              string `json:"ruleset"`
}

type CreateTournamentResult struct {
	TournamentID int64 `json:"tournament_id"`
}

func (c *CreateTournamentCommand) Name() string { return "create_tournament" }

func (c *CreateTournamentCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.TournamentName == "" || c.Game == "" || c.Mode == "" {
		return nil, problem.Validation("Tournament name, game and mode are required")
	}

	if c.DateEnd < c.DateStart {
		return nil, problem.Validation("Tournament cannot end before it starts")
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	if c.SeriesID != nil {
		if errSeries := seriesExists(ctx, db, *c.SeriesID); errSeries != nil {
			return nil, errSeries
		}
	}

	var tournamentID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("tournaments").
		Columns("name", "game", "mode", "series_id", "is_squad", "is_public", "is_viewable",
			"date_start", "date_end", "registrations_open", "registration_deadline",
			"bagger_clause_enabled", "require_single_fc").
		Values(c.TournamentName, c.Game, c.Mode, c.SeriesID, c.IsSquad, c.IsPublic, c.IsViewable,
			c.DateStart, c.DateEnd, c.RegistrationsOpen, c.RegistrationDeadline,
			c.BaggerClauseEnabled, c.RequireSingleFC), &tournamentID); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	if errBlob := putRuleset(ctx, env.ObjectStore(), tournamentID, c.Ruleset); errBlob != nil {
		return nil, errBlob
	}

	return CreateTournamentResult{TournamentID: tournamentID}, nil
}

// EditTournamentCommand rewrites every mutable field. Absent optional fields
// clear their columns, matching create semantics.
type EditTournamentCommand struct {
	TournamentID         int64  `json:"tournament_id"`
	TournamentName       string `json:"name"`
	SeriesID             *int64 `json:"series_id,omitempty"`
	IsPublic             bool   `json:"is_public"`
	IsViewable           bool   `json:"is_viewable"`
	DateStart            int64  `json:"date_start"`
	DateEnd              int64  `json:"date_end"`
	RegistrationsOpen    bool   `json:"registrations_open"`
	RegistrationDeadline *int64 `json:"registration_deadline,omitempty"`
	Ruleset              string `json:"ruleset"`
}

func (c *EditTournamentCommand) Name() string { return "edit_tournament" }

func (c *EditTournamentCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.TournamentName == "" {
		return nil, problem.Validation("Tournament name is required")
	}

	if c.DateEnd < c.DateStart {
		return nil, problem.Validation("Tournament cannot end before it starts")
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	if _, errFound := rowByID(ctx, db, c.TournamentID); errFound != nil {
		return nil, errFound
	}

	if c.SeriesID != nil {
		if errSeries := seriesExists(ctx, db, *c.SeriesID); errSeries != nil {
			return nil, errSeries
		}
	}

	if errUpdate := db.ExecUpdateBuilder(ctx, db.Builder().
		Update("tournaments").
		Set("name", c.TournamentName).
		Set("series_id", c.SeriesID).
		Set("is_public", c.IsPublic).
		Set("is_viewable", c.IsViewable).
		Set("date_start", c.DateStart).
		Set("date_end", c.DateEnd).
		Set("registrations_open", c.RegistrationsOpen).
		Set("registration_deadline", c.RegistrationDeadline).
		Where(sq.Eq{"id": c.TournamentID})); errUpdate != nil {
		return nil, errUpdate
	}

	if errBlob := putRuleset(ctx, env.ObjectStore(), c.TournamentID, c.Ruleset); errBlob != nil {
		return nil, errBlob
	}

	return Get(ctx, db, env.ObjectStore(), c.TournamentID)
}

// Get loads a tournament with its ruleset blob. A missing blob is tolerated;
// the ruleset is simply empty.
func Get(ctx context.Context, db database.Database, store objstore.Store, tournamentID int64) (Tournament, error) {
	found, errFound := rowByID(ctx, db, tournamentID)
	if errFound != nil {
		return Tournament{}, errFound
	}

	body, errBody := store.GetObject(ctx, objstore.BucketTournaments, blobKey(tournamentID))
	if errBody != nil {
		return Tournament{}, errBody
	}

	if body != nil {
		var blob rulesetBlob
		if errDecode := json.Unmarshal(body, &blob); errDecode == nil {
			found.Ruleset = blob.Ruleset
		}
	}

	return found, nil
}

// List returns viewable tournaments newest first. Staff callers pass
// includeHidden to see unlisted ones.
func List(ctx context.Context, db database.Database, includeHidden bool) ([]Tournament, error) {
	builder := db.Builder().
		Select("id", "name", "game", "mode", "series_id", "is_squad", "is_public", "is_viewable",
			"date_start", "date_end", "registrations_open", "registration_deadline",
			"bagger_clause_enabled", "require_single_fc").
		From("tournaments").
		OrderBy("date_start DESC")

	if !includeHidden {
		builder = builder.Where(sq.Eq{"is_viewable": true})
	}

	rows, errRows := db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var tournaments []Tournament

	for rows.Next() {
		var entry Tournament
		if errScan := scanTournament(rows.Scan, &entry); errScan != nil {
			return nil, errScan
		}

		tournaments = append(tournaments, entry)
	}

	return tournaments, rows.Err()
}

// RegisterPlayerCommand adds a player to a tournament registration. A player
// may only hold one non-invite slot per tournament unless the two slots
// differ in bagger clause.
type RegisterPlayerCommand struct {
	TournamentID   int64 `json:"tournament_id"`
	RegistrationID int64 `json:"registration_id"`
	PlayerID       int64 `json:"player_id"`
	IsInvite       bool  `json:"is_invite"`
	IsBaggerClause bool  `json:"is_bagger_clause"`
}

func (c *RegisterPlayerCommand) Name() string { return "register_tournament_player" }

func (c *RegisterPlayerCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	found, errFound := rowByID(ctx, db, c.TournamentID)
	if errFound != nil {
		return nil, errFound
	}

	if !found.RegistrationsOpen && !c.IsInvite {
		return nil, problem.Validation("Tournament registrations are closed")
	}

	if !c.IsInvite {
		existing, errExisting := db.GetCount(ctx, db.Builder().
			Select("1").
			From("tournament_players").
			Where(sq.And{
				sq.Eq{"tournament_id": c.TournamentID},
				sq.Eq{"player_id": c.PlayerID},
				sq.Eq{"is_invite": false},
				sq.Eq{"is_bagger_clause": c.IsBaggerClause},
			}))
		if errExisting != nil {
			return nil, errExisting
		}

		if existing > 0 {
			return nil, problem.Conflict("Player is already registered for this tournament")
		}
	}

	if errInsert := db.ExecInsertBuilder(ctx, db.Builder().
		Insert("tournament_players").
		Columns("player_id", "tournament_id", "registration_id", "is_invite", "is_bagger_clause").
		Values(c.PlayerID, c.TournamentID, c.RegistrationID, c.IsInvite, c.IsBaggerClause)); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	return nil, nil //nolint:nilnil
}

func putRuleset(ctx context.Context, store objstore.Store, tournamentID int64, ruleset string) error {
	body, errEncode := json.Marshal(rulesetBlob{Ruleset: ruleset})
	if errEncode != nil {
		return fmt.Errorf("failed to encode ruleset: %w", errEncode)
	}

	return store.PutObject(ctx, objstore.BucketTournaments, blobKey(tournamentID), body, "private")
}

func seriesExists(ctx context.Context, db database.Database, seriesID int64) error {
	count, errCount := db.GetCount(ctx, db.Builder().
		Select("1").
		From("series").
		Where(sq.Eq{"id": seriesID}))
	if errCount != nil {
		return errCount
	}

	if count == 0 {
		return problem.NotFound("Series not found")
	}

	return nil
}

func rowByID(ctx context.Context, db database.Database, tournamentID int64) (Tournament, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "name", "game", "mode", "series_id", "is_squad", "is_public", "is_viewable",
			"date_start", "date_end", "registrations_open", "registration_deadline",
			"bagger_clause_enabled", "require_single_fc").
		From("tournaments").
		Where(sq.Eq{"id": tournamentID}))
	if errRow != nil {
		return Tournament{}, errRow
	}

	var found Tournament
	if errScan := scanTournament(row.Scan, &found); errScan != nil {
		if errors.Is(errScan, database.ErrNoResult) {
			return Tournament{}, problem.NotFound("Tournament not found")
		}

		return Tournament{}, errScan
	}

	return found, nil
}

func scanTournament(scan func(...any) error, out *Tournament) error {
	if errScan := scan(&out.ID, &out.Name, &out.Game, &out.Mode, &out.SeriesID, &out.IsSquad,
		&out.IsPublic, &out.IsViewable, &out.DateStart, &out.DateEnd, &out.RegistrationsOpen,
		&out.RegistrationDeadline, &out.BaggerClauseEnabled, &out.RequireSingleFC); errScan != nil {
		return database.DBErr(errScan)
	}

	return nil
}
