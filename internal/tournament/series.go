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
	command.Register("create_series", true, func() command.Command { return &CreateSeriesCommand{} })
}

// Series mirrors a series row plus its blob-held long-form fields.
type Series struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	URL              *string `json:"url,omitempty"`
	Game             string  `json:"game"`
	Mode             string  `json:"mode"`
	IsHistorical     bool    `json:"is_historical"`
	IsPublic         bool    `json:"is_public"`
	ShortDescription string  `json:"short_description"`
	Logo             *string `json:"logo,omitempty"`
	Description      string  `json:"description,omitempty"`
	Ruleset          string  `json:"ruleset,omitempty"`
}

type seriesBlob struct {
	Description string `json:"description"`
	Ruleset     string `json:"ruleset"`
}

// CreateSeriesCommand registers a tournament series.
type CreateSeriesCommand struct {
	SeriesName       string `json:"name"`
	URL              string `json:"url,omitempty"`
	Game             string `json:"game"`
	Mode             string `json:"mode"`
	IsPublic         bool   `json:"is_public"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Ruleset          string `json:"ruleset"`
}

type CreateSeriesResult struct {
	SeriesID int64 `json:"series_id"`
}

func (c *CreateSeriesCommand) Name() string { return "create_series" }

func (c *CreateSeriesCommand) Handle(ctx context.Context, env command.Env) (any, error) {
	if c.SeriesName == "" || c.Game == "" || c.Mode == "" {
		return nil, problem.Validation("Series name, game and mode are required")
	}

	db, errOpen := env.Open(ctx, database.Main, database.Options{ForeignKeys: true})
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = db.Close() }()

	var url any
	if c.URL != "" {
		url = c.URL
	}

	var seriesID int64

	if errInsert := db.ExecInsertBuilderWithReturnValue(ctx, db.Builder().
		Insert("series").
		Columns("name", "url", "game", "mode", "is_public", "short_description").
		Values(c.SeriesName, url, c.Game, c.Mode, c.IsPublic, c.ShortDescription), &seriesID); errInsert != nil {
		return nil, database.DBErr(errInsert)
	}

	body, errEncode := json.Marshal(seriesBlob{Description: c.Description, Ruleset: c.Ruleset})
	if errEncode != nil {
		return nil, fmt.Errorf("failed to encode series blob: %w", errEncode)
	}

	if errPut := env.ObjectStore().PutObject(ctx, objstore.BucketSeries,
		fmt.Sprintf("%d.json", seriesID), body, "private"); errPut != nil {
		return nil, errPut
	}

	return CreateSeriesResult{SeriesID: seriesID}, nil
}

// GetSeries loads a series with its blob fields. A missing blob leaves them
// empty.
func GetSeries(ctx context.Context, db database.Database, store objstore.Store, seriesID int64) (Series, error) {
	row, errRow := db.QueryRowBuilder(ctx, db.Builder().
		Select("id", "name", "url", "game", "mode", "is_historical", "is_public", "short_description", "logo").
		From("series").
		Where(sq.Eq{"id": seriesID}))
	if errRow != nil {
		return Series{}, errRow
	}

	var found Series
	if errScan := row.Scan(&found.ID, &found.Name, &found.URL, &found.Game, &found.Mode,
		&found.IsHistorical, &found.IsPublic, &found.ShortDescription, &found.Logo); errScan != nil {
		if errors.Is(database.DBErr(errScan), database.ErrNoResult) {
			return Series{}, problem.NotFound("Series not found")
		}

		return Series{}, database.DBErr(errScan)
	}

	body, errBody := store.GetObject(ctx, objstore.BucketSeries, fmt.Sprintf("%d.json", seriesID))
	if errBody != nil {
		return Series{}, errBody
	}

	if body != nil {
		var blob seriesBlob
		if errDecode := json.Unmarshal(body, &blob); errDecode == nil {
			found.Description = blob.Description
			found.Ruleset = blob.Ruleset
		}
	}

	return found, nil
}
