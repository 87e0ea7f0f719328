package discord

import (
	"context"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/oauth2"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/pkg/log"
)

// refreshWindow refreshes tokens this far ahead of their expiry.
const refreshWindow = time.Hour

// RefreshJob renews soon-to-expire Discord tokens. A link whose refresh fails
// is left in place; once its token expires LinkFor reports RelinkRequired and
// the user has to redo the handshake.
type RefreshJob struct {
	DB     database.Database
	Linker *Linker
}

func (j *RefreshJob) Name() string { return "discord_token_refresh" }

func (j *RefreshJob) Delay() time.Duration { return time.Minute * 5 }

func (j *RefreshJob) Run(ctx context.Context) error {
	stale, errStale := j.staleLinks(ctx)
	if errStale != nil {
		return errStale
	}

	for _, link := range stale {
		if errRefresh := j.refresh(ctx, link); errRefresh != nil {
			slog.Warn("Failed to refresh discord token",
				slog.Int64("user_id", link.UserID), log.ErrAttr(errRefresh))

			continue
		}

		slog.Debug("Refreshed discord token", slog.Int64("user_id", link.UserID))
	}

	return nil
}

func (j *RefreshJob) staleLinks(ctx context.Context) ([]Link, error) {
	deadline := time.Now().Add(refreshWindow).Unix()

	rows, errRows := j.DB.QueryBuilder(ctx, j.DB.Builder().
		Select("user_id", "discord_id", "username", "discriminator",
			"COALESCE(global_name, '')", "COALESCE(avatar, '')",
			"access_token", "token_expires_on", "refresh_token").
		From("user_discords").
		Where(sq.And{sq.LtOrEq{"token_expires_on": deadline}, sq.NotEq{"refresh_token": ""}}))
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var links []Link

	for rows.Next() {
		var link Link
		if errScan := rows.Scan(&link.UserID, &link.DiscordID, &link.Username, &link.Discriminator,
			&link.GlobalName, &link.Avatar, &link.AccessToken, &link.TokenExpiresOn, &link.RefreshToken); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		links = append(links, link)
	}

	return links, rows.Err()
}

func (j *RefreshJob) refresh(ctx context.Context, link Link) error {
	expired := &oauth2.Token{
		AccessToken:  link.AccessToken,
		RefreshToken: link.RefreshToken,
		Expiry:       time.Unix(link.TokenExpiresOn, 0),
	}

	token, errToken := j.Linker.conf.TokenSource(ctx, expired).Token()
	if errToken != nil {
		return errToken //nolint:wrapcheck
	}

	link.AccessToken = token.AccessToken
	link.TokenExpiresOn = token.Expiry.Unix()

	if token.RefreshToken != "" {
		link.RefreshToken = token.RefreshToken
	}

	return j.Linker.save(ctx, link)
}
