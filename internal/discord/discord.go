// Package discord links user accounts to Discord via OAuth and keeps the
// stored tokens fresh.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/oauth2"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
)

var ErrEmptyToken = errors.New("discord returned an empty token")

const (
	authURL   = "https://discord.com/oauth2/authorize"
	tokenURL  = "https://discord.com/api/oauth2/token"
	userMeURL = "https://discord.com/api/users/@me"
)

// Link is the stored association between a user and their Discord identity.
type Link struct {
	UserID         int64  `json:"user_id"`
	DiscordID      string `json:"discord_id"`
	Username       string `json:"username"`
	Discriminator  string `json:"discriminator"`
	GlobalName     string `json:"global_name"`
	Avatar         string `json:"avatar"`
	AccessToken    string `json:"-"`
	TokenExpiresOn int64  `json:"-"`
	RefreshToken   string `json:"-"`
	RelinkRequired bool   `json:"relink_required"`
}

type userDetail struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
}

// Linker drives the OAuth handshake and persistence.
type Linker struct {
	db   database.Database
	conf oauth2.Config
}

func NewLinker(db database.Database, clientID string, clientSecret string, callbackURL string) *Linker {
	return &Linker{
		db: db,
		conf: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
			RedirectURL:  callbackURL,
			Scopes:       []string{"identify"},
		},
	}
}

// AuthURL builds the authorize redirect for a link attempt. state must be an
// unguessable value tied to the user's session.
func (l *Linker) AuthURL(state string) string {
	return l.conf.AuthCodeURL(state)
}

// HandleCallback exchanges the authorization code, fetches the Discord user
// and stores the link. Failures surface as external-dependency problems so
// the HTTP layer can redirect with auth_failed set.
func (l *Linker) HandleCallback(ctx context.Context, userID int64, code string) (Link, error) {
	token, errExchange := l.conf.Exchange(ctx, code)
	if errExchange != nil {
		return Link{}, problem.External("Discord token exchange failed", errExchange)
	}

	if token.AccessToken == "" {
		return Link{}, problem.External("Discord token exchange failed", ErrEmptyToken)
	}

	detail, errDetail := l.fetchUser(ctx, token.AccessToken)
	if errDetail != nil {
		return Link{}, errDetail
	}

	link := Link{
		UserID:         userID,
		DiscordID:      detail.ID,
		Username:       detail.Username,
		Discriminator:  detail.Discriminator,
		GlobalName:     detail.GlobalName,
		Avatar:         detail.Avatar,
		AccessToken:    token.AccessToken,
		TokenExpiresOn: token.Expiry.Unix(),
		RefreshToken:   token.RefreshToken,
	}

	if errSave := l.save(ctx, link); errSave != nil {
		return Link{}, errSave
	}

	return link, nil
}

func (l *Linker) fetchUser(ctx context.Context, accessToken string) (userDetail, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, userMeURL, nil)
	if errReq != nil {
		return userDetail{}, fmt.Errorf("failed to create discord request: %w", errReq)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: time.Second * 15}

	resp, errResp := client.Do(req)
	if errResp != nil {
		return userDetail{}, problem.External("Discord user lookup failed", errResp)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return userDetail{}, problem.Newf(http.StatusInternalServerError,
			"Discord user lookup failed", "Discord returned status %d", resp.StatusCode)
	}

	var detail userDetail
	if errDecode := json.NewDecoder(resp.Body).Decode(&detail); errDecode != nil {
		return userDetail{}, problem.External("Failed to decode discord user", errDecode)
	}

	return detail, nil
}

func (l *Linker) save(ctx context.Context, link Link) error {
	const saveQuery = `
		INSERT INTO user_discords (user_id, discord_id, username, discriminator, global_name,
			avatar, access_token, token_expires_on, refresh_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET discord_id = excluded.discord_id, username = excluded.username,
			discriminator = excluded.discriminator, global_name = excluded.global_name,
			avatar = excluded.avatar, access_token = excluded.access_token,
			token_expires_on = excluded.token_expires_on, refresh_token = excluded.refresh_token`

	return database.DBErr(l.db.Exec(ctx, saveQuery,
		link.UserID, link.DiscordID, link.Username, link.Discriminator, link.GlobalName,
		link.Avatar, link.AccessToken, link.TokenExpiresOn, link.RefreshToken))
}

// LinkFor loads the stored link for a user. RelinkRequired is set when the
// stored token has expired and could not be refreshed, meaning the user must
// redo the OAuth handshake.
func (l *Linker) LinkFor(ctx context.Context, userID int64) (Link, error) {
	row, errRow := l.db.QueryRowBuilder(ctx, l.db.Builder().
		Select("user_id", "discord_id", "username", "discriminator",
			"COALESCE(global_name, '')", "COALESCE(avatar, '')",
			"access_token", "token_expires_on", "refresh_token").
		From("user_discords").
		Where(sq.Eq{"user_id": userID}))
	if errRow != nil {
		return Link{}, errRow
	}

	var link Link
	if errScan := row.Scan(&link.UserID, &link.DiscordID, &link.Username, &link.Discriminator,
		&link.GlobalName, &link.Avatar, &link.AccessToken, &link.TokenExpiresOn, &link.RefreshToken); errScan != nil {
		return Link{}, database.DBErr(errScan)
	}

	link.RelinkRequired = link.TokenExpiresOn <= time.Now().Unix()

	return link, nil
}

// Unlink removes the stored association.
func (l *Linker) Unlink(ctx context.Context, userID int64) error {
	return l.db.ExecDeleteBuilder(ctx, l.db.Builder().
		Delete("user_discords").
		Where(sq.Eq{"user_id": userID}))
}
