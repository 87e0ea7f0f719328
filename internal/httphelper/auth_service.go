package httphelper

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/notification"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/player"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/pkg/log"
)

type fingerprintBody struct {
	Hash string          `json:"hash"`
	Data json.RawMessage `json:"data,omitempty"`
}

type credentialsRequest struct {
	Email       string          `json:"email"`
	Password    string          `json:"password"`
	Fingerprint fingerprintBody `json:"fingerprint"`
}

type sessionResponse struct {
	UserID             int64 `json:"user_id"`
	ForcePasswordReset bool  `json:"force_password_reset,omitempty"`
}

func registerAuthRoutes(engine *gin.Engine, deps Deps) {
	public := engine.Group("/api/user")
	public.POST("/signup", RateLimit(deps.Limiter, "signup"), onSignup(deps))
	public.POST("/login", RateLimit(deps.Limiter, "login"), onLogin(deps))
	public.POST("/email/confirm", RateLimit(deps.Limiter, "email"), onConfirmEmail(deps))
	public.POST("/password/request", RateLimit(deps.Limiter, "password"), onRequestPasswordReset(deps))
	public.POST("/password/complete", RateLimit(deps.Limiter, "password"), onCompletePasswordReset(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/signup", Summary: "Create an account and start a session", Request: credentialsRequest{}, Response: sessionResponse{}})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/login", Summary: "Authenticate and start a session", Request: credentialsRequest{}, Response: sessionResponse{}})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/email/confirm", Summary: "Confirm an email verification token", Request: tokenRequest{}})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/password/request", Summary: "Request a password reset token", Request: emailRequest{}})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/password/complete", Summary: "Complete a password reset", Request: passwordResetRequest{}})

	authed := engine.Group("/api/user")
	authed.Use(Authenticate(deps.Repo, false, false))
	authed.POST("/logout", onLogout(deps))
	authed.GET("/me", onMe(deps))
	authed.GET("/me/player", onMePlayer(deps))
	authed.GET("/me/invites", onMeInvites(deps))
	authed.GET("/me/notifications", onMeNotifications(deps))
	authed.POST("/me/notifications/read", onReadNotifications(deps))
	authed.POST("/me/tokens", onCreateAPIToken(deps))
	authed.DELETE("/me/tokens", onDeleteAPIToken(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/logout", Summary: "End the current session", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me", Summary: "Current account", Response: meResponse{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/player", Summary: "Current account's player profile", Response: mePlayerResponse{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/invites", Summary: "Pending roster and tournament invites", Response: invitesResponse{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/notifications", Summary: "Notifications, newest first", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/me/notifications/read", Summary: "Mark notifications read", Request: readNotificationsRequest{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/user/me/tokens", Summary: "Mint an API token", Request: tokenNameRequest{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodDelete, Path: "/api/user/me/tokens", Summary: "Delete an API token by name", Request: tokenNameRequest{}, RequireAuth: true})
}

// issueSession mints session cookies for an authenticated user. The
// persistentSession cookie is reused when the browser already carries one so
// logins from the same browser stay correlated.
func issueSession(ctx *gin.Context, deps Deps, userID int64, fingerprint fingerprintBody) error {
	prevPersistent, _ := ctx.Cookie(auth.PersistentSessionCookieName)

	result, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.CreateSessionCommand{
		UserID:                  userID,
		IPAddress:               ClientIP(ctx),
		PrevPersistentSessionID: prevPersistent,
		Fingerprint:             fingerprint.Hash,
	})
	if errRun != nil {
		return errRun
	}

	session, ok := result.(auth.SessionResult)
	if !ok {
		return problem.New(http.StatusInternalServerError, "Internal error")
	}

	maxAge := int(auth.SessionDuration.Seconds())
	ctx.SetCookie(auth.SessionCookieName, session.SessionID, maxAge, "/", "", false, true)

	if session.IsNewPersistent {
		ctx.SetCookie(auth.PersistentSessionCookieName, session.PersistentSessionID, maxAge, "/", "", false, true)
	}

	if fingerprint.Hash != "" && len(fingerprint.Data) > 0 {
		if errPut := deps.Store.PutObject(ctx.Request.Context(), objstore.BucketFingerprints,
			fingerprint.Hash+".json", fingerprint.Data, "private"); errPut != nil {
			slog.Warn("Failed to store fingerprint dump", log.ErrAttr(errPut))
		}
	}

	return nil
}

func onSignup(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req credentialsRequest
		if !Bind(ctx, &req) {
			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.SignupCommand{Email: req.Email, Password: req.Password})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		signup, ok := result.(auth.SignupResult)
		if !ok {
			HandleErr(ctx, problem.New(http.StatusInternalServerError, "Internal error"))

			return
		}

		if errSession := issueSession(ctx, deps, signup.UserID, req.Fingerprint); errSession != nil {
			HandleErr(ctx, errSession)

			return
		}

		ctx.JSON(http.StatusCreated, sessionResponse{UserID: signup.UserID})
	}
}

func onLogin(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req credentialsRequest
		if !Bind(ctx, &req) {
			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.LoginCommand{Email: req.Email, Password: req.Password})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		login, ok := result.(auth.LoginResult)
		if !ok {
			HandleErr(ctx, problem.New(http.StatusInternalServerError, "Internal error"))

			return
		}

		if errSession := issueSession(ctx, deps, login.UserID, req.Fingerprint); errSession != nil {
			HandleErr(ctx, errSession)

			return
		}

		ctx.JSON(http.StatusOK, sessionResponse{UserID: login.UserID, ForcePasswordReset: login.ForcePasswordReset})
	}
}

func onLogout(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sessionID, errCookie := ctx.Cookie(auth.SessionCookieName)
		if errCookie != nil || sessionID == "" {
			HandleErr(ctx, problem.NotLoggedIn())

			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.LogoutCommand{SessionID: sessionID}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.SetCookie(auth.SessionCookieName, "", -1, "/", "", false, true)
		ctx.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}

type meResponse struct {
	UserID   int64  `json:"user_id"`
	PlayerID *int64 `json:"player_id,omitempty"`
	JoinDate int64  `json:"join_date"`
	Email    string `json:"email"`
}

func onMe(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		resp := meResponse{UserID: user.ID, PlayerID: user.PlayerID}

		row := deps.Repo.DB().Handle().QueryRowContext(ctx.Request.Context(),
			`SELECT u.join_date, COALESCE(a.email, '') FROM users u
			 LEFT JOIN user_auth a ON a.user_id = u.id WHERE u.id = ?`, user.ID)
		if errScan := row.Scan(&resp.JoinDate, &resp.Email); errScan != nil {
			HandleErr(ctx, problem.NotFound("User not found"))

			return
		}

		ctx.JSON(http.StatusOK, resp)
	}
}

type mePlayerResponse struct {
	Player      player.Player       `json:"player"`
	FriendCodes []player.FriendCode `json:"friend_codes"`
}

func onMePlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)
		if user.PlayerID == nil {
			HandleErr(ctx, problem.NotFound("Player not found"))

			return
		}

		profile, errPlayer := player.ByID(ctx.Request.Context(), deps.Repo.DB(), *user.PlayerID)
		if errPlayer != nil {
			HandleErr(ctx, errPlayer)

			return
		}

		codes, errCodes := player.FriendCodesFor(ctx.Request.Context(), deps.Repo.DB(), profile.ID)
		if errCodes != nil {
			HandleErr(ctx, errCodes)

			return
		}

		ctx.JSON(http.StatusOK, mePlayerResponse{Player: profile, FriendCodes: codes})
	}
}

type rosterInvite struct {
	MemberID   int64 `json:"member_id"`
	RosterID   int64 `json:"roster_id"`
	TeamID     int64 `json:"team_id"`
	InviteDate int64 `json:"invite_date"`
}

type tournamentInvite struct {
	ID             int64 `json:"id"`
	TournamentID   int64 `json:"tournament_id"`
	RegistrationID int64 `json:"registration_id"`
}

type invitesResponse struct {
	Rosters     []rosterInvite     `json:"rosters"`
	Tournaments []tournamentInvite `json:"tournaments"`
}

func onMeInvites(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		resp := invitesResponse{Rosters: []rosterInvite{}, Tournaments: []tournamentInvite{}}

		if user.PlayerID == nil {
			ctx.JSON(http.StatusOK, resp)

			return
		}

		db := deps.Repo.DB().Handle()

		rosterRows, errRosters := db.QueryContext(ctx.Request.Context(),
			`SELECT m.id, m.roster_id, r.team_id, m.join_date FROM team_members m
			 JOIN team_rosters r ON r.id = m.roster_id
			 WHERE m.player_id = ? AND m.leave_date IS NULL`, *user.PlayerID)
		if errRosters != nil {
			HandleErr(ctx, errRosters)

			return
		}

		defer func() { _ = rosterRows.Close() }()

		for rosterRows.Next() {
			var invite rosterInvite
			if errScan := rosterRows.Scan(&invite.MemberID, &invite.RosterID, &invite.TeamID, &invite.InviteDate); errScan != nil {
				HandleErr(ctx, errScan)

				return
			}

			resp.Rosters = append(resp.Rosters, invite)
		}

		if errIter := rosterRows.Err(); errIter != nil {
			HandleErr(ctx, errIter)

			return
		}

		tourneyRows, errTourneys := db.QueryContext(ctx.Request.Context(),
			`SELECT id, tournament_id, registration_id FROM tournament_players
			 WHERE player_id = ? AND is_invite = 1`, *user.PlayerID)
		if errTourneys != nil {
			HandleErr(ctx, errTourneys)

			return
		}

		defer func() { _ = tourneyRows.Close() }()

		for tourneyRows.Next() {
			var invite tournamentInvite
			if errScan := tourneyRows.Scan(&invite.ID, &invite.TournamentID, &invite.RegistrationID); errScan != nil {
				HandleErr(ctx, errScan)

				return
			}

			resp.Tournaments = append(resp.Tournaments, invite)
		}

		if errIter := tourneyRows.Err(); errIter != nil {
			HandleErr(ctx, errIter)

			return
		}

		ctx.JSON(http.StatusOK, resp)
	}
}

func onMeNotifications(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)
		unreadOnly := ctx.Query("unread") == "true"

		items, errList := notification.For(ctx.Request.Context(), deps.Repo.DB(), user.ID, unreadOnly)
		if errList != nil {
			HandleErr(ctx, errList)

			return
		}

		ctx.JSON(http.StatusOK, items)
	}
}

type readNotificationsRequest struct {
	IDs []int64 `json:"ids"`
}

func onReadNotifications(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		var req readNotificationsRequest
		if !Bind(ctx, &req) {
			return
		}

		if errMark := notification.MarkRead(ctx.Request.Context(), deps.Repo.DB(), user.ID, req.IDs); errMark != nil {
			HandleErr(ctx, errMark)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"read": len(req.IDs)})
	}
}

type tokenRequest struct {
	TokenID string `json:"token_id"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordResetRequest struct {
	TokenID  string `json:"token_id"`
	Password string `json:"password"`
}

type tokenNameRequest struct {
	Name string `json:"name"`
}

func onConfirmEmail(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req tokenRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.ConfirmEmailCommand{TokenID: req.TokenID}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"confirmed": true})
	}
}

func onRequestPasswordReset(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req emailRequest
		if !Bind(ctx, &req) {
			return
		}

		// Always 200 so the endpoint does not reveal whether an email exists.
		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.RequestPasswordResetCommand{Email: req.Email}); errRun != nil {
			slog.Warn("Password reset request failed", log.ErrAttr(errRun))
		}

		ctx.JSON(http.StatusOK, gin.H{"requested": true})
	}
}

func onCompletePasswordReset(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req passwordResetRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(),
			&auth.CompletePasswordResetCommand{TokenID: req.TokenID, Password: req.Password}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"reset": true})
	}
}

func onCreateAPIToken(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		var req tokenNameRequest
		if !Bind(ctx, &req) {
			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.CreateAPITokenCommand{UserID: user.ID, Label: req.Name})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onDeleteAPIToken(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		var req tokenNameRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &auth.DeleteAPITokenCommand{UserID: user.ID, Label: req.Name}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
