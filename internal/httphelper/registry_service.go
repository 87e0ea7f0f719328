package httphelper

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/player"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/role"
)

type createPlayerRequest struct {
	Name        string `json:"name"`
	CountryCode string `json:"country_code"`
	IsHidden    bool   `json:"is_hidden"`
}

type createFriendCodeRequest struct {
	Game        string `json:"game"`
	FC          string `json:"fc"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type banRequest struct {
	IsIndefinite   bool   `json:"is_indefinite"`
	ExpirationDate *int64 `json:"expiration_date,omitempty"`
	Reason         string `json:"reason"`
	Comment        string `json:"comment"`
}

type roleRequest struct {
	UserID    int64  `json:"user_id"`
	RoleName  string `json:"role_name"`
	ExpiresOn *int64 `json:"expires_on,omitempty"`
}

func registerRegistryRoutes(engine *gin.Engine, deps Deps) {
	authed := engine.Group("/api/registry")
	authed.Use(Authenticate(deps.Repo, false, false))
	authed.POST("/players/create", onCreatePlayer(deps))
	authed.POST("/players/:player_id/claim", onClaimPlayer(deps))
	authed.GET("/players/:player_id", onGetPlayer(deps))
	authed.POST("/friend_codes/create", onCreateFriendCode(deps))
	authed.POST("/friend_codes/:fc_id/primary", onSetPrimaryFC(deps))
	authed.POST("/friend_codes/:fc_id/edit", onEditFriendCode(deps))

	mod := engine.Group("/api/registry")
	mod.Use(Authenticate(deps.Repo, false, false))
	mod.Use(RequirePermission(deps.Repo, "player_ban", globalScope))
	mod.POST("/players/:player_id/ban", onBanPlayer(deps))
	mod.DELETE("/players/:player_id/ban", onUnbanPlayer(deps))
	mod.POST("/players/:player_id/editBan", onEditBan(deps))

	registerRoleRoutes(engine, deps)

	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/players/create", Summary: "Create and claim a player profile", Request: createPlayerRequest{}, Response: player.CreatePlayerResult{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/players/:player_id/claim", Summary: "Claim an unclaimed shadow player", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/registry/players/:player_id", Summary: "Player profile with friend codes", Response: mePlayerResponse{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/friend_codes/create", Summary: "Add a friend code", Request: createFriendCodeRequest{}, Response: player.CreateFriendCodeResult{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/friend_codes/:fc_id/primary", Summary: "Make a friend code primary for its game", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/friend_codes/:fc_id/edit", Summary: "Edit a friend code", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/players/:player_id/ban", Summary: "Ban a player", Request: banRequest{}, RequireAuth: true, Permission: "player_ban"})
	RegisterEndpoint(Endpoint{Method: http.MethodDelete, Path: "/api/registry/players/:player_id/ban", Summary: "Unban a player", RequireAuth: true, Permission: "player_ban"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/players/:player_id/editBan", Summary: "Edit an active ban", Request: banRequest{}, RequireAuth: true, Permission: "player_ban"})
}

func globalScope(_ *gin.Context) (auth.Scope, error) {
	return auth.GlobalScope(), nil
}

func scopeFromParam(kind auth.ScopeKind, key string) func(*gin.Context) (auth.Scope, error) {
	return func(ctx *gin.Context) (auth.Scope, error) {
		id, errParse := strconv.ParseInt(ctx.Param(key), 10, 64)
		if errParse != nil || id <= 0 {
			return auth.Scope{}, problem.New(http.StatusBadRequest, "No "+key+" specified")
		}

		return auth.Scope{Kind: kind, ID: id}, nil
	}
}

// currentPlayerID resolves the caller's linked player, or records a problem.
func currentPlayerID(ctx *gin.Context) (int64, bool) {
	user, _ := CurrentUser(ctx)
	if user == nil || user.PlayerID == nil {
		HandleErr(ctx, problem.NotFound("Player not found"))

		return 0, false
	}

	return *user.PlayerID, true
}

func onCreatePlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		var req createPlayerRequest
		if !Bind(ctx, &req) {
			return
		}

		if errScreen := deps.Filters.Screen(req.Name); errScreen != nil {
			HandleErr(ctx, errScreen)

			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &player.CreatePlayerCommand{
			UserID:      user.ID,
			PlayerName:  req.Name,
			CountryCode: req.CountryCode,
			IsHidden:    req.IsHidden,
		})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onClaimPlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		playerID, ok := IDParam(ctx, "player_id")
		if !ok {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &player.ClaimPlayerCommand{UserID: user.ID, PlayerID: playerID}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"claimed": true})
	}
}

func onGetPlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := IDParam(ctx, "player_id")
		if !ok {
			return
		}

		profile, errPlayer := player.ByID(ctx.Request.Context(), deps.Repo.DB(), playerID)
		if errPlayer != nil {
			HandleErr(ctx, errPlayer)

			return
		}

		codes, errCodes := player.FriendCodesFor(ctx.Request.Context(), deps.Repo.DB(), playerID)
		if errCodes != nil {
			HandleErr(ctx, errCodes)

			return
		}

		ctx.JSON(http.StatusOK, mePlayerResponse{Player: profile, FriendCodes: codes})
	}
}

func onCreateFriendCode(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		var req createFriendCodeRequest
		if !Bind(ctx, &req) {
			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &player.CreateFriendCodeCommand{
			PlayerID:    playerID,
			Game:        req.Game,
			FC:          req.FC,
			Type:        req.Type,
			Description: req.Description,
		})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onSetPrimaryFC(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		fcID, ok := IDParam(ctx, "fc_id")
		if !ok {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &player.SetPrimaryFCCommand{PlayerID: playerID, FriendCodeID: fcID}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"primary": fcID})
	}
}

type editFriendCodeRequest struct {
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func onEditFriendCode(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		fcID, ok := IDParam(ctx, "fc_id")
		if !ok {
			return
		}

		var req editFriendCodeRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &player.EditFriendCodeCommand{
			PlayerID:     playerID,
			FriendCodeID: fcID,
			Description:  req.Description,
			IsActive:     req.IsActive,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"edited": fcID})
	}
}

func onBanPlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actorPlayerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		playerID, ok := IDParam(ctx, "player_id")
		if !ok {
			return
		}

		var req banRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &role.BanPlayerCommand{
			PlayerID:       playerID,
			BannedBy:       actorPlayerID,
			IsIndefinite:   req.IsIndefinite,
			ExpirationDate: req.ExpirationDate,
			Reason:         req.Reason,
			Comment:        req.Comment,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"banned": playerID})
	}
}

func onUnbanPlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actorPlayerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		playerID, ok := IDParam(ctx, "player_id")
		if !ok {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &role.UnbanPlayerCommand{
			PlayerID:   playerID,
			UnbannedBy: actorPlayerID,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"unbanned": playerID})
	}
}

func onEditBan(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := IDParam(ctx, "player_id")
		if !ok {
			return
		}

		var req banRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &role.EditBanCommand{
			PlayerID:       playerID,
			IsIndefinite:   req.IsIndefinite,
			ExpirationDate: req.ExpirationDate,
			Reason:         req.Reason,
			Comment:        req.Comment,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"edited": playerID})
	}
}

// registerRoleRoutes wires the global grant endpoints plus one pair per scope
// level. The permission checked is the scope's manage permission, evaluated at
// the scope being granted into.
func registerRoleRoutes(engine *gin.Engine, deps Deps) {
	type scopeRoute struct {
		base  string
		kind  auth.ScopeKind
		scope func(*gin.Context) (auth.Scope, error)
	}

	routes := []scopeRoute{
		{base: "/api/roles", kind: auth.ScopeGlobal, scope: globalScope},
		{base: "/api/registry/teams/:team_id/roles", kind: auth.ScopeTeam, scope: scopeFromParam(auth.ScopeTeam, "team_id")},
		{base: "/api/tournaments/series/:series_id/roles", kind: auth.ScopeSeries, scope: scopeFromParam(auth.ScopeSeries, "series_id")},
		{base: "/api/tournaments/:tournament_id/roles", kind: auth.ScopeTournament, scope: scopeFromParam(auth.ScopeTournament, "tournament_id")},
	}

	for _, route := range routes {
		group := engine.Group(route.base)
		group.Use(Authenticate(deps.Repo, false, false))
		group.Use(RequirePermission(deps.Repo, role.ManagePermission(route.kind), route.scope))
		group.POST("/grant", onGrantRole(deps, route.kind, route.scope))
		group.POST("/remove", onRemoveRole(deps, route.kind, route.scope))

		RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: route.base + "/grant", Summary: "Grant a role at this scope", Request: roleRequest{}, RequireAuth: true, Permission: role.ManagePermission(route.kind)})
		RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: route.base + "/remove", Summary: "Remove a role at this scope", Request: roleRequest{}, RequireAuth: true, Permission: role.ManagePermission(route.kind)})
	}
}

func onGrantRole(deps Deps, kind auth.ScopeKind, scopeOf func(*gin.Context) (auth.Scope, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		scope, errScope := scopeOf(ctx)
		if errScope != nil {
			HandleErr(ctx, errScope)

			return
		}

		var req roleRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &role.GrantRoleCommand{
			ActorID:   user.ID,
			UserID:    req.UserID,
			ScopeKind: kind,
			ScopeID:   scope.ID,
			RoleName:  req.RoleName,
			ExpiresOn: req.ExpiresOn,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"granted": req.RoleName})
	}
}

func onRemoveRole(deps Deps, kind auth.ScopeKind, scopeOf func(*gin.Context) (auth.Scope, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		scope, errScope := scopeOf(ctx)
		if errScope != nil {
			HandleErr(ctx, errScope)

			return
		}

		var req roleRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &role.RemoveRoleCommand{
			ActorID:   user.ID,
			UserID:    req.UserID,
			ScopeKind: kind,
			ScopeID:   scope.ID,
			RoleName:  req.RoleName,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"removed": req.RoleName})
	}
}
