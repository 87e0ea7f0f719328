package httphelper

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/role"
	"github.com/mkcommunity/registry/internal/team"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

type createTeamRequest struct {
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
}

type approveTeamRequest struct {
	Approved bool `json:"approved"`
}

type createRosterRequest struct {
	Game string `json:"game"`
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

type rosterInviteRequest struct {
	PlayerID       int64 `json:"player_id"`
	IsBaggerClause bool  `json:"is_bagger_clause"`
}

func registerTeamRoutes(engine *gin.Engine, deps Deps) {
	authed := engine.Group("/api/registry/teams")
	authed.Use(Authenticate(deps.Repo, false, false))
	authed.POST("/create", onCreateTeam(deps))
	authed.GET("/:team_id", onGetTeam(deps))

	approver := engine.Group("/api/registry/teams")
	approver.Use(Authenticate(deps.Repo, false, false))
	approver.Use(RequirePermission(deps.Repo, "team_approval", globalScope))
	approver.POST("/:team_id/approve", onApproveTeam(deps))

	manager := engine.Group("/api/registry/teams/:team_id")
	manager.Use(Authenticate(deps.Repo, false, false))
	manager.Use(RequirePermission(deps.Repo, "team_roster_manage", scopeFromParam(auth.ScopeTeam, "team_id")))
	manager.POST("/rosters/create", onCreateRoster(deps))
	manager.POST("/rosters/:roster_id/invite", onInviteToRoster(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/teams/create", Summary: "Create a team, pending approval", Request: createTeamRequest{}, Response: team.CreateTeamResult{}, RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/registry/teams/:team_id", Summary: "Team detail", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/teams/:team_id/approve", Summary: "Approve or deny a pending team", Request: approveTeamRequest{}, RequireAuth: true, Permission: "team_approval"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/teams/:team_id/rosters/create", Summary: "Add a roster to a team", Request: createRosterRequest{}, Response: team.CreateRosterResult{}, RequireAuth: true, Permission: "team_roster_manage"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/registry/teams/:team_id/rosters/:roster_id/invite", Summary: "Invite a player to a roster", Request: rosterInviteRequest{}, RequireAuth: true, Permission: "team_roster_manage"})
}

func onCreateTeam(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		var req createTeamRequest
		if !Bind(ctx, &req) {
			return
		}

		if errScreen := deps.Filters.Screen(req.Name, req.Tag, req.Description); errScreen != nil {
			HandleErr(ctx, errScreen)

			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &team.CreateTeamCommand{
			TeamName:    req.Name,
			Tag:         req.Tag,
			Description: stringutil.SanitizeUGC(req.Description),
		})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		created, ok := result.(team.CreateTeamResult)
		if ok {
			// The creator manages their own team while it awaits approval.
			if _, errGrant := deps.Exec.Run(ctx.Request.Context(), &role.GrantRoleCommand{
				UserID:    user.ID,
				ScopeKind: auth.ScopeTeam,
				ScopeID:   created.TeamID,
				RoleName:  role.LeaderRoleName,
			}); errGrant != nil {
				HandleErr(ctx, errGrant)

				return
			}
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onGetTeam(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		teamID, ok := IDParam(ctx, "team_id")
		if !ok {
			return
		}

		found, errTeam := team.ByID(ctx.Request.Context(), deps.Repo.DB(), teamID)
		if errTeam != nil {
			HandleErr(ctx, errTeam)

			return
		}

		ctx.JSON(http.StatusOK, found)
	}
}

func onApproveTeam(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		teamID, ok := IDParam(ctx, "team_id")
		if !ok {
			return
		}

		var req approveTeamRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &team.ApproveTeamCommand{TeamID: teamID, Approved: req.Approved}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"team_id": teamID, "approved": req.Approved})
	}
}

func onCreateRoster(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		teamID, ok := IDParam(ctx, "team_id")
		if !ok {
			return
		}

		var req createRosterRequest
		if !Bind(ctx, &req) {
			return
		}

		if errScreen := deps.Filters.Screen(req.Name, req.Tag); errScreen != nil {
			HandleErr(ctx, errScreen)

			return
		}

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &team.CreateRosterCommand{
			TeamID:     teamID,
			Game:       req.Game,
			Mode:       req.Mode,
			RosterName: req.Name,
			Tag:    req.Tag,
		})
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onInviteToRoster(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rosterID, ok := IDParam(ctx, "roster_id")
		if !ok {
			return
		}

		var req rosterInviteRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &team.InviteToRosterCommand{
			RosterID:       rosterID,
			PlayerID:       req.PlayerID,
			IsBaggerClause: req.IsBaggerClause,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"invited": req.PlayerID})
	}
}
