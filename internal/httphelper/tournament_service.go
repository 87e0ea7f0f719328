package httphelper

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/tournament"
	"github.com/mkcommunity/registry/pkg/stringutil"
)

type registerPlayerRequest struct {
	RegistrationID int64 `json:"registration_id"`
	IsInvite       bool  `json:"is_invite"`
	IsBaggerClause bool  `json:"is_bagger_clause"`
}

func registerTournamentRoutes(engine *gin.Engine, deps Deps) {
	public := engine.Group("/api/tournaments")
	public.Use(Authenticate(deps.Repo, true, false))
	public.GET("/list", onListTournaments(deps))
	public.GET("/:tournament_id", onGetTournament(deps))
	public.GET("/series/:series_id", onGetSeries(deps))

	creator := engine.Group("/api/tournaments")
	creator.Use(Authenticate(deps.Repo, false, false))
	creator.Use(RequirePermission(deps.Repo, "tournament_create", globalScope))
	creator.POST("/create", onCreateTournament(deps))
	creator.POST("/series/create", onCreateSeries(deps))

	editor := engine.Group("/api/tournaments/:tournament_id")
	editor.Use(Authenticate(deps.Repo, false, false))
	editor.Use(RequirePermission(deps.Repo, "tournament_edit", scopeFromParam(auth.ScopeTournament, "tournament_id")))
	editor.POST("/edit", onEditTournament(deps))

	registrant := engine.Group("/api/tournaments/:tournament_id")
	registrant.Use(Authenticate(deps.Repo, false, false))
	registrant.POST("/register", onRegisterPlayer(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/tournaments/list", Summary: "Viewable tournaments"})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/tournaments/:tournament_id", Summary: "Tournament detail with ruleset", Response: tournament.Tournament{}})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/tournaments/series/:series_id", Summary: "Series detail", Response: tournament.Series{}})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/tournaments/create", Summary: "Create a tournament", Request: tournament.CreateTournamentCommand{}, Response: tournament.CreateTournamentResult{}, RequireAuth: true, Permission: "tournament_create"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/tournaments/series/create", Summary: "Create a series", Request: tournament.CreateSeriesCommand{}, Response: tournament.CreateSeriesResult{}, RequireAuth: true, Permission: "tournament_create"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/tournaments/:tournament_id/edit", Summary: "Edit a tournament", Request: tournament.EditTournamentCommand{}, Response: tournament.Tournament{}, RequireAuth: true, Permission: "tournament_edit"})
	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/tournaments/:tournament_id/register", Summary: "Register for a tournament", Request: registerPlayerRequest{}, RequireAuth: true})
}

func onListTournaments(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		includeHidden := false

		if user, found := CurrentUser(ctx); found {
			granted, errCheck := auth.CheckUserHasPermission(ctx.Request.Context(), deps.Repo.DB(),
				user.ID, "tournament_edit", auth.GlobalScope(), false)
			if errCheck == nil && granted {
				includeHidden = true
			}
		}

		tournaments, errList := tournament.List(ctx.Request.Context(), deps.Repo.DB(), includeHidden)
		if errList != nil {
			HandleErr(ctx, errList)

			return
		}

		ctx.JSON(http.StatusOK, tournaments)
	}
}

func onGetTournament(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tournamentID, ok := IDParam(ctx, "tournament_id")
		if !ok {
			return
		}

		found, errGet := tournament.Get(ctx.Request.Context(), deps.Repo.DB(), deps.Store, tournamentID)
		if errGet != nil {
			HandleErr(ctx, errGet)

			return
		}

		ctx.JSON(http.StatusOK, found)
	}
}

func onGetSeries(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		seriesID, ok := IDParam(ctx, "series_id")
		if !ok {
			return
		}

		found, errGet := tournament.GetSeries(ctx.Request.Context(), deps.Repo.DB(), deps.Store, seriesID)
		if errGet != nil {
			HandleErr(ctx, errGet)

			return
		}

		ctx.JSON(http.StatusOK, found)
	}
}

func onCreateTournament(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var cmd tournament.CreateTournamentCommand
		if !Bind(ctx, &cmd) {
			return
		}

		if errScreen := deps.Filters.Screen(cmd.TournamentName); errScreen != nil {
			HandleErr(ctx, errScreen)

			return
		}

		cmd.Ruleset = stringutil.SanitizeUGC(cmd.Ruleset)

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &cmd)
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onCreateSeries(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var cmd tournament.CreateSeriesCommand
		if !Bind(ctx, &cmd) {
			return
		}

		if errScreen := deps.Filters.Screen(cmd.SeriesName, cmd.ShortDescription); errScreen != nil {
			HandleErr(ctx, errScreen)

			return
		}

		cmd.Description = stringutil.SanitizeUGC(cmd.Description)
		cmd.Ruleset = stringutil.SanitizeUGC(cmd.Ruleset)

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &cmd)
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, result)
	}
}

func onEditTournament(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tournamentID, ok := IDParam(ctx, "tournament_id")
		if !ok {
			return
		}

		var cmd tournament.EditTournamentCommand
		if !Bind(ctx, &cmd) {
			return
		}

		cmd.TournamentID = tournamentID
		cmd.Ruleset = stringutil.SanitizeUGC(cmd.Ruleset)

		result, errRun := deps.Exec.Run(ctx.Request.Context(), &cmd)
		if errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, result)
	}
}

func onRegisterPlayer(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		playerID, ok := currentPlayerID(ctx)
		if !ok {
			return
		}

		tournamentID, ok := IDParam(ctx, "tournament_id")
		if !ok {
			return
		}

		var req registerPlayerRequest
		if !Bind(ctx, &req) {
			return
		}

		if _, errRun := deps.Exec.Run(ctx.Request.Context(), &tournament.RegisterPlayerCommand{
			TournamentID:   tournamentID,
			RegistrationID: req.RegistrationID,
			PlayerID:       playerID,
			IsInvite:       req.IsInvite,
			IsBaggerClause: req.IsBaggerClause,
		}); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusCreated, gin.H{"registered": playerID})
	}
}
