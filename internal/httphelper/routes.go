package httphelper

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/backup"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/discord"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/ratelimit"
	"github.com/mkcommunity/registry/internal/wordfilter"
)

// Deps carries the shared singletons every handler group needs. Built once in
// the app layer and passed by value.
type Deps struct {
	Exec     *command.Executor
	Repo     *auth.Repository
	Store    objstore.Store
	Limiter  *ratelimit.Limiter
	Filters  *wordfilter.WordFilters
	Linker   *discord.Linker
	Backups  *backup.SnapshotJob
	Recorder *activity.Recorder
	SiteName string
	SiteURL  string
	Version  string
}

// RegisterRoutes attaches every API route to the engine. The activity
// middleware is engine-wide so it observes the user resolved by the per-group
// auth middleware once the chain unwinds.
func RegisterRoutes(engine *gin.Engine, deps Deps) {
	engine.Use(activity.Middleware(deps.Recorder, CurrentUserID, ClientIP))

	engine.GET("/api/schema", onGetSchema(deps.SiteName, deps.Version))
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/schema", Summary: "OpenAPI document for the registered routes"})

	registerAuthRoutes(engine, deps)
	registerRegistryRoutes(engine, deps)
	registerTeamRoutes(engine, deps)
	registerTournamentRoutes(engine, deps)
	registerDiscordRoutes(engine, deps)
	registerAdminRoutes(engine, deps)
}

// Bind parses a JSON body into target, recording a validation problem on
// failure.
func Bind(ctx *gin.Context, target any) bool {
	if errBind := ctx.ShouldBindJSON(target); errBind != nil {
		HandleErr(ctx, problem.Validation("Failed to parse request body"))

		return false
	}

	return true
}

// IDParam parses a positive integer path parameter.
func IDParam(ctx *gin.Context, key string) (int64, bool) {
	value, errParse := strconv.ParseInt(ctx.Param(key), 10, 64)
	if errParse != nil || value <= 0 {
		HandleErr(ctx, problem.New(http.StatusBadRequest, "No "+key+" specified"))

		return 0, false
	}

	return value, true
}
