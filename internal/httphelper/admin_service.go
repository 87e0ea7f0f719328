package httphelper

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkcommunity/registry/pkg/stringutil"
)

func registerAdminRoutes(engine *gin.Engine, deps Deps) {
	admin := engine.Group("/api/admin")
	admin.Use(Authenticate(deps.Repo, false, false))
	admin.Use(RequirePermission(deps.Repo, "registry_admin", globalScope))
	admin.POST("/db_backup", onTriggerBackup(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodPost, Path: "/api/admin/db_backup", Summary: "Snapshot every database to the object store now", RequireAuth: true, Permission: "registry_admin"})
}

func onTriggerBackup(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if errRun := deps.Backups.Run(ctx.Request.Context()); errRun != nil {
			HandleErr(ctx, errRun)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"backup": "complete"})
	}
}

const discordStateCookie = "discord_state"

func registerDiscordRoutes(engine *gin.Engine, deps Deps) {
	if deps.Linker == nil {
		return
	}

	group := engine.Group("/api/user/me/discord")
	group.Use(Authenticate(deps.Repo, false, true))
	group.Use(RateLimit(deps.Limiter, "discord"))
	group.GET("", onGetDiscordLink(deps))
	group.GET("/link", onDiscordLink(deps))
	group.GET("/callback", onDiscordCallback(deps))
	group.DELETE("", onDiscordUnlink(deps))

	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/discord", Summary: "Current Discord link", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/discord/link", Summary: "Redirect to the Discord OAuth consent page", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodGet, Path: "/api/user/me/discord/callback", Summary: "OAuth callback", RequireAuth: true})
	RegisterEndpoint(Endpoint{Method: http.MethodDelete, Path: "/api/user/me/discord", Summary: "Remove the Discord link", RequireAuth: true})
}

func onGetDiscordLink(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		link, errLink := deps.Linker.LinkFor(ctx.Request.Context(), user.ID)
		if errLink != nil {
			HandleErr(ctx, errLink)

			return
		}

		ctx.JSON(http.StatusOK, link)
	}
}

func onDiscordLink(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		state := stringutil.SecureRandomHex(16)
		ctx.SetCookie(discordStateCookie, state, 600, "/", "", false, true)
		ctx.Redirect(http.StatusTemporaryRedirect, deps.Linker.AuthURL(state))
	}
}

func onDiscordCallback(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)
		failure := deps.SiteURL + "/profile?auth_failed=1"

		state, errState := ctx.Cookie(discordStateCookie)
		if errState != nil || state == "" || state != ctx.Query("state") {
			ctx.Redirect(http.StatusTemporaryRedirect, failure)

			return
		}

		ctx.SetCookie(discordStateCookie, "", -1, "/", "", false, true)

		if _, errCallback := deps.Linker.HandleCallback(ctx.Request.Context(), user.ID, ctx.Query("code")); errCallback != nil {
			ctx.Redirect(http.StatusTemporaryRedirect, failure)

			return
		}

		ctx.Redirect(http.StatusTemporaryRedirect, deps.SiteURL+"/profile")
	}
}

func onDiscordUnlink(deps Deps) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, _ := CurrentUser(ctx)

		if errUnlink := deps.Linker.Unlink(ctx.Request.Context(), user.ID); errUnlink != nil {
			HandleErr(ctx, errUnlink)

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"unlinked": true})
	}
}
