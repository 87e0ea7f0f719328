package httphelper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/problem"
	"github.com/mkcommunity/registry/internal/ratelimit"
)

const ctxKeyUser = "registry_user"

// HandleErr records an error for the problem-translation middleware to render
// once the handler chain unwinds.
func HandleErr(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
}

func recoveryHandler() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(ctx *gin.Context, err any) {
		slog.Error("Recovered panic in handler", slog.String("err", fmt.Sprintf("%v", err)))

		ctx.JSON(http.StatusInternalServerError, gin.H{"message": "Something went wrong"})
	})
}

// errorHandler renders the last recorded error as problem+json. Server-side
// failures are forwarded to sentry; the client payload never carries the
// underlying cause.
func errorHandler() gin.HandlerFunc {
	abort := func(ctx *gin.Context, prob problem.Problem) {
		ctx.Header("Content-Type", "application/problem+json")
		ctx.Status(prob.Status)

		if prob.Status == http.StatusTooManyRequests {
			ctx.Header("Retry-After", strings.TrimPrefix(prob.Detail, "Retry after "))
		}

		if errEncode := json.NewEncoder(ctx.Writer).Encode(prob); errEncode != nil {
			ctx.Abort()

			return
		}
	}

	return func(ctx *gin.Context) {
		ctx.Next()

		lastErr := ctx.Errors.Last()
		if lastErr == nil {
			return
		}

		ctx.Abort()

		prob, ok := problem.As(lastErr.Err)
		if !ok {
			prob = problem.New(http.StatusInternalServerError, "Internal error")
		}

		abort(ctx, prob)

		if prob.Status >= http.StatusInternalServerError {
			slog.Error("Error in http handler",
				slog.String("method", ctx.Request.Method),
				slog.String("path", ctx.Request.URL.Path),
				slog.String("error", lastErr.Err.Error()))

			if hub := sentrygin.GetHubFromContext(ctx); hub != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("title", prob.Title)
					scope.SetExtra("detail", prob.Detail)
					hub.CaptureException(lastErr.Err)
				})
			}
		}
	}
}

func useSecure(devMode bool) gin.HandlerFunc {
	secureMiddleware := secure.New(secure.Options{
		ContentTypeNosniff: true,
		IsDevelopment:      devMode,
	})

	return func(ctx *gin.Context) {
		if err := secureMiddleware.Process(ctx.Writer, ctx.Request); err != nil {
			ctx.Abort()

			return
		}

		if status := ctx.Writer.Status(); status > 300 && status < 399 {
			ctx.Abort()
		}
	}
}

func useSentry(engine *gin.Engine, version string) {
	engine.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	engine.Use(func(ctx *gin.Context) {
		if hub := sentrygin.GetHubFromContext(ctx); hub != nil {
			hub.Scope().SetTag("version", version)
		}

		ctx.Next()
	})
}

// ClientIP prefers the CF-Connecting-IP header, falling back to the transport
// peer address, then to the unspecified address.
func ClientIP(ctx *gin.Context) string {
	if forwarded := ctx.Request.Header.Get("CF-Connecting-IP"); forwarded != "" {
		return forwarded
	}

	if remote := ctx.ClientIP(); remote != "" {
		return remote
	}

	return "0.0.0.0"
}

// RateLimit guards a sensitive flow per client address.
func RateLimit(limiter *ratelimit.Limiter, flow string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := limiter.Check(ratelimit.Key(flow, ClientIP(ctx))); err != nil {
			HandleErr(ctx, err)
			ctx.Abort()

			return
		}

		ctx.Next()
	}
}

// Authenticate resolves the caller from the session cookie, then from an API
// bearer token. allowAnonymous lets unauthenticated requests through with no
// user attached; sessionOnly disables the bearer fallback for the browser
// cookie flows.
func Authenticate(repo *auth.Repository, allowAnonymous bool, sessionOnly bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := resolveUser(ctx, repo, sessionOnly)
		if user == nil && !allowAnonymous {
			HandleErr(ctx, problem.NotLoggedIn())
			ctx.Abort()

			return
		}

		if user != nil {
			ctx.Set(ctxKeyUser, user)
		}

		ctx.Next()
	}
}

func resolveUser(ctx *gin.Context, repo *auth.Repository, sessionOnly bool) *auth.User {
	if sessionID, errCookie := ctx.Cookie(auth.SessionCookieName); errCookie == nil && sessionID != "" {
		if user, errUser := repo.UserBySession(ctx.Request.Context(), sessionID); errUser == nil {
			return user
		}
	}

	if sessionOnly {
		return nil
	}

	header := ctx.GetHeader("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found && token != "" {
		if user, errUser := repo.UserByAPIToken(ctx.Request.Context(), token); errUser == nil {
			return user
		}
	}

	return nil
}

// CurrentUser returns the resolved caller, if any.
func CurrentUser(ctx *gin.Context) (*auth.User, bool) {
	value, exists := ctx.Get(ctxKeyUser)
	if !exists {
		return nil, false
	}

	user, ok := value.(*auth.User)

	return user, ok
}

// CurrentUserID is a helper for the activity middleware.
func CurrentUserID(ctx *gin.Context) (int64, bool) {
	user, found := CurrentUser(ctx)
	if !found {
		return 0, false
	}

	return user.ID, true
}

// RequirePermission evaluates a scoped permission for the caller. scopeOf
// extracts the scope from the request (path params); endpoints with a fixed
// scope pass a constant.
func RequirePermission(repo *auth.Repository, permission string, scopeOf func(*gin.Context) (auth.Scope, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user, found := CurrentUser(ctx)
		if !found {
			HandleErr(ctx, problem.NotLoggedIn())
			ctx.Abort()

			return
		}

		scope, errScope := scopeOf(ctx)
		if errScope != nil {
			HandleErr(ctx, errScope)
			ctx.Abort()

			return
		}

		granted, errCheck := auth.CheckUserHasPermission(ctx.Request.Context(), repo.DB(), user.ID, permission, scope, false)
		if errCheck != nil {
			HandleErr(ctx, errCheck)
			ctx.Abort()

			return
		}

		if !granted {
			HandleErr(ctx, problem.InsufficientPermission())
			ctx.Abort()

			return
		}

		ctx.Next()
	}
}
