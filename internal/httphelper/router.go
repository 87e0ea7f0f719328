// Package httphelper carries the HTTP surface: router construction, the fixed
// middleware chain (rate-limit, problem translation, session-or-token auth,
// body binding, word filter, permission check) and problem+json rendering.
package httphelper

import (
	"log/slog"

	"github.com/Depado/ginprom"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

type RouterOpts struct {
	Mode              string
	LogLevel          string
	HTTPLogEnabled    bool
	SentryDSN         string
	Version           string
	PrometheusEnabled bool
	CORSOrigins       []string
	DevMode           bool
}

// CreateRouter builds the gin engine with the outer middleware installed.
// Route registration happens in the service files against the returned engine.
func CreateRouter(opts RouterOpts) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.MaxMultipartMemory = 8 << 24
	engine.Use(recoveryHandler())
	engine.Use(errorHandler())

	if opts.HTTPLogEnabled {
		useSloggin(engine, opts.LogLevel)
	}

	if opts.SentryDSN != "" {
		useSentry(engine, opts.Version)
	}

	useCors(engine, opts.CORSOrigins, opts.DevMode)

	if opts.PrometheusEnabled {
		usePrometheus(engine)
	}

	return engine
}

func useCors(engine *gin.Engine, origins []string, devMode bool) {
	engine.Use(useSecure(devMode))

	if len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		corsConfig.AllowWildcard = true
		corsConfig.AllowCredentials = true

		engine.Use(cors.New(corsConfig))
	} else {
		slog.Warn("No cors origins defined, disabling")
	}
}

func usePrometheus(engine *gin.Engine) {
	prom := ginprom.New(func(prom *ginprom.Prometheus) {
		prom.Namespace = "registry"
		prom.Subsystem = "http"
	})
	engine.Use(prom.Instrument())
}

func useSloggin(engine *gin.Engine, level string) {
	logLevel := slog.LevelError

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "info":
		logLevel = slog.LevelInfo
	case "error":
		logLevel = slog.LevelError
	}

	engine.Use(sloggin.NewWithConfig(slog.Default(), sloggin.Config{DefaultLevel: logLevel}))
}
