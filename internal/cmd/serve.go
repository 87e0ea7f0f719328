package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/backup"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/discord"
	"github.com/mkcommunity/registry/internal/httphelper"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/ratelimit"
	"github.com/mkcommunity/registry/internal/wordfilter"
	"github.com/mkcommunity/registry/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP frontend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(rootCtx context.Context) error {
	ctx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, errApp := newApp(ctx, configFile)
	if errApp != nil {
		return errApp
	}

	defer app.Close()

	conf := app.conf

	queueDB, errQueue := database.Open(ctx, conf.DB.Directory, database.ActivityQueue, database.Options{})
	if errQueue != nil {
		return errors.Join(errQueue, ErrSetup)
	}

	defer log.Closer(queueDB)

	engine := httphelper.CreateRouter(httphelper.RouterOpts{
		Mode:              conf.General.Mode,
		LogLevel:          string(conf.Log.Level),
		HTTPLogEnabled:    conf.General.Debug,
		SentryDSN:         conf.Log.SentryDSN,
		Version:           Version,
		PrometheusEnabled: true,
		CORSOrigins:       conf.HTTP.CorsOrigins,
		DevMode:           conf.General.Debug,
	})

	deps := httphelper.Deps{
		Exec:     app.exec,
		Repo:     app.repo,
		Store:    app.store,
		Limiter:  ratelimit.New(),
		Filters:  loadWordFilters(ctx, app),
		Backups:  &backup.SnapshotJob{Dir: conf.DB.Directory, Store: app.store, State: jobs.NewStateStore(app.mainDB)},
		Recorder: activity.NewRecorder(queueDB, conf.IPLogging.Enabled),
		SiteName: conf.General.SiteName,
		SiteURL:  conf.General.SiteURL,
		Version:  Version,
	}

	if conf.Discord.Enabled {
		deps.Linker = discord.NewLinker(app.mainDB, conf.Discord.ClientID, conf.Discord.ClientSecret, conf.Discord.OAuthCallback)
	}

	httphelper.RegisterRoutes(engine, deps)

	server := &http.Server{
		Addr:         conf.HTTP.Addr(),
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			slog.Error("Failed to cleanly shutdown http server", log.ErrAttr(errShutdown))
		}
	}()

	slog.Info("Starting frontend", slog.String("addr", server.Addr), slog.String("version", Version))

	if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}

	return nil
}

// loadWordFilters pulls the enabled filter set from the primary database.
// An empty set just means nothing is screened.
func loadWordFilters(ctx context.Context, app *App) *wordfilter.WordFilters {
	filters := wordfilter.New()

	rows, errQuery := app.mainDB.Handle().QueryContext(ctx,
		"SELECT id, pattern, is_regex, is_enabled FROM word_filters WHERE is_enabled = 1")
	if errQuery != nil {
		slog.Warn("Failed to load word filters", log.ErrAttr(errQuery))

		return filters
	}

	defer log.Closer(rows)

	var loaded []wordfilter.Filter

	for rows.Next() {
		var filter wordfilter.Filter
		if errScan := rows.Scan(&filter.ID, &filter.Pattern, &filter.IsRegex, &filter.IsEnabled); errScan != nil {
			slog.Warn("Failed to scan word filter", log.ErrAttr(errScan))

			return filters
		}

		loaded = append(loaded, filter)
	}

	if errRows := rows.Err(); errRows != nil {
		slog.Warn("Failed to read word filters", log.ErrAttr(errRows))
	}

	filters.Import(loaded)

	return filters
}
