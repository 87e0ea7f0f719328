package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkcommunity/registry/internal/activity"
	"github.com/mkcommunity/registry/internal/altflag"
	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/backup"
	"github.com/mkcommunity/registry/internal/cmdlog"
	"github.com/mkcommunity/registry/internal/config"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/discord"
	"github.com/mkcommunity/registry/internal/jobs"
	"github.com/mkcommunity/registry/internal/role"
	"github.com/mkcommunity/registry/internal/tournament"
	"github.com/mkcommunity/registry/pkg/log"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the background job worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return worker(cmd.Context())
		},
	}
}

func worker(rootCtx context.Context) error {
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

	activityDB, errActivity := database.Open(ctx, conf.DB.Directory, database.Activity, database.Options{})
	if errActivity != nil {
		return errors.Join(errActivity, ErrSetup)
	}

	defer log.Closer(activityDB)

	// Alt detection joins activity and login tables across databases.
	flagsDB, errFlags := database.Open(ctx, conf.DB.Directory, database.AltFlags, database.Options{
		Attach: []string{database.Main, database.Activity},
	})
	if errFlags != nil {
		return errors.Join(errFlags, ErrSetup)
	}

	defer log.Closer(flagsDB)

	state := jobs.NewStateStore(app.mainDB)

	scheduled := []jobs.Job{
		&role.ExpiryJob{DB: app.mainDB, Exec: app.exec},
		&role.UnbanExpiredJob{DB: app.mainDB, Exec: app.exec},
		&auth.TokenSweepJob{DB: app.mainDB},
		&activity.DrainJob{Queue: queueDB, Activity: activityDB},
		&activity.CompressJob{Activity: activityDB},
		&altflag.VPNJob{DB: flagsDB, State: state},
		&altflag.IPMatchJob{DB: flagsDB, State: state},
		altflag.NewFingerprintMatchJob(flagsDB, state),
		altflag.NewCookieMatchJob(flagsDB, state),
		&tournament.CloseRegistrationsJob{DB: app.mainDB},
		&cmdlog.ArchiveJob{DB: app.mainDB, Store: app.store},
		&cmdlog.ClearJob{DB: app.mainDB, Store: app.store, State: state},
		&backup.SnapshotJob{Dir: conf.DB.Directory, Store: app.store, State: state},
		&backup.CleanupJob{Store: app.store},
	}

	if conf.IPLogging.Enabled && conf.IPLogging.APIEndpoint != "" {
		scheduled = append(scheduled, &activity.EnrichJob{
			Activity:   activityDB,
			Classifier: activity.NewHTTPClassifier(conf.IPLogging.APIEndpoint, conf.IPLogging.APIKey),
		})
	}

	if conf.Discord.Enabled {
		scheduled = append(scheduled, &discord.RefreshJob{
			DB:     app.mainDB,
			Linker: discord.NewLinker(app.mainDB, conf.Discord.ClientID, conf.Discord.ClientSecret, conf.Discord.OAuthCallback),
		})
	}

	slog.Info("Starting worker", slog.Int("jobs", len(scheduled)), slog.String("version", Version))

	jobs.NewScheduler(scheduled...).Start(ctx)

	return nil
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-db",
		Short: "Delete every database file and recreate empty schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, errConfig := config.Read(configFile)
			if errConfig != nil {
				return errConfig
			}

			if errReset := resetDatabases(conf.DB.Directory); errReset != nil {
				return errReset
			}

			return ensureSchemas(cmd.Context(), conf.DB.Directory)
		},
	}
}
