package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/mkcommunity/registry/internal/auth"
	"github.com/mkcommunity/registry/internal/cmdlog"
	"github.com/mkcommunity/registry/internal/command"
	"github.com/mkcommunity/registry/internal/config"
	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/objstore"
	"github.com/mkcommunity/registry/pkg/log"
)

var ErrSetup = errors.New("failed to initialize application")

// cmdEnv is the production command.Env: one fresh connection per Open, the
// shared object store, and the wall clock.
type cmdEnv struct {
	dir   string
	store objstore.Store
}

func (e cmdEnv) Open(ctx context.Context, name string, opts database.Options) (database.Database, error) {
	return database.Open(ctx, e.dir, name, opts)
}

func (e cmdEnv) ObjectStore() objstore.Store { return e.store }

func (e cmdEnv) Now() time.Time { return time.Now() }

// App owns the singletons shared by the serve and worker processes.
type App struct {
	conf    config.Config
	store   objstore.Store
	env     command.Env
	exec    *command.Executor
	mainDB  database.Database
	repo    *auth.Repository
	closers []func()
}

func newApp(ctx context.Context, configFile string) (*App, error) {
	conf, errConfig := config.Read(configFile)
	if errConfig != nil {
		return nil, errors.Join(errConfig, ErrSetup)
	}

	app := &App{conf: conf}

	logCloser := log.MustCreate(ctx, conf.Log.File, conf.Log.Level, conf.Log.SentryDSN != "")
	app.closers = append(app.closers, logCloser)

	if conf.Log.SentryDSN != "" {
		if _, errSentry := log.NewSentryClient(conf.Log.SentryDSN, true, 0.25, conf.General.Mode); errSentry != nil {
			return nil, errors.Join(errSentry, ErrSetup)
		}
	}

	if conf.DB.Reset {
		if errReset := resetDatabases(conf.DB.Directory); errReset != nil {
			return nil, errors.Join(errReset, ErrSetup)
		}
	}

	if errEnsure := ensureSchemas(ctx, conf.DB.Directory); errEnsure != nil {
		return nil, errors.Join(errEnsure, ErrSetup)
	}

	store, errStore := openObjectStore(ctx, conf)
	if errStore != nil {
		return nil, errors.Join(errStore, ErrSetup)
	}

	app.store = store
	app.env = cmdEnv{dir: conf.DB.Directory, store: store}

	mainDB, errMain := database.Open(ctx, conf.DB.Directory, database.Main, database.Options{ForeignKeys: true})
	if errMain != nil {
		return nil, errors.Join(errMain, ErrSetup)
	}

	app.mainDB = mainDB
	app.closers = append(app.closers, func() { log.Closer(mainDB) })
	app.repo = auth.NewRepository(mainDB)
	app.exec = command.NewExecutor(app.env, cmdlog.NewJournal(mainDB))

	if errSeed := seed(ctx, app); errSeed != nil {
		return nil, errors.Join(errSeed, ErrSetup)
	}

	return app, nil
}

func (a *App) Close() {
	for idx := len(a.closers) - 1; idx >= 0; idx-- {
		a.closers[idx]()
	}
}

func resetDatabases(dir string) error {
	for _, name := range database.Names {
		path := database.Path(dir, name)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if errRemove := os.Remove(path + suffix); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return errRemove
			}
		}
	}

	return nil
}

func ensureSchemas(ctx context.Context, dir string) error {
	for _, name := range database.Names {
		db, errOpen := database.Open(ctx, dir, name, database.Options{ForeignKeys: true})
		if errOpen != nil {
			return errOpen
		}

		errEnsure := database.EnsureSchema(ctx, db, name)

		log.Closer(db)

		if errEnsure != nil {
			return errEnsure
		}
	}

	return nil
}

func openObjectStore(ctx context.Context, conf config.Config) (objstore.Store, error) {
	var (
		store    objstore.Store
		errStore error
	)

	if conf.S3.Enabled() {
		store, errStore = objstore.NewS3(ctx, conf.S3.Endpoint, conf.S3.AccessKey, conf.S3.SecretKey)
		if errStore != nil {
			return nil, errStore
		}
	} else {
		store = objstore.NewMemory()
	}

	if errBuckets := objstore.EnsureBuckets(ctx, store); errBuckets != nil {
		return nil, errBuckets
	}

	return store, nil
}
