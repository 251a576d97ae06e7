package app

import (
	"context"
	"database/sql"
	"fmt"

	"idptrack/internal/config"
	"idptrack/internal/db"
	"idptrack/internal/engine"
	"idptrack/internal/logging"
	"idptrack/internal/migrate"
	"idptrack/internal/schedule"
)

// App is an opened workspace: migrated database, loaded config and an
// engine bound to both.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Options tweaks Open. Empty fields fall back to config values.
type Options struct {
	Workspace string
	LogLevel  string
	LogFile   string
}

// Open prepares the workspace: it opens and migrates the database, loads
// idptrack.yml (or idptrack.toml, or the built-in defaults), configures
// logging and seeds the notification catalog.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	level, file := cfg.Log.Level, cfg.Log.File
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.LogFile != "" {
		file = opts.LogFile
	}
	if err := logging.Init(logging.Options{Level: level, File: file}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if err := eng.Repo.UpsertCatalog(ctx, cfg.CatalogEntries()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed notification catalog: %w", err)
	}
	logging.Logger.WithField("db", db.Path(opts.Workspace)).Debug("workspace opened")
	return &App{Workspace: opts.Workspace, DB: conn, Config: cfg, Engine: eng}, nil
}

// Runner returns the deferred transition poller wired to the engine.
func (a *App) Runner() schedule.Runner {
	return schedule.Runner{
		Store:       schedule.Store{Repo: a.Engine.Repo},
		Apply:       a.Engine.ApplyTransition,
		Interval:    a.Config.PollInterval(),
		Batch:       a.Config.Schedule.BatchSize,
		MaxAttempts: a.Config.Schedule.Retry.MaxJobErrors,
		Log:         logging.Logger,
	}
}

func (a *App) Close() error {
	return a.DB.Close()
}
