package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/engine"
	"taskflow/internal/events"
	"taskflow/internal/logger"
	"taskflow/internal/migrate"
)

// Runtime is an opened workspace: config, migrated database, engine and the
// realtime publishers wired into it.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Hub       *events.Hub
	kafka     *events.KafkaPublisher
}

// Options tune Open. A nil Config is loaded from the workspace, falling back
// to defaults when taskflow.yml is absent.
type Options struct {
	Config   *config.Config
	Realtime bool
	Seed     bool
}

// Open resolves the config, opens and migrates the database, and seeds the
// default categories into an empty store when asked to.
func Open(ctx context.Context, workspace string, opts Options) (*Runtime, error) {
	cfg, err := ResolveConfig(workspace, opts.Config)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Engine: engine.New(conn, cfg)}
	if opts.Realtime {
		rt.Hub = events.NewHub()
		pubs := events.Multi{rt.Hub}
		if len(cfg.Events.Brokers) > 0 {
			rt.kafka = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
			pubs = append(pubs, rt.kafka)
			logger.Info("publishing activity events to kafka topic %s", cfg.Events.Topic)
		}
		rt.Engine.Publisher = pubs
	}
	if opts.Seed {
		n, err := rt.Engine.SeedCategories(ctx, cfg.Categories)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("seed categories: %w", err)
		}
		if n > 0 {
			logger.Info("seeded %d default categories", n)
		}
	}
	return rt, nil
}

// ResolveConfig prefers override, then workspace/taskflow.yml, then defaults.
func ResolveConfig(workspace string, override *config.Config) (*config.Config, error) {
	if override != nil {
		return override, override.Validate()
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func (r *Runtime) Close() error {
	var errs []error
	if r.kafka != nil {
		errs = append(errs, r.kafka.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}
