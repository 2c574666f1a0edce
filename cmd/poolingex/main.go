package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/soldatov-s/poolingex/app"
	"github.com/soldatov-s/poolingex/config"
	"github.com/soldatov-s/poolingex/config/envconfig"
	"github.com/soldatov-s/poolingex/log"
	"github.com/soldatov-s/poolingex/migrations"
	"github.com/soldatov-s/poolingex/providers/echo"
	"github.com/soldatov-s/poolingex/providers/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix       = "POOLINGEX"
	dbEnityName     = "main"
	statsEnityName  = "stats"
	shutdownTimeout = 30 * time.Second
)

// Filled by -ldflags on build.
var (
	appName    = "poolingex"
	appBuilded = "unknown"
	appHash    = "unknown"
	appVersion = "0.0.0"
)

type Config struct {
	Logger *log.Config
	DB     *pq.Config
	Stats  *echo.Config
}

func parseConfig() (*Config, error) {
	collector := config.NewCollector()
	if err := collector.RegisterProvider(envconfig.DefaultProviderName, envconfig.NewProvider(envPrefix)); err != nil {
		return nil, errors.Wrap(err, "register config provider")
	}

	cfg := &Config{}
	if err := collector.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	cfg.Logger = cfg.Logger.SetDefault()
	cfg.DB = cfg.DB.SetDefault()
	cfg.Stats = cfg.Stats.SetDefault()

	return cfg, nil
}

func main() {
	meta := app.NewMeta(&app.MetaDeps{
		Name:        appName,
		Builded:     appBuilded,
		Hash:        appHash,
		Version:     appVersion,
		Description: "postgres connection pool with statistics",
	})

	rootCmd := app.CreateRootCmd(meta)
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(
		app.CreateServeCmd(func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), meta, false)
		}),
		app.CreateMigrateCmd(func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), meta, true)
		}),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// nolint:funlen // wiring of the whole service
func run(ctx context.Context, meta *app.Meta, migrateOnly bool) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	if migrateOnly {
		cfg.DB.Migrate.Only = true
		if cfg.DB.Migrate.Action == migrations.ActionNothing {
			cfg.DB.Migrate.Action = migrations.ActionUp
		}
	}

	logger, err := log.NewLogger(ctx, cfg.Logger)
	if err != nil {
		return errors.Wrap(err, "new logger")
	}
	ctx = logger.WithContext(ctx)
	zlog := zerolog.Ctx(ctx)

	group, ctx := errgroup.WithContext(ctx)

	manager := app.NewManager(&app.ManagerDeps{
		Meta: &app.MetaDeps{
			Name:        meta.Name,
			Builded:     meta.Builded,
			Hash:        meta.Hash,
			Version:     meta.Version,
			Description: meta.Description,
		},
		StatsHTTPEnityName: echo.ProviderName + "_" + statsEnityName,
		Logger:             logger,
		ErrorGroup:         group,
	})

	db, err := pq.NewEnity(ctx, dbEnityName, cfg.DB)
	if err != nil {
		return errors.Wrap(err, "new postgres enity")
	}

	if migrateOnly {
		err = db.Start(ctx)
		if errors.Is(err, pq.ErrMigrationsOnly) {
			zlog.Info().Msg("migrations applied")
			return nil
		}
		return errors.Wrap(err, "migrate")
	}

	if err := manager.Add(ctx, db); err != nil {
		return errors.Wrap(err, "add postgres enity")
	}

	stats, err := echo.NewEnity(ctx, statsEnityName, cfg.Stats, echo.DefaultMiddlewares(ctx)...)
	if err != nil {
		return errors.Wrap(err, "new stats server")
	}

	if err := manager.Add(ctx, stats); err != nil {
		return errors.Wrap(err, "add stats server")
	}

	if err := manager.Start(ctx); err != nil {
		if errors.Is(err, pq.ErrMigrationsOnly) {
			zlog.Info().Msg("migrations applied, exiting")
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if errShutdown := manager.Shutdown(shutdownCtx); errShutdown != nil {
			zlog.Err(errShutdown).Msg("shutdown after failed start")
		}
		return errors.Wrap(err, "start")
	}

	if err := manager.OSSignalWaiter(ctx); err != nil {
		return errors.Wrap(err, "os signal waiter")
	}

	return manager.Loop(ctx)
}
