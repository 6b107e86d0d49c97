package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/pkg/config"
	"github.com/mozilla-services/syncstorage-go/pkg/engine"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// resolveConfig returns the effective config.Config for this invocation:
// the YAML manifest named by --config if one was given, otherwise a
// config.Default() overridden by the --backend/--data-dir/--dsn flags.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Backend, _ = cmd.Flags().GetString("backend")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.DSN, _ = cmd.Flags().GetString("dsn")
	return cfg, nil
}

// openBackend builds a storage.Backend from cfg. It's the CLI's only
// place that knows about the four concrete backend constructors.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case "bolt":
		return storage.NewBoltBackend(cfg.DataDir)
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("--dsn is required for backend=mysql")
		}
		return storage.NewMySQLBackend(cfg.DSN)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("--dsn is required for backend=postgres")
		}
		return storage.NewPostgresBackend(cfg.DSN)
	case "spanner":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("--dsn is required for backend=spanner (database resource path)")
		}
		return storage.NewSpannerBackend(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown backend %q (want bolt, mysql, postgres, or spanner)", cfg.Backend)
	}
}

// openEngine resolves the effective configuration, opens its backend, and
// wraps it in an Engine with that configuration's limits and quota.
func openEngine(ctx context.Context, cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engCfg := cfg.EngineLimits()
	engCfg.Backend = backend
	eng, err := engine.New(engCfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return eng, nil
}

func principalFromFlags(cmd *cobra.Command) (types.Principal, error) {
	uid, _ := cmd.Flags().GetString("uid")
	if uid == "" {
		return types.Principal{}, fmt.Errorf("--uid is required")
	}
	return types.Principal{FxaUID: uid}, nil
}
