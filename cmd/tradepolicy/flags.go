package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/kvstore"
	"github.com/samcharles93/tradepolicy/internal/logger"
)

var (
	configFile string
	storeKind  string
	storePath  string
	logLevel   string
	logFormat  string
	debug      bool

	// cfg is the loaded config file, applied by setup.
	cfg Config
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a config.yaml or config.toml (default: $" + envConfig + " or the user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "durable store backend (sqlite, memory)",
			Value:       kvstore.KindSQLite,
			Destination: &storeKind,
		},
		&cli.StringFlag{
			Name:        "store-path",
			Usage:       "sqlite database path (default: <user config dir>/tradepolicy/state.db)",
			Destination: &storePath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setup loads the config file, lets it fill unset global flags and installs
// the logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	cfg = loaded
	applyGlobalConfig(cmd, cfg)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, err
	}
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Open(logger.Options{Format: logger.Format(logFormat), Level: level})
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "tradepolicy.db")
	}
	return filepath.Join(dir, "tradepolicy", "state.db")
}

// openStore opens the durable store selected by the global flags.
func openStore(ctx context.Context) (kvstore.Store, error) {
	path := storePath
	if storeKind == kvstore.KindSQLite {
		if path == "" {
			path = defaultStorePath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	store, err := kvstore.Open(ctx, storeKind, path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", storeKind, err)
	}
	logger.FromContext(ctx).Debug("store opened", "kind", storeKind, "path", path)
	return store, nil
}
