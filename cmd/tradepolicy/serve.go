package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/api"
	"github.com/samcharles93/tradepolicy/internal/engine"
	"github.com/samcharles93/tradepolicy/internal/logger"
	"github.com/samcharles93/tradepolicy/internal/modelfile"
	"github.com/samcharles93/tradepolicy/internal/version"
	"github.com/samcharles93/tradepolicy/internal/watch"
)

type serveOptions struct {
	addr           string
	readTimeout    time.Duration
	compileOnStart bool
	modelFile      string
	watch          bool
	rateLimit      float64
	burst          int64
	adminTokenHash string
	chunkSize      int64
}

func serveCmd() *cli.Command {
	var opts serveOptions

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the policy REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &opts.addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &opts.readTimeout,
			},
			&cli.BoolFlag{
				Name:        "compile-on-start",
				Usage:       "compile the persisted model bytes before serving",
				Destination: &opts.compileOnStart,
			},
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "load this ONNX policy file on start",
				Destination: &opts.modelFile,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Usage:       "reload --model whenever the file changes",
				Destination: &opts.watch,
			},
			&cli.FloatFlag{
				Name:        "rate-limit",
				Usage:       "requests per second across all routes (0 disables)",
				Destination: &opts.rateLimit,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "rate limiter burst size",
				Destination: &opts.burst,
			},
			&cli.StringFlag{
				Name:        "admin-token-hash",
				Usage:       "bcrypt hash guarding model and state routes (see hash-token)",
				Destination: &opts.adminTokenHash,
			},
			&cli.Int64Flag{
				Name:        "chunk-size",
				Usage:       "bytes per ledger append when loading --model",
				Value:       engine.DefaultChunkSize,
				Destination: &opts.chunkSize,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &opts)
			log := logger.FromContext(ctx)

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng := engine.New(engine.Config{Store: store, Logger: log.WithGroup("engine")})
			if err := eng.Restore(ctx); err != nil {
				return err
			}

			reload := func(ctx context.Context) error {
				data, err := modelfile.ReadFile(opts.modelFile)
				if err != nil {
					return err
				}
				return eng.LoadModel(ctx, data, int(opts.chunkSize))
			}
			switch {
			case opts.modelFile != "":
				if err := reload(ctx); err != nil {
					return fmt.Errorf("load %s: %w", opts.modelFile, err)
				}
			case opts.compileOnStart:
				if err := eng.SetupModel(ctx); err != nil {
					log.Warn("persisted model did not compile", "error", err)
				}
			}
			if opts.watch {
				if opts.modelFile == "" {
					return fmt.Errorf("--watch needs --model")
				}
				w := &watch.Watcher{Path: opts.modelFile, OnChange: reload, Logger: log}
				if err := w.Start(ctx); err != nil {
					return err
				}
			}

			server := api.NewServer(eng, api.Options{
				AdminTokenHash: opts.adminTokenHash,
				RateLimit:      opts.rateLimit,
				Burst:          int(opts.burst),
				Logger:         log.WithGroup("api"),
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server",
				"address", opts.addr,
				"version", version.String(),
				"initialized", eng.Status().Initialized,
				"auth", opts.adminTokenHash != "",
			)
			sc := echo.StartConfig{
				Address: opts.addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = opts.readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
