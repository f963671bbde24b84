package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/engine"
	"github.com/samcharles93/tradepolicy/internal/logger"
	"github.com/samcharles93/tradepolicy/internal/modelfile"
)

func uploadCmd() *cli.Command {
	var chunkSize int64

	return &cli.Command{
		Name:      "upload",
		Usage:     "Store an ONNX policy file in the durable store and verify it compiles",
		ArgsUsage: "<model.onnx>",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "chunk-size",
				Usage:       "bytes per ledger append",
				Value:       engine.DefaultChunkSize,
				Destination: &chunkSize,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("usage: tradepolicy upload <model.onnx>")
			}
			log := logger.FromContext(ctx)

			f, err := modelfile.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng := engine.New(engine.Config{Store: store, Logger: log})
			if err := eng.LoadModel(ctx, f.Data, int(chunkSize)); err != nil {
				return err
			}
			st := eng.Status()
			log.Info("model uploaded",
				"path", path,
				"bytes", st.LedgerBytes,
				"mmap", f.Mapped(),
				"steps", st.Steps,
			)
			fmt.Printf("uploaded %s (%d bytes, %d steps)\n", path, st.LedgerBytes, st.Steps)
			return nil
		},
	}
}
