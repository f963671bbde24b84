package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/toy"
)

func demoModelCmd() *cli.Command {
	var (
		out    string
		hidden int64
		seed   int64
	)
	def := toy.DefaultConfig()

	return &cli.Command{
		Name:  "demo-model",
		Usage: "Write a deterministic recurrent policy for trying the other commands",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Value:       "policy.onnx",
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "hidden",
				Usage:       "LSTM hidden size (the default contract needs 256)",
				Value:       int64(def.Hidden),
				Destination: &hidden,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight seed",
				Value:       def.Seed,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c := def
			c.Hidden = int(hidden)
			c.Seed = seed
			b := toy.Bytes(c)
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes, hidden=%d, seed=%d)\n", out, len(b), c.Hidden, c.Seed)
			return nil
		},
	}
}
