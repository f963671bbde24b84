package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/engine"
	"github.com/samcharles93/tradepolicy/internal/kvstore"
	"github.com/samcharles93/tradepolicy/internal/logger"
	"github.com/samcharles93/tradepolicy/internal/modelfile"
)

func actCmd() *cli.Command {
	var (
		modelPath string
		obs       []float64
		steps     int64
	)

	return &cli.Command{
		Name:  "act",
		Usage: "Decide actions for one observation with a local model file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to an ONNX policy",
				Required:    true,
				Destination: &modelPath,
			},
			&cli.FloatSliceFlag{
				Name:        "obs",
				Usage:       "observation values, repeated or comma separated",
				Destination: &obs,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Usage:       "feed the observation this many times to show recurrent carry-over",
				Value:       1,
				Destination: &steps,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			data, err := modelfile.ReadFile(modelPath)
			if err != nil {
				return err
			}
			eng := engine.New(engine.Config{Store: kvstore.NewMemoryStore(), Logger: log})
			if err := eng.LoadModel(ctx, data, 0); err != nil {
				return err
			}

			frame := make([]float32, len(obs))
			for i, v := range obs {
				frame[i] = float32(v)
			}
			for step := range max(steps, 1) {
				d, err := eng.GetAction(ctx, frame)
				if err != nil {
					return err
				}
				fmt.Printf("step %d: %-4s logits=%s probs=%s (%s)\n",
					step+1, d.Action, formatFloats(d.Logits), formatFloats(d.Probabilities), d.Duration)
			}
			return nil
		},
	}
}

func formatFloats(xs []float32) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.4f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
