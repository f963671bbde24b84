package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tradepolicy/internal/graph"
	"github.com/samcharles93/tradepolicy/internal/inference"
	"github.com/samcharles93/tradepolicy/internal/modelfile"
)

type inspectReport struct {
	Path    string            `json:"path"`
	Bytes   int               `json:"bytes"`
	Model   graph.ModelInfo   `json:"model"`
	Inputs  []graph.ValueSpec `json:"inputs"`
	Outputs []graph.ValueSpec `json:"outputs"`
	Ops     map[string]int    `json:"ops"`
	Steps   int               `json:"steps"`
}

func inspectCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Compile an ONNX policy file and describe the resulting plan",
		ArgsUsage: "<model.onnx>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("usage: tradepolicy inspect <model.onnx>")
			}
			f, err := modelfile.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			plan, err := graph.Compile(f.Data, inference.DefaultContract.Binding())
			if err != nil {
				return err
			}
			report := inspectReport{
				Path:    path,
				Bytes:   f.Size(),
				Model:   plan.Info(),
				Inputs:  plan.Inputs(),
				Outputs: plan.Outputs(),
				Ops:     plan.Ops(),
				Steps:   plan.Steps(),
			}
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(os.Stdout, string(b))
				return err
			}
			return printReport(os.Stdout, report)
		},
	}
}

func printReport(w io.Writer, r inspectReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "file\t%s (%d bytes)\n", r.Path, r.Bytes)
	fmt.Fprintf(tw, "producer\t%s %s\n", r.Model.Producer, r.Model.ProducerVersion)
	fmt.Fprintf(tw, "ir / opset\t%d / %d\n", r.Model.IRVersion, r.Model.Opset)
	fmt.Fprintf(tw, "steps\t%d\n", r.Steps)
	fmt.Fprintln(tw)
	for _, in := range r.Inputs {
		fmt.Fprintf(tw, "input\t%s\t%v\n", in.Name, in.Shape)
	}
	for _, out := range r.Outputs {
		fmt.Fprintf(tw, "output\t%s\t%v\n", out.Name, out.Shape)
	}
	fmt.Fprintln(tw)
	for _, op := range slices.Sorted(maps.Keys(r.Ops)) {
		fmt.Fprintf(tw, "op\t%s\t%d\n", op, r.Ops[op])
	}
	for _, k := range slices.Sorted(maps.Keys(r.Model.Metadata)) {
		fmt.Fprintf(tw, "meta\t%s\t%s\n", k, r.Model.Metadata[k])
	}
	return tw.Flush()
}
