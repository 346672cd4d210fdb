package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/rete/pkg/config"
	"github.com/l7mp/rete/pkg/rete"
	"github.com/l7mp/rete/pkg/tuple"
)

var runFiles []string

var runCmd = &cobra.Command{
	Use:   "run -f FILE [-f FILE...]",
	Short: "Evaluate networks and print their productions",
	Long: `Build each network, apply its change batches in order and print the contents of every
production. Independent files are evaluated in parallel; the output keeps the order of the files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNetworks(cmd.Context(), runFiles, cmd.OutOrStdout(), logger)
	},
}

func init() {
	runCmd.Flags().StringSliceVarP(&runFiles, "file", "f", nil, "network description (repeatable)")
	_ = runCmd.MarkFlagRequired("file")
}

// runNetworks evaluates each file on its own goroutine. Every network is owned by exactly one
// goroutine, so no coordination is needed.
func runNetworks(ctx context.Context, files []string, out io.Writer, logger logr.Logger) error {
	outputs := make([]bytes.Buffer, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return runNetwork(file, &outputs[i], logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range outputs {
		if _, err := outputs[i].WriteTo(out); err != nil {
			return err
		}
	}
	return nil
}

func runNetwork(file string, out io.Writer, logger logr.Logger) error {
	spec, err := config.Load(file)
	if err != nil {
		return err
	}
	net, err := config.NewBuilder(config.BuilderOptions{Logger: logger}).Build(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	for i, b := range spec.Batches {
		if err := config.Apply(net, b); err != nil {
			return fmt.Errorf("%s: batch %d: %w", file, i, err)
		}
	}
	if err := net.Flush(); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	return printResults(net, out)
}

func printResults(net *rete.Network, out io.Writer) error {
	results, err := config.Results(net)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "network %s:\n", net.Name())
	for _, r := range results {
		fmt.Fprintf(out, "  %s (%d):\n", r.Production, len(r.Tuples))
		if !net.IsTimely() {
			for _, t := range r.Tuples {
				fmt.Fprintf(out, "    %s\n", t)
			}
			continue
		}
		id, _ := net.Lookup(r.Production)
		stamps := map[string]tuple.Stamped{}
		if err := net.PullIntoWithTimestamp(id, stamps, false); err != nil {
			return err
		}
		for _, t := range r.Tuples {
			fmt.Fprintf(out, "    %s\n", stamps[t.Key()])
		}
	}
	return nil
}
