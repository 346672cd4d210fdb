package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/l7mp/rete/internal/buildinfo"
	"github.com/l7mp/rete/pkg/config"
	"github.com/l7mp/rete/pkg/rete"
	"github.com/l7mp/rete/pkg/server"
)

var (
	serveFile string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve -f FILE [--addr ADDR]",
	Short: "Serve a network over HTTP",
	Long: `Build a network, apply its change batches and serve it over HTTP until interrupted.

Endpoints:
  GET  /health, /metrics, /graph.dot, /graph.mmd
  GET  /api/stats, /api/groups, /api/nodes, /api/nodes/{name}, /api/nodes/{name}/contents
  GET  /api/deliveries
  POST /api/changes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(signals.SetupSignalHandler(), serveFile, serveAddr, logger)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFile, "file", "f", "", "network description")
	serveCmd.Flags().StringVar(&serveAddr, "addr", server.DefaultAddr, "listen address")
	_ = serveCmd.MarkFlagRequired("file")
}

func serve(ctx context.Context, file, addr string, logger logr.Logger) error {
	setupLog := logger.WithName("setup")
	setupLog.Info(fmt.Sprintf("starting retectl %s", buildinfo.Get().String()))

	spec, err := config.Load(file)
	if err != nil {
		return err
	}
	net, err := config.NewBuilder(config.BuilderOptions{Logger: logger}).Build(spec)
	if err != nil {
		return err
	}
	for i, b := range spec.Batches {
		if err := config.Apply(net, b); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	if err := net.Flush(); err != nil {
		return err
	}

	coord := rete.NewCoordinator(net, rete.CoordinatorOptions{Logger: logger})
	srv := server.New(coord, server.Options{Addr: addr, Logger: logger})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gCtx) })
	g.Go(func() error { return srv.Start(gCtx) })

	setupLog.Info("serving network", "name", net.Name(), "addr", addr)
	return g.Wait()
}
