// Command retectl builds incremental evaluation networks from YAML descriptions, feeds them
// change batches, renders their structure and serves them over HTTP.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/rete/internal/buildinfo"
)

var (
	logger logr.Logger

	zapOpts = zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}

	rootCmd = &cobra.Command{
		Use:   "retectl",
		Short: "Run incremental evaluation networks",
		Long: `retectl materializes networks described in YAML and evaluates them incrementally.

Examples:
  retectl run -f reach.yaml
  retectl graph -f reach.yaml --format mermaid
  retectl serve -f reach.yaml --addr :8080`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = zap.New(zap.UseFlagOptions(&zapOpts)).WithName("retectl")
		},
	}
)

func init() {
	fs := flag.NewFlagSet("zap", flag.ExitOnError)
	zapOpts.BindFlags(fs)
	rootCmd.PersistentFlags().AddGoFlagSet(fs)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "retectl", buildinfo.Get().String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
