// Command newscrawl crawls configured news sources, stores article batches
// and exports them as a corpus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pevans/newscrawl/config"
	"github.com/pevans/newscrawl/logger"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	cfg        *config.FileConfig
	log        logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "newscrawl",
		Short:         "Heuristic news article crawler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		newCrawlCmd(a),
		newSourcesCmd(a),
		newRunsCmd(a),
		newBatchesCmd(a),
		newExportCmd(a),
		newServeCmd(a),
	)

	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	return nil
}
