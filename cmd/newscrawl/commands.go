package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pevans/newscrawl/discovery"
	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/newsfeed"
	"github.com/pevans/newscrawl/runs"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newCrawlCmd(a *app) *cobra.Command {
	var limit int
	var only []string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every configured source once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			if len(only) > 0 {
				if registry, err = registry.Subset(only); err != nil {
					return err
				}
			}

			crawlCfg := a.cfg.CrawlerConfig()
			if cmd.Flags().Changed("limit") {
				if limit < 1 {
					return fmt.Errorf("--limit must be at least 1, got %d", limit)
				}
				crawlCfg.LimitPerSource = limit
			}

			store, err := newsfeed.NewStore(a.cfg.Storage.OutputDir)
			if err != nil {
				return err
			}

			ledger, err := runs.NewStore(a.cfg.Storage.LedgerDSN)
			if err != nil {
				return err
			}
			defer ledger.Close()

			fetcher := discovery.NewFetcher(a.cfg.FetcherConfig(), nil, a.log)
			crawler := discovery.NewCrawler(registry, fetcher, store, ledger, crawlCfg, a.log)

			summary, err := crawler.Run(cmd.Context())
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				if summary != nil && summary.Interrupted {
					return fmt.Errorf("crawl interrupted: %w", err)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum links assembled per source (overrides crawl.limit_per_source)")
	cmd.Flags().StringSliceVarP(&only, "source", "s", nil, "crawl only these source IDs")
	return cmd
}

func newSourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.cfg.Registry()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTICKER\tTYPE\tLISTING URL")
			for _, src := range registry.Sources() {
				kind := "html"
				if src.IsFeed() {
					kind = "feed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", src.ID, src.TickerOrID(), kind, src.ListingURL)
			}
			return w.Flush()
		},
	}
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded crawl runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := runs.NewStore(a.cfg.Storage.LedgerDSN)
			if err != nil {
				return err
			}
			defer ledger.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := ledger.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRun(out, run)
				return nil
			}

			list, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tARTICLES\tSOURCES\tFAILED\tINTERRUPTED")
			for _, run := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%t\n",
					run.ID, run.StartedAt.Local().Format(time.DateTime),
					run.TotalArticles, run.SourceCount, run.FailedSources, run.Interrupted)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", runs.DefaultListLimit, "maximum runs to list")
	return cmd
}

func newBatchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List stored article batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := newsfeed.NewStore(a.cfg.Storage.OutputDir)
			if err != nil {
				return err
			}

			result, err := store.ListBatches()
			if err != nil {
				return err
			}
			for _, readErr := range result.Errors {
				a.log.Warn("Skipping unreadable batch", logger.String("file", readErr.Filename), logger.Error(readErr.Err))
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tCRAWLED\tARTICLES")
			for _, b := range result.Batches {
				crawled := "-"
				if !b.CrawledAt.IsZero() {
					crawled = b.CrawledAt.Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.Name, b.SourceID, crawled, b.Articles)
			}
			return w.Flush()
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored articles grouped by source as a JSON corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			store, err := newsfeed.NewStore(a.cfg.Storage.OutputDir)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}

			readErrs, err := store.ExportCorpus(w, registry)
			for _, readErr := range readErrs {
				a.log.Warn("Skipping unreadable batch", logger.String("file", readErr.Filename), logger.Error(readErr.Err))
			}
			if err != nil {
				return err
			}

			if output != "" {
				a.log.Info("Exported corpus", logger.String("path", output))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and stored batches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			store, err := newsfeed.NewStore(a.cfg.Storage.OutputDir)
			if err != nil {
				return err
			}
			ledger, err := runs.NewStore(a.cfg.Storage.LedgerDSN)
			if err != nil {
				return err
			}
			defer ledger.Close()

			server := &http.Server{
				Addr:              addr,
				Handler:           runs.NewAPIServer(ledger, store).SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			return serve(cmd.Context(), server, a.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, server *http.Server, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting API server", logger.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, summary *discovery.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATUS\tARTICLES\tSKIPPED\tFAILED\tDETAIL")
	for _, src := range summary.Sources {
		detail := src.BatchPath
		if src.Error != "" {
			detail = src.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			src.SourceID, src.Status, src.Articles, src.Skipped, src.Failed, detail)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nRun %s: %d articles from %d sources (%d failed) in %s\n",
		summary.ID, summary.TotalArticles, len(summary.Sources), summary.FailedSources(),
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
}

func printRun(w io.Writer, run *runs.Run) {
	fmt.Fprintf(w, "Run:         %s\n", run.ID)
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Finished:    %s\n", run.FinishedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Articles:    %d\n", run.TotalArticles)
	fmt.Fprintf(w, "Interrupted: %t\n\n", run.Interrupted)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATUS\tCANDIDATES\tARTICLES\tSKIPPED\tFAILED\tDETAIL")
	for _, src := range run.Sources {
		detail := ""
		switch {
		case src.Error != nil:
			detail = *src.Error
		case src.BatchPath != nil:
			detail = *src.BatchPath
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			src.SourceID, src.Status, src.Candidates, src.Articles, src.Skipped, src.Failed, detail)
	}
	_ = tw.Flush()
}
