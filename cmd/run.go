package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/export"
	"github.com/JakeFAU/proxy-harvester/internal/pipeline"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

const uploadTimeout = 30 * time.Second

type runFlags struct {
	output string
	upload bool
}

// newRunCmd creates the 'run' subcommand: one harvest and validation pass,
// followed by an optional export.
func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvests and validates proxies once, then exports the results",
		Long: `Fetches every configured source, validates the distinct candidates,
prints a summary and optionally writes the surviving proxies to a file or
uploads them to the export store. SIGINT stops the run and keeps what was
validated so far.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringSlice("sources", nil, "source URLs to harvest (overrides harvest.sources)")
	f.Int("batch-size", 0, "sources fetched per batch")
	f.Int("rate", 0, "batches started per second")
	f.String("type", "", "proxy type: HTTP, HTTPS, SOCKS4, SOCKS5 or All")
	f.Int("timeout", 0, "probe timeout in seconds")
	f.Int("concurrency", 0, "maximum probes in flight")
	f.String("country", "", "keep proxies from this country code")
	f.String("anonymity", "", "keep proxies at this anonymity level")
	f.String("speed", "", "keep proxies in this latency category")
	f.String("format", "", "export format: txt, json, csv or yaml")
	f.String("store", "", "storage driver: memory, sqlite or postgres")
	f.StringVarP(&flags.output, "output", "o", "", "write the export to this file")
	f.BoolVar(&flags.upload, "upload", false, "upload the export to the configured export store")
	return cmd
}

func runOnce(cmd *cobra.Command, flags runFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	ctrl := appInstance.Controller()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx, cfg.RunSettings()); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Wait(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("wait for run failed", zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Info("interrupt received, stopping run")
		if err := ctrl.Stop(); err != nil {
			logger.Warn("stop run failed", zap.Error(err))
		}
		<-done
	}

	printSummary(cmd.OutOrStdout(), ctrl.State(), ctrl.Stats())

	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}
	recs := export.Select(ctrl.Filtered(), ctrl.Results())
	if flags.output != "" {
		if err := export.WriteFile(flags.output, recs, format); err != nil {
			if errors.Is(err, export.ErrNothingToExport) {
				logger.Warn("no validated proxies to export")
				return nil
			}
			return fmt.Errorf("export: %w", err)
		}
		logger.Info("export written", zap.String("path", flags.output), zap.Int("count", len(recs)))
	}
	if flags.upload && len(recs) > 0 {
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
		defer cancel()
		uri, err := appInstance.Exporter().Export(uploadCtx, recs, format)
		if err != nil {
			return fmt.Errorf("upload export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d proxies to %s\n", len(recs), uri)
	}
	return nil
}

func printSummary(w io.Writer, state proxy.RunState, st pipeline.Stats) {
	fmt.Fprintf(w, "run %s %s\n", state.RunID, state.Phase)
	fmt.Fprintf(w, "harvested %d, checked %d, active %d (%.1f%%), filtered %d\n",
		st.Harvested, st.Checked, st.Active, st.SuccessRate, st.Filtered)
	if st.PersistErrors > 0 {
		fmt.Fprintf(w, "persist errors %d\n", st.PersistErrors)
	}
	categories := make([]string, 0, len(st.Categories))
	for c := range st.Categories {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(w, "  %-8s %d\n", c, st.Categories[proxy.Category(c)])
	}
	for _, share := range st.Countries {
		fmt.Fprintf(w, "  %-8s %d (%.1f%%)\n", share.Key, share.Count, share.Percent)
	}
}
