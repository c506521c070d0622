package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/progress"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download and unpack the trade archives of the last sessions",
		Long: `Scans the quotes portal for trade archive links within the configured
date window, downloads every archive concurrently and extracts the trade
files into the output directory.`,
		Args: cobra.NoArgs,
		RunE: runFetchCommand,
	}
}

func runFetchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	if cfg.Metrics.Addr != "" {
		if _, err := appInstance.StartMetricsServer(cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	bar, err := progress.New(progress.Options{
		Mode:        cfg.Progress.Mode,
		Description: "files downloaded",
		Total:       -1,
		Writer:      cmd.ErrOrStderr(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	p, err := appInstance.NewPipeline(cmd.Context(), bar)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	report, err := p.Run(cmd.Context())
	if closeErr := bar.Close(); closeErr != nil {
		logger.Debug("close progress", zap.Error(closeErr))
	}
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: discovered %d, downloaded %d, skipped %d, failed %d, extracted %d\n",
		report.RunID, report.Discovered, report.Downloaded, report.Skipped, report.Failed, report.Extracted)
	return nil
}
