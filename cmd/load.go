package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/progress"
)

func newLoadCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "load [dir]",
		Short: "Load extracted trade files into Postgres",
		Long: `Reads every trade file (and trade archive) under dir, or load.dir when
omitted, inserts the trades into Postgres and refreshes the per-ticker
summaries.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadCommand(cmd, args, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop existing trades and summaries before loading")
	return cmd
}

func runLoadCommand(cmd *cobra.Command, args []string, reset bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	dir := cfg.Load.Dir
	if len(args) == 1 {
		dir = args[0]
	}

	bar, err := progress.New(progress.Options{
		Mode:        cfg.Progress.Mode,
		Description: "rows inserted",
		Total:       -1,
		Writer:      cmd.ErrOrStderr(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	l, err := appInstance.NewLoader(cmd.Context(), bar, reset)
	if err != nil {
		return fmt.Errorf("build loader: %w", err)
	}
	stats, err := l.Load(cmd.Context(), dir)
	if closeErr := bar.Close(); closeErr != nil {
		logger.Debug("close progress", zap.Error(closeErr))
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", dir, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows from %d files\n", stats.Rows, stats.Files)
	return nil
}
