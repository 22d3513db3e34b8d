package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"ReportHarvester/internal/app"
	"ReportHarvester/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest every enabled source, then download new documents",
	Args:  cobra.NoArgs,
	RunE:  withApplication((*app.Application).Run),
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Query and store announcements without downloading",
	Args:  cobra.NoArgs,
	RunE:  withApplication((*app.Application).Harvest),
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download documents listed in the stored snapshots",
	Long: `Loads the snapshot of every enabled source and downloads the documents
that no earlier source already published. Files already on disk are skipped.`,
	Args: cobra.NoArgs,
	RunE: withApplication((*app.Application).Download),
}

func init() {
	rootCmd.AddCommand(runCmd, harvestCmd, downloadCmd)
}

func withApplication(mode func(*app.Application, context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return logFailure(logging.New(bootLevel()), "load config", err)
		}
		logger := logging.New(cfg.Logging.Level)

		ctx := cmd.Context()
		application, err := app.New(ctx, cfg, logger)
		if err != nil {
			return logFailure(logger, "application setup failed", err)
		}
		defer func() {
			if err := application.Close(); err != nil {
				logger.Warn("close snapshot store", "error", err)
			}
		}()

		if err := mode(application, ctx); err != nil {
			return logFailure(logger, "application stopped", err)
		}
		return nil
	}
}

func logFailure(logger *slog.Logger, msg string, err error) error {
	logger.Error(msg, "error", err)
	return &loggedError{err: err}
}

// bootLevel is the log level used before a config is available.
func bootLevel() string {
	if flagValues.logLevel != "" {
		return flagValues.logLevel
	}
	return "info"
}
