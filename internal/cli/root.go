package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ReportHarvester/internal/config"
	"ReportHarvester/internal/domain"
)

// flagValues holds the persistent flags shared by every subcommand.
var flagValues struct {
	configPath string
	years      []int
	sources    []string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "reportharvester",
	Short: "Harvest CSR report announcements and download the documents",
	Long: `Queries the cninfo, SSE and SZSE disclosure services month by month for
announcements matching the configured keyword, stores one snapshot per
source and downloads every document not already published by an earlier
source.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagValues.configPath, "config", "c", "", "YAML config file (default $REPORT_HARVESTER_CONFIG)")
	flags.IntSliceVar(&flagValues.years, "years", nil, "years to harvest, e.g. 2021,2022")
	flags.StringSliceVar(&flagValues.sources, "sources", nil, "sources to enable, in configured order: cninfo,sse,szse")
	flags.StringVar(&flagValues.logLevel, "log-level", "", "debug, info, warn or error")
}

// loggedError marks an error already written to the structured log.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// Execute runs the command tree; ctx is canceled on interrupt. Usage errors
// are printed here, everything else is logged by the command.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	var logged *loggedError
	if err != nil && !errors.As(err, &logged) {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}

// loadConfig reads the config file and applies flag overrides on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagValues.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if len(flagValues.years) > 0 {
		cfg.Harvest.Years = flagValues.years
	}
	if flagValues.logLevel != "" {
		cfg.Logging.Level = flagValues.logLevel
	}
	if len(flagValues.sources) > 0 {
		ids := make([]domain.SourceID, 0, len(flagValues.sources))
		for _, name := range flagValues.sources {
			id := domain.SourceID(name)
			if !id.Valid() {
				return config.Config{}, fmt.Errorf("unknown source %q", name)
			}
			ids = append(ids, id)
		}
		if err := cfg.OnlySources(ids); err != nil {
			return config.Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
