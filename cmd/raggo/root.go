package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ragworks/raggo/internal/config"
	"github.com/ragworks/raggo/internal/logger"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "raggo",
		Short:         "Raggo runs plugin-based RAG pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", ".ragrc.json", "Path to the pipeline configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newIngestCmd(flags))
	cmd.AddCommand(newQueryCmd(flags))
	cmd.AddCommand(newPluginsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads, normalizes, and validates the configuration file.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	data, err := os.ReadFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	raw, err := config.Decode(data)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from flags and config.
func newLogger(flags *rootFlags, cfg *config.Config) (*logger.Logger, error) {
	level := cfg.Observability.Logging.Level
	if flags.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{
		Level:      level,
		Structured: cfg.Observability.Logging.Structured,
	})
}
