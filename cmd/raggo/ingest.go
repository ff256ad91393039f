package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragworks/raggo/internal/pipeline"
	"github.com/ragworks/raggo/internal/plugin"
	"github.com/ragworks/raggo/internal/plugins/builtins"
)

func newIngestCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <source-path>",
		Short: "Load, chunk, embed, and store a document source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, err := buildExecutor(flags)
			if err != nil {
				return err
			}

			result, err := executor.Ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d document(s): %d chunks, %d embeddings in %s\n",
				result.Documents, result.Chunks, result.Embeddings, result.Duration.Round(timePrecision))
			return nil
		},
	}
	return cmd
}

// buildExecutor loads config, registers the builtin plugins, and wires
// the executor with its logger.
func buildExecutor(flags *rootFlags) (*pipeline.Executor, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(flags, cfg)
	if err != nil {
		return nil, err
	}

	registry := plugin.NewRegistry(log)
	if err := builtins.Register(registry); err != nil {
		return nil, err
	}
	return pipeline.New(registry, cfg, pipeline.Options{Logger: log}), nil
}
