package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const timePrecision = time.Millisecond

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var showContext bool

	cmd := &cobra.Command{
		Use:   "query <prompt>",
		Short: "Answer a prompt against the ingested corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, err := buildExecutor(flags)
			if err != nil {
				return err
			}

			result, err := executor.Query(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Answer)
			if showContext {
				fmt.Fprintf(out, "\ncontext (%d chunks):\n", len(result.Chunks))
				for i, sc := range result.Chunks {
					fmt.Fprintf(out, "  %d. [%.3f] %s\n", i+1, sc.Score, truncate(sc.Chunk.Text, 120))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the retrieved context alongside the answer")
	return cmd
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
