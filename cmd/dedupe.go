package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseprobe/discovery-cli/internal/pipeline"
)

var dedupeProject string

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Re-run duplicate detection over the stored corpus",
	Long:  "Clears prior duplicate flags and re-runs the tiered deduplication pass, optionally scoped to one project. Losers are flagged, never deleted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("dedupe"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p := pipeline.New(cfg, st, nil, nil, nil)
		stats, err := p.RunDedupePass(ctx, uuid.NewString(), dedupeProject)
		if err != nil {
			return eris.Wrap(err, "dedupe")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupeProject, "project", "", "restrict the pass to one project's messages")
	rootCmd.AddCommand(dedupeCmd)
}
