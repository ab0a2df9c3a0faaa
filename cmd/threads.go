package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseprobe/discovery-cli/internal/pipeline"
)

var threadsProject string

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Rebuild conversation threads over the stored corpus",
	Long:  "Re-runs thread reconstruction across all stored messages, optionally scoped to one project. Prior thread links are replaced; message records are never modified.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("threads"); err != nil {
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
		stats, err := p.RunThreadPass(ctx, uuid.NewString(), threadsProject)
		if err != nil {
			return eris.Wrap(err, "threads")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	threadsCmd.Flags().StringVar(&threadsProject, "project", "", "restrict the pass to one project's messages")
	rootCmd.AddCommand(threadsCmd)
}
