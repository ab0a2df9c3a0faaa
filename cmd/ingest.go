package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caseprobe/discovery-cli/internal/pipeline"
)

var ingestProject string

var ingestCmd = &cobra.Command{
	Use:   "ingest <archive>",
	Short: "Ingest a mailbox archive",
	Long:  "Runs the full ingestion pipeline for one archive: a local path or an s3://bucket/key locator. The run record with final statistics is printed as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
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

		bc, err := initBlob()
		if err != nil {
			return err
		}
		gate, err := initGate()
		if err != nil {
			return err
		}

		p := pipeline.New(cfg, st, bc, initIndexer(), gate)

		run, err := p.Run(ctx, args[0], ingestProject)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.String("run_id", run.ID),
			zap.String("archive", run.ArchiveName),
			zap.String("status", string(run.Status)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProject, "project", "", "project label recorded on the run and every extracted message")
	rootCmd.AddCommand(ingestCmd)
}
