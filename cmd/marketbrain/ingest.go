package main

import (
	"fmt"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/app"
	"github.com/mohammad-safakhou/marketbrain/internal/ingest"
	"github.com/spf13/cobra"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Load knowledge into the vector store",
	}

	var opts ingest.TranscriptOptions
	var transcripts = &cobra.Command{
		Use:   "transcripts <dir>",
		Short: "Chunk, embed and store every .txt transcript in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			a, err := app.Build(cmd.Context(), cfg, app.Options{ServiceName: "marketbrain-cli"})
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Transcripts.IngestDir(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "files=%d chunks=%d inserted=%d skipped=%d\n",
				report.Files, report.Chunks, report.Inserted, len(report.Skipped))
			return nil
		},
	}
	transcripts.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id (empty stores shared knowledge)")
	transcripts.Flags().StringVar(&opts.Source, "source", "youtube", "source label stored in metadata")
	transcripts.Flags().StringVar(&opts.Author, "author", "", "author stored in metadata")

	ingestCmd.AddCommand(transcripts)
	return ingestCmd
}
