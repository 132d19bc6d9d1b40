package main

import (
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/app"
	"github.com/mohammad-safakhou/marketbrain/internal/retrieval"
	"github.com/spf13/cobra"
)

func searchCMD(cfgPath *string) *cobra.Command {
	var tenant, conversation string
	var limit int
	var rerank, multi bool

	var search = &cobra.Command{
		Use:   "search <query>",
		Short: "Query the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			cfg := config.LoadConfig(*cfgPath)
			a, err := app.Build(cmd.Context(), cfg, app.Options{ServiceName: "marketbrain-cli"})
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if multi {
				out, err := a.MultiQuery.Search(cmd.Context(), retrieval.MultiQueryRequest{
					Query:          query,
					TenantID:       tenant,
					ConversationID: conversation,
					MaxResults:     limit,
					Rerank:         rerank,
				})
				if err != nil {
					return err
				}
				return enc.Encode(out)
			}
			results, err := a.Engine.Search(cmd.Context(), retrieval.Request{
				Query:          query,
				TenantID:       tenant,
				ConversationID: conversation,
				Limit:          limit,
				Rerank:         rerank,
			})
			if err != nil {
				return err
			}
			return enc.Encode(results)
		},
	}
	search.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	search.Flags().StringVar(&conversation, "conversation", "", "restrict user documents to a conversation")
	search.Flags().IntVar(&limit, "limit", 0, "maximum results (0 uses the configured default)")
	search.Flags().BoolVar(&rerank, "rerank", false, "rerank candidates with the language model")
	search.Flags().BoolVar(&multi, "multi", false, "decompose the query and merge sub-query results")
	return search
}
