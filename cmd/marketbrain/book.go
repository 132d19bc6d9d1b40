package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/app"
	"github.com/mohammad-safakhou/marketbrain/internal/booklearning"
	"github.com/spf13/cobra"
)

func bookCMD(cfgPath *string) *cobra.Command {
	var bookCmd = &cobra.Command{
		Use:   "book",
		Short: "Learn books and inspect their progress",
	}

	var tenant, title, author string
	var learn = &cobra.Command{
		Use:   "learn <file>",
		Short: "Run the learning pipeline on a book in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant required")
			}
			path := args[0]
			ext := filepath.Ext(path)
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), ext)
			}
			cfg := config.LoadConfig(*cfgPath)
			a, err := app.Build(cmd.Context(), cfg, app.Options{ServiceName: "marketbrain-cli"})
			if err != nil {
				return err
			}
			defer a.Close()
			book, err := a.Pipeline.ProcessBook(cmd.Context(), booklearning.BookInput{
				TenantID: tenant,
				Title:    title,
				Author:   author,
				FilePath: path,
				FileType: ext,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "book %s %s\n", book.ID, book.Status)
			return nil
		},
	}
	learn.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	learn.Flags().StringVar(&title, "title", "", "book title (default is the file name)")
	learn.Flags().StringVar(&author, "author", "", "book author")

	var statusTenant string
	var status = &cobra.Command{
		Use:   "status <id>",
		Short: "Show the progress of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusTenant == "" {
				return fmt.Errorf("--tenant required")
			}
			cfg := config.LoadConfig(*cfgPath)
			a, err := app.Build(cmd.Context(), cfg, app.Options{ServiceName: "marketbrain-cli"})
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Pipeline.Status(cmd.Context(), statusTenant, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	status.Flags().StringVar(&statusTenant, "tenant", "", "tenant id")

	bookCmd.AddCommand(learn, status)
	return bookCmd
}
