package main

import (
	"github.com/mohammad-safakhou/marketbrain/config"
	srv "github.com/mohammad-safakhou/marketbrain/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return srv.Run(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	return serve
}
