package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger server",
		Long: `Serve a small HTTP API so a scheduler can trigger sync passes and a
chat bridge can deliver replies:

  POST /v1/sync    trigger a pass (409 if one is running)
  POST /v1/reply   resolve an inbound reply
  GET  /v1/status  last pass summary

Mutating endpoints require the X-Balance-Token header to match
server.token from the configuration.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default :8484)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed localhost certificate")
	_ = viper.BindPFlag("server.tls", cmd.Flags().Lookup("tls"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	eng, store, err := initEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tlsDir := ""
	if viper.GetBool("server.tls") {
		tlsDir = config.ExpandPath("$HOME/.local/share/balance/certs")
	}

	srv := server.New(eng, server.Config{
		Addr:        viper.GetString("server.addr"),
		SharedToken: viper.GetString("server.token"),
		TLSDir:      tlsDir,
	}, logger)

	return srv.Run(ctx)
}
