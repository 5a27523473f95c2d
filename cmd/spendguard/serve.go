package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpiface "github.com/spendguard/spendguard/internal/interfaces/http"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long:  "Serve the analyze/recommend/execute operations, /health, and /metrics over HTTP.",
		RunE:  runServe,
	}
	cmd.Flags().String("fixture", "", "YAML fixture file to serve instead of the warehouse (offline mode)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	fixture, _ := cmd.Flags().GetString("fixture")
	core, cfg, cleanup, err := buildCore(cmd, fixture)
	if err != nil {
		return err
	}
	defer cleanup()

	serverCfg := httpiface.DefaultServerConfig()
	if cfg.HTTP.Host != "" {
		serverCfg.Host = cfg.HTTP.Host
	}
	if cfg.HTTP.Port != 0 {
		serverCfg.Port = cfg.HTTP.Port
	}
	server := httpiface.NewServer(core, serverCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
