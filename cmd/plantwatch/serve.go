package main

import (
	"os/signal"
	"syscall"

	"github.com/Sternrassler/plantwatch/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, closeDB, err := a.newServer()
			if err != nil {
				return err
			}
			defer closeDB()

			logger.Info().
				Str("addr", cfg.Server.Addr).
				Str("upstream", cfg.Upstream.BaseURL).
				Str("cache_backend", cfg.Cache.Backend).
				Str("timezone", a.location.String()).
				Bool("prefetch", cfg.PrefetchEnabled()).
				Msg("plantwatch starting")

			return srv.ListenAndServe(ctx, server.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides config")
	return cmd
}
