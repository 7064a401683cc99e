package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/voicelink/internal/handler"
)

func newServeCmd() *cobra.Command {
	var autoConnect bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface for the voice widget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			ctrl := newController(cfg, logger, reg)
			defer ctrl.Close()

			if autoConnect {
				if err := ctrl.Connect(cfg.Voice.Address); err != nil {
					logger.Warn().Err(err).Msg("auto connect failed")
				}
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler.NewRouter(ctrl, reg, logger),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			logger.Info().
				Str("addr", cfg.Server.Addr).
				Str("peer", cfg.Voice.Address).
				Str("mode", string(cfg.Voice.Recorder.Mode)).
				Msg("voicelink listening")
			return runServer(ctx, srv, logger)
		},
	}

	cmd.Flags().BoolVar(&autoConnect, "connect", false, "connect to VOICE_WS_URL on startup")
	return cmd
}

func runServer(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
