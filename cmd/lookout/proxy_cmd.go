package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/lookout/internal/feed"
	"github.com/fentz26/lookout/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Re-serve the target's feed on another address",
	Long: `Serves the feed of --target on --listen, so a program whose feed is bound to
loopback can be watched from another machine. Every client gets its own
upstream connection.`,
	RunE: runProxy,
}

var proxyListen string

func init() {
	proxyCmd.Flags().StringVar(&proxyListen, "listen", "0.0.0.0:6670", "Listen address")
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogFile, cfg.Level())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if _, err := feed.WebSocketURL(cfg.Target); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/updates", feed.NewHandler(func() (feed.Source, error) {
		return feed.Connect(cfg.Target, feed.DefaultBackoff(), logger), nil
	}, logger))
	server := &http.Server{Addr: proxyListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Proxying %s on ws://%s/updates\n", cfg.Target, proxyListen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving proxy: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("proxy shutdown", zap.Error(err))
	}
	return nil
}
