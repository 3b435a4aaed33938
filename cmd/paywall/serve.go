package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/nightstudio/paywall/internal/app"
	"github.com/nightstudio/paywall/internal/app/httpapi"
	"github.com/nightstudio/paywall/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Warn("close backends")
		}
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	router := httpapi.NewHandler(application, logging.New("paywall", cfg.Logging.Level, cfg.Logging.Format))
	go router.Limiter.RunCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			_ = application.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := application.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	return errors.Join(errs...)
}
