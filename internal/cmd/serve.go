package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/recourse/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the complaint resolution HTTP API",
	Long: `Serve starts the HTTP API for complaint intake and case inspection:

  POST /v1/cases                           submit a complaint for resolution
  GET  /v1/cases/{caseID}/audit            signed audit record for a case
  GET  /v1/customers/{customerID}/memory   customer case history
  GET  /healthz                            health and component status

A background job purges expired case memory on the configured retention
schedule. Shut down with SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.NewServer(rt.pipeline,
		server.WithMemoryStore(rt.memory),
		server.WithAuditStore(rt.audit),
		server.WithRateLimit(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst),
	)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(rt.cfg.RetentionSchedule, func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		purged, err := rt.memory.PurgeExpired(purgeCtx, rt.cfg.RetentionDays)
		if err != nil {
			log.Error().Err(err).Msg("retention purge failed")
			return
		}
		if purged > 0 {
			log.Info().Int64("purged_cases", purged).Msg("retention purge completed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention purge (%q): %w", rt.cfg.RetentionSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpSrv := &http.Server{
		Addr:    rt.cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", rt.cfg.ListenAddr).
			Str("version", resolvedVersion()).
			Msg("recourse API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
