package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/perpingest/internal/config"
	applog "github.com/sawpanic/perpingest/internal/log"
	"github.com/sawpanic/perpingest/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full C9 lifecycle: backfill once, then collectors + metrics engine forever",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAppConfig()
	if err != nil {
		return err
	}
	if dryRun {
		log.Info().Msg("dry-run: configuration valid, exiting without starting any feed")
		return nil
	}

	// §5 "Implementation idiom": the root context is cancelled on SIGINT/
	// SIGTERM, driving every component's graceful shutdown uniformly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	app.snk.Heartbeat(ctx, "all", "ingestd", sink.StatusStarted, "process started")
	// best-effort: report a stopped heartbeat on every exit path, §5.
	defer app.snk.Heartbeat(context.Background(), "all", "ingestd", sink.StatusStopped, "process exiting")

	srvErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", app.srv.Addr).Msg("operational HTTP surface listening")
		if err := app.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErrs <- err
		}
	}()

	o := app.buildOrchestrator()
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	select {
	case err := <-runErr:
		_ = app.srv.Shutdown(context.Background())
		return err
	case err := <-srvErrs:
		log.Error().Err(err).Msg("operational HTTP surface failed")
		<-ctx.Done()
		return <-runErr
	case <-ctx.Done():
		err := <-runErr
		_ = app.srv.Shutdown(context.Background())
		return err
	}
}

// loadAppConfig loads config/pipeline.yaml (or --config) and initializes
// the process-wide zerolog logger from it, applying the --log-level
// override if set.
func loadAppConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, zerolog.Logger{}, fmt.Errorf("ingestd: load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return cfg, applog.Init(level, cfg.Log.Production), nil
}
