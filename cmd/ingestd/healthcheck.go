package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perpingest/internal/infrastructure/db"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "One-shot readiness probe against storage",
	RunE:  runHealthcheck,
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAppConfig()
	if err != nil {
		return err
	}

	dbm, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("ingestd: healthcheck: database unreachable: %w", err)
	}
	defer dbm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbm.Ping(ctx); err != nil {
		return fmt.Errorf("ingestd: healthcheck: ping failed: %w", err)
	}

	log.Info().Interface("pool_stats", dbm.Stats()).Msg("storage reachable")
	fmt.Println("ok")
	return nil
}
