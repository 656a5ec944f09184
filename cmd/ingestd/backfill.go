package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/storage"
)

var (
	backfillVenue  string
	backfillMetric string
	backfillSymbol string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run a single bounded backfill unit for one venue/symbol/metric (operational reruns)",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillVenue, "venue", "", "venue to backfill: bin, byb, okx (required)")
	backfillCmd.Flags().StringVar(&backfillMetric, "metric", "ohlcv", "metric to backfill: ohlcv, oi, pfr, lsr")
	backfillCmd.Flags().StringVar(&backfillSymbol, "symbol", "", "canonical symbol to backfill; empty means every configured symbol")
	_ = backfillCmd.MarkFlagRequired("venue")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadAppConfig()
	if err != nil {
		return err
	}
	if dryRun {
		log.Info().Msg("dry-run: configuration valid, exiting without starting any feed")
		return nil
	}

	exch := model.Exchange(backfillVenue)
	valid := false
	for _, e := range model.AllExchanges {
		if e == exch {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("ingestd: unknown venue %q", backfillVenue)
	}

	app, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	if err := storage.EnsureSchema(ctx, app.dbm.DB(), cfg.Retention.Duration()); err != nil {
		return err
	}

	f := app.fetchers[exch]
	if f == nil {
		return fmt.Errorf("ingestd: venue %q not configured", backfillVenue)
	}

	symbols := cfg.Symbols
	if backfillSymbol != "" {
		symbols = []string{backfillSymbol}
	}

	for _, sym := range symbols {
		if sym == model.MarketSymbol {
			continue
		}
		log.Info().Str("venue", backfillVenue).Str("symbol", sym).Str("metric", backfillMetric).Msg("backfill started")
		if err := app.runBackfillUnit(ctx, f, exch, sym, backfillMetric); err != nil {
			return err
		}
	}
	log.Info().Msg("backfill complete")
	return nil
}
