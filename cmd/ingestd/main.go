// Command ingestd is the perpetual-futures ingestion pipeline's single
// binary: it backfills REST history, runs durable WebSocket collectors,
// and keeps the derived-metrics engine on a fixed cadence (C9).
//
// Grounded on the teacher's src/cmd/cryptorun single-cobra-root-with-
// verb-subcommands shape (init()-registered flags, rootCmd.Execute() in
// main).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "Multi-exchange perpetual-futures market-data ingestion pipeline",
	Long: `ingestd continuously ingests OHLCV, open interest, funding rate,
long/short ratio, taker volume, liquidations, and RSI from Binance, Bybit,
and OKX perpetual markets, normalizes every sample to a 1-minute grid, and
writes it to a unified Postgres/TimescaleDB store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/pipeline.yaml", "path to pipeline YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "validate configuration and exit without starting any feed")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}
}
