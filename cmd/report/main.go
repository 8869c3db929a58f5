// Command report prints the current library metrics: a human-readable
// summary by default, or the Prometheus textfile form with --prometheus
// (suitable for the node_exporter textfile collector).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"success-library/internal/blacklist"
	"success-library/internal/metrics"
	"success-library/internal/reporting"
	pgstore "success-library/internal/storage/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("report: .env not loaded: %v", err)
	}

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	prometheus := flag.Bool("prometheus", false, "Emit Prometheus textfile format")
	outPath := flag.String("out", "", "Output file (default stdout)")
	flag.Parse()

	if *postgresDSN == "" {
		log.Fatal("report: -postgres-dsn or POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *postgresDSN, *outPath, *prometheus); err != nil {
		log.Fatalf("report: %v", err)
	}
}

func run(ctx context.Context, dsn, outPath string, prometheus bool) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := pgstore.NewStoryStore(pool)

	// One-shot run: no lookups have happened in this process, so the hit
	// rate reads 0. The long-running server reports the live rate.
	oracle := blacklist.NewOracle(store, nil)
	aggregator := metrics.NewAggregator(store, oracle)

	snap, err := aggregator.Snapshot(ctx)
	if err != nil {
		return err
	}

	var rendered string
	if prometheus {
		rendered = reporting.RenderPrometheus(snap)
	} else {
		rendered = reporting.RenderText(snap, time.Now())
	}

	if outPath == "" {
		fmt.Print(rendered)
		return nil
	}

	// Write-then-rename so the textfile collector never reads a partial
	// file.
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
