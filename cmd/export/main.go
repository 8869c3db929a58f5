// Command export dumps the success library to stdout or a file:
// JSONL by default, or the training-feature CSV with --training.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"success-library/internal/export"
	"success-library/internal/storage"
	pgstore "success-library/internal/storage/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("export: .env not loaded: %v", err)
	}

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outPath := flag.String("out", "", "Output file (default stdout)")
	training := flag.Bool("training", false, "Write the training-feature CSV instead of JSONL")
	flag.Parse()

	if *postgresDSN == "" {
		log.Fatal("export: -postgres-dsn or POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *postgresDSN, *outPath, *training); err != nil {
		log.Fatalf("export: %v", err)
	}
}

func run(ctx context.Context, dsn, outPath string, training bool) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	var store storage.StoryStore = pgstore.NewStoryStore(pool)

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		defer f.Close()
		out = f
	}

	var count int
	if training {
		count, err = export.WriteTrainingCSV(ctx, store, out)
	} else {
		count, err = export.WriteJSONL(ctx, store, out)
	}
	if err != nil {
		return err
	}

	log.Printf("export: wrote %d stories", count)
	return nil
}
