// Package main runs the catalog-sync scheduler: it owns the upkeep tick
// that starts due synchronizers and advances running stage chains.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/datosgobar/catalog-sync/internal/activities"
	"github.com/datosgobar/catalog-sync/internal/config"
	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
	"github.com/datosgobar/catalog-sync/internal/ingest"
	"github.com/datosgobar/catalog-sync/internal/pipeline"
	"github.com/datosgobar/catalog-sync/internal/queue"
)

func main() {
	seed := flag.Bool("seed", false, "create the default read stage chain and daily synchronizer")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := database.NewClient(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()
	q := queue.NewTemporalQueue(c, cfg.TemporalNamespace)

	// The scheduler registers the same callables as the workers: stages are
	// validated against this set, even though execution happens remotely.
	fetcher := ingest.NewHTTPFetcher(cfg.RequestTimeout, cfg.DownloadRateLimit, cfg.DownloadRateBurst)
	loader := ingest.NewLoader(db, db, filestore.NewMemStore(), fetcher, ingest.Blacklists{
		Catalog:      cfg.CatalogBlacklist,
		Dataset:      cfg.DatasetBlacklist,
		Distribution: cfg.DistributionBlacklist,
		Field:        cfg.FieldBlacklist,
	})
	reader := ingest.NewReader(db, db, loader, fetcher)
	acts := activities.New(reader, db, db)

	registry := pipeline.NewRegistry()
	if err := acts.RegisterPipeline(registry); err != nil {
		log.Fatalf("Failed to register callables: %v", err)
	}
	runner := pipeline.NewRunner(db, q, registry, cfg.Lanes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *seed {
		if err := seedDefaults(ctx, db, runner); err != nil {
			log.Fatalf("Failed to seed defaults: %v", err)
		}
	}

	log.Printf("Starting upkeep loop: interval=%s lanes=%v", cfg.UpkeepInterval, cfg.Lanes)
	ticker := time.NewTicker(cfg.UpkeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Print("Shutting down")
			return
		case <-ticker.C:
			if err := runner.Upkeep(ctx); err != nil {
				log.Printf("Upkeep failed: %v", err)
			}
		}
	}
}

// seedDefaults creates the standard two-stage read chain and a daily
// synchronizer over it. Safe to run repeatedly; everything upserts by name.
func seedDefaults(ctx context.Context, db *database.Client, runner *pipeline.Runner) error {
	closeStage, err := runner.SaveStage(ctx, &database.Stage{
		Name:        "close-read-tasks",
		CallableRef: activities.CallableClose,
		Queue:       "default",
		TaskType:    activities.TaskTypeRead,
	})
	if err != nil {
		return err
	}

	readStage, err := runner.SaveStage(ctx, &database.Stage{
		Name:        "read-catalogs",
		CallableRef: activities.CallableRead,
		Queue:       "indexing",
		TaskType:    activities.TaskTypeRead,
		NextStageID: sql.NullString{String: closeStage.ID, Valid: true},
	})
	if err != nil {
		return err
	}

	existing, err := db.ListSynchronizers(ctx, nil)
	if err != nil {
		return err
	}
	for _, syn := range existing {
		if syn.Name == "daily-sync" {
			return nil
		}
	}

	_, err = db.SaveSynchronizer(ctx, &database.Synchronizer{
		Name:          "daily-sync",
		StartStageID:  readStage.ID,
		Frequency:     database.FrequencyDaily,
		ScheduledTime: "03:00",
	})
	if err == nil {
		log.Print("Seeded default stages and daily synchronizer")
	}
	return err
}
