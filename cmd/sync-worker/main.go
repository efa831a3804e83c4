// Package main runs the catalog-sync Temporal worker.
package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/datosgobar/catalog-sync/internal/activities"
	"github.com/datosgobar/catalog-sync/internal/config"
	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
	"github.com/datosgobar/catalog-sync/internal/ingest"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	log.Printf("Starting sync worker: temporal=%s namespace=%s lanes=%v",
		cfg.TemporalAddress, cfg.TemporalNamespace, cfg.Lanes)

	db, err := database.NewClient(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	files, err := buildFilestore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to set up file store: %v", err)
	}

	fetcher := ingest.NewHTTPFetcher(cfg.RequestTimeout, cfg.DownloadRateLimit, cfg.DownloadRateBurst)
	loader := ingest.NewLoader(db, db, files, fetcher, ingest.Blacklists{
		Catalog:      cfg.CatalogBlacklist,
		Dataset:      cfg.DatasetBlacklist,
		Distribution: cfg.DistributionBlacklist,
		Field:        cfg.FieldBlacklist,
	})
	loader.DownloadData = cfg.DownloadResources
	reader := ingest.NewReader(db, db, loader, fetcher)
	acts := activities.New(reader, db, db)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	if len(cfg.Lanes) == 0 {
		log.Fatal("at least one lane is required")
	}

	// One worker per configured lane: workflows are registered under their
	// callable names so the scheduler can start them by reference.
	var workers []worker.Worker
	for _, lane := range cfg.Lanes {
		w := worker.New(c, lane, worker.Options{})
		w.RegisterWorkflowWithOptions(activities.ReadCatalogsWorkflow,
			workflow.RegisterOptions{Name: activities.CallableRead})
		w.RegisterWorkflowWithOptions(activities.CloseReadTasksWorkflow,
			workflow.RegisterOptions{Name: activities.CallableClose})
		w.RegisterActivity(acts.ReadCatalogs)
		w.RegisterActivity(acts.CloseReadTasks)
		workers = append(workers, w)
	}

	for _, w := range workers[:len(workers)-1] {
		if err := w.Start(); err != nil {
			log.Fatalf("Worker failed to start: %v", err)
		}
	}
	if err := workers[len(workers)-1].Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func buildFilestore(ctx context.Context, cfg *config.Config) (filestore.Store, error) {
	if cfg.MinioEndpoint == "" {
		log.Print("MINIO_ENDPOINT not set, storing distribution blobs in memory")
		return filestore.NewMemStore(), nil
	}
	return filestore.NewMinioStore(ctx, filestore.MinioConfig{
		EndpointURL:     cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
		Bucket:          cfg.MinioBucket,
		UseSSL:          cfg.MinioUseSSL,
	})
}
