package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/datosgobar/catalog-sync/internal/catalog"
	"github.com/datosgobar/catalog-sync/internal/database"
)

// Reader drives one full node read: fetch the catalog document, parse it and
// hand it to the loader. A fetch or parse failure is fatal for the node only;
// the catalog row is flagged and its children's flags are left untouched so
// the last good state remains queryable.
type Reader struct {
	store   Store
	tasks   TaskLog
	loader  *Loader
	fetcher Fetcher
}

// NewReader wires a reader over the given loader.
func NewReader(store Store, tasks TaskLog, loader *Loader, fetcher Fetcher) *Reader {
	return &Reader{store: store, tasks: tasks, loader: loader, fetcher: fetcher}
}

// ReadNode fetches, parses and reconciles one source node's catalog.
func (r *Reader) ReadNode(ctx context.Context, node *database.Node, task *database.Task) error {
	raw, err := r.fetcher.Fetch(ctx, node.CatalogURL, node.VerifySSL)
	if err != nil {
		return r.failNode(ctx, node, task, fmt.Errorf("failed to fetch catalog: %w", err))
	}

	doc, err := catalog.Parse(raw)
	if err != nil {
		return r.failNode(ctx, node, task, fmt.Errorf("failed to parse catalog: %w", err))
	}

	if _, err := r.loader.Run(ctx, doc, node.CatalogID, task, node); err != nil {
		return r.failNode(ctx, node, task, err)
	}
	return nil
}

func (r *Reader) failNode(ctx context.Context, node *database.Node, task *database.Task, cause error) error {
	if task != nil && r.tasks != nil {
		msg := fmt.Sprintf("error reading node %s: %v", node.CatalogID, cause)
		if err := r.tasks.AppendTaskLog(ctx, task.ID, msg); err != nil {
			log.Printf("failed to append task log: %v", err)
		}
	}
	if err := r.store.MarkCatalogError(ctx, node.CatalogID, cause.Error()); err != nil {
		log.Printf("failed to flag catalog %s: %v", node.CatalogID, err)
	}
	return cause
}
