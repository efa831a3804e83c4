package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
)

func newTestReader(store *MemStore, fetcher Fetcher) *Reader {
	loader := NewLoader(store, store, filestore.NewMemStore(), fetcher, testBlacklists())
	return NewReader(store, store, loader, fetcher)
}

func TestReadNode(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/data.json"] = []byte(fullDocument)
	reader := newTestReader(store, fetcher)

	node := &database.Node{CatalogID: "cat1", CatalogURL: "http://example.com/data.json"}
	if err := reader.ReadNode(ctx, node, nil); err != nil {
		t.Fatalf("ReadNode failed: %v", err)
	}

	cat, err := store.GetCatalog(ctx, "cat1")
	if err != nil || cat == nil {
		t.Fatalf("catalog not stored: %v", err)
	}
	if cat.Error || !cat.Present {
		t.Errorf("successful read should leave a clean catalog: %+v", cat)
	}
}

func TestReadNodeFetchFailureFlagsCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/data.json"] = []byte(fullDocument)
	reader := newTestReader(store, fetcher)

	node := &database.Node{CatalogID: "cat1", CatalogURL: "http://example.com/data.json"}
	if err := reader.ReadNode(ctx, node, nil); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	fetcher.errs["http://example.com/data.json"] = fmt.Errorf("portal is down")
	task := &database.Task{ID: "t1"}
	if err := reader.ReadNode(ctx, node, task); err == nil {
		t.Fatal("expected error from failed fetch")
	}

	cat, _ := store.GetCatalog(ctx, "cat1")
	if !cat.Error || cat.Present {
		t.Errorf("failed read should flag the catalog: %+v", cat)
	}

	// Children keep their last good state; the fatal path never touched them.
	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	if ds == nil || !ds.Present {
		t.Errorf("children should keep their last good state: %+v", ds)
	}

	if logs := store.TaskLogs("t1"); len(logs) == 0 {
		t.Error("failed read should be logged against the task")
	}
}

func TestReadNodeParseFailureFlagsCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/data.json"] = []byte("<html>not json</html>")
	reader := newTestReader(store, fetcher)

	node := &database.Node{CatalogID: "cat1", CatalogURL: "http://example.com/data.json"}
	if err := reader.ReadNode(ctx, node, nil); err == nil {
		t.Fatal("expected error from unparsable document")
	}

	// No prior catalog row exists, so there is nothing to flag; the error
	// alone reports the failure.
	cat, _ := store.GetCatalog(ctx, "cat1")
	if cat != nil {
		t.Errorf("no catalog row should be created on a failed first read: %+v", cat)
	}
}
