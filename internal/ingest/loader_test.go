package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/datosgobar/catalog-sync/internal/catalog"
	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, verifySSL bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return data, nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func parseDoc(t *testing.T, raw string) *catalog.Document {
	t.Helper()
	doc, err := catalog.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}
	return doc
}

func testBlacklists() Blacklists {
	return Blacklists{
		Catalog: []string{"themeTaxonomy"},
		Field:   []string{"scrapingDataStartCell"},
	}
}

const fullDocument = `{
	"identifier": "cat1",
	"title": "Catalog",
	"themeTaxonomy": [{"id": "t1"}],
	"dataset": [
		{
			"identifier": "ds1",
			"title": "Dataset One",
			"distribution": [
				{
					"identifier": "dist1",
					"title": "Distribution One",
					"downloadURL": "http://example.com/one.csv",
					"field": [{"id": "f1", "title": "col_a"}]
				}
			]
		},
		{
			"identifier": "ds2",
			"title": "Dataset Two"
		}
	]
}`

func newTestLoader(store *MemStore, fetcher Fetcher) *Loader {
	return NewLoader(store, store, filestore.NewMemStore(), fetcher, testBlacklists())
}

// =============================================================================
// RECONCILIATION WALK
// =============================================================================

func TestFirstRunCreatesTree(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("a,b\n1,2\n")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	cat, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !cat.New || !cat.Updated || !cat.Present {
		t.Errorf("new catalog should be new, updated and present: %+v", cat)
	}
	if cat.Title != "Catalog" {
		t.Errorf("unexpected catalog title: %s", cat.Title)
	}
	if strings.Contains(string(cat.Metadata), "themeTaxonomy") {
		t.Error("blacklisted catalog field was stored")
	}
	if strings.Contains(string(cat.Metadata), `"dataset"`) {
		t.Error("child collection was stored in catalog metadata")
	}

	ds, err := store.GetDataset(ctx, cat.ID, "ds1")
	if err != nil || ds == nil {
		t.Fatalf("dataset not stored: %v", err)
	}
	if !ds.New || !ds.Updated || !ds.Present || !ds.Indexable {
		t.Errorf("new dataset flags wrong: %+v", ds)
	}
	if ds.Reviewed != database.NotReviewed {
		t.Errorf("new dataset should be NOT_REVIEWED, got %s", ds.Reviewed)
	}

	dist, err := store.GetDistribution(ctx, ds.ID, "dist1")
	if err != nil || dist == nil {
		t.Fatalf("distribution not stored: %v", err)
	}
	if dist.DataHash == "" || !dist.LastUpdated.Valid {
		t.Errorf("distribution data was not synced: %+v", dist)
	}

	fields := store.Fields(dist.ID)
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if !fields[0].New || !fields[0].Updated {
		t.Errorf("new field flags wrong: %+v", fields[0])
	}
}

func TestSecondRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("a,b\n1,2\n")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	cat, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if cat.New || cat.Updated {
		t.Errorf("unchanged catalog should not be new or updated: %+v", cat)
	}
	if !cat.Present {
		t.Error("catalog should stay present")
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	if ds.Updated || ds.New {
		t.Errorf("unchanged dataset should not be updated: %+v", ds)
	}
	if !ds.Present {
		t.Error("dataset should stay present")
	}

	dist, _ := store.GetDistribution(ctx, ds.ID, "dist1")
	if dist.Updated {
		t.Errorf("unchanged distribution should not be updated: %+v", dist)
	}
}

func TestMetadataChangePropagatesUpward(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("a,b\n1,2\n")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	changed := strings.Replace(fullDocument, `"title": "col_a"`, `"title": "col_a", "type": "string"`, 1)
	cat, err := loader.Run(ctx, parseDoc(t, changed), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !cat.Updated {
		t.Error("field change should mark the catalog updated")
	}
	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	if !ds.Updated {
		t.Error("field change should mark the dataset updated")
	}
	dist, _ := store.GetDistribution(ctx, ds.ID, "dist1")
	if !dist.Updated {
		t.Error("field change should mark the distribution updated")
	}

	// The sibling dataset saw no change.
	ds2, _ := store.GetDataset(ctx, cat.ID, "ds2")
	if ds2.Updated {
		t.Error("unchanged sibling dataset should not be updated")
	}
}

func TestMissingDatasetLosesPresenceAndIndexability(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("a,b\n1,2\n")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	withoutDs2 := `{
		"identifier": "cat1",
		"title": "Catalog",
		"dataset": [{"identifier": "ds1", "title": "Dataset One"}]
	}`
	cat, err := loader.Run(ctx, parseDoc(t, withoutDs2), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	ds2, _ := store.GetDataset(ctx, cat.ID, "ds2")
	if ds2 == nil {
		t.Fatal("missing dataset should not be deleted")
	}
	if ds2.Present {
		t.Error("missing dataset should lose presence")
	}
	if ds2.Indexable {
		t.Error("missing dataset should leave the allow-list")
	}

	ds1, _ := store.GetDataset(ctx, cat.ID, "ds1")
	if !ds1.Present {
		t.Error("present dataset should keep presence")
	}
}

func TestDistributionFaultIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.errs["http://example.com/bad.csv"] = fmt.Errorf("connection refused")
	fetcher.responses["http://example.com/good.csv"] = []byte("ok")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	doc := `{
		"identifier": "cat1",
		"title": "Catalog",
		"dataset": [{
			"identifier": "ds1",
			"title": "Dataset",
			"distribution": [
				{
					"identifier": "bad",
					"downloadURL": "http://example.com/bad.csv",
					"field": [{"title": "col_a"}]
				},
				{"identifier": "good", "downloadURL": "http://example.com/good.csv"}
			]
		}]
	}`

	task := &database.Task{ID: "t1", Mode: database.ModeComplete}
	cat, err := loader.Run(ctx, parseDoc(t, doc), "cat1", task, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	bad, _ := store.GetDistribution(ctx, ds.ID, "bad")
	if !bad.Error || bad.ErrorMsg == "" {
		t.Errorf("failed distribution should carry the error: %+v", bad)
	}
	if bad.DataHash != "" {
		t.Errorf("failed download should not set a hash: %+v", bad)
	}

	// The failure does not abort the failing distribution's fields nor
	// its sibling.
	if fields := store.Fields(bad.ID); len(fields) != 1 {
		t.Errorf("expected 1 field under failed distribution, got %d", len(fields))
	}
	good, _ := store.GetDistribution(ctx, ds.ID, "good")
	if good.Error || good.DataHash == "" {
		t.Errorf("sibling distribution should have synced: %+v", good)
	}

	logs := store.TaskLogs("t1")
	if len(logs) == 0 {
		t.Fatal("download failure should be logged against the task")
	}
	if !strings.Contains(logs[0], "connection refused") {
		t.Errorf("log should carry the cause, got %q", logs[0])
	}
}

func TestMissingDownloadURLFlagsErrorButContinues(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	loader := newTestLoader(store, newStubFetcher())
	loader.DefaultIndexable = true

	doc := `{
		"identifier": "cat1",
		"title": "Catalog",
		"dataset": [{
			"identifier": "ds1",
			"distribution": [{
				"identifier": "dist1",
				"field": [{"title": "col_a"}]
			}]
		}]
	}`

	cat, err := loader.Run(ctx, parseDoc(t, doc), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	dist, _ := store.GetDistribution(ctx, ds.ID, "dist1")
	if !dist.Error {
		t.Error("distribution without downloadURL should be flagged")
	}
	if fields := store.Fields(dist.ID); len(fields) != 1 {
		t.Errorf("fields should still be processed, got %d", len(fields))
	}
}

// =============================================================================
// DATA SYNC
// =============================================================================

func TestDataChangeMarksDistributionUpdated(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("v1")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	fetcher.responses["http://example.com/one.csv"] = []byte("v2")
	cat, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	dist, _ := store.GetDistribution(ctx, ds.ID, "dist1")
	if !dist.Updated {
		t.Error("content change should mark the distribution updated")
	}
	if dist.DataHash != HashBytes([]byte("v2")) {
		t.Errorf("hash should track new content, got %s", dist.DataHash)
	}
	if !cat.Updated {
		t.Error("content change should propagate to the catalog")
	}
}

func TestNonIndexableDatasetSkipsDownload(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("data")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = false

	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := fetcher.callCount("http://example.com/one.csv"); n != 0 {
		t.Errorf("non-indexable dataset should not download, got %d fetches", n)
	}
}

func TestMetadataOnlyModeSkipsDownload(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	fetcher := newStubFetcher()
	fetcher.responses["http://example.com/one.csv"] = []byte("data")
	loader := newTestLoader(store, fetcher)
	loader.DefaultIndexable = true

	task := &database.Task{ID: "t1", Mode: database.ModeMetadataOnly}
	if _, err := loader.Run(ctx, parseDoc(t, fullDocument), "cat1", task, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := fetcher.callCount("http://example.com/one.csv"); n != 0 {
		t.Errorf("metadata-only run should not download, got %d fetches", n)
	}
}

// =============================================================================
// REVIEW STATUS
// =============================================================================

func TestUpdateResetsFinishedReview(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	loader := newTestLoader(store, newStubFetcher())

	doc := `{"identifier": "cat1", "dataset": [{"identifier": "ds1", "title": "Old"}]}`
	cat, err := loader.Run(ctx, parseDoc(t, doc), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	ds.Reviewed = database.Reviewed
	if _, err := store.SaveDataset(ctx, ds); err != nil {
		t.Fatalf("failed to mark reviewed: %v", err)
	}

	changed := `{"identifier": "cat1", "dataset": [{"identifier": "ds1", "title": "New"}]}`
	if _, err := loader.Run(ctx, parseDoc(t, changed), "cat1", nil, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	ds, _ = store.GetDataset(ctx, cat.ID, "ds1")
	if ds.Reviewed != database.NotReviewed {
		t.Errorf("updated dataset should drop to NOT_REVIEWED, got %s", ds.Reviewed)
	}
}

func TestUpdateKeepsReviewInProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	loader := newTestLoader(store, newStubFetcher())

	doc := `{"identifier": "cat1", "dataset": [{"identifier": "ds1", "title": "Old"}]}`
	cat, err := loader.Run(ctx, parseDoc(t, doc), "cat1", nil, nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	ds, _ := store.GetDataset(ctx, cat.ID, "ds1")
	ds.Reviewed = database.OnRevision
	if _, err := store.SaveDataset(ctx, ds); err != nil {
		t.Fatalf("failed to mark on revision: %v", err)
	}

	changed := `{"identifier": "cat1", "dataset": [{"identifier": "ds1", "title": "New"}]}`
	if _, err := loader.Run(ctx, parseDoc(t, changed), "cat1", nil, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	ds, _ = store.GetDataset(ctx, cat.ID, "ds1")
	if ds.Reviewed != database.OnRevision {
		t.Errorf("review in progress should survive updates, got %s", ds.Reviewed)
	}
}
