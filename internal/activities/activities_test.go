package activities

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
	"github.com/datosgobar/catalog-sync/internal/ingest"
	"github.com/datosgobar/catalog-sync/internal/pipeline"
)

// =============================================================================
// MOCK TYPES
// =============================================================================

type stubNodes struct {
	nodes []*database.Node
}

func (s *stubNodes) GetNode(ctx context.Context, catalogID string) (*database.Node, error) {
	for _, n := range s.nodes {
		if n.CatalogID == catalogID {
			return n, nil
		}
	}
	return nil, nil
}

func (s *stubNodes) ListIndexableNodes(ctx context.Context) ([]*database.Node, error) {
	var out []*database.Node
	for _, n := range s.nodes {
		if n.Indexable {
			out = append(out, n)
		}
	}
	return out, nil
}

type stubTasks struct {
	mu            sync.Mutex
	tasks         map[string]*database.Task
	finishedTypes []string
}

func newStubTasks() *stubTasks {
	return &stubTasks{tasks: make(map[string]*database.Task)}
}

func (s *stubTasks) GetTask(ctx context.Context, id string) (*database.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id], nil
}

func (s *stubTasks) FinishRunningTasks(ctx context.Context, taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedTypes = append(s.finishedTypes, taskType)
	return nil
}

func (s *stubTasks) AppendTaskLog(ctx context.Context, id, msg string) error {
	return nil
}

type stubFetcher struct {
	responses map[string][]byte
	errs      map[string]error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, verifySSL bool) ([]byte, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return data, nil
}

func catalogDocument(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"identifier": %q,
		"title": "Catalog %s",
		"dataset": [{"identifier": "ds1", "title": "Dataset"}]
	}`, id, id))
}

func newTestActivities(nodes []*database.Node, fetcher ingest.Fetcher) (*Activities, *ingest.MemStore, *stubTasks) {
	store := ingest.NewMemStore()
	loader := ingest.NewLoader(store, store, filestore.NewMemStore(), fetcher, ingest.Blacklists{})
	reader := ingest.NewReader(store, store, loader, fetcher)
	tasks := newStubTasks()
	return New(reader, &stubNodes{nodes: nodes}, tasks), store, tasks
}

// =============================================================================
// READ CATALOGS
// =============================================================================

func TestReadCatalogsCoversIndexableNodes(t *testing.T) {
	fetcher := &stubFetcher{responses: map[string][]byte{
		"http://a.example/data.json": catalogDocument("cat-a"),
		"http://b.example/data.json": catalogDocument("cat-b"),
	}}
	nodes := []*database.Node{
		{CatalogID: "cat-a", CatalogURL: "http://a.example/data.json", Indexable: true},
		{CatalogID: "cat-b", CatalogURL: "http://b.example/data.json", Indexable: true},
		{CatalogID: "cat-c", CatalogURL: "http://c.example/data.json", Indexable: false},
	}
	acts, store, _ := newTestActivities(nodes, fetcher)

	if err := acts.ReadCatalogs(context.Background(), map[string]string{}); err != nil {
		t.Fatalf("ReadCatalogs failed: %v", err)
	}

	for _, id := range []string{"cat-a", "cat-b"} {
		cat, err := store.GetCatalog(context.Background(), id)
		if err != nil || cat == nil {
			t.Errorf("catalog %s should have been read: %v", id, err)
		}
	}
	if cat, _ := store.GetCatalog(context.Background(), "cat-c"); cat != nil {
		t.Error("non-indexable node should not be read")
	}
}

func TestReadCatalogsSurvivesFailingNode(t *testing.T) {
	fetcher := &stubFetcher{
		responses: map[string][]byte{
			"http://b.example/data.json": catalogDocument("cat-b"),
		},
		errs: map[string]error{
			"http://a.example/data.json": fmt.Errorf("portal is down"),
		},
	}
	nodes := []*database.Node{
		{CatalogID: "cat-a", CatalogURL: "http://a.example/data.json", Indexable: true},
		{CatalogID: "cat-b", CatalogURL: "http://b.example/data.json", Indexable: true},
	}
	acts, store, _ := newTestActivities(nodes, fetcher)

	if err := acts.ReadCatalogs(context.Background(), map[string]string{}); err != nil {
		t.Fatalf("ReadCatalogs failed: %v", err)
	}

	if cat, _ := store.GetCatalog(context.Background(), "cat-b"); cat == nil {
		t.Error("healthy node should sync despite a failing sibling")
	}
}

func TestReadCatalogsTargetsSingleNode(t *testing.T) {
	fetcher := &stubFetcher{responses: map[string][]byte{
		"http://a.example/data.json": catalogDocument("cat-a"),
		"http://b.example/data.json": catalogDocument("cat-b"),
	}}
	nodes := []*database.Node{
		{CatalogID: "cat-a", CatalogURL: "http://a.example/data.json", Indexable: true},
		{CatalogID: "cat-b", CatalogURL: "http://b.example/data.json", Indexable: true},
	}
	acts, store, _ := newTestActivities(nodes, fetcher)

	args := map[string]string{"node": "cat-b"}
	if err := acts.ReadCatalogs(context.Background(), args); err != nil {
		t.Fatalf("ReadCatalogs failed: %v", err)
	}

	if cat, _ := store.GetCatalog(context.Background(), "cat-b"); cat == nil {
		t.Error("targeted node should have been read")
	}
	if cat, _ := store.GetCatalog(context.Background(), "cat-a"); cat != nil {
		t.Error("untargeted node should not have been read")
	}
}

func TestReadCatalogsSurvivesVanishedTask(t *testing.T) {
	fetcher := &stubFetcher{
		responses: map[string][]byte{
			"http://a.example/data.json": catalogDocument("cat-a"),
		},
		errs: map[string]error{
			"http://b.example/data.json": fmt.Errorf("portal is down"),
		},
	}
	nodes := []*database.Node{
		{CatalogID: "cat-a", CatalogURL: "http://a.example/data.json", Indexable: true},
		{CatalogID: "cat-b", CatalogURL: "http://b.example/data.json", Indexable: true},
	}
	acts, store, _ := newTestActivities(nodes, fetcher)

	args := map[string]string{"task_id": "gone"}
	if err := acts.ReadCatalogs(context.Background(), args); err != nil {
		t.Fatalf("ReadCatalogs failed: %v", err)
	}

	if cat, _ := store.GetCatalog(context.Background(), "cat-a"); cat == nil {
		t.Error("nodes should still sync when the ledger entry is gone")
	}
	if logs := store.TaskLogs("gone"); len(logs) != 0 {
		t.Errorf("nothing should be logged against a vanished task: %v", logs)
	}
}

func TestReadCatalogsUnknownTargetFails(t *testing.T) {
	acts, _, _ := newTestActivities(nil, &stubFetcher{})
	err := acts.ReadCatalogs(context.Background(), map[string]string{"node": "ghost"})
	if err == nil {
		t.Error("expected error for unknown target node")
	}
}

func TestCloseReadTasks(t *testing.T) {
	acts, _, tasks := newTestActivities(nil, &stubFetcher{})
	if err := acts.CloseReadTasks(context.Background(), nil); err != nil {
		t.Fatalf("CloseReadTasks failed: %v", err)
	}
	if len(tasks.finishedTypes) != 1 || tasks.finishedTypes[0] != TaskTypeRead {
		t.Errorf("unexpected finished types: %v", tasks.finishedTypes)
	}
}

func TestRegisterPipeline(t *testing.T) {
	acts, _, _ := newTestActivities(nil, &stubFetcher{})
	reg := pipeline.NewRegistry()
	if err := acts.RegisterPipeline(reg); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	if _, ok := reg.Resolve(CallableRead); !ok {
		t.Error("read callable should be registered")
	}
	if _, ok := reg.Resolve(CallableClose); !ok {
		t.Error("close callable should be registered")
	}
	if !reg.KnownTaskType(TaskTypeRead) {
		t.Error("read task type should be registered")
	}
}
