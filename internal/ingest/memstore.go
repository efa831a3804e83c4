package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datosgobar/catalog-sync/internal/database"
)

// MemStore is an in-memory Store and TaskLog for tests and dev mode. It
// mirrors the relational store's keying: catalogs by identifier, datasets by
// (catalog, identifier), distributions by (dataset, identifier), fields by
// (distribution, title, identifier).
type MemStore struct {
	mu            sync.Mutex
	catalogs      map[string]*database.Catalog
	datasets      map[string]*database.Dataset
	distributions map[string]*database.Distribution
	fields        map[string]*database.Field
	logs          map[string][]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		catalogs:      make(map[string]*database.Catalog),
		datasets:      make(map[string]*database.Dataset),
		distributions: make(map[string]*database.Distribution),
		fields:        make(map[string]*database.Field),
		logs:          make(map[string][]string),
	}
}

func datasetKey(catalogID, identifier string) string {
	return catalogID + "/" + identifier
}

func distributionKey(datasetID, identifier string) string {
	return datasetID + "/" + identifier
}

func fieldKey(distributionID, title, identifier string) string {
	return distributionID + "/" + title + "/" + identifier
}

func (s *MemStore) GetCatalog(ctx context.Context, identifier string) (*database.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.catalogs[identifier]
	if !ok {
		return nil, nil
	}
	out := *cat
	return &out, nil
}

func (s *MemStore) SaveCatalog(ctx context.Context, cat *database.Catalog) (*database.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cat.ID == "" {
		cat.ID = uuid.New().String()
		cat.CreatedAt = time.Now()
	}
	cat.UpdatedAt = time.Now()
	stored := *cat
	s.catalogs[cat.Identifier] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) MarkCatalogError(ctx context.Context, identifier, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.catalogs[identifier]
	if !ok {
		return nil
	}
	cat.Present = false
	cat.Error = true
	cat.ErrorMsg = msg
	return nil
}

func (s *MemStore) ResetCatalogPresence(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.catalogs[identifier]
	if !ok {
		return nil
	}
	datasetIDs := make(map[string]bool)
	for _, ds := range s.datasets {
		if ds.CatalogID != cat.ID {
			continue
		}
		datasetIDs[ds.ID] = true
		ds.Present = false
		ds.Updated = false
		ds.Error = false
		ds.ErrorMsg = ""
	}
	distributionIDs := make(map[string]bool)
	for _, dist := range s.distributions {
		if !datasetIDs[dist.DatasetID] {
			continue
		}
		distributionIDs[dist.ID] = true
		dist.Present = false
		dist.Updated = false
		dist.Error = false
		dist.ErrorMsg = ""
	}
	for _, f := range s.fields {
		if !distributionIDs[f.DistributionID] {
			continue
		}
		f.Present = false
		f.Updated = false
		f.Error = false
		f.ErrorMsg = ""
	}
	return nil
}

func (s *MemStore) DisableMissingDatasets(ctx context.Context, identifier string, presentIdentifiers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.catalogs[identifier]
	if !ok {
		return nil
	}
	present := make(map[string]bool, len(presentIdentifiers))
	for _, id := range presentIdentifiers {
		present[id] = true
	}
	for _, ds := range s.datasets {
		if ds.CatalogID == cat.ID && !present[ds.Identifier] {
			ds.Indexable = false
		}
	}
	return nil
}

func (s *MemStore) GetDataset(ctx context.Context, catalogID, identifier string) (*database.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[datasetKey(catalogID, identifier)]
	if !ok {
		return nil, nil
	}
	out := *ds
	return &out, nil
}

func (s *MemStore) SaveDataset(ctx context.Context, ds *database.Dataset) (*database.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds.ID == "" {
		ds.ID = uuid.New().String()
		ds.CreatedAt = time.Now()
	}
	if ds.Reviewed == "" {
		ds.Reviewed = database.NotReviewed
	}
	ds.UpdatedAt = time.Now()
	stored := *ds
	s.datasets[datasetKey(ds.CatalogID, ds.Identifier)] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) GetDistribution(ctx context.Context, datasetID, identifier string) (*database.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dist, ok := s.distributions[distributionKey(datasetID, identifier)]
	if !ok {
		return nil, nil
	}
	out := *dist
	return &out, nil
}

func (s *MemStore) SaveDistribution(ctx context.Context, dist *database.Distribution) (*database.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dist.ID == "" {
		dist.ID = uuid.New().String()
		dist.CreatedAt = time.Now()
	}
	dist.UpdatedAt = time.Now()
	stored := *dist
	s.distributions[distributionKey(dist.DatasetID, dist.Identifier)] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) GetField(ctx context.Context, distributionID, title, identifier string) (*database.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[fieldKey(distributionID, title, identifier)]
	if !ok {
		return nil, nil
	}
	out := *f
	return &out, nil
}

func (s *MemStore) SaveField(ctx context.Context, f *database.Field) (*database.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.New().String()
		f.CreatedAt = time.Now()
	}
	f.UpdatedAt = time.Now()
	stored := *f
	s.fields[fieldKey(f.DistributionID, f.Title, f.Identifier)] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) AppendTaskLog(ctx context.Context, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = append(s.logs[id], msg)
	return nil
}

// TaskLogs returns the appended log lines for a task.
func (s *MemStore) TaskLogs(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs[id]))
	copy(out, s.logs[id])
	return out
}

// Datasets returns every stored dataset under a catalog identifier.
func (s *MemStore) Datasets(identifier string) []*database.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.catalogs[identifier]
	if !ok {
		return nil
	}
	var out []*database.Dataset
	for _, ds := range s.datasets {
		if ds.CatalogID == cat.ID {
			copied := *ds
			out = append(out, &copied)
		}
	}
	return out
}

// Distributions returns every stored distribution under a dataset.
func (s *MemStore) Distributions(datasetID string) []*database.Distribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Distribution
	for _, dist := range s.distributions {
		if dist.DatasetID == datasetID {
			copied := *dist
			out = append(out, &copied)
		}
	}
	return out
}

// Fields returns every stored field under a distribution.
func (s *MemStore) Fields(distributionID string) []*database.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Field
	for _, f := range s.fields {
		if f.DistributionID == distributionID {
			copied := *f
			out = append(out, &copied)
		}
	}
	return out
}

var _ Store = (*MemStore)(nil)
var _ TaskLog = (*MemStore)(nil)
