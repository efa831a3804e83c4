// Package ingest reconciles fetched catalog documents against the entity
// store: a four-level upsert walk with content hashing, per-node error
// isolation and bottom-up change propagation.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/datosgobar/catalog-sync/internal/catalog"
	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/filestore"
)

// Store is the entity persistence boundary the loader writes through.
// *database.Client satisfies it; MemStore backs tests and dev mode.
type Store interface {
	GetCatalog(ctx context.Context, identifier string) (*database.Catalog, error)
	SaveCatalog(ctx context.Context, cat *database.Catalog) (*database.Catalog, error)
	MarkCatalogError(ctx context.Context, identifier, msg string) error
	ResetCatalogPresence(ctx context.Context, identifier string) error
	DisableMissingDatasets(ctx context.Context, identifier string, presentIdentifiers []string) error

	GetDataset(ctx context.Context, catalogID, identifier string) (*database.Dataset, error)
	SaveDataset(ctx context.Context, ds *database.Dataset) (*database.Dataset, error)

	GetDistribution(ctx context.Context, datasetID, identifier string) (*database.Distribution, error)
	SaveDistribution(ctx context.Context, dist *database.Distribution) (*database.Distribution, error)

	GetField(ctx context.Context, distributionID, title, identifier string) (*database.Field, error)
	SaveField(ctx context.Context, f *database.Field) (*database.Field, error)
}

// TaskLog appends progress lines to a task ledger.
type TaskLog interface {
	AppendTaskLog(ctx context.Context, id, msg string) error
}

// Blacklists are the per-level metadata fields stripped before storage
// and comparison.
type Blacklists struct {
	Catalog      []string
	Dataset      []string
	Distribution []string
	Field        []string
}

// Loader walks a fetched document and upserts the entity store. One Loader
// owns one catalog subtree per run; it is not safe for concurrent reuse.
type Loader struct {
	store      Store
	tasks      TaskLog
	files      filestore.Store
	fetcher    Fetcher
	blacklists Blacklists

	// DefaultIndexable marks newly discovered datasets as enabled for
	// data sync (the whitelist flag of a run).
	DefaultIndexable bool

	// DownloadData globally enables distribution downloads. When false every
	// run behaves as metadata-only.
	DownloadData bool

	verifySSL bool
	now       func() time.Time
}

// NewLoader creates a loader writing through the given store.
func NewLoader(store Store, tasks TaskLog, files filestore.Store, fetcher Fetcher, blacklists Blacklists) *Loader {
	return &Loader{
		store:      store,
		tasks:      tasks,
		files:      files,
		fetcher:    fetcher,
		blacklists: blacklists,

		DownloadData: true,
		now:          time.Now,
	}
}

// Run reconciles one catalog document against the store and returns the
// committed catalog row. The walk fetches top-down and propagates the
// updated flag bottom-up; a malformed subtree never aborts its siblings.
func (l *Loader) Run(ctx context.Context, doc *catalog.Document, catalogID string, task *database.Task, node *database.Node) (*database.Catalog, error) {
	l.verifySSL = node != nil && node.VerifySSL

	if err := l.store.ResetCatalogPresence(ctx, catalogID); err != nil {
		return nil, err
	}

	trimmed := catalog.Trim(doc.Metadata, l.blacklists.Catalog, catalog.KeyDataset)

	cat, err := l.store.GetCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	isNew := cat == nil
	if isNew {
		cat = &database.Catalog{Identifier: catalogID, Present: true, Updated: true, New: true}
		if cat, err = l.saveCatalogMeta(ctx, cat, trimmed); err != nil {
			return nil, err
		}
	}

	anyDatasetUpdated := false
	presentIdentifiers := make([]string, 0, len(doc.Datasets))
	for i := range doc.Datasets {
		ds := &doc.Datasets[i]
		presentIdentifiers = append(presentIdentifiers, ds.Identifier)
		updated, err := l.loadDataset(ctx, ds, cat, task)
		if err != nil {
			l.logf(ctx, task, "error in dataset %s: %v", ds.Identifier, err)
			l.markDatasetError(ctx, cat.ID, ds.Identifier, err)
			continue
		}
		anyDatasetUpdated = anyDatasetUpdated || updated
	}

	if err := l.store.DisableMissingDatasets(ctx, catalogID, presentIdentifiers); err != nil {
		return nil, err
	}

	l.commit(&cat.Metadata, trimmed, isNew, false, anyDatasetUpdated, &cat.Updated)
	cat.Title = titleOf(trimmed)
	cat.New = isNew
	cat.Present = true
	cat.Error = false
	cat.ErrorMsg = ""
	return l.store.SaveCatalog(ctx, cat)
}

func (l *Loader) loadDataset(ctx context.Context, doc *catalog.DatasetDoc, cat *database.Catalog, task *database.Task) (bool, error) {
	if doc.Identifier == "" {
		return false, fmt.Errorf("dataset without identifier")
	}
	trimmed := catalog.Trim(doc.Metadata, l.blacklists.Dataset, catalog.KeyDistribution)

	ds, err := l.store.GetDataset(ctx, cat.ID, doc.Identifier)
	if err != nil {
		return false, err
	}
	isNew := ds == nil
	if isNew {
		ds = &database.Dataset{
			CatalogID:  cat.ID,
			Identifier: doc.Identifier,
			Indexable:  l.DefaultIndexable,
			Present:    true,
			Updated:    true,
			New:        true,
			Reviewed:   database.NotReviewed,
		}
		if ds, err = l.saveDatasetMeta(ctx, ds, trimmed); err != nil {
			return false, err
		}
	}

	anyDistributionUpdated := false
	for i := range doc.Distributions {
		dist := &doc.Distributions[i]
		updated, err := l.loadDistribution(ctx, dist, ds, task)
		if err != nil {
			l.logf(ctx, task, "error in distribution %s: %v", dist.Identifier, err)
			l.markDistributionError(ctx, ds.ID, dist.Identifier, err)
			continue
		}
		anyDistributionUpdated = anyDistributionUpdated || updated
	}

	l.commit(&ds.Metadata, trimmed, isNew, false, anyDistributionUpdated, &ds.Updated)
	ds.Title = titleOf(trimmed)
	ds.New = isNew
	ds.Present = true

	// An automated change invalidates a finished review; a review in
	// progress takes precedence and is left untouched.
	if ds.Reviewed == database.Reviewed && ds.Updated {
		ds.Reviewed = database.NotReviewed
	}

	if _, err := l.store.SaveDataset(ctx, ds); err != nil {
		return false, err
	}
	return ds.Updated, nil
}

func (l *Loader) loadDistribution(ctx context.Context, doc *catalog.DistributionDoc, ds *database.Dataset, task *database.Task) (bool, error) {
	if doc.Identifier == "" {
		return false, fmt.Errorf("distribution without identifier")
	}
	trimmed := catalog.Trim(doc.Metadata, l.blacklists.Distribution, catalog.KeyField)

	dist, err := l.store.GetDistribution(ctx, ds.ID, doc.Identifier)
	if err != nil {
		return false, err
	}
	isNew := dist == nil
	if isNew {
		dist = &database.Distribution{
			DatasetID:  ds.ID,
			Identifier: doc.Identifier,
			Present:    true,
			Updated:    true,
			New:        true,
		}
		if dist, err = l.saveDistributionMeta(ctx, dist, trimmed); err != nil {
			return false, err
		}
	}

	if doc.DownloadURL == "" {
		dist.DownloadURL = sql.NullString{}
		dist.Error = true
		dist.ErrorMsg = fmt.Sprintf("distribution %s has no downloadURL", doc.Identifier)
		l.logf(ctx, task, "distribution %s has no downloadURL", doc.Identifier)
	} else {
		dist.DownloadURL = sql.NullString{String: doc.DownloadURL, Valid: true}
	}

	dataChange := false
	if l.shouldDownload(ds, dist, task) {
		dataChange, err = l.syncData(ctx, dist, ds)
		if err != nil {
			// A failed download is a per-entity failure: flag it and keep
			// processing this distribution's fields and its siblings.
			dist.Error = true
			dist.ErrorMsg = err.Error()
			l.logf(ctx, task, "error downloading distribution %s: %v", doc.Identifier, err)
		}
	}

	anyFieldUpdated := false
	for i := range doc.Fields {
		field := &doc.Fields[i]
		updated, err := l.loadField(ctx, field, dist)
		if err != nil {
			l.logf(ctx, task, "error in field %s: %v", field.Title, err)
			l.markFieldError(ctx, dist.ID, field.Title, field.Identifier, err)
			continue
		}
		anyFieldUpdated = anyFieldUpdated || updated
	}

	l.commit(&dist.Metadata, trimmed, isNew, dataChange, anyFieldUpdated, &dist.Updated)
	dist.Title = titleOf(trimmed)
	dist.New = isNew
	dist.Present = true

	if _, err := l.store.SaveDistribution(ctx, dist); err != nil {
		return false, err
	}
	return dist.Updated, nil
}

func (l *Loader) loadField(ctx context.Context, doc *catalog.FieldDoc, dist *database.Distribution) (bool, error) {
	trimmed := catalog.Trim(doc.Metadata, l.blacklists.Field, "")

	field, err := l.store.GetField(ctx, dist.ID, doc.Title, doc.Identifier)
	if err != nil {
		return false, err
	}
	isNew := field == nil
	if isNew {
		field = &database.Field{
			DistributionID: dist.ID,
			Title:          doc.Title,
			Identifier:     doc.Identifier,
			Present:        true,
			Updated:        true,
			New:            true,
		}
	}

	l.commit(&field.Metadata, trimmed, isNew, false, false, &field.Updated)
	field.New = isNew
	field.Present = true

	if _, err := l.store.SaveField(ctx, field); err != nil {
		return false, err
	}
	return field.Updated, nil
}

// shouldDownload combines the run mode with the per-dataset allow-list.
func (l *Loader) shouldDownload(ds *database.Dataset, dist *database.Distribution, task *database.Task) bool {
	if !l.DownloadData {
		return false
	}
	if task != nil && task.Mode == database.ModeMetadataOnly {
		return false
	}
	return ds.Indexable && dist.DownloadURL.Valid
}

// syncData downloads the distribution's resource, digests it and updates
// the stored hash, timestamp and blob when the content changed.
func (l *Loader) syncData(ctx context.Context, dist *database.Distribution, ds *database.Dataset) (bool, error) {
	data, err := l.fetcher.Fetch(ctx, dist.DownloadURL.String, l.verifySSL)
	if err != nil {
		return false, err
	}

	hash := HashBytes(data)
	if hash == dist.DataHash {
		return false, nil
	}

	key := filestore.BlobKey(ds.CatalogID, dist.Identifier)
	if l.files != nil {
		if err := l.files.Put(ctx, key, data); err != nil {
			return false, fmt.Errorf("failed to store distribution blob: %w", err)
		}
		dist.DataFileKey = sql.NullString{String: key, Valid: true}
	}
	dist.DataHash = hash
	dist.LastUpdated = sql.NullTime{Time: l.now().UTC(), Valid: true}
	return true, nil
}

// commit applies the update rule shared by all four levels: a node is
// updated when its metadata changed, its data changed, any child updated,
// or it was just created. The stored metadata is rewritten only when it
// changed or the node is new.
func (l *Loader) commit(stored *json.RawMessage, trimmed map[string]any, isNew, dataChange, childUpdated bool, updated *bool) {
	changed := !metadataEqual(*stored, trimmed)
	*updated = changed || dataChange || childUpdated || isNew
	if changed || isNew {
		if raw, err := catalog.Marshal(trimmed); err == nil {
			*stored = raw
		}
	}
}

func (l *Loader) saveCatalogMeta(ctx context.Context, cat *database.Catalog, trimmed map[string]any) (*database.Catalog, error) {
	raw, err := catalog.Marshal(trimmed)
	if err != nil {
		return nil, err
	}
	cat.Metadata = raw
	cat.Title = titleOf(trimmed)
	return l.store.SaveCatalog(ctx, cat)
}

func (l *Loader) saveDatasetMeta(ctx context.Context, ds *database.Dataset, trimmed map[string]any) (*database.Dataset, error) {
	raw, err := catalog.Marshal(trimmed)
	if err != nil {
		return nil, err
	}
	ds.Metadata = raw
	ds.Title = titleOf(trimmed)
	return l.store.SaveDataset(ctx, ds)
}

func (l *Loader) saveDistributionMeta(ctx context.Context, dist *database.Distribution, trimmed map[string]any) (*database.Distribution, error) {
	raw, err := catalog.Marshal(trimmed)
	if err != nil {
		return nil, err
	}
	dist.Metadata = raw
	dist.Title = titleOf(trimmed)
	return l.store.SaveDistribution(ctx, dist)
}

func (l *Loader) markDatasetError(ctx context.Context, catalogID, identifier string, cause error) {
	ds, err := l.store.GetDataset(ctx, catalogID, identifier)
	if err != nil || ds == nil {
		return
	}
	ds.Error = true
	ds.ErrorMsg = cause.Error()
	if _, err := l.store.SaveDataset(ctx, ds); err != nil {
		log.Printf("failed to flag dataset %s: %v", identifier, err)
	}
}

func (l *Loader) markDistributionError(ctx context.Context, datasetID, identifier string, cause error) {
	dist, err := l.store.GetDistribution(ctx, datasetID, identifier)
	if err != nil || dist == nil {
		return
	}
	dist.Error = true
	dist.ErrorMsg = cause.Error()
	if _, err := l.store.SaveDistribution(ctx, dist); err != nil {
		log.Printf("failed to flag distribution %s: %v", identifier, err)
	}
}

func (l *Loader) markFieldError(ctx context.Context, distributionID, title, identifier string, cause error) {
	field, err := l.store.GetField(ctx, distributionID, title, identifier)
	if err != nil || field == nil {
		return
	}
	field.Error = true
	field.ErrorMsg = cause.Error()
	if _, err := l.store.SaveField(ctx, field); err != nil {
		log.Printf("failed to flag field %s: %v", title, err)
	}
}

func (l *Loader) logf(ctx context.Context, task *database.Task, format string, args ...any) {
	if task == nil || l.tasks == nil {
		return
	}
	if err := l.tasks.AppendTaskLog(ctx, task.ID, fmt.Sprintf(format, args...)); err != nil {
		log.Printf("failed to append task log: %v", err)
	}
}

// metadataEqual compares stored metadata against freshly trimmed metadata
// semantically: stored JSON may differ byte-wise (jsonb normalization)
// while holding the same document.
func metadataEqual(stored json.RawMessage, trimmed map[string]any) bool {
	if len(stored) == 0 {
		return len(trimmed) == 0
	}
	var prev map[string]any
	if err := json.Unmarshal(stored, &prev); err != nil {
		return false
	}
	if len(prev) == 0 && len(trimmed) == 0 {
		return true
	}
	return reflect.DeepEqual(prev, normalize(trimmed))
}

// normalize round-trips metadata through JSON so number and nil handling
// matches what Unmarshal produces for the stored side.
func normalize(meta map[string]any) map[string]any {
	raw, err := json.Marshal(meta)
	if err != nil {
		return meta
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return meta
	}
	return out
}

func titleOf(meta map[string]any) string {
	if title, ok := meta[catalog.KeyTitle].(string); ok {
		return title
	}
	return ""
}
