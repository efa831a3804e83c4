package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// =============================================================================
// CATALOG QUERIES
// =============================================================================

// GetCatalog retrieves a catalog by identifier. Returns nil when absent.
func (c *Client) GetCatalog(ctx context.Context, identifier string) (*Catalog, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, identifier, title, metadata, present, updated, error, new, error_msg,
		       created_at, updated_at
		FROM catalogs
		WHERE identifier = $1
	`, identifier)

	var cat Catalog
	err := row.Scan(
		&cat.ID, &cat.Identifier, &cat.Title, &cat.Metadata, &cat.Present,
		&cat.Updated, &cat.Error, &cat.New, &cat.ErrorMsg,
		&cat.CreatedAt, &cat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	return &cat, nil
}

// SaveCatalog creates or updates a catalog keyed by identifier.
func (c *Client) SaveCatalog(ctx context.Context, cat *Catalog) (*Catalog, error) {
	if cat.ID == "" {
		cat.ID = uuid.New().String()
	}
	if cat.Metadata == nil {
		cat.Metadata = []byte("{}")
	}

	var result Catalog
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO catalogs (id, identifier, title, metadata, present, updated, error, new, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identifier) DO UPDATE SET
			title = EXCLUDED.title,
			metadata = EXCLUDED.metadata,
			present = EXCLUDED.present,
			updated = EXCLUDED.updated,
			error = EXCLUDED.error,
			new = EXCLUDED.new,
			error_msg = EXCLUDED.error_msg,
			updated_at = NOW()
		RETURNING id, identifier, title, metadata, present, updated, error, new, error_msg,
		          created_at, updated_at
	`,
		cat.ID, cat.Identifier, cat.Title, cat.Metadata, cat.Present,
		cat.Updated, cat.Error, cat.New, cat.ErrorMsg,
	).Scan(
		&result.ID, &result.Identifier, &result.Title, &result.Metadata, &result.Present,
		&result.Updated, &result.Error, &result.New, &result.ErrorMsg,
		&result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert catalog: %w", err)
	}
	return &result, nil
}

// MarkCatalogError flags a catalog as failed for this run without touching
// its children. Prior good data stays intact.
func (c *Client) MarkCatalogError(ctx context.Context, identifier, msg string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE catalogs
		SET present = FALSE, error = TRUE, error_msg = $2, updated_at = NOW()
		WHERE identifier = $1
	`, identifier, msg)
	if err != nil {
		return fmt.Errorf("failed to mark catalog error: %w", err)
	}
	return nil
}

// ResetCatalogPresence clears the per-run flags on every dataset,
// distribution and field under the given catalog in one bulk pass.
// Anything not re-visited by the reconciliation walk stays present=false.
func (c *Client) ResetCatalogPresence(ctx context.Context, identifier string) error {
	queries := []string{
		`UPDATE datasets SET present = FALSE, updated = FALSE, error = FALSE, error_msg = ''
		 WHERE catalog_id IN (SELECT id FROM catalogs WHERE identifier = $1)`,
		`UPDATE distributions SET present = FALSE, updated = FALSE, error = FALSE, error_msg = ''
		 WHERE dataset_id IN (
			SELECT d.id FROM datasets d
			JOIN catalogs c ON d.catalog_id = c.id
			WHERE c.identifier = $1)`,
		`UPDATE fields SET present = FALSE, updated = FALSE, error = FALSE, error_msg = ''
		 WHERE distribution_id IN (
			SELECT dist.id FROM distributions dist
			JOIN datasets d ON dist.dataset_id = d.id
			JOIN catalogs c ON d.catalog_id = c.id
			WHERE c.identifier = $1)`,
	}
	for _, query := range queries {
		if _, err := c.db.ExecContext(ctx, query, identifier); err != nil {
			return fmt.Errorf("failed to reset catalog presence: %w", err)
		}
	}
	return nil
}

// DisableMissingDatasets removes datasets absent from the source document
// from the data-sync allow-list.
func (c *Client) DisableMissingDatasets(ctx context.Context, identifier string, presentIdentifiers []string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE datasets SET indexable = FALSE
		WHERE catalog_id IN (SELECT id FROM catalogs WHERE identifier = $1)
		  AND NOT (identifier = ANY($2))
	`, identifier, pq.Array(presentIdentifiers))
	if err != nil {
		return fmt.Errorf("failed to disable missing datasets: %w", err)
	}
	return nil
}

// =============================================================================
// DATASET QUERIES
// =============================================================================

// GetDataset retrieves a dataset by catalog and identifier. Returns nil when absent.
func (c *Client) GetDataset(ctx context.Context, catalogID, identifier string) (*Dataset, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, identifier, title, metadata, indexable, present, updated,
		       error, new, reviewed, last_reviewed, error_msg, created_at, updated_at
		FROM datasets
		WHERE catalog_id = $1 AND identifier = $2
	`, catalogID, identifier)

	var ds Dataset
	err := row.Scan(
		&ds.ID, &ds.CatalogID, &ds.Identifier, &ds.Title, &ds.Metadata, &ds.Indexable,
		&ds.Present, &ds.Updated, &ds.Error, &ds.New, &ds.Reviewed, &ds.LastReviewed,
		&ds.ErrorMsg, &ds.CreatedAt, &ds.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return &ds, nil
}

// SaveDataset creates or updates a dataset keyed by (catalog, identifier).
func (c *Client) SaveDataset(ctx context.Context, ds *Dataset) (*Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.Metadata == nil {
		ds.Metadata = []byte("{}")
	}
	if ds.Reviewed == "" {
		ds.Reviewed = NotReviewed
	}

	var result Dataset
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO datasets (id, catalog_id, identifier, title, metadata, indexable,
		                      present, updated, error, new, reviewed, last_reviewed, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (catalog_id, identifier) DO UPDATE SET
			title = EXCLUDED.title,
			metadata = EXCLUDED.metadata,
			indexable = EXCLUDED.indexable,
			present = EXCLUDED.present,
			updated = EXCLUDED.updated,
			error = EXCLUDED.error,
			new = EXCLUDED.new,
			reviewed = EXCLUDED.reviewed,
			last_reviewed = EXCLUDED.last_reviewed,
			error_msg = EXCLUDED.error_msg,
			updated_at = NOW()
		RETURNING id, catalog_id, identifier, title, metadata, indexable, present, updated,
		          error, new, reviewed, last_reviewed, error_msg, created_at, updated_at
	`,
		ds.ID, ds.CatalogID, ds.Identifier, ds.Title, ds.Metadata, ds.Indexable,
		ds.Present, ds.Updated, ds.Error, ds.New, ds.Reviewed, ds.LastReviewed, ds.ErrorMsg,
	).Scan(
		&result.ID, &result.CatalogID, &result.Identifier, &result.Title, &result.Metadata,
		&result.Indexable, &result.Present, &result.Updated, &result.Error, &result.New,
		&result.Reviewed, &result.LastReviewed, &result.ErrorMsg, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert dataset: %w", err)
	}
	return &result, nil
}

// =============================================================================
// DISTRIBUTION QUERIES
// =============================================================================

// GetDistribution retrieves a distribution by dataset and identifier.
// Returns nil when absent.
func (c *Client) GetDistribution(ctx context.Context, datasetID, identifier string) (*Distribution, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, identifier, title, metadata, download_url, data_hash,
		       last_updated, data_file_key, present, updated, error, new, error_msg,
		       created_at, updated_at
		FROM distributions
		WHERE dataset_id = $1 AND identifier = $2
	`, datasetID, identifier)

	var dist Distribution
	err := row.Scan(
		&dist.ID, &dist.DatasetID, &dist.Identifier, &dist.Title, &dist.Metadata,
		&dist.DownloadURL, &dist.DataHash, &dist.LastUpdated, &dist.DataFileKey,
		&dist.Present, &dist.Updated, &dist.Error, &dist.New, &dist.ErrorMsg,
		&dist.CreatedAt, &dist.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}
	return &dist, nil
}

// SaveDistribution creates or updates a distribution keyed by (dataset, identifier).
func (c *Client) SaveDistribution(ctx context.Context, dist *Distribution) (*Distribution, error) {
	if dist.ID == "" {
		dist.ID = uuid.New().String()
	}
	if dist.Metadata == nil {
		dist.Metadata = []byte("{}")
	}

	var result Distribution
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO distributions (id, dataset_id, identifier, title, metadata, download_url,
		                           data_hash, last_updated, data_file_key, present, updated,
		                           error, new, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dataset_id, identifier) DO UPDATE SET
			title = EXCLUDED.title,
			metadata = EXCLUDED.metadata,
			download_url = EXCLUDED.download_url,
			data_hash = EXCLUDED.data_hash,
			last_updated = EXCLUDED.last_updated,
			data_file_key = EXCLUDED.data_file_key,
			present = EXCLUDED.present,
			updated = EXCLUDED.updated,
			error = EXCLUDED.error,
			new = EXCLUDED.new,
			error_msg = EXCLUDED.error_msg,
			updated_at = NOW()
		RETURNING id, dataset_id, identifier, title, metadata, download_url, data_hash,
		          last_updated, data_file_key, present, updated, error, new, error_msg,
		          created_at, updated_at
	`,
		dist.ID, dist.DatasetID, dist.Identifier, dist.Title, dist.Metadata, dist.DownloadURL,
		dist.DataHash, dist.LastUpdated, dist.DataFileKey, dist.Present, dist.Updated,
		dist.Error, dist.New, dist.ErrorMsg,
	).Scan(
		&result.ID, &result.DatasetID, &result.Identifier, &result.Title, &result.Metadata,
		&result.DownloadURL, &result.DataHash, &result.LastUpdated, &result.DataFileKey,
		&result.Present, &result.Updated, &result.Error, &result.New, &result.ErrorMsg,
		&result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert distribution: %w", err)
	}
	return &result, nil
}

// =============================================================================
// FIELD QUERIES
// =============================================================================

// GetField retrieves a field by distribution, title and identifier.
// Returns nil when absent.
func (c *Client) GetField(ctx context.Context, distributionID, title, identifier string) (*Field, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, distribution_id, title, identifier, metadata, present, updated,
		       error, new, error_msg, created_at, updated_at
		FROM fields
		WHERE distribution_id = $1 AND title = $2 AND identifier = $3
	`, distributionID, title, identifier)

	var f Field
	err := row.Scan(
		&f.ID, &f.DistributionID, &f.Title, &f.Identifier, &f.Metadata,
		&f.Present, &f.Updated, &f.Error, &f.New, &f.ErrorMsg,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	return &f, nil
}

// SaveField creates or updates a field keyed by (distribution, title, identifier).
func (c *Client) SaveField(ctx context.Context, f *Field) (*Field, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Metadata == nil {
		f.Metadata = []byte("{}")
	}

	var result Field
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO fields (id, distribution_id, title, identifier, metadata, present,
		                    updated, error, new, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (distribution_id, title, identifier) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			present = EXCLUDED.present,
			updated = EXCLUDED.updated,
			error = EXCLUDED.error,
			new = EXCLUDED.new,
			error_msg = EXCLUDED.error_msg,
			updated_at = NOW()
		RETURNING id, distribution_id, title, identifier, metadata, present, updated,
		          error, new, error_msg, created_at, updated_at
	`,
		f.ID, f.DistributionID, f.Title, f.Identifier, f.Metadata, f.Present,
		f.Updated, f.Error, f.New, f.ErrorMsg,
	).Scan(
		&result.ID, &result.DistributionID, &result.Title, &result.Identifier, &result.Metadata,
		&result.Present, &result.Updated, &result.Error, &result.New, &result.ErrorMsg,
		&result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert field: %w", err)
	}
	return &result, nil
}

// =============================================================================
// NODE QUERIES
// =============================================================================

// GetNode retrieves a source node by its catalog identifier. Returns nil when absent.
func (c *Client) GetNode(ctx context.Context, catalogID string) (*Node, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, catalog_url, indexable, verify_ssl, format, created_at, updated_at
		FROM nodes
		WHERE catalog_id = $1
	`, catalogID)

	var n Node
	err := row.Scan(&n.ID, &n.CatalogID, &n.CatalogURL, &n.Indexable, &n.VerifySSL,
		&n.Format, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &n, nil
}

// ListIndexableNodes retrieves every node enabled for ingestion.
func (c *Client) ListIndexableNodes(ctx context.Context) ([]*Node, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, catalog_id, catalog_url, indexable, verify_ssl, format, created_at, updated_at
		FROM nodes
		WHERE indexable = TRUE
		ORDER BY catalog_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.CatalogID, &n.CatalogURL, &n.Indexable, &n.VerifySSL,
			&n.Format, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// SaveNode creates or updates a node keyed by catalog identifier.
func (c *Client) SaveNode(ctx context.Context, n *Node) (*Node, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	var result Node
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO nodes (id, catalog_id, catalog_url, indexable, verify_ssl, format)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (catalog_id) DO UPDATE SET
			catalog_url = EXCLUDED.catalog_url,
			indexable = EXCLUDED.indexable,
			verify_ssl = EXCLUDED.verify_ssl,
			format = EXCLUDED.format,
			updated_at = NOW()
		RETURNING id, catalog_id, catalog_url, indexable, verify_ssl, format, created_at, updated_at
	`, n.ID, n.CatalogID, n.CatalogURL, n.Indexable, n.VerifySSL, n.Format).Scan(
		&result.ID, &result.CatalogID, &result.CatalogURL, &result.Indexable, &result.VerifySSL,
		&result.Format, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert node: %w", err)
	}
	return &result, nil
}
