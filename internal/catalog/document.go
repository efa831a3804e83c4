// Package catalog models a fetched open-data catalog document: a strict
// four-level tree of catalog, datasets, distributions and fields.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Child collection keys inside the raw document.
const (
	KeyDataset      = "dataset"
	KeyDistribution = "distribution"
	KeyField        = "field"

	KeyIdentifier  = "identifier"
	KeyTitle       = "title"
	KeyFieldID     = "id"
	KeyDownloadURL = "downloadURL"
)

// Document is a parsed catalog with its full subtree.
type Document struct {
	Metadata map[string]any
	Datasets []DatasetDoc
}

// DatasetDoc is one dataset entry of a catalog document.
type DatasetDoc struct {
	Identifier    string
	Title         string
	Metadata      map[string]any
	Distributions []DistributionDoc
}

// DistributionDoc is one distribution entry of a dataset.
type DistributionDoc struct {
	Identifier  string
	Title       string
	DownloadURL string
	Metadata    map[string]any
	Fields      []FieldDoc
}

// FieldDoc is one field entry of a distribution. Title and identifier may
// both be empty in loose source data.
type FieldDoc struct {
	Identifier string
	Title      string
	Metadata   map[string]any
}

// Parse decodes a raw data.json style payload into a Document.
func Parse(raw []byte) (*Document, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}
	doc := &Document{Metadata: root}
	for _, entry := range listOf(root, KeyDataset) {
		doc.Datasets = append(doc.Datasets, parseDataset(entry))
	}
	return doc, nil
}

func parseDataset(meta map[string]any) DatasetDoc {
	ds := DatasetDoc{
		Identifier: stringField(meta, KeyIdentifier),
		Title:      stringField(meta, KeyTitle),
		Metadata:   meta,
	}
	for _, entry := range listOf(meta, KeyDistribution) {
		ds.Distributions = append(ds.Distributions, parseDistribution(entry))
	}
	return ds
}

func parseDistribution(meta map[string]any) DistributionDoc {
	dist := DistributionDoc{
		Identifier:  stringField(meta, KeyIdentifier),
		Title:       stringField(meta, KeyTitle),
		DownloadURL: stringField(meta, KeyDownloadURL),
		Metadata:    meta,
	}
	for _, entry := range listOf(meta, KeyField) {
		dist.Fields = append(dist.Fields, FieldDoc{
			Identifier: stringField(entry, KeyFieldID),
			Title:      stringField(entry, KeyTitle),
			Metadata:   entry,
		})
	}
	return dist
}

// Trim returns a copy of meta without the child collection key and without
// the blacklisted fields. The input map is left untouched.
func Trim(meta map[string]any, blacklist []string, childKey string) map[string]any {
	trimmed := make(map[string]any, len(meta))
	for k, v := range meta {
		trimmed[k] = v
	}
	if childKey != "" {
		delete(trimmed, childKey)
	}
	for _, field := range blacklist {
		delete(trimmed, field)
	}
	return trimmed
}

// Marshal serializes trimmed metadata for storage and comparison. Go map
// marshaling is key-sorted, so equal metadata always serializes equally.
func Marshal(meta map[string]any) (json.RawMessage, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return out, nil
}

func listOf(meta map[string]any, key string) []map[string]any {
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringField(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
