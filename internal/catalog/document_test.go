package catalog

import (
	"bytes"
	"testing"
)

const sampleDocument = `{
	"identifier": "test-catalog",
	"title": "Test Catalog",
	"themeTaxonomy": [{"id": "theme1", "label": "Theme 1"}],
	"dataset": [
		{
			"identifier": "ds1",
			"title": "First Dataset",
			"distribution": [
				{
					"identifier": "dist1",
					"title": "First Distribution",
					"downloadURL": "http://example.com/data.csv",
					"field": [
						{"id": "f1", "title": "col_a"},
						{"title": "col_b"}
					]
				},
				{
					"identifier": "dist2",
					"title": "No Download"
				}
			]
		},
		{
			"identifier": "ds2",
			"title": "Second Dataset"
		}
	]
}`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(doc.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(doc.Datasets))
	}

	ds := doc.Datasets[0]
	if ds.Identifier != "ds1" || ds.Title != "First Dataset" {
		t.Errorf("unexpected dataset: %+v", ds)
	}
	if len(ds.Distributions) != 2 {
		t.Fatalf("expected 2 distributions, got %d", len(ds.Distributions))
	}

	dist := ds.Distributions[0]
	if dist.DownloadURL != "http://example.com/data.csv" {
		t.Errorf("unexpected download URL: %s", dist.DownloadURL)
	}
	if len(dist.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(dist.Fields))
	}
	if dist.Fields[0].Identifier != "f1" || dist.Fields[0].Title != "col_a" {
		t.Errorf("unexpected field: %+v", dist.Fields[0])
	}
	if dist.Fields[1].Identifier != "" {
		t.Errorf("expected empty field identifier, got %s", dist.Fields[1].Identifier)
	}

	if ds.Distributions[1].DownloadURL != "" {
		t.Errorf("expected empty download URL, got %s", ds.Distributions[1].DownloadURL)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseWithoutDatasets(t *testing.T) {
	doc, err := Parse([]byte(`{"title": "empty"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(doc.Datasets) != 0 {
		t.Errorf("expected no datasets, got %d", len(doc.Datasets))
	}
}

func TestTrimRemovesChildKeyAndBlacklist(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	trimmed := Trim(doc.Metadata, []string{"themeTaxonomy"}, KeyDataset)
	if _, ok := trimmed[KeyDataset]; ok {
		t.Error("dataset key should be trimmed")
	}
	if _, ok := trimmed["themeTaxonomy"]; ok {
		t.Error("blacklisted key should be trimmed")
	}
	if trimmed["title"] != "Test Catalog" {
		t.Errorf("title should survive trim, got %v", trimmed["title"])
	}

	// Trim must not mutate its input.
	if _, ok := doc.Metadata[KeyDataset]; !ok {
		t.Error("input metadata was mutated")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	meta := map[string]any{"b": 2.0, "a": "x", "c": []any{"y"}}

	first, err := Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(map[string]any{"c": []any{"y"}, "a": "x", "b": 2.0})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("equal metadata marshaled differently: %s vs %s", first, second)
	}
}

func TestMarshalNil(t *testing.T) {
	out, err := Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "{}" {
		t.Errorf("expected empty object, got %s", out)
	}
}
