// Package database provides database models for the catalog-sync schema.
package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// =============================================================================
// ENTITY TREE MODELS
// =============================================================================

// Catalog is the root of one ingested source's entity tree.
type Catalog struct {
	ID         string          `json:"id"`
	Identifier string          `json:"identifier"`
	Title      string          `json:"title"`
	Metadata   json.RawMessage `json:"metadata"`
	Present    bool            `json:"present"`
	Updated    bool            `json:"updated"`
	Error      bool            `json:"error"`
	New        bool            `json:"new"`
	ErrorMsg   string          `json:"errorMsg"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ReviewStatus tracks the human review state of a dataset.
type ReviewStatus string

const (
	Reviewed    ReviewStatus = "REVIEWED"
	OnRevision  ReviewStatus = "ON_REVISION"
	NotReviewed ReviewStatus = "NOT_REVIEWED"
)

// Dataset belongs to a Catalog and owns its distributions.
type Dataset struct {
	ID           string          `json:"id"`
	CatalogID    string          `json:"catalogId"`
	Identifier   string          `json:"identifier"`
	Title        string          `json:"title"`
	Metadata     json.RawMessage `json:"metadata"`
	Indexable    bool            `json:"indexable"`
	Present      bool            `json:"present"`
	Updated      bool            `json:"updated"`
	Error        bool            `json:"error"`
	New          bool            `json:"new"`
	Reviewed     ReviewStatus    `json:"reviewed"`
	LastReviewed sql.NullTime    `json:"lastReviewed"`
	ErrorMsg     string          `json:"errorMsg"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Distribution belongs to a Dataset and carries the downloadable resource.
type Distribution struct {
	ID          string          `json:"id"`
	DatasetID   string          `json:"datasetId"`
	Identifier  string          `json:"identifier"`
	Title       string          `json:"title"`
	Metadata    json.RawMessage `json:"metadata"`
	DownloadURL sql.NullString  `json:"downloadUrl"`
	DataHash    string          `json:"dataHash"`
	LastUpdated sql.NullTime    `json:"lastUpdated"`
	DataFileKey sql.NullString  `json:"dataFileKey"`
	Present     bool            `json:"present"`
	Updated     bool            `json:"updated"`
	Error       bool            `json:"error"`
	New         bool            `json:"new"`
	ErrorMsg    string          `json:"errorMsg"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Field belongs to a Distribution. Keyed by (distribution, title,
// identifier) because titles and ids repeat loosely in source data.
type Field struct {
	ID             string          `json:"id"`
	DistributionID string          `json:"distributionId"`
	Title          string          `json:"title"`
	Identifier     string          `json:"identifier"`
	Metadata       json.RawMessage `json:"metadata"`
	Present        bool            `json:"present"`
	Updated        bool            `json:"updated"`
	Error          bool            `json:"error"`
	New            bool            `json:"new"`
	ErrorMsg       string          `json:"errorMsg"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// =============================================================================
// SOURCE NODE MODEL
// =============================================================================

// Node registers one remote catalog source.
type Node struct {
	ID         string    `json:"id"`
	CatalogID  string    `json:"catalogId"`
	CatalogURL string    `json:"catalogUrl"`
	Indexable  bool      `json:"indexable"`
	VerifySSL  bool      `json:"verifySsl"`
	Format     string    `json:"format"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// =============================================================================
// ORCHESTRATION MODELS
// =============================================================================

// Stage is one node of a pipeline chain. Stages are independently owned
// records; the chain is traversed through NextStageID.
type Stage struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	CallableRef string         `json:"callableRef"`
	Queue       string         `json:"queue"`
	TaskType    string         `json:"taskType"`
	NextStageID sql.NullString `json:"nextStageId"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// SynchronizerStatus is the run state of a Synchronizer.
type SynchronizerStatus string

const (
	SynchronizerRunning SynchronizerStatus = "RUNNING"
	SynchronizerStandBy SynchronizerStatus = "STAND_BY"
)

// Frequency is a Synchronizer recurrence mode.
type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekDays Frequency = "WEEK_DAYS"
)

// Synchronizer owns a stage chain and its run/schedule state.
type Synchronizer struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        SynchronizerStatus `json:"status"`
	StartStageID  string             `json:"startStageId"`
	ActualStageID sql.NullString     `json:"actualStageId"`
	Frequency     Frequency          `json:"frequency"`
	ScheduledTime string             `json:"scheduledTime"` // "15:04"
	WeekDays      []string           `json:"weekDays"`      // "MON".."SUN", WEEK_DAYS only
	LastTimeRan   time.Time          `json:"lastTimeRan"`
	Mode          string             `json:"mode"`
	TargetNode    sql.NullString     `json:"targetNode"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// TaskStatus is the lifecycle state of a task ledger entry.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "RUNNING"
	TaskFinished TaskStatus = "FINISHED"
)

// Run modes for read tasks: a complete run downloads distribution data, a
// metadata-only run skips it.
const (
	ModeComplete     = "COMPLETE"
	ModeMetadataOnly = "METADATA_ONLY"
)

// Task is one execution run of a stage's long-lived work: status,
// timestamps and an append-only log.
type Task struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Status   TaskStatus   `json:"status"`
	Mode     string       `json:"mode"`
	Created  time.Time    `json:"created"`
	Finished sql.NullTime `json:"finished"`
	Logs     string       `json:"logs"`
}
