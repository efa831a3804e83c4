package pipeline

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datosgobar/catalog-sync/internal/database"
)

// MemStore is an in-memory Store for tests and dev mode.
type MemStore struct {
	mu       sync.Mutex
	stages   map[string]*database.Stage
	syns     map[string]*database.Synchronizer
	tasks    map[string]*database.Task
	sequence int
}

// NewMemStore creates an empty in-memory orchestration store.
func NewMemStore() *MemStore {
	return &MemStore{
		stages: make(map[string]*database.Stage),
		syns:   make(map[string]*database.Synchronizer),
		tasks:  make(map[string]*database.Task),
	}
}

func (s *MemStore) GetStage(ctx context.Context, id string) (*database.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[id]
	if !ok {
		return nil, nil
	}
	out := *st
	return &out, nil
}

func (s *MemStore) GetStageByName(ctx context.Context, name string) (*database.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stages {
		if st.Name == name {
			out := *st
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListStages(ctx context.Context) ([]*database.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.Stage, 0, len(s.stages))
	for _, st := range s.stages {
		copied := *st
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) SaveStage(ctx context.Context, st *database.Stage) (*database.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.New().String()
		st.CreatedAt = time.Now()
	}
	st.UpdatedAt = time.Now()
	stored := *st
	s.stages[st.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) GetSynchronizer(ctx context.Context, id string) (*database.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	syn, ok := s.syns[id]
	if !ok {
		return nil, nil
	}
	out := *syn
	return &out, nil
}

func (s *MemStore) ListSynchronizers(ctx context.Context, status *database.SynchronizerStatus) ([]*database.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Synchronizer
	for _, syn := range s.syns {
		if status != nil && syn.Status != *status {
			continue
		}
		copied := *syn
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) SaveSynchronizer(ctx context.Context, syn *database.Synchronizer) (*database.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if syn.ID == "" {
		syn.ID = uuid.New().String()
		syn.CreatedAt = time.Now()
	}
	if syn.Status == "" {
		syn.Status = database.SynchronizerStandBy
	}
	if syn.Frequency == "" {
		syn.Frequency = database.FrequencyDaily
	}
	if syn.LastTimeRan.IsZero() {
		syn.LastTimeRan = time.Now()
	}
	if syn.Mode == "" {
		syn.Mode = database.ModeComplete
	}
	syn.UpdatedAt = time.Now()
	stored := *syn
	s.syns[syn.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemStore) CreateTask(ctx context.Context, taskType, mode string) (*database.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == "" {
		mode = database.ModeComplete
	}
	s.sequence++
	task := &database.Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		Status:  database.TaskRunning,
		Mode:    mode,
		Created: time.Now().Add(time.Duration(s.sequence) * time.Microsecond),
	}
	s.tasks[task.ID] = task
	out := *task
	return &out, nil
}

func (s *MemStore) LatestRunningTask(ctx context.Context, taskType string) (*database.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *database.Task
	for _, task := range s.tasks {
		if task.Type != taskType || task.Status != database.TaskRunning {
			continue
		}
		if latest == nil || task.Created.After(latest.Created) {
			latest = task
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *MemStore) FinishRunningTasks(ctx context.Context, taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, task := range s.tasks {
		if task.Type == taskType && task.Status == database.TaskRunning {
			task.Status = database.TaskFinished
			task.Finished = sql.NullTime{Time: now, Valid: true}
		}
	}
	return nil
}

// FinishTask transitions one task to FINISHED.
func (s *MemStore) FinishTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Status != database.TaskRunning {
		return nil
	}
	task.Status = database.TaskFinished
	task.Finished = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

// Tasks returns every ledger entry of a type, newest first.
func (s *MemStore) Tasks(taskType string) []*database.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Task
	for _, task := range s.tasks {
		if task.Type == taskType {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

var _ Store = (*MemStore)(nil)
