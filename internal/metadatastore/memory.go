package metadatastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

// MemoryStore is an in-process Store used by the metadatastore,
// orchestrator, queryservice and httpapi unit tests to exercise the CAS and commit semantics without a live Neo4j
// instance. It mirrors Neo4jStore's observable behavior exactly, including
// ErrConflict/ErrStaleTask, so tests written against it also describe the
// Neo4j-backed implementation's contract.
type MemoryStore struct {
	mu    sync.Mutex
	state KGState
	tasks map[string]*KGTask
	order []string
}

// NewMemoryStore returns a Store with status IDLE and no ready version.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: KGState{GraphName: defaultGraphName, Status: kgtypes.StatusIdle, UpdatedAt: time.Now().UTC()},
		tasks: make(map[string]*KGTask),
	}
}

func (s *MemoryStore) Read(ctx context.Context) (*KGState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.state
	return &cp, nil
}

func (s *MemoryStore) TryAcquire(ctx context.Context, targetStatus Status, taskID string, taskType TaskType, version string, baseVersion *string) (*KGState, *KGTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status == kgtypes.StatusBuilding || s.state.Status == kgtypes.StatusUpdating {
		cp := s.state
		return &cp, nil, ErrConflict
	}

	s.state.Status = targetStatus
	s.state.CurrentTaskID = &taskID
	s.state.UpdatedAt = time.Now().UTC()

	task := &KGTask{
		TaskID:      taskID,
		Type:        taskType,
		Version:     version,
		BaseVersion: baseVersion,
		StartedAt:   time.Now().UTC(),
	}
	s.tasks[taskID] = task
	s.order = append(s.order, taskID)

	cpState := s.state
	cpTask := *task
	return &cpState, &cpTask, nil
}

func (s *MemoryStore) CommitSuccess(ctx context.Context, taskID, newVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentTaskID == nil || *s.state.CurrentTaskID != taskID {
		return ErrStaleTask
	}
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrStaleTask
	}

	now := time.Now().UTC()
	s.state.Status = kgtypes.StatusReady
	s.state.CurrentTaskID = nil
	s.state.LatestReadyVersion = &newVersion
	s.state.UpdatedAt = now

	task.FinishedAt = &now
	task.Progress = 100
	return nil
}

func (s *MemoryStore) CommitFailure(ctx context.Context, taskID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentTaskID == nil || *s.state.CurrentTaskID != taskID {
		return ErrStaleTask
	}
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrStaleTask
	}

	now := time.Now().UTC()
	s.state.Status = kgtypes.StatusFailed
	s.state.CurrentTaskID = nil
	s.state.UpdatedAt = now

	task.FinishedAt = &now
	task.Error = errMsg
	return nil
}

func (s *MemoryStore) RecoverOnStartup(ctx context.Context) error {
	s.mu.Lock()
	taskID := s.state.CurrentTaskID
	needsRecovery := s.state.Status == kgtypes.StatusBuilding || s.state.Status == kgtypes.StatusUpdating
	s.mu.Unlock()

	if !needsRecovery || taskID == nil {
		return nil
	}
	return s.CommitFailure(ctx, *taskID, "server restarted")
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*KGTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrStaleTask
	}
	cp := *task
	return &cp, nil
}

func (s *MemoryStore) ListRecentTasks(ctx context.Context, limit int) ([]*KGTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := append([]string(nil), s.order...)
	sort.Slice(ids, func(i, j int) bool {
		return s.tasks[ids[i]].StartedAt.After(s.tasks[ids[j]].StartedAt)
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*KGTask, 0, len(ids))
	for _, id := range ids {
		cp := *s.tasks[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
