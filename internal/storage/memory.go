package storage

import (
	"context"
	"sort"
	"sync"

	"faultsim/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	weights     map[string][]model.TensorSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.weights = make(map[string][]model.TensorSnapshot)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.weights, id)
	return nil
}

func (s *MemoryStore) SaveWeights(_ context.Context, runID string, weights []model.TensorSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.weights[runID] = cloneSnapshots(weights)
	return nil
}

func (s *MemoryStore) GetWeights(_ context.Context, runID string) ([]model.TensorSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	weights, ok := s.weights[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneSnapshots(weights), true, nil
}

func cloneRun(run model.RunRecord) model.RunRecord {
	run.Layers = append([]model.LayerSpec(nil), run.Layers...)
	run.History = append([]model.MetricPoint(nil), run.History...)
	return run
}

func cloneSnapshots(in []model.TensorSnapshot) []model.TensorSnapshot {
	out := make([]model.TensorSnapshot, len(in))
	for i, snap := range in {
		out[i] = model.TensorSnapshot{
			Name:   snap.Name,
			Shape:  append([]int(nil), snap.Shape...),
			Tag:    snap.Tag,
			Values: append([]float64(nil), snap.Values...),
		}
	}
	return out
}

// sortRuns orders newest first, breaking ties by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}
