package storage

import (
	"context"

	"faultsim/internal/model"
)

// Store persists finished fault-injection runs and their final weights.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every stored run, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveWeights(ctx context.Context, runID string, weights []model.TensorSnapshot) error
	GetWeights(ctx context.Context, runID string) ([]model.TensorSnapshot, bool, error)
}
