package train

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"faultsim/internal/dataset"
	"faultsim/internal/nn"
)

// Model is the network being trained. nn.Sequential implements it.
type Model interface {
	Params() []*nn.Param
	Forward(x *mat.Dense) (*mat.Dense, error)
	// Backward returns gradients aligned with Params for the last Forward.
	Backward(dLogits *mat.Dense) ([][]float64, error)
}

// Source yields the training batches of one epoch, in order.
type Source interface {
	Batches() []dataset.Batch
}

// Step computes the batch loss and the gradient of every trainable tensor.
// It reads weights and never writes them.
func Step(m Model, loss nn.Loss, batch dataset.Batch) (float64, [][]float64, error) {
	logits, err := m.Forward(batch.X)
	if err != nil {
		return 0, nil, fmt.Errorf("forward: %w", err)
	}
	value, dLogits, err := loss.Evaluate(logits, batch.Y)
	if err != nil {
		return 0, nil, fmt.Errorf("loss: %w", err)
	}
	grads, err := m.Backward(dLogits)
	if err != nil {
		return 0, nil, fmt.Errorf("backward: %w", err)
	}
	if len(grads) != len(m.Params()) {
		return 0, nil, fmt.Errorf("model returned %d gradients for %d params", len(grads), len(m.Params()))
	}
	return value, grads, nil
}

// Evaluate measures loss and accuracy over a whole dataset in one pass.
func Evaluate(m Model, loss nn.Loss, data dataset.Dataset) (float64, float64, error) {
	logits, err := m.Forward(data.X)
	if err != nil {
		return 0, 0, fmt.Errorf("forward: %w", err)
	}
	value, _, err := loss.Evaluate(logits, data.Y)
	if err != nil {
		return 0, 0, fmt.Errorf("loss: %w", err)
	}
	accuracy, err := nn.Accuracy(logits, data.Y)
	if err != nil {
		return 0, 0, err
	}
	return value, accuracy, nil
}
