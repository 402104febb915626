// Package optim holds the gradient-descent optimizers driven by the trainer.
package optim

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrUnknownSlot  = errors.New("unknown optimizer slot")
	ErrSizeMismatch = errors.New("optimizer update size mismatch")
)

// Optimizer applies one batch of gradients to the tensors they belong to.
type Optimizer interface {
	Name() string
	Apply(updates []Update) error
}

// Update pairs a gradient with the tensor values it updates in place.
type Update struct {
	ID    string
	Grad  []float64
	Value []float64
}

// Slot declares a tensor the optimizer keeps state for.
type Slot struct {
	ID   string
	Size int
}

type SGDConfig struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Momentum     float64 `json:"momentum" yaml:"momentum"`
}

func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0,
	}
}

// SGD is stochastic gradient descent with classical momentum:
// v = momentum·v - lr·g, w = w + v.
type SGD struct {
	cfg      SGDConfig
	velocity map[string][]float64
	steps    uint64
}

// NewSGD creates zero-initialized accumulators sized to every slot.
func NewSGD(cfg SGDConfig, slots []Slot) (*SGD, error) {
	if cfg.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", cfg.LearningRate)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1): %f", cfg.Momentum)
	}
	velocity := make(map[string][]float64, len(slots))
	for _, slot := range slots {
		if slot.Size <= 0 {
			return nil, fmt.Errorf("slot %s: invalid size %d", slot.ID, slot.Size)
		}
		if _, dup := velocity[slot.ID]; dup {
			return nil, fmt.Errorf("duplicate slot: %s", slot.ID)
		}
		velocity[slot.ID] = make([]float64, slot.Size)
	}
	return &SGD{cfg: cfg, velocity: velocity}, nil
}

func (o *SGD) Name() string { return "sgd" }

// Steps is the number of successful Apply calls.
func (o *SGD) Steps() uint64 { return o.steps }

// Velocity returns a copy of a slot's accumulator.
func (o *SGD) Velocity(id string) ([]float64, bool) {
	v, ok := o.velocity[id]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// Apply validates every update before touching any tensor.
func (o *SGD) Apply(updates []Update) error {
	for _, u := range updates {
		v, ok := o.velocity[u.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, u.ID)
		}
		if len(u.Grad) != len(v) || len(u.Value) != len(v) {
			return fmt.Errorf("%w: %s expects %d, got grad=%d value=%d", ErrSizeMismatch, u.ID, len(v), len(u.Grad), len(u.Value))
		}
	}
	for _, u := range updates {
		v := o.velocity[u.ID]
		floats.Scale(o.cfg.Momentum, v)
		floats.AddScaled(v, -o.cfg.LearningRate, u.Grad)
		floats.Add(u.Value, v)
	}
	o.steps++
	return nil
}

// Factory builds an optimizer once the trainer knows every tensor it owns.
type Factory func(slots []Slot) (Optimizer, error)

func SGDFactory(cfg SGDConfig) Factory {
	return func(slots []Slot) (Optimizer, error) {
		return NewSGD(cfg, slots)
	}
}
