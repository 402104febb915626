package optim

import (
	"errors"
	"math"
	"testing"
)

func TestNewSGDZeroAccumulators(t *testing.T) {
	opt, err := NewSGD(DefaultSGDConfig(), []Slot{{ID: "w", Size: 3}, {ID: "b", Size: 1}})
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	for _, id := range []string{"w", "b"} {
		v, ok := opt.Velocity(id)
		if !ok {
			t.Fatalf("missing slot %s", id)
		}
		for i, x := range v {
			if x != 0 {
				t.Fatalf("slot %s[%d] = %v, want 0", id, i, x)
			}
		}
	}
}

func TestNewSGDValidation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   SGDConfig
		slots []Slot
	}{
		{name: "negative lr", cfg: SGDConfig{LearningRate: -1}, slots: []Slot{{ID: "w", Size: 1}}},
		{name: "momentum one", cfg: SGDConfig{LearningRate: 0.1, Momentum: 1}, slots: []Slot{{ID: "w", Size: 1}}},
		{name: "empty slot", cfg: DefaultSGDConfig(), slots: []Slot{{ID: "w", Size: 0}}},
		{name: "duplicate slot", cfg: DefaultSGDConfig(), slots: []Slot{{ID: "w", Size: 1}, {ID: "w", Size: 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSGD(tc.cfg, tc.slots); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSGDPlainStep(t *testing.T) {
	opt, err := NewSGD(SGDConfig{LearningRate: 0.5}, []Slot{{ID: "w", Size: 2}})
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	w := []float64{1, -1}
	if err := opt.Apply([]Update{{ID: "w", Grad: []float64{0.5, -2}, Value: w}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if w[0] != 0.75 || w[1] != 0 {
		t.Fatalf("unexpected weights: %v", w)
	}
	if opt.Steps() != 1 {
		t.Fatalf("expected 1 step, got %d", opt.Steps())
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	opt, err := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []Slot{{ID: "w", Size: 1}})
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	w := []float64{0}
	for i := 0; i < 2; i++ {
		if err := opt.Apply([]Update{{ID: "w", Grad: []float64{1}, Value: w}}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	// v1 = -0.1, v2 = 0.9·(-0.1) - 0.1 = -0.19, w = -0.29
	if math.Abs(w[0]+0.29) > 1e-12 {
		t.Fatalf("unexpected weight after momentum steps: %v", w[0])
	}
}

func TestSGDApplyRejectsBadUpdatesAtomically(t *testing.T) {
	opt, err := NewSGD(SGDConfig{LearningRate: 1}, []Slot{{ID: "w", Size: 2}})
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	w := []float64{1, 1}

	err = opt.Apply([]Update{
		{ID: "w", Grad: []float64{1, 1}, Value: w},
		{ID: "missing", Grad: []float64{1}, Value: []float64{0}},
	})
	if !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
	if w[0] != 1 || w[1] != 1 {
		t.Fatalf("weights changed on rejected update: %v", w)
	}

	err = opt.Apply([]Update{{ID: "w", Grad: []float64{1}, Value: w}})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if opt.Steps() != 0 {
		t.Fatalf("rejected updates must not count as steps")
	}
}
