package fault

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"faultsim/internal/weights"
)

// Operator rewrites every faultable tensor of a store. Each operator reads a
// whole tensor, computes the transformed values and writes them back with
// Store.Set; protected tensors are never visited.
type Operator interface {
	Name() string
	Apply(store *weights.Store) error
}

// StuckAt pins masked cells: W' = lower·L + upper·U + W·(1-L)·(1-Z)·(1-U).
type StuckAt struct {
	Masks  *Masks
	Config Config
}

func (StuckAt) Name() string { return "stuck_at" }

func (o StuckAt) Apply(store *weights.Store) error {
	for _, p := range store.Faultable() {
		mask, ok := o.Masks.Get(p.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingMask, p.Name)
		}
		if !mask.sameShape(p.Shape) || mask.Len() != p.Len() {
			return fmt.Errorf("%w: tensor %s has shape %v, mask has %v", ErrShapeMismatch, p.Name, p.Shape, mask.Shape)
		}
		if err := store.Set(p.Name, StuckValues(p.Data, mask, o.Config)); err != nil {
			return err
		}
	}
	return nil
}

// StuckValues applies a mask to w and returns the pinned values.
func StuckValues(w []float64, mask Mask, cfg Config) []float64 {
	out := make([]float64, len(w))
	for i, v := range w {
		l, z, u := bit(mask.Lower[i]), bit(mask.Zero[i]), bit(mask.Upper[i])
		out[i] = cfg.LowerBound*l + cfg.UpperBound*u + v*(1-l)*(1-z)*(1-u)
	}
	return out
}

func bit(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Variability draws every cell from Normal(W, sigma).
type Variability struct {
	Sigma float64
	Src   rand.Source
}

func (Variability) Name() string { return "write_variability" }

func (o Variability) Apply(store *weights.Store) error {
	if o.Sigma == 0 {
		return nil
	}
	for _, p := range store.Faultable() {
		next := make([]float64, p.Len())
		for i, v := range p.Data {
			next[i] = distuv.Normal{Mu: v, Sigma: o.Sigma, Src: o.Src}.Rand()
		}
		if err := store.Set(p.Name, next); err != nil {
			return err
		}
	}
	return nil
}

// Decay multiplies every cell by a constant drift factor.
type Decay struct {
	Factor float64
}

func (Decay) Name() string { return "decay" }

func (o Decay) Apply(store *weights.Store) error {
	for _, p := range store.Faultable() {
		next := make([]float64, p.Len())
		floats.ScaleTo(next, o.Factor, p.Data)
		if err := store.Set(p.Name, next); err != nil {
			return err
		}
	}
	return nil
}

// Quantize snaps every cell to one of Precision+1 evenly spaced conductance
// levels spanning the bound range. It is a no-op when precision is 0.
type Quantize struct {
	Config Config
}

func (Quantize) Name() string { return "quantize" }

func (o Quantize) Apply(store *weights.Store) error {
	if !o.Config.QuantizeEnabled() {
		return nil
	}
	for _, p := range store.Faultable() {
		next := make([]float64, p.Len())
		for i, v := range p.Data {
			next[i] = QuantizeValue(v, o.Config)
		}
		if err := store.Set(p.Name, next); err != nil {
			return err
		}
	}
	return nil
}

// Level maps w onto the integer level grid [0, precision]. Callers must check
// QuantizeEnabled first.
func Level(w float64, cfg Config) int {
	return int(levelValue(w, cfg))
}

func levelValue(w float64, cfg Config) float64 {
	p := float64(cfg.Precision)
	scaled := (w + math.Abs(cfg.LowerBound)) * (p / cfg.Range())
	clipped := math.Min(math.Max(scaled, 0), p)
	return math.RoundToEven(clipped)
}

// QuantizeValue is the lossy round trip w -> level -> weight.
func QuantizeValue(w float64, cfg Config) float64 {
	step := float64(cfg.Precision) / cfg.Range()
	return levelValue(w, cfg)/step - math.Abs(cfg.LowerBound)
}

// PostUpdate returns the operators run after each optimizer step, in order:
// quantize (when enabled), write variability, decay.
func PostUpdate(cfg Config, src rand.Source) []Operator {
	var ops []Operator
	if cfg.QuantizeEnabled() {
		ops = append(ops, Quantize{Config: cfg})
	}
	return append(ops, Variability{Sigma: cfg.Sigma, Src: src}, Decay{Factor: cfg.Decay})
}
