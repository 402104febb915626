package fault

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"faultsim/internal/weights"
)

var (
	ErrShapeMismatch = errors.New("fault mask shape mismatch")
	ErrMissingMask   = errors.New("fault mask missing")
)

type cellClass uint8

const (
	cellFree cellClass = iota
	cellLower
	cellZero
	cellUpper
)

// Mask marks the cells of one tensor that are stuck at the lower bound, at
// zero, or at the upper bound. At most one of the three is set per cell.
type Mask struct {
	Tensor string
	Shape  []int
	Lower  []bool
	Zero   []bool
	Upper  []bool
}

// NewMask validates that the three masks match shape and are mutually
// exclusive.
func NewMask(tensor string, shape []int, lower, zero, upper []bool) (Mask, error) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	if len(lower) != n || len(zero) != n || len(upper) != n {
		return Mask{}, fmt.Errorf("%w: %s shape %v needs %d cells, got %d/%d/%d",
			ErrShapeMismatch, tensor, shape, n, len(lower), len(zero), len(upper))
	}
	for i := 0; i < n; i++ {
		set := 0
		for _, m := range [][]bool{lower, zero, upper} {
			if m[i] {
				set++
			}
		}
		if set > 1 {
			return Mask{}, fmt.Errorf("%s: cell %d is stuck in more than one state", tensor, i)
		}
	}
	return Mask{
		Tensor: tensor,
		Shape:  append([]int(nil), shape...),
		Lower:  lower,
		Zero:   zero,
		Upper:  upper,
	}, nil
}

func (m Mask) Len() int {
	return len(m.Lower)
}

func (m Mask) Counts() (lower, zero, upper int) {
	for i := range m.Lower {
		switch {
		case m.Lower[i]:
			lower++
		case m.Zero[i]:
			zero++
		case m.Upper[i]:
			upper++
		}
	}
	return lower, zero, upper
}

func (m Mask) sameShape(shape []int) bool {
	if len(shape) != len(m.Shape) {
		return false
	}
	for i := range shape {
		if shape[i] != m.Shape[i] {
			return false
		}
	}
	return true
}

// Masks holds one Mask per faultable tensor for the lifetime of a run.
type Masks struct {
	order    []string
	byTensor map[string]Mask
}

func (m *Masks) Get(tensor string) (Mask, bool) {
	if m == nil {
		return Mask{}, false
	}
	mask, ok := m.byTensor[tensor]
	return mask, ok
}

func (m *Masks) Tensors() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}

// Counts totals the stuck cells of each class across all tensors.
func (m *Masks) Counts() (lower, zero, upper int) {
	if m == nil {
		return 0, 0, 0
	}
	for _, name := range m.order {
		l, z, u := m.byTensor[name].Counts()
		lower += l
		zero += z
		upper += u
	}
	return lower, zero, upper
}

// StuckCount is the number of cells assigned to a class holding fraction of
// n cells, rounded half to even.
func StuckCount(fraction float64, n int) int {
	return int(math.RoundToEven(fraction * float64(n)))
}

// GenerateMasks assigns round(f·N) cells of every faultable tensor to each
// stuck class and scatters them with a uniform permutation drawn from rnd.
// Protected tensors get no mask and never enter the fault pipeline.
func GenerateMasks(store *weights.Store, cfg Config, rnd *rand.Rand) (*Masks, error) {
	if rnd == nil {
		return nil, errors.New("random source is required")
	}
	masks := &Masks{byTensor: make(map[string]Mask)}
	for _, p := range store.Faultable() {
		n := p.Len()
		classes := make([]cellClass, n)

		next := 0
		for _, assign := range []struct {
			class    cellClass
			fraction float64
		}{
			{cellLower, cfg.LowerFraction},
			{cellZero, cfg.ZeroFraction},
			{cellUpper, cfg.UpperFraction},
		} {
			count := min(StuckCount(assign.fraction, n), n-next)
			for i := 0; i < count; i++ {
				classes[next] = assign.class
				next++
			}
		}
		rnd.Shuffle(n, func(i, j int) {
			classes[i], classes[j] = classes[j], classes[i]
		})

		lower := make([]bool, n)
		zero := make([]bool, n)
		upper := make([]bool, n)
		for i, class := range classes {
			switch class {
			case cellLower:
				lower[i] = true
			case cellZero:
				zero[i] = true
			case cellUpper:
				upper[i] = true
			}
		}

		mask, err := NewMask(p.Name, p.Shape, lower, zero, upper)
		if err != nil {
			return nil, err
		}
		masks.order = append(masks.order, p.Name)
		masks.byTensor[p.Name] = mask
	}
	return masks, nil
}
