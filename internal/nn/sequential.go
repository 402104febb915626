package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"faultsim/internal/model"
)

// Sequential is an ordered stack of layers producing class logits.
type Sequential struct {
	inputSize int
	layers    []Layer
}

func NewSequential(inputSize int) *Sequential {
	return &Sequential{inputSize: inputSize}
}

// BuildDense assembles a dense stack from layer specs and initializes every
// kernel with Glorot-uniform values drawn from a PCG source seeded by seed.
func BuildDense(inputSize int, specs []model.LayerSpec, seed uint64) (*Sequential, error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("input size must be > 0, got %d", inputSize)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one layer is required")
	}

	src := rand.NewPCG(seed, 0x9e3779b97f4a7c15)
	seq := NewSequential(inputSize)
	in := inputSize
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("dense_%d", i)
		}
		var opts []DenseOption
		if spec.Protected {
			opts = append(opts, Protected())
		}
		layer, err := NewDense(name, in, spec.Units, spec.Activation, opts...)
		if err != nil {
			return nil, err
		}
		layer.GlorotUniform(src)
		if err := seq.Add(layer); err != nil {
			return nil, err
		}
		in = spec.Units
	}
	return seq, nil
}

func (s *Sequential) Add(layer Layer) error {
	seen := make(map[string]struct{})
	for _, p := range s.Params() {
		seen[p.Name] = struct{}{}
	}
	for _, p := range layer.Params() {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate param name: %s", p.Name)
		}
	}
	s.layers = append(s.layers, layer)
	return nil
}

func (s *Sequential) InputSize() int {
	return s.inputSize
}

func (s *Sequential) Layers() []Layer {
	return append([]Layer(nil), s.layers...)
}

// Params lists every trainable tensor, layer by layer.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, layer := range s.layers {
		params = append(params, layer.Params()...)
	}
	return params
}

func (s *Sequential) Forward(x *mat.Dense) (*mat.Dense, error) {
	out := x
	for _, layer := range s.layers {
		next, err := layer.Forward(out)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// Backward propagates dLoss/dLogits through the stack and returns gradients
// aligned with Params.
func (s *Sequential) Backward(dLogits *mat.Dense) ([][]float64, error) {
	perLayer := make([][][]float64, len(s.layers))
	grad := dLogits
	for i := len(s.layers) - 1; i >= 0; i-- {
		dx, grads, err := s.layers[i].Backward(grad)
		if err != nil {
			return nil, err
		}
		perLayer[i] = grads
		grad = dx
	}

	var out [][]float64
	for _, grads := range perLayer {
		out = append(out, grads...)
	}
	return out, nil
}
