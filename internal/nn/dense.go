package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"faultsim/internal/model"
)

var ErrNoForward = errors.New("backward called before forward")

// Layer is one stage of a Sequential model.
type Layer interface {
	Name() string
	Params() []*Param
	Forward(x *mat.Dense) (*mat.Dense, error)
	// Backward takes dLoss/dOutput and returns dLoss/dInput together with one
	// gradient slice per param, in Params order.
	Backward(grad *mat.Dense) (*mat.Dense, [][]float64, error)
}

// Dense is a fully connected layer: act(x·W + b).
type Dense struct {
	name       string
	activation string
	fn         ActivationFunc
	deriv      DerivativeFunc

	kernel *Param
	bias   *Param
	w      *mat.Dense

	input  *mat.Dense
	preact *mat.Dense
}

type DenseOption func(*denseOptions)

type denseOptions struct {
	tag *model.Tag
}

// Protected tags both the kernel and the bias as protected.
func Protected() DenseOption {
	return func(o *denseOptions) {
		tag := model.TagProtected
		o.tag = &tag
	}
}

// Faultable forces both tensors to take part in fault simulation regardless
// of the layer name.
func Faultable() DenseOption {
	return func(o *denseOptions) {
		tag := model.TagFaultable
		o.tag = &tag
	}
}

func NewDense(name string, in, out int, activation string, opts ...DenseOption) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("dense %s: invalid size %dx%d", name, in, out)
	}
	if activation == "" {
		activation = "identity"
	}
	fn, deriv, err := GetActivation(activation)
	if err != nil {
		return nil, fmt.Errorf("dense %s: %w", name, err)
	}

	var cfg denseOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	var paramOpts []ParamOption
	if cfg.tag != nil {
		paramOpts = append(paramOpts, WithTag(*cfg.tag))
	}

	kernel, err := NewParam(name+"/kernel", []int{in, out}, paramOpts...)
	if err != nil {
		return nil, err
	}
	bias, err := NewParam(name+"/bias", []int{out}, paramOpts...)
	if err != nil {
		return nil, err
	}

	return &Dense{
		name:       name,
		activation: activation,
		fn:         fn,
		deriv:      deriv,
		kernel:     kernel,
		bias:       bias,
		w:          mat.NewDense(in, out, kernel.Data),
	}, nil
}

func (d *Dense) Name() string {
	return d.name
}

func (d *Dense) Params() []*Param {
	return []*Param{d.kernel, d.bias}
}

func (d *Dense) InputSize() int {
	return d.kernel.Shape[0]
}

func (d *Dense) OutputSize() int {
	return d.kernel.Shape[1]
}

// GlorotUniform fills the kernel from U(-l, l) with l = sqrt(6/(in+out)) and
// zeroes the bias.
func (d *Dense) GlorotUniform(src rand.Source) {
	limit := math.Sqrt(6 / float64(d.InputSize()+d.OutputSize()))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}
	for i := range d.kernel.Data {
		d.kernel.Data[i] = dist.Rand()
	}
	for i := range d.bias.Data {
		d.bias.Data[i] = 0
	}
}

func (d *Dense) Forward(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != d.InputSize() {
		return nil, fmt.Errorf("dense %s: input has %d features, want %d", d.name, cols, d.InputSize())
	}

	preact := mat.NewDense(rows, d.OutputSize(), nil)
	preact.Mul(x, d.w)
	for r := 0; r < rows; r++ {
		floats.Add(preact.RawRowView(r), d.bias.Data)
	}

	out := mat.NewDense(rows, d.OutputSize(), nil)
	out.Apply(func(_, _ int, v float64) float64 { return d.fn(v) }, preact)

	d.input = x
	d.preact = preact
	return out, nil
}

func (d *Dense) Backward(grad *mat.Dense) (*mat.Dense, [][]float64, error) {
	if d.input == nil || d.preact == nil {
		return nil, nil, fmt.Errorf("dense %s: %w", d.name, ErrNoForward)
	}
	rows, cols := grad.Dims()
	if pr, pc := d.preact.Dims(); rows != pr || cols != pc {
		return nil, nil, fmt.Errorf("dense %s: gradient is %dx%d, want %dx%d", d.name, rows, cols, pr, pc)
	}

	dz := mat.NewDense(rows, cols, nil)
	dz.Apply(func(i, j int, v float64) float64 {
		return v * d.deriv(d.preact.At(i, j))
	}, grad)

	dw := mat.NewDense(d.InputSize(), d.OutputSize(), nil)
	dw.Mul(d.input.T(), dz)

	db := make([]float64, d.OutputSize())
	for r := 0; r < rows; r++ {
		floats.Add(db, dz.RawRowView(r))
	}

	dx := mat.NewDense(rows, d.InputSize(), nil)
	dx.Mul(dz, d.w.T())

	return dx, [][]float64{dw.RawMatrix().Data, db}, nil
}
