package nn

import (
	"fmt"

	"faultsim/internal/model"
)

// Param is a named trainable tensor stored flat in row-major order. Its tag is
// decided once at construction and carried for the tensor's lifetime.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Tag   model.Tag
}

type ParamOption func(*Param)

// WithTag overrides the name-derived default tag.
func WithTag(tag model.Tag) ParamOption {
	return func(p *Param) {
		p.Tag = tag
	}
}

func NewParam(name string, shape []int, opts ...ParamOption) (*Param, error) {
	if name == "" {
		return nil, fmt.Errorf("param name is required")
	}
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("param %s: invalid shape %v", name, shape)
		}
		size *= dim
	}
	p := &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
		Tag:   model.ClassifyName(name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Param) Len() int {
	return len(p.Data)
}

func (p *Param) Protected() bool {
	return p.Tag == model.TagProtected
}

// SameShape reports whether shape matches the param's shape exactly.
func (p *Param) SameShape(shape []int) bool {
	if len(shape) != len(p.Shape) {
		return false
	}
	for i := range shape {
		if shape[i] != p.Shape[i] {
			return false
		}
	}
	return true
}

func (p *Param) Snapshot() model.TensorSnapshot {
	return model.TensorSnapshot{
		Name:   p.Name,
		Shape:  append([]int(nil), p.Shape...),
		Tag:    p.Tag,
		Values: append([]float64(nil), p.Data...),
	}
}
