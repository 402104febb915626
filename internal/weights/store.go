// Package weights exposes a model's trainable tensors to the fault operators.
// Tensors are partitioned by their construction-time tag and rewritten in
// place through Set.
package weights

import (
	"errors"
	"fmt"

	"faultsim/internal/model"
	"faultsim/internal/nn"
)

var (
	ErrUnknownTensor   = errors.New("unknown tensor")
	ErrProtectedTensor = errors.New("tensor is protected")
	ErrSizeMismatch    = errors.New("tensor size mismatch")
)

type Store struct {
	params    []*nn.Param
	byName    map[string]*nn.Param
	faultable []*nn.Param
	protected []*nn.Param
}

func NewStore(params []*nn.Param) (*Store, error) {
	s := &Store{byName: make(map[string]*nn.Param, len(params))}
	for _, p := range params {
		if p == nil {
			return nil, errors.New("nil tensor")
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate tensor name: %s", p.Name)
		}
		s.byName[p.Name] = p
		s.params = append(s.params, p)
		if p.Protected() {
			s.protected = append(s.protected, p)
		} else {
			s.faultable = append(s.faultable, p)
		}
	}
	return s, nil
}

// All returns every tensor in model order.
func (s *Store) All() []*nn.Param {
	return append([]*nn.Param(nil), s.params...)
}

func (s *Store) Faultable() []*nn.Param {
	return append([]*nn.Param(nil), s.faultable...)
}

func (s *Store) Protected() []*nn.Param {
	return append([]*nn.Param(nil), s.protected...)
}

// FaultableCells is the total element count across faultable tensors.
func (s *Store) FaultableCells() int {
	total := 0
	for _, p := range s.faultable {
		total += p.Len()
	}
	return total
}

func (s *Store) Get(id string) (*nn.Param, bool) {
	p, ok := s.byName[id]
	return p, ok
}

// Values returns a copy of a tensor's current values.
func (s *Store) Values(id string) ([]float64, error) {
	p, ok := s.byName[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTensor, id)
	}
	return append([]float64(nil), p.Data...), nil
}

// Set overwrites a faultable tensor in place. The backing slice is kept so
// layer views over it stay valid.
func (s *Store) Set(id string, values []float64) error {
	p, ok := s.byName[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTensor, id)
	}
	if p.Protected() {
		return fmt.Errorf("%w: %s", ErrProtectedTensor, id)
	}
	if len(values) != len(p.Data) {
		return fmt.Errorf("%w: %s has %d values, got %d", ErrSizeMismatch, id, len(p.Data), len(values))
	}
	copy(p.Data, values)
	return nil
}

func (s *Store) Snapshot() []model.TensorSnapshot {
	out := make([]model.TensorSnapshot, 0, len(s.params))
	for _, p := range s.params {
		out = append(out, p.Snapshot())
	}
	return out
}
