// Package dataset provides the in-memory feature/label tables the trainer
// consumes, fixed-size batching, and a synthetic class-blob generator.
package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrEmpty = errors.New("dataset is empty")

// Dataset is a feature matrix with one integer class label per row.
type Dataset struct {
	X *mat.Dense
	Y []int
}

// Batch is a contiguous row range of a Dataset. X is a view, not a copy.
type Batch struct {
	X *mat.Dense
	Y []int
}

func New(x *mat.Dense, y []int) (Dataset, error) {
	if x == nil || len(y) == 0 {
		return Dataset{}, ErrEmpty
	}
	rows, _ := x.Dims()
	if rows != len(y) {
		return Dataset{}, fmt.Errorf("features have %d rows, labels have %d", rows, len(y))
	}
	for i, label := range y {
		if label < 0 {
			return Dataset{}, fmt.Errorf("row %d: negative label %d", i, label)
		}
	}
	return Dataset{X: x, Y: y}, nil
}

func (d Dataset) Len() int {
	return len(d.Y)
}

func (d Dataset) Features() int {
	if d.X == nil {
		return 0
	}
	_, cols := d.X.Dims()
	return cols
}

// Classes is one more than the largest label.
func (d Dataset) Classes() int {
	n := 0
	for _, label := range d.Y {
		n = max(n, label+1)
	}
	return n
}

// Batch returns rows [from, to).
func (d Dataset) Batch(from, to int) (Batch, error) {
	if from < 0 || to > d.Len() || from >= to {
		return Batch{}, fmt.Errorf("invalid batch range [%d, %d) for %d rows", from, to, d.Len())
	}
	view := d.X.Slice(from, to, 0, d.Features()).(*mat.Dense)
	return Batch{X: view, Y: d.Y[from:to]}, nil
}

// Batches splits the dataset in order into batches of size rows; the last
// one may be shorter. A size <= 0 or >= Len yields a single full batch.
func (d Dataset) Batches(size int) []Batch {
	n := d.Len()
	if n == 0 {
		return nil
	}
	if size <= 0 || size >= n {
		size = n
	}
	out := make([]Batch, 0, (n+size-1)/size)
	for from := 0; from < n; from += size {
		b, _ := d.Batch(from, min(from+size, n))
		out = append(out, b)
	}
	return out
}

// Batcher serves the same ordered batches every epoch.
type Batcher struct {
	Data Dataset
	Size int
}

func (b Batcher) Batches() []Batch {
	return b.Data.Batches(b.Size)
}
