package dataset

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, nil); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := New(mat.NewDense(2, 2, nil), []int{0}); err == nil {
		t.Fatal("expected row mismatch error")
	}
	if _, err := New(mat.NewDense(1, 2, nil), []int{-1}); err == nil {
		t.Fatal("expected negative label error")
	}
}

func TestBatchesSplitInOrder(t *testing.T) {
	x := mat.NewDense(5, 2, []float64{0, 0, 1, 1, 2, 2, 3, 3, 4, 4})
	d, err := New(x, []int{0, 1, 0, 1, 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		size  int
		sizes []int
	}{
		{size: 2, sizes: []int{2, 2, 1}},
		{size: 5, sizes: []int{5}},
		{size: 0, sizes: []int{5}},
		{size: 10, sizes: []int{5}},
	}
	for _, tc := range tests {
		batches := Batcher{Data: d, Size: tc.size}.Batches()
		if len(batches) != len(tc.sizes) {
			t.Fatalf("size %d: got %d batches, want %d", tc.size, len(batches), len(tc.sizes))
		}
		row := 0
		for i, b := range batches {
			rows, cols := b.X.Dims()
			if rows != tc.sizes[i] || cols != 2 || len(b.Y) != rows {
				t.Fatalf("size %d batch %d: dims %dx%d labels %d", tc.size, i, rows, cols, len(b.Y))
			}
			for r := 0; r < rows; r++ {
				if b.X.At(r, 0) != float64(row) {
					t.Fatalf("size %d: batch %d row %d out of order", tc.size, i, r)
				}
				row++
			}
		}
	}
}

func TestBatchIsView(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	d, _ := New(x, []int{0, 1, 2})
	b, err := d.Batch(1, 3)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	x.Set(2, 0, 9)
	if b.X.At(1, 0) != 9 {
		t.Fatal("expected batch to view the dataset rows")
	}
	if _, err := d.Batch(2, 2); err == nil {
		t.Fatal("expected empty range error")
	}
}

func TestSyntheticShapesAndDeterminism(t *testing.T) {
	cfg := SyntheticConfig{Features: 6, Classes: 3, Train: 30, Test: 9, Spread: 0.1, Seed: 42}
	train, test, err := Synthetic(cfg)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	if train.Len() != 30 || test.Len() != 9 || train.Features() != 6 {
		t.Fatalf("unexpected sizes: train=%d test=%d features=%d", train.Len(), test.Len(), train.Features())
	}
	if train.Classes() != 3 || test.Classes() != 3 {
		t.Fatalf("expected 3 classes, got %d/%d", train.Classes(), test.Classes())
	}

	again, _, err := Synthetic(cfg)
	if err != nil {
		t.Fatalf("synthetic again: %v", err)
	}
	if !mat.Equal(train.X, again.X) {
		t.Fatal("expected identical data for the same seed")
	}
}

func TestSyntheticValidate(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Classes = 1
	if _, _, err := Synthetic(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}
