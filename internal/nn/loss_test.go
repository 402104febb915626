package nn

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSoftmaxCrossEntropyUniformLogits(t *testing.T) {
	logits := mat.NewDense(2, 4, nil)
	loss, grad, err := SoftmaxCrossEntropy{}.Evaluate(logits, []int{1, 3})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if want := math.Log(4); math.Abs(loss-want) > 1e-12 {
		t.Fatalf("unexpected loss: got=%f want=%f", loss, want)
	}
	// (0.25 - 1) / 2 at the label, 0.25 / 2 elsewhere.
	if got := grad.At(0, 1); math.Abs(got-(-0.375)) > 1e-12 {
		t.Fatalf("unexpected label gradient: %f", got)
	}
	if got := grad.At(0, 0); math.Abs(got-0.125) > 1e-12 {
		t.Fatalf("unexpected non-label gradient: %f", got)
	}
}

func TestSoftmaxCrossEntropyLabelOutOfRange(t *testing.T) {
	if _, _, err := (SoftmaxCrossEntropy{}).Evaluate(mat.NewDense(1, 2, nil), []int{2}); err == nil {
		t.Fatal("expected out of range label error")
	}
	if _, _, err := (SoftmaxCrossEntropy{}).Evaluate(mat.NewDense(1, 2, nil), []int{0, 1}); err == nil {
		t.Fatal("expected row mismatch error")
	}
}

func TestSoftmaxCrossEntropyNonFinitePropagates(t *testing.T) {
	logits := mat.NewDense(1, 2, []float64{math.NaN(), 0})
	loss, _, err := SoftmaxCrossEntropy{}.Evaluate(logits, []int{0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !math.IsNaN(loss) {
		t.Fatalf("expected NaN loss, got %f", loss)
	}
}

func TestAccuracy(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0.9, 0.05, 0.05,
		0.1, 0.2, 0.7,
		0.3, 0.4, 0.3,
	})
	acc, err := Accuracy(logits, []int{0, 2, 0})
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if math.Abs(acc-2.0/3.0) > 1e-12 {
		t.Fatalf("unexpected accuracy: %f", acc)
	}
}
