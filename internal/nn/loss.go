package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss scores logits against integer labels and returns dLoss/dLogits.
type Loss interface {
	Name() string
	Evaluate(logits *mat.Dense, labels []int) (float64, *mat.Dense, error)
}

// SoftmaxCrossEntropy is sparse categorical cross-entropy computed from raw
// logits, averaged over the batch.
type SoftmaxCrossEntropy struct{}

func (SoftmaxCrossEntropy) Name() string {
	return "softmax_cross_entropy"
}

func (SoftmaxCrossEntropy) Evaluate(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, classes := logits.Dims()
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("logits have %d rows but %d labels", rows, len(labels))
	}

	grad := mat.NewDense(rows, classes, nil)
	total := 0.0
	scale := 1.0 / float64(rows)
	for r := 0; r < rows; r++ {
		label := labels[r]
		if label < 0 || label >= classes {
			return 0, nil, fmt.Errorf("label %d out of range [0,%d)", label, classes)
		}

		row := logits.RawRowView(r)
		probs := grad.RawRowView(r)
		maxLogit := floats.Max(row)
		sum := 0.0
		for c, v := range row {
			probs[c] = math.Exp(v - maxLogit)
			sum += probs[c]
		}
		floats.Scale(1/sum, probs)

		total -= math.Log(probs[label])
		probs[label] -= 1
		floats.Scale(scale, probs)
	}
	return total * scale, grad, nil
}

// Accuracy is the fraction of rows whose argmax logit equals the label.
func Accuracy(logits *mat.Dense, labels []int) (float64, error) {
	rows, _ := logits.Dims()
	if rows != len(labels) {
		return 0, fmt.Errorf("logits have %d rows but %d labels", rows, len(labels))
	}
	if rows == 0 {
		return 0, nil
	}
	correct := 0
	for r := 0; r < rows; r++ {
		if floats.MaxIdx(logits.RawRowView(r)) == labels[r] {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}
