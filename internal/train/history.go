package train

import "faultsim/internal/model"

// History is the append-only held-out metrics record of one run. Point 0 is
// the baseline taken before the first training step.
type History struct {
	points []model.MetricPoint
}

func (h *History) Append(loss, accuracy float64) model.MetricPoint {
	p := model.MetricPoint{Epoch: len(h.points), Loss: loss, Accuracy: accuracy}
	h.points = append(h.points, p)
	return p
}

func (h *History) Len() int {
	return len(h.points)
}

func (h *History) Points() []model.MetricPoint {
	return append([]model.MetricPoint(nil), h.points...)
}

func (h *History) Losses() []float64 {
	out := make([]float64, len(h.points))
	for i, p := range h.points {
		out[i] = p.Loss
	}
	return out
}

func (h *History) Accuracies() []float64 {
	out := make([]float64, len(h.points))
	for i, p := range h.points {
		out[i] = p.Accuracy
	}
	return out
}

func (h *History) Final() (model.MetricPoint, bool) {
	if len(h.points) == 0 {
		return model.MetricPoint{}, false
	}
	return h.points[len(h.points)-1], true
}
