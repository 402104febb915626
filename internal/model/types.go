package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Tag marks whether a trainable tensor takes part in fault simulation.
type Tag int

const (
	TagFaultable Tag = iota
	TagProtected
)

func (t Tag) String() string {
	switch t {
	case TagFaultable:
		return "faultable"
	case TagProtected:
		return "protected"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// protectedMarkers are the layer-name fragments that identify convolution and
// embedding tensors.
var protectedMarkers = []string{"conv", "embed"}

// ClassifyName returns the default tag for a tensor name. It is meant to be
// called once when a tensor is constructed.
func ClassifyName(name string) Tag {
	lower := strings.ToLower(name)
	for _, marker := range protectedMarkers {
		if strings.Contains(lower, marker) {
			return TagProtected
		}
	}
	return TagFaultable
}

// FaultConfig is the immutable hardware model for one run.
type FaultConfig struct {
	Sigma         float64 `json:"sigma" yaml:"sigma"`
	Decay         float64 `json:"decay" yaml:"decay"`
	Precision     int     `json:"precision" yaml:"precision"`
	UpperBound    float64 `json:"upper_bound" yaml:"upper_bound"`
	LowerBound    float64 `json:"lower_bound" yaml:"lower_bound"`
	LowerFraction float64 `json:"lower_fraction" yaml:"lower_fraction"`
	ZeroFraction  float64 `json:"zero_fraction" yaml:"zero_fraction"`
	UpperFraction float64 `json:"upper_fraction" yaml:"upper_fraction"`
}

// Range is the span covered by the quantizer: |upper| + |lower|.
func (c FaultConfig) Range() float64 {
	return math.Abs(c.UpperBound) + math.Abs(c.LowerBound)
}

// QuantizeEnabled reports whether the truncation operator runs at all.
func (c FaultConfig) QuantizeEnabled() bool {
	return c.Precision > 0
}

// StuckFraction is the total fraction of permanently faulted cells.
func (c FaultConfig) StuckFraction() float64 {
	return c.LowerFraction + c.ZeroFraction + c.UpperFraction
}

func (c FaultConfig) Validate() error {
	if c.Sigma < 0 || math.IsNaN(c.Sigma) {
		return fmt.Errorf("sigma must be >= 0, got %v", c.Sigma)
	}
	if math.IsNaN(c.Decay) || math.IsInf(c.Decay, 0) {
		return fmt.Errorf("decay must be finite, got %v", c.Decay)
	}
	if c.UpperBound < c.LowerBound {
		return fmt.Errorf("upper bound %v is below lower bound %v", c.UpperBound, c.LowerBound)
	}
	if c.QuantizeEnabled() && c.Range() == 0 {
		return errors.New("quantization needs a non-empty bound range")
	}
	for name, f := range map[string]float64{
		"lower_fraction": c.LowerFraction,
		"zero_fraction":  c.ZeroFraction,
		"upper_fraction": c.UpperFraction,
	} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, f)
		}
	}
	if c.StuckFraction() > 1 {
		return fmt.Errorf("stuck fractions sum to %v, above 1", c.StuckFraction())
	}
	return nil
}

// MetricPoint is one row of the held-out metrics history. Epoch 0 is the
// baseline measured before any training step.
type MetricPoint struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

type metricPointWire struct {
	Epoch    int             `json:"epoch"`
	Loss     json.RawMessage `json:"loss"`
	Accuracy json.RawMessage `json:"accuracy"`
}

// MarshalJSON writes non-finite values as the strings "NaN", "+Inf" and
// "-Inf"; a diverged run still has a history worth keeping.
func (p MetricPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricPointWire{
		Epoch:    p.Epoch,
		Loss:     encodeFloat(p.Loss),
		Accuracy: encodeFloat(p.Accuracy),
	})
}

func (p *MetricPoint) UnmarshalJSON(data []byte) error {
	var wire metricPointWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	loss, err := decodeFloat(wire.Loss)
	if err != nil {
		return fmt.Errorf("loss: %w", err)
	}
	accuracy, err := decodeFloat(wire.Accuracy)
	if err != nil {
		return fmt.Errorf("accuracy: %w", err)
	}
	*p = MetricPoint{Epoch: wire.Epoch, Loss: loss, Accuracy: accuracy}
	return nil
}

func encodeFloat(v float64) json.RawMessage {
	text := strconv.FormatFloat(v, 'g', -1, 64)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		text = strconv.Quote(text)
	}
	return json.RawMessage(text)
}

func decodeFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	text := string(raw)
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	return strconv.ParseFloat(text, 64)
}

type LayerSpec struct {
	Name       string `json:"name" yaml:"name"`
	Units      int    `json:"units" yaml:"units"`
	Activation string `json:"activation" yaml:"activation"`
	Protected  bool   `json:"protected,omitempty" yaml:"protected,omitempty"`
}

type TensorSnapshot struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Tag    Tag       `json:"tag"`
	Values []float64 `json:"values"`
}

// RunRecord is everything persisted about one finished fault-injection run.
type RunRecord struct {
	VersionedRecord
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	CreatedAtUTC string        `json:"created_at_utc"`
	Fault        FaultConfig   `json:"fault"`
	Layers       []LayerSpec   `json:"layers"`
	InputSize    int           `json:"input_size"`
	Epochs       int           `json:"epochs"`
	BatchSize    int           `json:"batch_size"`
	Seed         uint64        `json:"seed"`
	LearningRate float64       `json:"learning_rate"`
	Momentum     float64       `json:"momentum"`
	History      []MetricPoint `json:"history"`
	DurationMS   int64         `json:"duration_ms"`
}

// Final returns the last recorded metric point.
func (r RunRecord) Final() (MetricPoint, bool) {
	if len(r.History) == 0 {
		return MetricPoint{}, false
	}
	return r.History[len(r.History)-1], true
}
