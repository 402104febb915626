package fault

import (
	"fmt"
	"math"
)

// SweepParameters lists the hardware parameters a sweep can vary.
var SweepParameters = []string{"sigma", "decay", "precision", "upper_bound", "lower_bound"}

// WithParameter returns a copy of cfg with one named parameter replaced.
// Precision must be a whole number.
func WithParameter(cfg Config, name string, value float64) (Config, error) {
	switch name {
	case "sigma":
		cfg.Sigma = value
	case "decay":
		cfg.Decay = value
	case "precision":
		if value != math.Trunc(value) {
			return Config{}, fmt.Errorf("precision must be a whole number, got %v", value)
		}
		cfg.Precision = int(value)
	case "upper_bound":
		cfg.UpperBound = value
	case "lower_bound":
		cfg.LowerBound = value
	default:
		return Config{}, fmt.Errorf("unknown sweep parameter %q (valid: %v)", name, SweepParameters)
	}
	return cfg, nil
}
