// Package fault models non-ideal analog memory: stuck-at cells, write
// variability, conductance decay and bounded-precision quantization.
package fault

import "faultsim/internal/model"

// Config is the immutable hardware model applied to every faultable tensor.
type Config = model.FaultConfig

const (
	DefaultUpperBound    = 0.1
	DefaultLowerBound    = -0.1
	DefaultStuckFraction = 0.1
)

// DefaultConfig is an ideal device apart from the stuck-at population:
// no noise, no decay, unlimited precision, bounds ±0.1 and 10% of cells stuck
// at each of lower bound, zero and upper bound.
func DefaultConfig() Config {
	return Config{
		Sigma:         0,
		Decay:         1,
		Precision:     0,
		UpperBound:    DefaultUpperBound,
		LowerBound:    DefaultLowerBound,
		LowerFraction: DefaultStuckFraction,
		ZeroFraction:  DefaultStuckFraction,
		UpperFraction: DefaultStuckFraction,
	}
}
