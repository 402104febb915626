package dataset

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticConfig describes Gaussian class blobs: one random center per class
// and samples scattered around it with standard deviation Spread.
type SyntheticConfig struct {
	Features int
	Classes  int
	Train    int
	Test     int
	Spread   float64
	Seed     uint64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Features: 784,
		Classes:  10,
		Train:    1000,
		Test:     200,
		Spread:   1.0,
		Seed:     1,
	}
}

func (c SyntheticConfig) Validate() error {
	if c.Features <= 0 {
		return fmt.Errorf("features must be > 0, got %d", c.Features)
	}
	if c.Classes < 2 {
		return fmt.Errorf("classes must be >= 2, got %d", c.Classes)
	}
	if c.Train <= 0 || c.Test <= 0 {
		return fmt.Errorf("train and test sizes must be > 0, got %d/%d", c.Train, c.Test)
	}
	if c.Spread < 0 {
		return fmt.Errorf("spread must be >= 0, got %v", c.Spread)
	}
	return nil
}

// Synthetic draws a train and a held-out set from the same class centers.
// Labels cycle through the classes so every class is represented.
func Synthetic(cfg SyntheticConfig) (train, test Dataset, err error) {
	if err := cfg.Validate(); err != nil {
		return Dataset{}, Dataset{}, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)

	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	centers := mat.NewDense(cfg.Classes, cfg.Features, nil)
	for i := 0; i < cfg.Classes; i++ {
		for j := 0; j < cfg.Features; j++ {
			centers.Set(i, j, unit.Rand())
		}
	}

	noise := distuv.Normal{Mu: 0, Sigma: cfg.Spread, Src: src}
	draw := func(rows int) (Dataset, error) {
		x := mat.NewDense(rows, cfg.Features, nil)
		y := make([]int, rows)
		for i := 0; i < rows; i++ {
			class := i % cfg.Classes
			y[i] = class
			for j := 0; j < cfg.Features; j++ {
				v := centers.At(class, j)
				if cfg.Spread > 0 {
					v += noise.Rand()
				}
				x.Set(i, j, v)
			}
		}
		return New(x, y)
	}

	if train, err = draw(cfg.Train); err != nil {
		return Dataset{}, Dataset{}, err
	}
	if test, err = draw(cfg.Test); err != nil {
		return Dataset{}, Dataset{}, err
	}
	return train, test, nil
}
