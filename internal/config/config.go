// Package config provides unified configuration loading for faultsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"faultsim/internal/dataset"
	"faultsim/internal/fault"
	"faultsim/internal/logging"
	"faultsim/internal/model"
	"faultsim/internal/nn"
	"faultsim/internal/optim"
	"faultsim/internal/storage"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "faultsim.yaml"

// Config contains all faultsim configuration settings.
type Config struct {
	Run     RunConfig     `json:"run" yaml:"run"`
	Fault   fault.Config  `json:"fault" yaml:"fault"`
	Network NetworkConfig `json:"network" yaml:"network"`
	Data    DataConfig    `json:"data" yaml:"data"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Sweep   SweepConfig   `json:"sweep" yaml:"sweep"`
}

// RunConfig controls the training loop.
type RunConfig struct {
	// Label names the result-table column the run writes.
	Label        string  `json:"label" yaml:"label"`
	Epochs       int     `json:"epochs" yaml:"epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	Seed         uint64  `json:"seed" yaml:"seed"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Momentum     float64 `json:"momentum" yaml:"momentum"`
}

// NetworkConfig lists the dense layers after the input.
type NetworkConfig struct {
	Layers []model.LayerSpec `json:"layers" yaml:"layers"`
}

// DataConfig describes the synthetic class-blob dataset.
type DataConfig struct {
	Features int     `json:"features" yaml:"features"`
	Classes  int     `json:"classes" yaml:"classes"`
	Train    int     `json:"train" yaml:"train"`
	Test     int     `json:"test" yaml:"test"`
	Spread   float64 `json:"spread" yaml:"spread"`
	Seed     uint64  `json:"seed" yaml:"seed"`
}

// OutputConfig locates result tables, run artifacts and the run store.
type OutputConfig struct {
	ResultsDir string `json:"results_dir" yaml:"results_dir"`
	// Store is "memory" or "sqlite"; sqlite needs the sqlite build tag.
	Store  string `json:"store" yaml:"store"`
	DBPath string `json:"db_path" yaml:"db_path"`
}

type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default), "debug" or "trace".
	Level string `json:"level" yaml:"level"`
	// Format is "auto" (text on terminals, JSON otherwise), "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// SweepConfig names one fault parameter and the values a sweep visits.
type SweepConfig struct {
	Parameter string    `json:"parameter,omitempty" yaml:"parameter,omitempty"`
	Values    []float64 `json:"values,omitempty" yaml:"values,omitempty"`
}

// Default returns a Config with sensible defaults: a single 784→10 dense
// layer trained for ten epochs on the default fault model.
func Default() *Config {
	sgd := optim.DefaultSGDConfig()
	data := dataset.DefaultSyntheticConfig()
	return &Config{
		Run: RunConfig{
			Label:        "baseline",
			Epochs:       10,
			BatchSize:    32,
			Seed:         1,
			LearningRate: sgd.LearningRate,
			Momentum:     sgd.Momentum,
		},
		Fault: fault.DefaultConfig(),
		Network: NetworkConfig{
			Layers: []model.LayerSpec{{Name: "dense_0", Units: data.Classes, Activation: "identity"}},
		},
		Data: DataConfig{
			Features: data.Features,
			Classes:  data.Classes,
			Train:    data.Train,
			Test:     data.Test,
			Spread:   data.Spread,
			Seed:     data.Seed,
		},
		Output: OutputConfig{
			ResultsDir: "results",
			Store:      storage.DefaultStoreKind(),
			DBPath:     "faultsim.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatAuto,
		},
	}
}

// Load loads configuration from path, or from the default locations when
// path is empty, then applies environment variables.
// Order: defaults -> $FAULTSIM_CONFIG or ./faultsim.yaml -> environment variables
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv("FAULTSIM_CONFIG")
	}
	if path == "" {
		if _, statErr := os.Stat(DefaultFile); statErr == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Run.Label == "" {
		return errors.New("run label is required")
	}
	if c.Run.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0, got %d", c.Run.Epochs)
	}
	if c.Run.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0, got %d", c.Run.BatchSize)
	}
	if c.Run.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0, got %v", c.Run.LearningRate)
	}
	if c.Run.Momentum < 0 || c.Run.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1), got %v", c.Run.Momentum)
	}
	if err := c.Fault.Validate(); err != nil {
		return fmt.Errorf("fault: %w", err)
	}
	if err := c.Synthetic().Validate(); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if len(c.Network.Layers) == 0 {
		return errors.New("network needs at least one layer")
	}
	for i, layer := range c.Network.Layers {
		if layer.Units <= 0 {
			return fmt.Errorf("layer %d: units must be > 0, got %d", i, layer.Units)
		}
		if _, _, err := nn.GetActivation(layer.Activation); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if last := c.Network.Layers[len(c.Network.Layers)-1]; last.Units != c.Data.Classes {
		return fmt.Errorf("output layer has %d units, data has %d classes", last.Units, c.Data.Classes)
	}

	validStores := map[string]bool{"memory": true, "sqlite": true}
	if !validStores[c.Output.Store] {
		return fmt.Errorf("invalid store: %s (valid: memory, sqlite)", c.Output.Store)
	}
	if c.Output.ResultsDir == "" {
		return errors.New("results_dir is required")
	}

	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}
	validFormats := map[string]bool{logging.FormatAuto: true, logging.FormatText: true, logging.FormatJSON: true}
	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: auto, text, json)", c.Logging.Format)
	}

	if c.Sweep.Parameter != "" {
		if len(c.Sweep.Values) == 0 {
			return fmt.Errorf("sweep over %s needs at least one value", c.Sweep.Parameter)
		}
		for _, v := range c.Sweep.Values {
			cfg, err := fault.WithParameter(c.Fault, c.Sweep.Parameter, v)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("sweep %s=%v: %w", c.Sweep.Parameter, v, err)
			}
		}
	}
	return nil
}

// Synthetic converts the data section for dataset.Synthetic.
func (c *Config) Synthetic() dataset.SyntheticConfig {
	return dataset.SyntheticConfig{
		Features: c.Data.Features,
		Classes:  c.Data.Classes,
		Train:    c.Data.Train,
		Test:     c.Data.Test,
		Spread:   c.Data.Spread,
		Seed:     c.Data.Seed,
	}
}

// SGD converts the run section for optim.NewSGD.
func (c *Config) SGD() optim.SGDConfig {
	return optim.SGDConfig{LearningRate: c.Run.LearningRate, Momentum: c.Run.Momentum}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FAULTSIM_LABEL"); v != "" {
		config.Run.Label = v
	}
	if v := os.Getenv("FAULTSIM_EPOCHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Epochs = n
		}
	}
	if v := os.Getenv("FAULTSIM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.BatchSize = n
		}
	}
	if v := os.Getenv("FAULTSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Run.Seed = n
		}
	}
	if v := os.Getenv("FAULTSIM_LEARNING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Run.LearningRate = f
		}
	}
	if v := os.Getenv("FAULTSIM_SIGMA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Fault.Sigma = f
		}
	}
	if v := os.Getenv("FAULTSIM_DECAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Fault.Decay = f
		}
	}
	if v := os.Getenv("FAULTSIM_PRECISION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Fault.Precision = n
		}
	}
	if v := os.Getenv("FAULTSIM_UPPER_BOUND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Fault.UpperBound = f
		}
	}
	if v := os.Getenv("FAULTSIM_LOWER_BOUND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Fault.LowerBound = f
		}
	}
	if v := os.Getenv("FAULTSIM_RESULTS_DIR"); v != "" {
		config.Output.ResultsDir = v
	}
	if v := os.Getenv("FAULTSIM_STORE"); v != "" {
		config.Output.Store = v
	}
	if v := os.Getenv("FAULTSIM_DB_PATH"); v != "" {
		config.Output.DBPath = v
	}
	if v := os.Getenv("FAULTSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FAULTSIM_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
}
