package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Run.Label != "baseline" {
		t.Errorf("expected label baseline, got %s", config.Run.Label)
	}
	if config.Run.Epochs != 10 || config.Run.BatchSize != 32 {
		t.Errorf("unexpected run defaults: %+v", config.Run)
	}
	if config.Fault.Decay != 1 || config.Fault.Sigma != 0 || config.Fault.Precision != 0 {
		t.Errorf("expected ideal fault defaults, got %+v", config.Fault)
	}
	if len(config.Network.Layers) != 1 || config.Network.Layers[0].Units != 10 {
		t.Errorf("expected one 10-unit layer, got %+v", config.Network.Layers)
	}
	if config.Data.Features != 784 {
		t.Errorf("expected 784 features, got %d", config.Data.Features)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "auto" {
		t.Errorf("unexpected logging defaults: %+v", config.Logging)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "faultsim.yaml")

	configContent := `
run:
  label: noisy
  epochs: 3
  batch_size: 0
fault:
  sigma: 0.01
  decay: 0.999
  precision: 16
network:
  layers:
    - name: hidden
      units: 32
      activation: relu
    - name: out
      units: 4
      activation: identity
data:
  features: 8
  classes: 4
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if config.Run.Label != "noisy" || config.Run.Epochs != 3 || config.Run.BatchSize != 0 {
		t.Errorf("unexpected run section: %+v", config.Run)
	}
	if config.Fault.Sigma != 0.01 || config.Fault.Decay != 0.999 || config.Fault.Precision != 16 {
		t.Errorf("unexpected fault section: %+v", config.Fault)
	}
	if config.Fault.UpperBound != 0.1 || config.Fault.LowerFraction != 0.1 {
		t.Errorf("unset fault keys should keep defaults: %+v", config.Fault)
	}
	if len(config.Network.Layers) != 2 || config.Network.Layers[0].Activation != "relu" {
		t.Errorf("unexpected network: %+v", config.Network.Layers)
	}
	if config.Data.Train != 1000 {
		t.Errorf("unset data keys should keep defaults, train=%d", config.Data.Train)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", config.Logging.Level)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("run: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadUsesConfigEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte("run:\n  label: from-env-file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FAULTSIM_CONFIG", path)

	config, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Run.Label != "from-env-file" {
		t.Errorf("expected label from FAULTSIM_CONFIG file, got %s", config.Run.Label)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FAULTSIM_CONFIG", "")
	t.Setenv("FAULTSIM_EPOCHS", "5")
	t.Setenv("FAULTSIM_SEED", "42")
	t.Setenv("FAULTSIM_SIGMA", "0.02")
	t.Setenv("FAULTSIM_PRECISION", "8")
	t.Setenv("FAULTSIM_STORE", "sqlite")
	t.Setenv("FAULTSIM_LOG_LEVEL", "trace")
	t.Setenv("FAULTSIM_BATCH_SIZE", "not-a-number")

	config, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Run.Epochs != 5 || config.Run.Seed != 42 {
		t.Errorf("unexpected run overrides: %+v", config.Run)
	}
	if config.Run.BatchSize != 32 {
		t.Errorf("unparseable override should be ignored, batch=%d", config.Run.BatchSize)
	}
	if config.Fault.Sigma != 0.02 || config.Fault.Precision != 8 {
		t.Errorf("unexpected fault overrides: %+v", config.Fault)
	}
	if config.Output.Store != "sqlite" || config.Logging.Level != "trace" {
		t.Errorf("unexpected output/logging overrides: %+v %+v", config.Output, config.Logging)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty label", func(c *Config) { c.Run.Label = "" }, "label"},
		{"negative epochs", func(c *Config) { c.Run.Epochs = -1 }, "epochs"},
		{"zero learning rate", func(c *Config) { c.Run.LearningRate = 0 }, "learning_rate"},
		{"negative learning rate", func(c *Config) { c.Run.LearningRate = -0.1 }, "learning_rate"},
		{"momentum one", func(c *Config) { c.Run.Momentum = 1 }, "momentum"},
		{"negative sigma", func(c *Config) { c.Fault.Sigma = -1 }, "fault"},
		{"no layers", func(c *Config) { c.Network.Layers = nil }, "layer"},
		{"unknown activation", func(c *Config) { c.Network.Layers[0].Activation = "swish" }, "layer 0"},
		{"output mismatch", func(c *Config) { c.Network.Layers[0].Units = 3 }, "classes"},
		{"bad store", func(c *Config) { c.Output.Store = "postgres" }, "store"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"sweep without values", func(c *Config) { c.Sweep.Parameter = "sigma" }, "at least one value"},
		{"unknown sweep parameter", func(c *Config) {
			c.Sweep = SweepConfig{Parameter: "epochs", Values: []float64{1}}
		}, "unknown sweep parameter"},
		{"invalid sweep value", func(c *Config) {
			c.Sweep = SweepConfig{Parameter: "sigma", Values: []float64{0, -0.5}}
		}, "sigma=-0.5"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			tc.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	config := Default()
	config.Run.LearningRate = 0.5
	config.Run.Momentum = 0.9
	config.Data.Seed = 7

	if sgd := config.SGD(); sgd.LearningRate != 0.5 || sgd.Momentum != 0.9 {
		t.Errorf("unexpected sgd config: %+v", sgd)
	}
	if data := config.Synthetic(); data.Seed != 7 || data.Features != 784 || data.Classes != 10 {
		t.Errorf("unexpected synthetic config: %+v", data)
	}
}
