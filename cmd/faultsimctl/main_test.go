package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"faultsim/internal/config"
	"faultsim/internal/stats"
)

const smallConfig = `
run:
  label: cli
  epochs: 2
  batch_size: 10
  seed: 3
  learning_rate: 0.05
network:
  layers:
    - name: dense_0
      units: 3
      activation: identity
data:
  features: 8
  classes: 3
  train: 30
  test: 12
  spread: 0.3
  seed: 4
output:
  store: memory
logging:
  level: error
`

// testEnv writes a small config and returns the global flags pointing the
// CLI at it and at a temporary results directory.
func testEnv(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "faultsim.yaml")
	if err := os.WriteFile(configPath, []byte(smallConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	resultsDir := filepath.Join(dir, "results")
	return resultsDir, []string{"--config", configPath, "--results-dir", resultsDir}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("expected version in output, got %q", out)
	}

	out, err = runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode version json: %v", err)
	}
	if payload["version"] != version {
		t.Fatalf("unexpected version payload: %v", payload)
	}
}

func TestRunThenRunsAndHistory(t *testing.T) {
	resultsDir, global := testEnv(t)

	out, err := runCLI(t, append([]string{"run", "--sigma", "0.01", "--label", "noisy"}, global...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"Baseline\tLoss: ", "Epoch 0\tLoss: ", "Epoch 1\tLoss: ", "label=noisy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("run output missing %q:\n%s", want, out)
		}
	}

	table, err := stats.ReadTable(filepath.Join(resultsDir, stats.LossTableFile))
	if err != nil {
		t.Fatalf("read loss table: %v", err)
	}
	if column, ok := table.Column("noisy"); !ok || len(column) != 3 {
		t.Fatalf("expected 3-row noisy column, ok=%t column=%v", ok, column)
	}

	out, err = runCLI(t, append([]string{"runs"}, global...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "noisy") || !strings.Contains(out, "RUN ID") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}

	out, err = runCLI(t, append([]string{"history", "--latest", "--json"}, global...)...)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history []map[string]any
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history points, got %d", len(history))
	}
}

func TestHistoryShowConfig(t *testing.T) {
	_, global := testEnv(t)
	if _, err := runCLI(t, append([]string{"run", "--sigma", "0.01", "--lr", "0.2", "--momentum", "0.5", "--label", "noisy"}, global...)...); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, err := runCLI(t, append([]string{"history", "--latest", "--show-config"}, global...)...)
	if err != nil {
		t.Fatalf("history --show-config: %v", err)
	}
	for _, want := range []string{"label=noisy", "sigma=0.01", "lr=0.2", "momentum=0.5", "EPOCH"} {
		if !strings.Contains(out, want) {
			t.Fatalf("history output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, append([]string{"history", "--latest", "--show-config", "--json"}, global...)...)
	if err != nil {
		t.Fatalf("history --show-config --json: %v", err)
	}
	var payload struct {
		Config  stats.RunConfig  `json:"config"`
		History []map[string]any `json:"history"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if payload.Config.Label != "noisy" || payload.Config.Fault.Sigma != 0.01 || payload.Config.LearningRate != 0.2 {
		t.Fatalf("unexpected config payload: %+v", payload.Config)
	}
	if len(payload.History) != 3 {
		t.Fatalf("expected 3 history points, got %d", len(payload.History))
	}
}

func TestRunRequestUsesConfiguredSGD(t *testing.T) {
	cfg := config.Default()
	cfg.Run.LearningRate = 0.3
	cfg.Run.Momentum = 0.7
	req := runRequest(cfg)
	if req.LearningRate != 0.3 || req.Momentum != 0.7 {
		t.Fatalf("unexpected optimizer settings: lr=%v momentum=%v", req.LearningRate, req.Momentum)
	}
}

func TestSweepWritesOneColumnPerValue(t *testing.T) {
	resultsDir, global := testEnv(t)

	out, err := runCLI(t, append([]string{"sweep", "--parameter", "precision", "--values", "4,16"}, global...)...)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "runs=2") {
		t.Fatalf("unexpected sweep output:\n%s", out)
	}

	table, err := stats.ReadTable(filepath.Join(resultsDir, stats.AccuracyTableFile))
	if err != nil {
		t.Fatalf("read accuracy table: %v", err)
	}
	for _, label := range []string{"precision=4", "precision=16"} {
		if _, ok := table.Column(label); !ok {
			t.Fatalf("missing column %s in %v", label, table.Labels())
		}
	}

	out, err = runCLI(t, append([]string{"sweeps"}, global...)...)
	if err != nil {
		t.Fatalf("sweeps: %v", err)
	}
	if !strings.Contains(out, "progress=completed") || !strings.Contains(out, "runs=2/2") {
		t.Fatalf("unexpected sweeps output:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	_, global := testEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"sweep without parameter", []string{"sweep", "--values", "1"}},
		{"sweep unknown parameter", []string{"sweep", "--parameter", "momentum", "--values", "0.5"}},
		{"invalid fault", []string{"run", "--sigma", "-1"}},
		{"zero learning rate", []string{"run", "--lr", "0"}},
		{"negative learning rate", []string{"run", "--lr", "-0.1"}},
		{"bad store", []string{"run", "--store", "postgres"}},
		{"runs limit", []string{"runs", "--limit", "0"}},
		{"history without selector", []string{"history"}},
		{"export without selector", []string{"export"}},
		{"unknown command", []string{"train"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := runCLI(t, append(tc.args, global...)...); err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
		})
	}
}

func TestRunsEmpty(t *testing.T) {
	_, global := testEnv(t)
	out, err := runCLI(t, append([]string{"runs"}, global...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs found") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestExportLatest(t *testing.T) {
	_, global := testEnv(t)
	if _, err := runCLI(t, append([]string{"run", "--epochs", "1"}, global...)...); err != nil {
		t.Fatalf("run: %v", err)
	}
	outDir := t.TempDir()
	out, err := runCLI(t, append([]string{"export", "--latest", "--out", outDir}, global...)...)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "exported run_id=") {
		t.Fatalf("unexpected export output: %q", out)
	}
}
