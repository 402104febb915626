package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"faultsim/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the reproducible description of one run, written as
// <base>/<run id>/config.json.
type RunConfig struct {
	RunID        string            `json:"run_id"`
	Label        string            `json:"label"`
	SweepID      string            `json:"sweep_id,omitempty"`
	Fault        model.FaultConfig `json:"fault"`
	Layers       []model.LayerSpec `json:"layers"`
	InputSize    int               `json:"input_size"`
	Classes      int               `json:"classes"`
	TrainSize    int               `json:"train_size"`
	TestSize     int               `json:"test_size"`
	Epochs       int               `json:"epochs"`
	BatchSize    int               `json:"batch_size"`
	Seed         uint64            `json:"seed"`
	DataSeed     uint64            `json:"data_seed"`
	LearningRate float64           `json:"learning_rate"`
	Momentum     float64           `json:"momentum"`
}

type RunArtifacts struct {
	Config           RunConfig           `json:"config"`
	History          []model.MetricPoint `json:"history"`
	EpochDurationsMS []int64             `json:"epoch_durations_ms,omitempty"`
	DurationMS       int64               `json:"duration_ms"`
}

type RunIndexEntry struct {
	RunID        string            `json:"run_id"`
	Label        string            `json:"label"`
	SweepID      string            `json:"sweep_id,omitempty"`
	Epochs       int               `json:"epochs"`
	Seed         uint64            `json:"seed"`
	Sigma        float64           `json:"sigma"`
	Decay        float64           `json:"decay"`
	Precision    int               `json:"precision"`
	Final        model.MetricPoint `json:"final"`
	CreatedAtUTC string            `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := WriteRunConfig(baseDir, artifacts.Config.RunID, artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "history.json"), map[string]any{
		"history":            artifacts.History,
		"epoch_durations_ms": artifacts.EpochDurationsMS,
		"duration_ms":        artifacts.DurationMS,
	}); err != nil {
		return "", err
	}
	if err := WriteHistorySeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "history.json", "history.csv"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

// WriteHistorySeries writes one run's history as epoch,loss,accuracy rows.
func WriteHistorySeries(runDir string, history []model.MetricPoint) error {
	path := filepath.Join(runDir, "history.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "loss", "accuracy"}); err != nil {
		return err
	}
	for _, p := range history {
		if err := writer.Write([]string{
			strconv.Itoa(p.Epoch),
			formatFloat(p.Loss),
			formatFloat(p.Accuracy),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadHistorySeries(baseDir, runID string) ([]model.MetricPoint, bool, error) {
	path := filepath.Join(baseDir, runID, "history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.MetricPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("history series header must have at least 3 columns")
	}

	points := make([]model.MetricPoint, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("history series row must have at least 3 columns")
		}
		epoch, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		loss, err := parseFloat(record[1])
		if err != nil {
			return nil, false, err
		}
		acc, err := parseFloat(record[2])
		if err != nil {
			return nil, false, err
		}
		points = append(points, model.MetricPoint{Epoch: epoch, Loss: loss, Accuracy: acc})
	}
	return points, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
