package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sweepExperimentsDir = "experiments"

const (
	SweepInProgress = "in_progress"
	SweepCompleted  = "completed"
	SweepFailed     = "failed"
)

// SweepExperiment records a parameter sweep: one run per value, each stored
// under its own label in the shared result tables.
type SweepExperiment struct {
	ID             string    `json:"id"`
	Parameter      string    `json:"parameter"`
	Values         []float64 `json:"values"`
	Labels         []string  `json:"labels"`
	ProgressFlag   string    `json:"progress_flag"`
	RunIndex       int       `json:"run_index"`
	TotalRuns      int       `json:"total_runs"`
	StartedAtUTC   string    `json:"started_at_utc,omitempty"`
	CompletedAtUTC string    `json:"completed_at_utc,omitempty"`
	Error          string    `json:"error,omitempty"`
	RunIDs         []string  `json:"run_ids,omitempty"`
}

func WriteSweepExperiment(baseDir string, exp SweepExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := sweepExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadSweepExperiment(baseDir, id string) (SweepExperiment, bool, error) {
	if id == "" {
		return SweepExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	data, err := os.ReadFile(sweepExperimentPath(baseDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return SweepExperiment{}, false, nil
		}
		return SweepExperiment{}, false, err
	}
	var exp SweepExperiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return SweepExperiment{}, false, err
	}
	return exp, true, nil
}

// ListSweepExperiments returns experiments newest first; undated ones last.
func ListSweepExperiments(baseDir string) ([]SweepExperiment, error) {
	root := filepath.Join(baseDir, sweepExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []SweepExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]SweepExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadSweepExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func sweepExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, sweepExperimentsDir, id, "experiment.json")
}
