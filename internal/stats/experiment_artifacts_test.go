package stats

import "testing"

func TestWriteReadAndListSweepExperiments(t *testing.T) {
	base := t.TempDir()
	expA := SweepExperiment{
		ID:           "sweep-a",
		Parameter:    "sigma",
		Values:       []float64{0, 0.01},
		Labels:       []string{"sigma=0", "sigma=0.01"},
		ProgressFlag: SweepInProgress,
		RunIndex:     1,
		TotalRuns:    2,
		StartedAtUTC: "2026-02-27T00:00:00Z",
	}
	expB := SweepExperiment{
		ID:           "sweep-b",
		Parameter:    "decay",
		Values:       []float64{1, 0.99},
		ProgressFlag: SweepCompleted,
		RunIndex:     2,
		TotalRuns:    2,
		StartedAtUTC: "2026-02-28T00:00:00Z",
	}
	if err := WriteSweepExperiment(base, expA); err != nil {
		t.Fatalf("write sweep a: %v", err)
	}
	if err := WriteSweepExperiment(base, expB); err != nil {
		t.Fatalf("write sweep b: %v", err)
	}

	read, ok, err := ReadSweepExperiment(base, "sweep-a")
	if err != nil {
		t.Fatalf("read sweep a: %v", err)
	}
	if !ok {
		t.Fatalf("expected sweep a to exist")
	}
	if read.Parameter != "sigma" || read.RunIndex != 1 || len(read.Labels) != 2 {
		t.Fatalf("unexpected sweep a payload: %+v", read)
	}

	if _, ok, err := ReadSweepExperiment(base, "missing"); err != nil || ok {
		t.Fatalf("expected missing sweep, ok=%t err=%v", ok, err)
	}

	list, err := ListSweepExperiments(base)
	if err != nil {
		t.Fatalf("list sweeps: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sweeps, got %d", len(list))
	}
	if list[0].ID != "sweep-b" || list[1].ID != "sweep-a" {
		t.Fatalf("unexpected list ordering: %+v", list)
	}
}

func TestWriteSweepExperimentRequiresID(t *testing.T) {
	if err := WriteSweepExperiment(t.TempDir(), SweepExperiment{}); err == nil {
		t.Fatal("expected id error")
	}
}
