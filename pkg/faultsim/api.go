// Package faultsim trains small dense networks on a simulated analog memory
// and records how stuck cells, write noise, drift and limited precision
// change held-out loss and accuracy.
package faultsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"faultsim/internal/dataset"
	"faultsim/internal/fault"
	"faultsim/internal/logging"
	"faultsim/internal/model"
	"faultsim/internal/nn"
	"faultsim/internal/optim"
	"faultsim/internal/stats"
	"faultsim/internal/storage"
	"faultsim/internal/train"
)

const (
	defaultResultsDir = "results"
	defaultExportsDir = "exports"
	defaultDBPath     = "faultsim.db"
	defaultLabel      = "baseline"

	runsDir = "runs"
)

var ErrRunNotFound = errors.New("run not found")

type (
	FaultConfig    = model.FaultConfig
	LayerSpec      = model.LayerSpec
	MetricPoint    = model.MetricPoint
	TensorSnapshot = model.TensorSnapshot
	DataConfig     = dataset.SyntheticConfig
	SweepRecord    = stats.SweepExperiment
	RunConfig      = stats.RunConfig
)

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
	ExportsDir string
	// Console receives the per-epoch progress lines; nil discards them.
	Console io.Writer
	Logger  *slog.Logger
}

type Client struct {
	store       storage.Store
	initialized bool

	resultsDir string
	exportsDir string
	console    io.Writer
	logger     *slog.Logger
	now        func() time.Time
}

// RunRequest describes one training run. Zero-valued fields fall back to
// defaults; a zero Fault means fault.DefaultConfig.
type RunRequest struct {
	Label  string
	Fault  FaultConfig
	Layers []LayerSpec
	Data   DataConfig
	// Epochs 0 records the baseline only.
	Epochs int
	// BatchSize 0 trains on the full set each step.
	BatchSize int
	Seed      uint64
	// LearningRate 0 uses the SGD default; negative rates are rejected.
	LearningRate float64
	Momentum     float64

	sweepID string
}

type RunSummary struct {
	RunID          string
	Label          string
	ArtifactsDir   string
	History        []MetricPoint
	Final          MetricPoint
	EpochDurations []time.Duration
	Duration       time.Duration
}

type SweepRequest struct {
	Base RunRequest
	// Parameter is one of fault.SweepParameters.
	Parameter string
	Values    []float64
}

type SweepSummary struct {
	SweepID string
	Runs    []RunSummary
}

type RunsRequest struct {
	Limit   int
	SweepID string
}

type RunItem struct {
	RunID        string
	Label        string
	SweepID      string
	CreatedAtUTC string
	Epochs       int
	Seed         uint64
	Sigma        float64
	Decay        float64
	Precision    int
	Final        MetricPoint
}

type HistoryRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		resultsDir: resultsDir,
		exportsDir: exportsDir,
		console:    console,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// Run trains one network under the requested fault model, writes its column
// of the shared Loss/Accuracy tables and stores the run with its final
// weights.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req, err := normalizeRunRequest(req)
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}

	trainSet, testSet, err := dataset.Synthetic(req.Data)
	if err != nil {
		return RunSummary{}, fmt.Errorf("dataset: %w", err)
	}
	network, err := nn.BuildDense(req.Data.Features, req.Layers, req.Seed)
	if err != nil {
		return RunSummary{}, fmt.Errorf("network: %w", err)
	}

	runID := uuid.NewString()
	log := c.logger.With("run_id", runID)
	trainer, err := train.New(network,
		optim.SGDFactory(optim.SGDConfig{LearningRate: req.LearningRate, Momentum: req.Momentum}),
		nn.SoftmaxCrossEntropy{},
		train.Options{
			Fault:   req.Fault,
			Seed:    req.Seed,
			Label:   req.Label,
			Sink:    stats.HistorySink{Dir: c.resultsDir},
			Console: c.console,
			Logger:  log,
			Now:     c.now,
		})
	if err != nil {
		return RunSummary{}, err
	}
	result, err := trainer.Fit(testSet, req.Epochs, dataset.Batcher{Data: trainSet, Size: req.BatchSize})
	if err != nil {
		return RunSummary{}, err
	}

	now := c.now().UTC()
	final := finalPoint(result.History)
	record := model.RunRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:           runID,
		Label:        req.Label,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
		Fault:        req.Fault,
		Layers:       req.Layers,
		InputSize:    req.Data.Features,
		Epochs:       req.Epochs,
		BatchSize:    req.BatchSize,
		Seed:         req.Seed,
		LearningRate: req.LearningRate,
		Momentum:     req.Momentum,
		History:      result.History,
		DurationMS:   result.Duration.Milliseconds(),
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveWeights(ctx, runID, result.Weights); err != nil {
		return RunSummary{}, fmt.Errorf("save weights: %w", err)
	}

	epochMS := make([]int64, 0, len(result.EpochDurations))
	for _, d := range result.EpochDurations {
		epochMS = append(epochMS, d.Milliseconds())
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir(), stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:        runID,
			Label:        req.Label,
			SweepID:      req.sweepID,
			Fault:        req.Fault,
			Layers:       req.Layers,
			InputSize:    req.Data.Features,
			Classes:      req.Data.Classes,
			TrainSize:    req.Data.Train,
			TestSize:     req.Data.Test,
			Epochs:       req.Epochs,
			BatchSize:    req.BatchSize,
			Seed:         req.Seed,
			DataSeed:     req.Data.Seed,
			LearningRate: req.LearningRate,
			Momentum:     req.Momentum,
		},
		History:          result.History,
		EpochDurationsMS: epochMS,
		DurationMS:       result.Duration.Milliseconds(),
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir(), stats.RunIndexEntry{
		RunID:        runID,
		Label:        req.Label,
		SweepID:      req.sweepID,
		Epochs:       req.Epochs,
		Seed:         req.Seed,
		Sigma:        req.Fault.Sigma,
		Decay:        req.Fault.Decay,
		Precision:    req.Fault.Precision,
		Final:        final,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}
	log.Info("run stored", "label", req.Label, "dir", runDir)

	return RunSummary{
		RunID:          runID,
		Label:          req.Label,
		ArtifactsDir:   filepath.Clean(runDir),
		History:        result.History,
		Final:          final,
		EpochDurations: result.EpochDurations,
		Duration:       result.Duration,
	}, nil
}

// Sweep runs Base once per value of one fault parameter. Each variant gets
// the label "<parameter>=<value>" in the result tables. Variants run one
// after another; the first failure stops the sweep and is recorded.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) (SweepSummary, error) {
	if len(req.Values) == 0 {
		return SweepSummary{}, errors.New("sweep needs at least one value")
	}
	base, err := normalizeRunRequest(req.Base)
	if err != nil {
		return SweepSummary{}, err
	}
	variants := make([]RunRequest, 0, len(req.Values))
	labels := make([]string, 0, len(req.Values))
	for _, v := range req.Values {
		cfg, err := fault.WithParameter(base.Fault, req.Parameter, v)
		if err != nil {
			return SweepSummary{}, err
		}
		if err := cfg.Validate(); err != nil {
			return SweepSummary{}, fmt.Errorf("%s=%v: %w", req.Parameter, v, err)
		}
		variant := base
		variant.Fault = cfg
		variant.Label = SweepLabel(req.Parameter, v)
		variants = append(variants, variant)
		labels = append(labels, variant.Label)
	}

	exp := stats.SweepExperiment{
		ID:           uuid.NewString(),
		Parameter:    req.Parameter,
		Values:       append([]float64(nil), req.Values...),
		Labels:       labels,
		ProgressFlag: stats.SweepInProgress,
		TotalRuns:    len(variants),
		StartedAtUTC: c.now().UTC().Format(time.RFC3339Nano),
	}
	if err := stats.WriteSweepExperiment(c.resultsDir, exp); err != nil {
		return SweepSummary{}, err
	}
	c.logger.Info("sweep started", "sweep_id", exp.ID, "parameter", req.Parameter, "runs", len(variants))

	summary := SweepSummary{SweepID: exp.ID}
	for i, variant := range variants {
		variant.sweepID = exp.ID
		run, err := c.sweepStep(ctx, variant)
		if err != nil {
			exp.ProgressFlag = stats.SweepFailed
			exp.Error = err.Error()
			exp.CompletedAtUTC = c.now().UTC().Format(time.RFC3339Nano)
			if writeErr := stats.WriteSweepExperiment(c.resultsDir, exp); writeErr != nil {
				return summary, errors.Join(err, writeErr)
			}
			return summary, fmt.Errorf("sweep run %s: %w", variant.Label, err)
		}
		summary.Runs = append(summary.Runs, run)
		exp.RunIndex = i + 1
		exp.RunIDs = append(exp.RunIDs, run.RunID)
		if err := stats.WriteSweepExperiment(c.resultsDir, exp); err != nil {
			return summary, err
		}
	}

	exp.ProgressFlag = stats.SweepCompleted
	exp.CompletedAtUTC = c.now().UTC().Format(time.RFC3339Nano)
	if err := stats.WriteSweepExperiment(c.resultsDir, exp); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Client) sweepStep(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return RunSummary{}, err
	}
	return c.Run(ctx, req)
}

// SweepLabel names the result-table column of one sweep variant.
func SweepLabel(parameter string, value float64) string {
	return parameter + "=" + strconv.FormatFloat(value, 'g', -1, 64)
}

// Sweeps lists recorded sweeps, newest first.
func (c *Client) Sweeps(_ context.Context) ([]SweepRecord, error) {
	return stats.ListSweepExperiments(c.resultsDir)
}

// Runs lists finished runs from the on-disk run index, newest first, so runs
// from earlier processes stay visible with the in-memory store.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir())
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, min(len(entries), req.Limit))
	for _, e := range entries {
		if req.SweepID != "" && e.SweepID != req.SweepID {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			Label:        e.Label,
			SweepID:      e.SweepID,
			CreatedAtUTC: e.CreatedAtUTC,
			Epochs:       e.Epochs,
			Seed:         e.Seed,
			Sigma:        e.Sigma,
			Decay:        e.Decay,
			Precision:    e.Precision,
			Final:        e.Final,
		})
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// History returns the metric history of one run: epoch 0 is the baseline.
// The run store is consulted first, then the run's history.csv.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]MetricPoint, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return append([]MetricPoint(nil), record.History...), nil
	}
	history, ok, err := stats.ReadHistorySeries(c.runsDir(), runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return history, nil
}

// RunConfig returns the configuration a run was trained with, as recorded
// in the run's config.json.
func (c *Client) RunConfig(_ context.Context, req HistoryRequest) (RunConfig, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RunConfig{}, err
	}
	cfg, ok, err := stats.ReadRunConfig(c.runsDir(), runID)
	if err != nil {
		return RunConfig{}, err
	}
	if !ok {
		return RunConfig{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return cfg, nil
}

// Weights returns the final weight snapshot of a stored run.
func (c *Client) Weights(ctx context.Context, runID string) ([]TensorSnapshot, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	snapshot, ok, err := c.store.GetWeights(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no weights for %s", ErrRunNotFound, runID)
	}
	return snapshot, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir(), runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", errors.New("run id or latest is required")
		}
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir())
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) runsDir() string {
	return filepath.Join(c.resultsDir, runsDir)
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func finalPoint(history []MetricPoint) MetricPoint {
	if len(history) == 0 {
		return MetricPoint{}
	}
	return history[len(history)-1]
}

func normalizeRunRequest(req RunRequest) (RunRequest, error) {
	if req.Label == "" {
		req.Label = defaultLabel
	}
	if req.Fault == (FaultConfig{}) {
		req.Fault = fault.DefaultConfig()
	}
	if err := req.Fault.Validate(); err != nil {
		return RunRequest{}, fmt.Errorf("fault config: %w", err)
	}
	if req.Data == (DataConfig{}) {
		req.Data = dataset.DefaultSyntheticConfig()
	}
	if len(req.Layers) == 0 {
		req.Layers = []LayerSpec{{Name: "dense_0", Units: req.Data.Classes, Activation: "identity"}}
	}
	req.Layers = append([]LayerSpec(nil), req.Layers...)
	if req.Epochs < 0 {
		return RunRequest{}, fmt.Errorf("epochs must be >= 0, got %d", req.Epochs)
	}
	if req.BatchSize < 0 {
		return RunRequest{}, fmt.Errorf("batch size must be >= 0, got %d", req.BatchSize)
	}
	if req.LearningRate < 0 {
		return RunRequest{}, fmt.Errorf("learning rate must be > 0, got %v", req.LearningRate)
	}
	if req.LearningRate == 0 {
		req.LearningRate = optim.DefaultSGDConfig().LearningRate
	}
	return req, nil
}
