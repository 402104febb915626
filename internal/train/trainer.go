// Package train runs gradient descent with analog fault injection around
// every optimizer step.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"

	"faultsim/internal/dataset"
	"faultsim/internal/fault"
	"faultsim/internal/logging"
	"faultsim/internal/model"
	"faultsim/internal/nn"
	"faultsim/internal/optim"
	"faultsim/internal/weights"
)

var ErrRunFinished = errors.New("training run already finished")

type State int

const (
	StateInit State = iota
	StateBaselineEval
	StateTraining
	StateEpochEval
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBaselineEval:
		return "baseline_eval"
	case StateTraining:
		return "training"
	case StateEpochEval:
		return "epoch_eval"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ResultSink persists the metrics history of a finished run under its label.
type ResultSink interface {
	WriteHistory(label string, points []model.MetricPoint) error
}

type Options struct {
	Fault fault.Config
	Seed  uint64
	// Label names the run's column in the result tables.
	Label   string
	Sink    ResultSink
	Console io.Writer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Result is what a finished run leaves behind once the model is released.
type Result struct {
	Label          string
	History        []model.MetricPoint
	Weights        []model.TensorSnapshot
	EpochDurations []time.Duration
	Duration       time.Duration
}

// Trainer drives one fault-injection run. It is single-use and not safe for
// concurrent use.
type Trainer struct {
	model     Model
	newOpt    optim.Factory
	optimizer optim.Optimizer
	loss      nn.Loss
	opts      Options

	state   State
	store   *weights.Store
	stuck   fault.StuckAt
	post    []fault.Operator
	history History
}

func New(m Model, newOpt optim.Factory, loss nn.Loss, opts Options) (*Trainer, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	if newOpt == nil {
		return nil, errors.New("optimizer factory is required")
	}
	if loss == nil {
		return nil, errors.New("loss is required")
	}
	if err := opts.Fault.Validate(); err != nil {
		return nil, fmt.Errorf("fault config: %w", err)
	}
	if opts.Label == "" {
		opts.Label = "run"
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Trainer{model: m, newOpt: newOpt, loss: loss, opts: opts, state: StateInit}, nil
}

func (t *Trainer) State() State {
	return t.state
}

// Fit trains for epochs passes over src and evaluates on test after each.
// Any error is fatal: the run is released and the trainer stays finished.
func (t *Trainer) Fit(test dataset.Dataset, epochs int, src Source) (Result, error) {
	if t.state == StateDone {
		return Result{}, ErrRunFinished
	}
	if epochs < 0 {
		return Result{}, fmt.Errorf("epochs must be >= 0, got %d", epochs)
	}
	if src == nil {
		return Result{}, errors.New("training source is required")
	}

	result, err := t.fit(test, epochs, src)
	t.release()
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (t *Trainer) fit(test dataset.Dataset, epochs int, src Source) (Result, error) {
	log := t.opts.Logger.With("label", t.opts.Label)
	total := NewStopwatch(t.opts.Now)

	if err := t.init(log); err != nil {
		return Result{}, err
	}

	t.state = StateBaselineEval
	loss, acc, err := Evaluate(t.model, t.loss, test)
	if err != nil {
		return Result{}, fmt.Errorf("baseline eval: %w", err)
	}
	t.history.Append(loss, acc)
	fmt.Fprintln(t.opts.Console, "--------------------------")
	fmt.Fprintf(t.opts.Console, "Baseline\tLoss: %v\tAccuracy: %v%%\n", loss, acc*100)

	durations := make([]time.Duration, 0, epochs)
	watch := NewStopwatch(t.opts.Now)
	for epoch := 1; epoch <= epochs; epoch++ {
		t.state = StateTraining
		watch.Reset()
		for i, batch := range src.Batches() {
			if err := t.trainBatch(log, epoch, i, batch); err != nil {
				return Result{}, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
			}
		}

		t.state = StateEpochEval
		if err := t.stuck.Apply(t.store); err != nil {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		loss, acc, err := Evaluate(t.model, t.loss, test)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d eval: %w", epoch, err)
		}
		point := t.history.Append(loss, acc)
		elapsed := watch.Lap()
		durations = append(durations, elapsed)
		// Console lines count training epochs from 0; history keeps 0 for the baseline.
		fmt.Fprintf(t.opts.Console, "Epoch %d\tLoss: %v\tAccuracy: %v%%\n", point.Epoch-1, loss, acc*100)
		log.Debug("epoch finished", "epoch", point.Epoch, "loss", loss, "accuracy", acc, "elapsed", elapsed)
	}

	points := t.history.Points()
	if t.opts.Sink != nil {
		if err := t.opts.Sink.WriteHistory(t.opts.Label, points); err != nil {
			return Result{}, fmt.Errorf("persist history: %w", err)
		}
	}
	result := Result{
		Label:          t.opts.Label,
		History:        points,
		Weights:        t.store.Snapshot(),
		EpochDurations: durations,
		Duration:       total.Elapsed(),
	}
	log.Info("run finished", "epochs", epochs, "elapsed", result.Duration)
	return result, nil
}

func (t *Trainer) init(log *slog.Logger) error {
	store, err := weights.NewStore(t.model.Params())
	if err != nil {
		return fmt.Errorf("weight store: %w", err)
	}
	t.store = store

	slots := make([]optim.Slot, 0, len(store.All()))
	for _, p := range store.All() {
		slots = append(slots, optim.Slot{ID: p.Name, Size: p.Len()})
	}
	optimizer, err := t.newOpt(slots)
	if err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	t.optimizer = optimizer

	pcg := rand.NewPCG(t.opts.Seed, t.opts.Seed^0x6a09e667f3bcc909)
	masks, err := fault.GenerateMasks(store, t.opts.Fault, rand.New(pcg))
	if err != nil {
		return fmt.Errorf("fault masks: %w", err)
	}
	t.stuck = fault.StuckAt{Masks: masks, Config: t.opts.Fault}
	t.post = fault.PostUpdate(t.opts.Fault, pcg)

	lower, zero, upper := masks.Counts()
	log.Info("fault masks generated",
		"faultable_tensors", len(store.Faultable()),
		"protected_tensors", len(store.Protected()),
		"faultable_cells", humanize.Comma(int64(store.FaultableCells())),
		"stuck_lower", humanize.Comma(int64(lower)),
		"stuck_zero", humanize.Comma(int64(zero)),
		"stuck_upper", humanize.Comma(int64(upper)),
	)
	return nil
}

func (t *Trainer) trainBatch(log *slog.Logger, epoch, index int, batch dataset.Batch) error {
	if err := t.stuck.Apply(t.store); err != nil {
		return err
	}
	loss, grads, err := Step(t.model, t.loss, batch)
	if err != nil {
		return err
	}

	params := t.model.Params()
	updates := make([]optim.Update, len(params))
	for i, p := range params {
		updates[i] = optim.Update{ID: p.Name, Grad: grads[i], Value: p.Data}
	}
	if err := t.optimizer.Apply(updates); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}

	for _, op := range t.post {
		if err := op.Apply(t.store); err != nil {
			return fmt.Errorf("%s: %w", op.Name(), err)
		}
	}
	log.Log(context.Background(), logging.LevelTrace, "batch trained", "epoch", epoch, "batch", index, "loss", loss)
	return nil
}

func (t *Trainer) release() {
	t.model = nil
	t.optimizer = nil
	t.newOpt = nil
	t.loss = nil
	t.store = nil
	t.post = nil
	t.state = StateDone
}
