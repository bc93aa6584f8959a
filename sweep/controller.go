package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Phase is the controller's lifecycle state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseEnumerating Phase = "enumerating"
	PhaseRunning     Phase = "running"
	PhasePaused      Phase = "paused"
	PhaseCompleted   Phase = "completed"
	PhaseAborted     Phase = "aborted"
)

// Runner executes a batch of jobs and feeds results to a serialized handler.
// *Pool is the production implementation.
type Runner interface {
	RunAll(ctx context.Context, jobs []*Job, handle func(*JobResult) error) error
}

// Sink receives dataset rows. *Dataset is the production implementation.
type Sink interface {
	Append(Row) error
}

// Controller drives a sweep: enumerate the space, build jobs, execute them
// configuration by configuration, and commit every terminal result to the
// sweep state and the dataset through a single writer.
type Controller struct {
	Space   *Space
	Builder *Builder
	Runner  Runner
	State   *State
	Sink    Sink
	Backup  Notifier // optional

	phase     Phase
	succeeded int
	failed    int
}

// SweepOptions selects what a sweep covers.
type SweepOptions struct {
	Strategy   Strategy
	Preset     string
	Samples    int
	Seed       int64
	Benchmarks []string
}

// NewController wires a controller in the Idle phase.
func NewController(space *Space, builder *Builder, runner Runner, state *State, sink Sink, backup Notifier) *Controller {
	return &Controller{
		Space:   space,
		Builder: builder,
		Runner:  runner,
		State:   state,
		Sink:    sink,
		Backup:  backup,
		phase:   PhaseIdle,
	}
}

// Phase returns the controller's current lifecycle state.
func (c *Controller) Phase() Phase { return c.phase }

// SessionCounts returns the success/failure tallies for this invocation.
func (c *Controller) SessionCounts() (succeeded, failed int) {
	return c.succeeded, c.failed
}

// Run executes the sweep. Every configuration's full benchmark round drains
// before the next configuration starts, so an interrupted sweep still
// covers the whole suite for each configuration it reached. Runs already
// recorded in the state are skipped, which is what makes interrupted sweeps
// resumable. A nil return with phase Paused means the context was
// cancelled; a non-nil return means a systemic failure aborted the sweep
// with the state left consistent for resume.
func (c *Controller) Run(ctx context.Context, opts SweepOptions) error {
	c.phase = PhaseEnumerating
	configs, err := c.Space.Enumerate(opts.Strategy, EnumerateOptions{
		Preset:  opts.Preset,
		Samples: opts.Samples,
		Seed:    opts.Seed,
	})
	if err != nil {
		c.phase = PhaseAborted
		return err
	}
	if len(configs) == 0 {
		logrus.Warn("No configurations enumerated; nothing to run")
		c.phase = PhaseCompleted
		return nil
	}

	benchmarks := opts.Benchmarks
	if len(benchmarks) == 0 {
		benchmarks = BenchmarkNames(c.Builder.Commands())
	}

	logrus.Infof("Sweep: %d configurations x %d benchmarks (strategy=%s preset=%q)",
		len(configs), len(benchmarks), opts.Strategy, opts.Preset)

	c.phase = PhaseRunning
	for i, config := range configs {
		jobs, err := c.buildRound(config, benchmarks)
		if err != nil {
			c.phase = PhaseAborted
			return fmt.Errorf("sweep aborted during %s: %w", config.ID(), err)
		}
		logrus.Infof("Configuration round %d/%d (%s): %d jobs to run",
			i+1, len(configs), config.ID(), len(jobs))
		if len(jobs) == 0 {
			continue
		}

		if err := c.Runner.RunAll(ctx, jobs, c.commitResult); err != nil {
			c.phase = PhaseAborted
			return fmt.Errorf("sweep aborted during %s: %w", config.ID(), err)
		}
		if ctx.Err() != nil {
			c.phase = PhasePaused
			logrus.Warnf("Sweep paused after configuration round %d/%d; state saved for resume", i+1, len(configs))
			return nil
		}
	}

	c.phase = PhaseCompleted
	logrus.Infof("Sweep complete: %d configurations, %d succeeded, %d failed this session",
		len(configs), c.succeeded, c.failed)
	return nil
}

// buildRound builds the jobs for one configuration, skipping runs already
// processed and benchmarks whose specs are invalid. An invalid spec is
// terminal for its benchmark: it is recorded as failed so resume does not
// retry it, and the rest of the suite is unaffected. Any other build error
// is a resource problem on the harness side (unwritable results root, disk
// full) and is systemic: the sweep must not report completion over it.
func (c *Controller) buildRound(config Configuration, benchmarks []string) ([]*Job, error) {
	jobs := make([]*Job, 0, len(benchmarks))
	for _, benchmark := range benchmarks {
		runID := RunID(benchmark, config)
		if c.State.Processed(runID) {
			logrus.Debugf("Skipping %s (already processed)", runID)
			continue
		}
		job, err := c.Builder.Build(config, benchmark)
		if err != nil {
			if errors.Is(err, ErrInvalidBenchmarkSpec) {
				logrus.Warnf("Skipping benchmark %s: %v", benchmark, err)
				c.State.MarkFailed(runID)
				c.failed++
				if saveErr := c.State.Save(); saveErr != nil {
					logrus.Errorf("Failed to persist run log: %v", saveErr)
				}
				continue
			}
			return nil, fmt.Errorf("build %s: %w", runID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// commitResult is the single-writer path for every job outcome: update the
// run log, append the dataset row, nudge the backup. It runs serialized
// inside the runner's gather loop. A state or dataset write error is
// systemic and aborts the sweep; the run that failed to commit is not
// marked processed, so resume replays it.
func (c *Controller) commitResult(result *JobResult) error {
	if result.Status == StatusInterrupted {
		logrus.Debugf("Discarding interrupted run %s; it will rerun on resume", result.RunID)
		return nil
	}

	if err := c.Sink.Append(RowFromResult(result)); err != nil {
		return fmt.Errorf("dataset write failure: %w", err)
	}

	if result.Status == StatusSuccess {
		c.State.MarkCompleted(result.RunID)
		c.succeeded++
	} else {
		c.State.MarkFailed(result.RunID)
		c.failed++
	}
	if err := c.State.Save(); err != nil {
		return fmt.Errorf("run log write failure: %w", err)
	}

	if c.Backup != nil {
		c.Backup.Notify()
	}
	return nil
}
