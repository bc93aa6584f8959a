package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner turns every job into a result with a fixed status, invoking the
// handler synchronously like the real pool's gather loop does.
type stubRunner struct {
	status JobStatus
	rounds [][]string // run IDs per RunAll invocation
	cancel context.CancelFunc
}

func (r *stubRunner) RunAll(ctx context.Context, jobs []*Job, handle func(*JobResult) error) error {
	var ids []string
	for _, job := range jobs {
		ids = append(ids, job.RunID)
		result := &JobResult{
			RunID:     job.RunID,
			Benchmark: job.Benchmark,
			Config:    job.Config,
			Status:    r.status,
			Duration:  time.Second,
			Started:   time.Now(),
			OutputDir: job.OutputDir,
		}
		if r.status == StatusSuccess {
			result.Metrics = map[string]float64{"ipc": 1.0}
		}
		if err := handle(result); err != nil {
			return err
		}
	}
	r.rounds = append(r.rounds, ids)
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// memorySink collects rows and optionally fails every append.
type memorySink struct {
	rows []Row
	err  error
}

func (s *memorySink) Append(row Row) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

// countingNotifier tallies backup nudges.
type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

func twoConfigSpace() *Space {
	return &Space{
		Params: map[string][]any{
			"cpu.cpu_type": []any{"TimingSimpleCPU", "DerivO3CPU"},
		},
		Presets: map[string]Preset{},
	}
}

func newControllerFixture(t *testing.T, runner Runner, sink Sink, notifier Notifier) (*Controller, *State) {
	t.Helper()
	cfg := newTestHarness(t)
	state, err := LoadState(filepath.Join(t.TempDir(), "run_log.json"))
	require.NoError(t, err)
	return NewController(twoConfigSpace(), NewBuilder(cfg), runner, state, sink, notifier), state
}

func TestControllerRun_CompletesAndCommitsEveryRun(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{}
	notifier := &countingNotifier{}
	controller, state := newControllerFixture(t, runner, sink, notifier)

	err := controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, controller.Phase())
	require.Len(t, runner.rounds, 2, "one round per configuration")
	assert.Len(t, runner.rounds[0], 1)
	assert.Len(t, sink.rows, 2)
	assert.Equal(t, 2, state.CompletedCount())
	assert.Equal(t, 2, notifier.n)

	succeeded, failed := controller.SessionCounts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, failed)
}

func TestControllerRun_SkipsProcessedRuns(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{}
	controller, state := newControllerFixture(t, runner, sink, nil)

	configs, err := controller.Space.Enumerate(StrategyGrid, EnumerateOptions{})
	require.NoError(t, err)
	require.Len(t, configs, 2)
	state.MarkCompleted(RunID("mcf", configs[0]))

	err = controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, controller.Phase())
	require.Len(t, runner.rounds, 1, "the already-processed configuration round is empty")
	assert.Equal(t, []string{RunID("mcf", configs[1])}, runner.rounds[0])
	assert.Len(t, sink.rows, 1)
}

func TestControllerRun_FailedRunsAreRecordedAndNotRetried(t *testing.T) {
	runner := &stubRunner{status: StatusFailure}
	sink := &memorySink{}
	controller, state := newControllerFixture(t, runner, sink, nil)

	err := controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, controller.Phase())
	assert.Equal(t, 0, state.CompletedCount())
	assert.Equal(t, 2, state.FailedCount())
	assert.Len(t, sink.rows, 2, "failed runs still get dataset rows")
	for _, row := range sink.rows {
		assert.Equal(t, StatusFailure, row.Status)
		assert.True(t, state.Processed(row.RunID))
	}
}

func TestControllerRun_InterruptedResultsAreNotCommitted(t *testing.T) {
	runner := &stubRunner{status: StatusInterrupted}
	sink := &memorySink{}
	controller, state := newControllerFixture(t, runner, sink, nil)

	err := controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.NoError(t, err)

	assert.Empty(t, sink.rows)
	assert.Equal(t, 0, state.CompletedCount())
	assert.Equal(t, 0, state.FailedCount())
}

func TestControllerRun_SinkErrorAborts(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{err: errors.New("disk full")}
	controller, state := newControllerFixture(t, runner, sink, nil)

	err := controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, PhaseAborted, controller.Phase())
	assert.Equal(t, 0, state.CompletedCount(), "a run whose row never landed is not marked processed")
}

func TestControllerRun_UnwritableResultsRootAborts(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{}
	cfg := newTestHarness(t)
	state, err := LoadState(filepath.Join(t.TempDir(), "run_log.json"))
	require.NoError(t, err)
	controller := NewController(twoConfigSpace(), NewBuilder(cfg), runner, state, sink, nil)

	// A plain file where the results root should be makes every per-run
	// output directory creation fail.
	require.NoError(t, os.WriteFile(cfg.ResultsDir(), []byte("x"), 0o644))

	err = controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.Error(t, err)

	assert.Equal(t, PhaseAborted, controller.Phase())
	assert.Empty(t, runner.rounds, "no round runs over a broken results root")
	assert.Empty(t, sink.rows)
	assert.Equal(t, 0, state.CompletedCount())
	assert.Equal(t, 0, state.FailedCount(), "a resource failure is not a benchmark failure")
}

func TestControllerRun_CancelledContextPausesBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{status: StatusSuccess, cancel: cancel}
	sink := &memorySink{}
	controller, state := newControllerFixture(t, runner, sink, nil)

	err := controller.Run(ctx, SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"mcf"},
	})
	require.NoError(t, err)

	assert.Equal(t, PhasePaused, controller.Phase())
	assert.Len(t, runner.rounds, 1, "the second round never starts")
	assert.Equal(t, 1, state.CompletedCount())
}

func TestControllerRun_InvalidBenchmarkIsTerminalForThatBenchmark(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{}
	controller, state := newControllerFixture(t, runner, sink, nil)

	// bwaves has no binary in the test harness; mcf does.
	err := controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"bwaves", "mcf"},
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, controller.Phase())
	assert.Equal(t, 2, state.CompletedCount(), "mcf runs for both configurations")
	assert.Equal(t, 2, state.FailedCount(), "bwaves is recorded failed per configuration")
	assert.Len(t, sink.rows, 2, "invalid specs never produce dataset rows")
	for _, round := range runner.rounds {
		for _, runID := range round {
			assert.Contains(t, runID, "mcf_")
		}
	}
}

func TestControllerRun_RoundsAreConfigurationMajor(t *testing.T) {
	runner := &stubRunner{status: StatusSuccess}
	sink := &memorySink{}
	cfg := newTestHarness(t)
	for _, file := range []string{"bwaves/bwaves", "bwaves/bwaves.in"} {
		path := filepath.Join(cfg.CPU2006Root(), file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o755))
	}
	state, err := LoadState(filepath.Join(t.TempDir(), "run_log.json"))
	require.NoError(t, err)

	space := &Space{
		Params: map[string][]any{
			"cpu.cpu_type":   []any{"DerivO3CPU"},
			"cache_l1d.size": []any{"32kB", "64kB"},
		},
		Presets: map[string]Preset{},
	}
	controller := NewController(space, NewBuilder(cfg), runner, state, sink, nil)

	err = controller.Run(context.Background(), SweepOptions{
		Strategy:   StrategyGrid,
		Benchmarks: []string{"bwaves", "mcf"},
	})
	require.NoError(t, err)

	// 2 configurations x 2 benchmarks, each configuration's round drained
	// in full before the next begins.
	require.Len(t, runner.rounds, 2)
	configs, err := space.Enumerate(StrategyGrid, EnumerateOptions{})
	require.NoError(t, err)
	for i, round := range runner.rounds {
		assert.Equal(t, []string{
			RunID("bwaves", configs[i]),
			RunID("mcf", configs[i]),
		}, round)
	}
	assert.Len(t, sink.rows, 4)
}

func TestControllerRun_UnknownStrategyAborts(t *testing.T) {
	controller, _ := newControllerFixture(t, &stubRunner{status: StatusSuccess}, &memorySink{}, nil)

	err := controller.Run(context.Background(), SweepOptions{Strategy: Strategy("sobol")})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, PhaseAborted, controller.Phase())
}
