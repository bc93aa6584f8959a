package sweep

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devmehmetakifv/gem5-pipeline/sweep/stats"
)

// JobStatus classifies a job's terminal outcome.
type JobStatus string

const (
	// StatusSuccess: the process exited zero and produced parseable metrics.
	StatusSuccess JobStatus = "success"
	// StatusFailure: non-zero exit, spawn failure, or unparseable output.
	StatusFailure JobStatus = "failure"
	// StatusTimeout: the process exceeded its wall-clock bound and was killed.
	StatusTimeout JobStatus = "timeout"
	// StatusInterrupted: the sweep was cancelled while the job ran. The job
	// is not recorded as processed; a resumed sweep runs it again.
	StatusInterrupted JobStatus = "interrupted"
)

// JobResult is the immutable outcome of running one Job.
type JobResult struct {
	RunID     string
	Benchmark string
	Config    Configuration
	Status    JobStatus
	ExitCode  int
	Error     string // human-readable failure detail, empty on success
	Duration  time.Duration
	Metrics   map[string]float64
	OutputDir string
	Started   time.Time
}

// Pool runs jobs as isolated external processes with bounded parallelism and
// a per-job timeout. Results stream to a single consumer in completion
// order; callers needing configuration-major ordering group their
// submissions per configuration.
type Pool struct {
	Parallel   int
	Timeout    time.Duration
	Extractors []stats.Extractor
}

// NewPool creates an execution pool with the default gem5 extractors.
func NewPool(parallel int, timeout time.Duration) *Pool {
	if parallel < 1 {
		parallel = 1
	}
	return &Pool{
		Parallel:   parallel,
		Timeout:    timeout,
		Extractors: stats.DefaultExtractors(),
	}
}

// RunAll executes the given jobs and invokes handle for every result from a
// single goroutine, serializing all downstream state and dataset writes. If
// handle returns an error the pool cancels in-flight processes, drains, and
// returns that error. A cancelled parent context stops the pool the same
// way but returns nil; interrupted results still reach handle so the caller
// can decide what to skip.
func (p *Pool) RunAll(ctx context.Context, jobs []*Job, handle func(*JobResult) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *JobResult)
	var group errgroup.Group
	group.SetLimit(p.Parallel)

	go func() {
		for _, job := range jobs {
			if runCtx.Err() != nil {
				break
			}
			job := job
			group.Go(func() error {
				results <- p.runOne(runCtx, job)
				return nil
			})
		}
		group.Wait() //nolint:errcheck // workers never return errors
		close(results)
	}()

	var handleErr error
	for result := range results {
		if handleErr != nil {
			continue // draining after a systemic failure
		}
		if err := handle(result); err != nil {
			handleErr = err
			cancel()
		}
	}
	return handleErr
}

// runOne executes a single job: working directory and stdin as specified,
// stdout/stderr captured into the job's output directory, wall clock
// bounded by the pool timeout.
func (p *Pool) runOne(ctx context.Context, job *Job) *JobResult {
	result := &JobResult{
		RunID:     job.RunID,
		Benchmark: job.Benchmark,
		Config:    job.Config,
		OutputDir: job.OutputDir,
		Started:   time.Now(),
		Metrics:   map[string]float64{},
	}

	jobCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(jobCtx, job.Argv[0], job.Argv[1:]...)
	cmd.Dir = job.Dir
	cmd.Env = append(os.Environ(), job.Env...)

	stdout, err := os.Create(filepath.Join(job.OutputDir, "stdout.log"))
	if err != nil {
		return p.failed(result, "create stdout log: "+err.Error())
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(job.OutputDir, "stderr.log"))
	if err != nil {
		return p.failed(result, "create stderr log: "+err.Error())
	}
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if job.Stdin != "" {
		stdin, err := os.Open(job.Stdin)
		if err != nil {
			return p.failed(result, "open stdin source: "+err.Error())
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	logrus.Infof("Running %s", job.RunID)
	logrus.Debugf("Command: %v", job.Argv)

	runErr := cmd.Run()
	result.Duration = time.Since(result.Started)
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimeout
		result.Error = "timeout after " + p.Timeout.String()
		logrus.Warnf("Timeout: %s", job.RunID)
	case ctx.Err() != nil:
		result.Status = StatusInterrupted
		result.Error = "interrupted"
	case runErr != nil:
		result.Status = StatusFailure
		result.Error = runErr.Error()
		logrus.Warnf("Failed: %s (%v)", job.RunID, runErr)
	default:
		result.Metrics = p.extract(job.OutputDir)
		if len(result.Metrics) == 0 {
			result.Status = StatusFailure
			result.Error = "no metrics parsed from simulator output"
			logrus.Warnf("Completed without parseable metrics: %s", job.RunID)
		} else {
			result.Status = StatusSuccess
			logrus.Infof("Completed %s (%.1fs, %d metrics)",
				job.RunID, result.Duration.Seconds(), len(result.Metrics))
		}
	}
	return result
}

func (p *Pool) failed(result *JobResult, detail string) *JobResult {
	result.Status = StatusFailure
	result.Error = detail
	result.Duration = time.Since(result.Started)
	logrus.Warnf("Failed: %s (%s)", result.RunID, detail)
	return result
}

// extract merges metrics from every known output format.
func (p *Pool) extract(outputDir string) map[string]float64 {
	merged := make(map[string]float64)
	for _, extractor := range p.Extractors {
		for name, value := range extractor.Extract(outputDir) {
			merged[name] = value
		}
	}
	return merged
}
