package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Job is one unit of work: a single configuration run against a single
// benchmark, fully resolved into an executable command. Jobs are immutable
// and consumed exactly once by the execution pool.
type Job struct {
	RunID     string
	Benchmark string
	Config    Configuration
	Argv      []string // argv[0] is the gem5 binary
	Dir       string   // process working directory (the gem5 root)
	Env       []string // extra environment entries, KEY=VALUE
	Stdin     string   // optional file redirected to standard input
	OutputDir string   // per-run artifact directory
}

// RunID derives the stable identifier for a (benchmark, configuration) pair.
func RunID(benchmark string, config Configuration) string {
	return fmt.Sprintf("%s_%s", benchmark, config.ID())
}

// Builder turns (configuration, benchmark) pairs into runnable jobs.
type Builder struct {
	cfg      *Config
	commands map[string]BenchmarkSpec
}

// NewBuilder creates a job builder over the effective benchmark command set.
func NewBuilder(cfg *Config) *Builder {
	return &Builder{
		cfg:      cfg,
		commands: BenchmarkCommands(cfg.Benchmarks.Commands),
	}
}

// Commands exposes the effective benchmark command table.
func (b *Builder) Commands() map[string]BenchmarkSpec { return b.commands }

// Build resolves one job. It validates the benchmark binary and the stdin
// source, creates the per-run output directory (idempotent), and writes a
// config.json sidecar describing the run. Missing binary or stdin files are
// ErrInvalidBenchmarkSpec: fatal for this benchmark, skippable for others.
func (b *Builder) Build(config Configuration, benchmark string) (*Job, error) {
	return b.build(config, benchmark, RunID(benchmark, config))
}

// BuildWithID resolves one job under a caller-chosen run identifier. One-off
// test runs use it to keep their artifacts out of the sweep's run
// directories.
func (b *Builder) BuildWithID(config Configuration, benchmark, runID string) (*Job, error) {
	return b.build(config, benchmark, runID)
}

func (b *Builder) build(config Configuration, benchmark, runID string) (*Job, error) {
	spec, ok := b.commands[benchmark]
	if !ok {
		return nil, fmt.Errorf("%w: unknown benchmark %q", ErrInvalidBenchmarkSpec, benchmark)
	}

	binaryRel := spec.Binary
	if binaryRel == "" {
		binaryRel = filepath.Join(benchmark, benchmark)
	}
	binary := b.resolveBenchmarkPath(binaryRel)
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("%w: benchmark binary not found for %q: %s", ErrInvalidBenchmarkSpec, benchmark, binary)
	}

	workingDir := filepath.Dir(binary)
	if spec.WorkingDir != "" {
		workingDir = b.resolveBenchmarkPath(spec.WorkingDir)
	}

	var stdin string
	if spec.Stdin != "" {
		stdin = b.resolveBenchmarkPath(spec.Stdin)
		if _, err := os.Stat(stdin); err != nil {
			return nil, fmt.Errorf("%w: stdin file not found for %q: %s", ErrInvalidBenchmarkSpec, benchmark, stdin)
		}
	}

	outputDir := filepath.Join(b.cfg.ResultsDir(), runID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir for %s: %w", runID, err)
	}
	if err := writeRunSidecar(outputDir, benchmark, config); err != nil {
		return nil, err
	}

	argv := []string{
		b.cfg.Gem5Binary(),
		"-d", outputDir,
		b.cfg.DefaultConfigScript(),
		"--cmd", binary,
	}
	if opts := b.resolveOptions(benchmark, spec.Options); opts != "" {
		argv = append(argv, "--options", opts)
	}
	argv = append(argv, config.GemArgs()...)

	return &Job{
		RunID:     runID,
		Benchmark: benchmark,
		Config:    config,
		Argv:      argv,
		Dir:       b.cfg.Gem5Root(),
		Env:       []string{"GEM5_PROCESS_CWD=" + workingDir},
		Stdin:     stdin,
		OutputDir: outputDir,
	}, nil
}

// resolveBenchmarkPath anchors a benchmark-relative path at the CPU2006 root.
func (b *Builder) resolveBenchmarkPath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(b.cfg.CPU2006Root(), path)
}

// resolveOptions renders the option template into the single string gem5
// takes via --options. Tokens that look like paths are resolved first under
// the benchmark's own directory, then under the CPU2006 root; tokens that
// resolve nowhere pass through literally (some workloads name files the
// guest creates itself).
func (b *Builder) resolveOptions(benchmark string, options []string) string {
	if len(options) == 0 {
		return ""
	}
	resolved := make([]string, 0, len(options))
	for _, token := range options {
		if token == "" {
			continue
		}
		if looksLikePath(token) {
			if candidate := b.resolveBenchmarkPath(filepath.Join(benchmark, token)); fileExists(candidate) {
				resolved = append(resolved, candidate)
				continue
			}
			if candidate := b.resolveBenchmarkPath(token); fileExists(candidate) {
				resolved = append(resolved, candidate)
				continue
			}
		}
		resolved = append(resolved, token)
	}
	return strings.Join(resolved, " ")
}

// looksLikePath reports whether an option token plausibly names a file.
func looksLikePath(token string) bool {
	if strings.HasPrefix(token, "-") {
		return false
	}
	return strings.Contains(token, "/") || filepath.Ext(token) != ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeRunSidecar records the run's identity next to its artifacts.
func writeRunSidecar(outputDir, benchmark string, config Configuration) error {
	sidecar := map[string]any{
		"benchmark": benchmark,
		"config":    config.Params(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run sidecar: %w", err)
	}
	path := filepath.Join(outputDir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run sidecar: %w", err)
	}
	return nil
}
