package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the harness configuration loaded from config.yaml. Relative
// paths resolve against the directory holding the config file.
type Config struct {
	Gem5       Gem5Config       `yaml:"gem5"`
	Benchmarks BenchmarkConfig  `yaml:"benchmarks"`
	Output     OutputConfig     `yaml:"output"`
	Simulation SimulationConfig `yaml:"simulation"`
	Backup     BackupConfig     `yaml:"backup"`

	root string // directory of the config file
}

// Gem5Config locates the simulator installation.
type Gem5Config struct {
	InstallationPath string `yaml:"installation_path"`
	Binary           string `yaml:"binary"`         // relative to InstallationPath
	ConfigsDir       string `yaml:"configs_dir"`    // relative to InstallationPath
	DefaultConfig    string `yaml:"default_config"` // script name inside ConfigsDir
}

// BenchmarkConfig locates the benchmark suite and narrows/overrides commands.
type BenchmarkConfig struct {
	CPU2006Path   string                       `yaml:"cpu2006_path"`
	BenchmarkList []string                     `yaml:"benchmark_list"`
	Commands      map[string]BenchmarkOverride `yaml:"commands"`
}

// OutputConfig locates result artifacts.
type OutputConfig struct {
	ResultsDir string `yaml:"results_dir"`
	BackupDir  string `yaml:"backup_dir"`
}

// SimulationConfig bounds individual simulator runs.
type SimulationConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	Parallel       int `yaml:"parallel"`
}

// BackupConfig configures the remote dataset copy.
type BackupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// LoadConfig reads and resolves a config.yaml.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.root = filepath.Dir(abs)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gem5.Binary == "" {
		c.Gem5.Binary = "build/X86/gem5.opt"
	}
	if c.Gem5.ConfigsDir == "" {
		c.Gem5.ConfigsDir = "configs"
	}
	if c.Gem5.DefaultConfig == "" {
		c.Gem5.DefaultConfig = "deprecated/example/se.py"
	}
	if c.Benchmarks.CPU2006Path == "" {
		c.Benchmarks.CPU2006Path = "cpu2006"
	}
	if c.Output.ResultsDir == "" {
		c.Output.ResultsDir = "results"
	}
	if c.Output.BackupDir == "" {
		c.Output.BackupDir = "backups"
	}
	if c.Simulation.TimeoutSeconds <= 0 {
		c.Simulation.TimeoutSeconds = 3600
	}
	if c.Simulation.Parallel <= 0 {
		c.Simulation.Parallel = 1
	}
}

// resolve expands ~ and anchors relative paths at the project root.
func (c *Config) resolve(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.root, path)
}

// Gem5Root is the resolved simulator installation directory.
func (c *Config) Gem5Root() string { return c.resolve(c.Gem5.InstallationPath) }

// Gem5Binary is the resolved simulator executable path.
func (c *Config) Gem5Binary() string { return filepath.Join(c.Gem5Root(), c.Gem5.Binary) }

// ConfigsDir is the resolved simulator config-script directory.
func (c *Config) ConfigsDir() string { return filepath.Join(c.Gem5Root(), c.Gem5.ConfigsDir) }

// DefaultConfigScript is the resolved simulation script passed to gem5.
func (c *Config) DefaultConfigScript() string {
	return filepath.Join(c.ConfigsDir(), c.Gem5.DefaultConfig)
}

// CPU2006Root is the resolved benchmark suite directory.
func (c *Config) CPU2006Root() string { return c.resolve(c.Benchmarks.CPU2006Path) }

// ResultsDir is the resolved result artifact directory.
func (c *Config) ResultsDir() string { return c.resolve(c.Output.ResultsDir) }

// DatasetCSVPath is the tabular dataset artifact.
func (c *Config) DatasetCSVPath() string { return filepath.Join(c.ResultsDir(), "dataset.csv") }

// DatasetJSONPath is the structured-record dataset artifact.
func (c *Config) DatasetJSONPath() string { return filepath.Join(c.ResultsDir(), "dataset.json") }

// RunLogPath is the sweep state file.
func (c *Config) RunLogPath() string { return filepath.Join(c.ResultsDir(), "run_log.json") }

// SpacePath is the configuration space declaration, kept next to config.yaml.
func (c *Config) SpacePath() string { return filepath.Join(c.root, "config_space.json") }

// Timeout is the per-job wall-clock bound.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Simulation.TimeoutSeconds) * time.Second
}

// Validate checks that the simulator and benchmark suite are reachable,
// reporting every missing path at once.
func (c *Config) Validate() error {
	var missing []string
	for _, probe := range []struct{ label, path string }{
		{"gem5 binary", c.Gem5Binary()},
		{"gem5 configs directory", c.ConfigsDir()},
		{"CPU2006 path", c.CPU2006Root()},
	} {
		if _, err := os.Stat(probe.path); err != nil {
			missing = append(missing, fmt.Sprintf("%s not found: %s", probe.label, probe.path))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("setup validation failed:\n  - %s", strings.Join(missing, "\n  - "))
	}
	return nil
}

// EnsureDirs creates the output directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.ResultsDir(), c.resolve(c.Output.BackupDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}
