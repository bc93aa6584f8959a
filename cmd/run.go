package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devmehmetakifv/gem5-pipeline/sweep"
)

var (
	runBenchmark string // Benchmark for the single test run
	runPreset    string // Preset supplying the test configuration
	runStrategy  string // Sampling strategy for picking the configuration
	runSamples   int    // Sample count when the strategy is random
	runSeed      int64  // RNG seed when the strategy is random
)

// runCmd executes one benchmark under the first configuration of a preset,
// to validate the setup before committing to a full sweep.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single test simulation",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Setup validation failed: %v", err)
		}
		if err := cfg.EnsureDirs(); err != nil {
			logrus.Fatalf("Could not create output directories: %v", err)
		}
		space := loadSpace(cfg)

		configs, err := space.Enumerate(sweep.Strategy(runStrategy), sweep.EnumerateOptions{
			Preset:  runPreset,
			Samples: runSamples,
			Seed:    runSeed,
		})
		if err != nil {
			logrus.Fatalf("Could not enumerate configurations: %v", err)
		}
		if len(configs) == 0 {
			logrus.Fatal("Configuration space is empty")
		}
		config := configs[0]

		builder := sweep.NewBuilder(cfg)
		job, err := builder.BuildWithID(config, runBenchmark, "test_"+runBenchmark)
		if err != nil {
			logrus.Fatalf("Could not build test job: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool := sweep.NewPool(1, cfg.Timeout())
		var result *sweep.JobResult
		runErr := pool.RunAll(ctx, []*sweep.Job{job}, func(r *sweep.JobResult) error {
			result = r
			return nil
		})
		if runErr != nil {
			logrus.Fatalf("Test run failed: %v", runErr)
		}
		if result == nil {
			logrus.Fatal("Test run produced no result")
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logrus.Fatalf("Could not encode result: %v", err)
		}
		fmt.Println(string(out))

		if result.Status != sweep.StatusSuccess {
			logrus.Fatalf("Test run ended with status %s", result.Status)
		}
		logrus.Infof("Test run succeeded in %.1fs with %d metrics",
			result.Duration.Seconds(), len(result.Metrics))
	},
}

// init sets up run flags and attaches the subcommand
func init() {
	runCmd.Flags().StringVar(&runBenchmark, "benchmark", "mcf", "Benchmark to run")
	runCmd.Flags().StringVar(&runPreset, "preset", "small_test", "Preset supplying the configuration")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "grid", "Sampling strategy (grid, random)")
	runCmd.Flags().IntVar(&runSamples, "samples", 1, "Sample count for random sampling")
	runCmd.Flags().Int64Var(&runSeed, "seed", 42, "RNG seed for random sampling")

	rootCmd.AddCommand(runCmd)
}
