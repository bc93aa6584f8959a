package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devmehmetakifv/gem5-pipeline/sweep"
	"github.com/devmehmetakifv/gem5-pipeline/sweep/backup"
)

var (
	strategy   string   // Sampling strategy (grid or random)
	preset     string   // Named preset narrowing the space
	samples    int      // Sample count for random sampling
	seed       int64    // RNG seed for random sampling
	parallel   int      // Concurrent simulations (0 = config value)
	timeoutSec int      // Per-run timeout override in seconds (0 = config value)
	benchmarks []string // Benchmarks to run (empty = full suite)
)

// sweepCmd runs the full parameter sweep, resuming where a previous
// invocation left off.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the parameter sweep across all benchmarks",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Setup validation failed: %v", err)
		}
		if err := cfg.EnsureDirs(); err != nil {
			logrus.Fatalf("Could not create output directories: %v", err)
		}
		space := loadSpace(cfg)

		state, err := sweep.LoadState(cfg.RunLogPath())
		if err != nil {
			logrus.Fatalf("Could not load run log: %v", err)
		}
		logrus.Infof("Session %s: %d completed, %d failed on record",
			state.SessionID, state.CompletedCount(), state.FailedCount())

		dataset, err := sweep.OpenDataset(cfg.DatasetCSVPath(), cfg.DatasetJSONPath())
		if err != nil {
			logrus.Fatalf("Could not open dataset: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var notifier sweep.Notifier
		if cfg.Backup.Enabled {
			uploader, err := backup.NewS3Uploader(ctx, cfg.Backup.Bucket, cfg.Backup.Prefix, cfg.Backup.Region)
			if err != nil {
				logrus.Fatalf("Could not initialize backup uploader: %v", err)
			}
			syncer := backup.NewSyncer(uploader, cfg.DatasetCSVPath())
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if err := syncer.Close(flushCtx); err != nil {
					logrus.Warnf("Backup syncer did not flush cleanly: %v", err)
				}
			}()
			notifier = syncer
		}

		workers := parallel
		if workers <= 0 {
			workers = cfg.Simulation.Parallel
		}
		timeout := cfg.Timeout()
		if timeoutSec > 0 {
			timeout = time.Duration(timeoutSec) * time.Second
		}
		pool := sweep.NewPool(workers, timeout)

		selected := benchmarks
		if len(selected) == 0 {
			selected = cfg.Benchmarks.BenchmarkList
		}

		controller := sweep.NewController(space, sweep.NewBuilder(cfg), pool, state, dataset, notifier)
		err = controller.Run(ctx, sweep.SweepOptions{
			Strategy:   sweep.Strategy(strategy),
			Preset:     preset,
			Samples:    samples,
			Seed:       seed,
			Benchmarks: selected,
		})
		succeeded, failed := controller.SessionCounts()

		switch {
		case err != nil:
			logrus.Fatalf("Sweep aborted: %v", err)
		case controller.Phase() == sweep.PhasePaused:
			logrus.Infof("Sweep interrupted: %d succeeded, %d failed this session. Rerun to resume.",
				succeeded, failed)
		default:
			logrus.Infof("Sweep finished: %d succeeded, %d failed this session", succeeded, failed)
		}
	},
}

// init sets up sweep flags and attaches the subcommand
func init() {
	sweepCmd.Flags().StringVar(&strategy, "strategy", "grid", "Sampling strategy (grid, random)")
	sweepCmd.Flags().StringVar(&preset, "preset", "", "Named preset from config_space.json")
	sweepCmd.Flags().IntVar(&samples, "samples", 0, "Sample count for random sampling")
	sweepCmd.Flags().Int64Var(&seed, "seed", 42, "RNG seed for random sampling")
	sweepCmd.Flags().IntVar(&parallel, "parallel", 0, "Concurrent simulations (default from config)")
	sweepCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Per-run timeout in seconds (default from config)")
	sweepCmd.Flags().StringSliceVar(&benchmarks, "benchmark", nil, "Benchmarks to run (default full suite)")

	rootCmd.AddCommand(sweepCmd)
}
