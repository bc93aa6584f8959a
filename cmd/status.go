package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devmehmetakifv/gem5-pipeline/sweep"
)

var statusPreset string // Preset to size the space against

// statusCmd summarizes sweep progress from the run log and dataset.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sweep progress",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		space := loadSpace(cfg)

		gridSize, err := space.GridSize(statusPreset)
		if err != nil {
			logrus.Fatalf("Could not size configuration space: %v", err)
		}

		state, err := sweep.LoadState(cfg.RunLogPath())
		if err != nil {
			logrus.Fatalf("Could not load run log: %v", err)
		}

		dataset, err := sweep.OpenDataset(cfg.DatasetCSVPath(), cfg.DatasetJSONPath())
		if err != nil {
			logrus.Fatalf("Could not open dataset: %v", err)
		}

		suite := len(sweep.BenchmarkNames(sweep.BenchmarkCommands(cfg.Benchmarks.Commands)))
		if len(cfg.Benchmarks.BenchmarkList) > 0 {
			suite = len(cfg.Benchmarks.BenchmarkList)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "session\t%s\n", state.SessionID)
		fmt.Fprintf(w, "configurations\t%d\n", gridSize)
		fmt.Fprintf(w, "benchmarks\t%d\n", suite)
		fmt.Fprintf(w, "total runs\t%d\n", gridSize*suite)
		fmt.Fprintf(w, "completed\t%d\n", state.CompletedCount())
		fmt.Fprintf(w, "failed\t%d\n", state.FailedCount())
		fmt.Fprintf(w, "remaining\t%d\n", remainingRuns(gridSize*suite, state.CompletedCount()+state.FailedCount()))
		fmt.Fprintf(w, "dataset rows\t%d\n", dataset.Len())
		w.Flush()
	},
}

// remainingRuns never reports a negative backlog: the run log can hold runs
// recorded under a different preset or an edited space.
func remainingRuns(total, processed int) int {
	if processed >= total {
		return 0
	}
	return total - processed
}

// init sets up status flags and attaches the subcommand
func init() {
	statusCmd.Flags().StringVar(&statusPreset, "preset", "", "Preset to size the space against")

	rootCmd.AddCommand(statusCmd)
}
