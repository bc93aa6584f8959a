package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

var analyzeMetric string // Metric column to analyze

// analyzeCmd summarizes the collected dataset: per-benchmark statistics for
// the chosen metric and the best-performing configuration row.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize the collected dataset",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		records, err := readDatasetCSV(cfg.DatasetCSVPath())
		if err != nil {
			logrus.Fatalf("Could not read dataset: %v", err)
		}
		if len(records) == 0 {
			logrus.Fatal("Dataset is empty; run a sweep first")
		}

		summary := summarize(records, "metric_"+analyzeMetric)
		printSummary(summary, analyzeMetric)
	},
}

// datasetRecord is one CSV row keyed by column name.
type datasetRecord map[string]string

// benchmarkStats aggregates one benchmark's runs for a metric.
type benchmarkStats struct {
	Benchmark string
	Runs      int
	Successes int
	Mean      float64
	StdDev    float64
}

// summary is the analyze output, separated from printing for testability.
type summary struct {
	Rows       int
	Successes  int
	Benchmarks []benchmarkStats
	ParamCards map[string]int // distinct values per swept parameter
	Best       datasetRecord  // highest-metric successful row, nil if none
	BestValue  float64
}

// readDatasetCSV loads dataset.csv into column-keyed records.
func readDatasetCSV(path string) ([]datasetRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}
	header := rows[0]
	records := make([]datasetRecord, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		record := make(datasetRecord, len(header))
		for i, col := range header {
			if i < len(cells) {
				record[col] = cells[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// summarize computes per-benchmark statistics for one metric column and
// finds the best successful row. Rows without the metric are counted but
// excluded from the statistics.
func summarize(records []datasetRecord, metricCol string) summary {
	s := summary{ParamCards: make(map[string]int)}
	byBenchmark := make(map[string][]float64)
	successes := make(map[string]int)
	runs := make(map[string]int)
	paramValues := make(map[string]map[string]bool)

	for _, record := range records {
		s.Rows++
		benchmark := record["benchmark"]
		runs[benchmark]++

		for col, cell := range record {
			if strings.HasPrefix(col, "param_") && cell != "" {
				if paramValues[col] == nil {
					paramValues[col] = make(map[string]bool)
				}
				paramValues[col][cell] = true
			}
		}

		if record["status"] != "success" {
			continue
		}
		s.Successes++
		successes[benchmark]++

		value, err := strconv.ParseFloat(record[metricCol], 64)
		if err != nil {
			continue
		}
		byBenchmark[benchmark] = append(byBenchmark[benchmark], value)
		if s.Best == nil || value > s.BestValue {
			s.Best = record
			s.BestValue = value
		}
	}

	for param, values := range paramValues {
		s.ParamCards[strings.TrimPrefix(param, "param_")] = len(values)
	}

	for benchmark, values := range byBenchmark {
		s.Benchmarks = append(s.Benchmarks, benchmarkStats{
			Benchmark: benchmark,
			Runs:      runs[benchmark],
			Successes: successes[benchmark],
			Mean:      stat.Mean(values, nil),
			StdDev:    stat.StdDev(values, nil),
		})
	}
	sort.Slice(s.Benchmarks, func(i, j int) bool {
		return s.Benchmarks[i].Benchmark < s.Benchmarks[j].Benchmark
	})
	return s
}

func printSummary(s summary, metric string) {
	fmt.Printf("Dataset: %d rows, %d successful runs\n\n", s.Rows, s.Successes)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "benchmark\truns\tok\tmean %s\tstddev\n", metric)
	for _, b := range s.Benchmarks {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.4f\n", b.Benchmark, b.Runs, b.Successes, b.Mean, b.StdDev)
	}
	w.Flush()

	if len(s.ParamCards) > 0 {
		fmt.Println("\nSwept parameters:")
		params := make([]string, 0, len(s.ParamCards))
		for param := range s.ParamCards {
			params = append(params, param)
		}
		sort.Strings(params)
		for _, param := range params {
			fmt.Printf("  %s: %d distinct values\n", param, s.ParamCards[param])
		}
	}

	if s.Best != nil {
		fmt.Printf("\nBest %s: %.4f (%s)\n", metric, s.BestValue, s.Best["run_id"])
	}
}

// init sets up analyze flags and attaches the subcommand
func init() {
	analyzeCmd.Flags().StringVar(&analyzeMetric, "metric", "ipc", "Metric column to analyze (without the metric_ prefix)")

	rootCmd.AddCommand(analyzeCmd)
}
