package sweep

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataset(t *testing.T) (*Dataset, string) {
	t.Helper()
	dir := t.TempDir()
	dataset, err := OpenDataset(filepath.Join(dir, "dataset.csv"), filepath.Join(dir, "dataset.json"))
	require.NoError(t, err)
	return dataset, dir
}

func sampleRow(runID string, params map[string]any, metrics map[string]float64) Row {
	return Row{
		RunID:     runID,
		Benchmark: "mcf",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Duration:  90 * time.Second,
		Status:    StatusSuccess,
		Params:    params,
		Metrics:   metrics,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppend_WritesBothArtifacts(t *testing.T) {
	dataset, dir := newTestDataset(t)
	row := sampleRow("mcf_config_00000001",
		map[string]any{"cpu.cpu_type": "DerivO3CPU"},
		map[string]float64{"ipc": 1.25})

	require.NoError(t, dataset.Append(row))

	rows := readCSV(t, filepath.Join(dir, "dataset.csv"))
	require.Len(t, rows, 2)
	header, cells := rows[0], rows[1]
	assert.Equal(t, []string{"run_id", "benchmark", "timestamp", "duration_seconds", "status",
		"param_cpu.cpu_type", "metric_ipc"}, header)
	assert.Equal(t, "mcf_config_00000001", cells[0])
	assert.Equal(t, "success", cells[4])
	assert.Equal(t, "DerivO3CPU", cells[5])
	assert.Equal(t, "1.25", cells[6])

	data, err := os.ReadFile(filepath.Join(dir, "dataset.json"))
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, 1.25, records[0]["metric_ipc"])
	assert.Equal(t, 90.0, records[0]["duration_seconds"])
}

func TestAppend_DuplicateRunIDIsNoOp(t *testing.T) {
	dataset, dir := newTestDataset(t)
	row := sampleRow("mcf_config_00000001", nil, map[string]float64{"ipc": 1.0})

	require.NoError(t, dataset.Append(row))
	require.NoError(t, dataset.Append(row))

	assert.Equal(t, 1, dataset.Len())
	rows := readCSV(t, filepath.Join(dir, "dataset.csv"))
	assert.Len(t, rows, 2, "header plus exactly one row")
}

func TestAppend_NewColumnsRewriteWithUnionHeader(t *testing.T) {
	dataset, dir := newTestDataset(t)

	require.NoError(t, dataset.Append(sampleRow("mcf_config_00000001",
		map[string]any{"cpu.cpu_type": "DerivO3CPU"},
		map[string]float64{"ipc": 1.2})))
	require.NoError(t, dataset.Append(sampleRow("mcf_config_00000002",
		map[string]any{"cpu.cpu_type": "TimingSimpleCPU", "cache_l2.size": "1MB"},
		map[string]float64{"ipc": 0.8, "l2_miss_rate": 0.02})))

	rows := readCSV(t, filepath.Join(dir, "dataset.csv"))
	require.Len(t, rows, 3)
	header := rows[0]
	assert.Contains(t, header, "param_cache_l2.size")
	assert.Contains(t, header, "metric_l2_miss_rate")

	// Earlier rows keep their data and take empty cells for new columns.
	byCol := func(row []string, col string) string {
		for i, name := range header {
			if name == col {
				return row[i]
			}
		}
		t.Fatalf("column %s missing", col)
		return ""
	}
	assert.Equal(t, "DerivO3CPU", byCol(rows[1], "param_cpu.cpu_type"))
	assert.Equal(t, "", byCol(rows[1], "param_cache_l2.size"))
	assert.Equal(t, "1MB", byCol(rows[2], "param_cache_l2.size"))
}

func TestAppend_AbsentMetricsStayAbsent(t *testing.T) {
	dataset, dir := newTestDataset(t)
	row := sampleRow("mcf_config_00000001", nil, map[string]float64{"ipc": 1.0})
	row.Status = StatusTimeout
	row.Metrics = nil

	require.NoError(t, dataset.Append(row))

	data, err := os.ReadFile(filepath.Join(dir, "dataset.json"))
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	_, present := records[0]["metric_ipc"]
	assert.False(t, present, "a timeout row carries no fabricated metric cells")
	assert.Equal(t, "timeout", records[0]["status"])
}

func TestOpenDataset_ResumesFromExistingArtifacts(t *testing.T) {
	dataset, dir := newTestDataset(t)
	require.NoError(t, dataset.Append(sampleRow("mcf_config_00000001",
		map[string]any{"cpu.cpu_type": "DerivO3CPU"},
		map[string]float64{"ipc": 1.2})))

	reopened, err := OpenDataset(filepath.Join(dir, "dataset.csv"), filepath.Join(dir, "dataset.json"))
	require.NoError(t, err)

	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Has("mcf_config_00000001"))

	// A duplicate append after restart is still a no-op.
	require.NoError(t, reopened.Append(sampleRow("mcf_config_00000001", nil, nil)))
	assert.Equal(t, 1, reopened.Len())

	// Appending without new columns must not disturb existing rows.
	require.NoError(t, reopened.Append(sampleRow("mcf_config_00000002",
		map[string]any{"cpu.cpu_type": "TimingSimpleCPU"},
		map[string]float64{"ipc": 0.9})))
	rows := readCSV(t, filepath.Join(dir, "dataset.csv"))
	assert.Len(t, rows, 3)
}

func TestOpenDataset_FallsBackToCSV(t *testing.T) {
	dataset, dir := newTestDataset(t)
	require.NoError(t, dataset.Append(sampleRow("mcf_config_00000001",
		map[string]any{"cpu.cpu_type": "DerivO3CPU"},
		map[string]float64{"ipc": 1.2})))
	require.NoError(t, os.Remove(filepath.Join(dir, "dataset.json")))

	reopened, err := OpenDataset(filepath.Join(dir, "dataset.csv"), filepath.Join(dir, "dataset.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Has("mcf_config_00000001"))
}

func TestColumns_FixedThenParamsThenMetrics(t *testing.T) {
	dataset, _ := newTestDataset(t)
	require.NoError(t, dataset.Append(sampleRow("mcf_config_00000001",
		map[string]any{"memory.mem_size": "4GB", "cpu.cpu_type": "DerivO3CPU"},
		map[string]float64{"sim_seconds": 0.1, "ipc": 1.2})))

	assert.Equal(t, []string{
		"run_id", "benchmark", "timestamp", "duration_seconds", "status",
		"param_cpu.cpu_type", "param_memory.mem_size",
		"metric_ipc", "metric_sim_seconds",
	}, dataset.Columns())
}
