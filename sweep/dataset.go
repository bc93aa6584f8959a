package sweep

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// fixedColumns lead every dataset row; parameter and metric columns follow
// in sorted order.
var fixedColumns = []string{"run_id", "benchmark", "timestamp", "duration_seconds", "status"}

// Row is one flattened dataset entry: the configuration parameters joined
// with the run's parsed metrics. Rows are appended in completion order and
// never updated or deleted.
type Row struct {
	RunID     string
	Benchmark string
	Timestamp time.Time
	Duration  time.Duration
	Status    JobStatus
	Params    map[string]any
	Metrics   map[string]float64
}

// RowFromResult flattens a job result into a dataset row.
func RowFromResult(result *JobResult) Row {
	return Row{
		RunID:     result.RunID,
		Benchmark: result.Benchmark,
		Timestamp: result.Started,
		Duration:  result.Duration,
		Status:    result.Status,
		Params:    result.Config.Params(),
		Metrics:   result.Metrics,
	}
}

// Notifier receives a nudge after every durable local append. The remote
// backup syncer implements it; appends never wait on it.
type Notifier interface {
	Notify()
}

// Dataset is the append-only sink backing dataset.csv (tabular) and
// dataset.json (structured records). Appends are idempotent per run ID and
// durable before they are acknowledged. The CSV header is the union of all
// columns seen so far; a row introducing new columns triggers an atomic
// rewrite, otherwise the row is appended in place and fsynced.
type Dataset struct {
	csvPath  string
	jsonPath string

	records     []map[string]any
	columns     map[string]bool
	fileColumns []string // header currently on disk, nil when no CSV yet
	seen        map[string]bool
}

// OpenDataset loads existing dataset artifacts so a resumed sweep keeps
// appending to the same files. dataset.json is the preferred hydration
// source because it preserves cell types; the CSV is the fallback.
func OpenDataset(csvPath, jsonPath string) (*Dataset, error) {
	d := &Dataset{
		csvPath:  csvPath,
		jsonPath: jsonPath,
		columns:  make(map[string]bool),
		seen:     make(map[string]bool),
	}
	for _, col := range fixedColumns {
		d.columns[col] = true
	}

	if err := d.hydrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) hydrate() error {
	if data, err := os.ReadFile(d.jsonPath); err == nil {
		if err := json.Unmarshal(data, &d.records); err != nil {
			return fmt.Errorf("parse %s: %w", d.jsonPath, err)
		}
	} else if data, err := os.ReadFile(d.csvPath); err == nil {
		if err := d.hydrateFromCSV(data); err != nil {
			return err
		}
	}

	for _, record := range d.records {
		for col := range record {
			d.columns[col] = true
		}
		if runID, ok := record["run_id"].(string); ok {
			d.seen[runID] = true
		}
	}

	// Remember the on-disk header so appends can detect column growth.
	if data, err := os.ReadFile(d.csvPath); err == nil {
		reader := csv.NewReader(bytes.NewReader(data))
		if header, err := reader.Read(); err == nil {
			d.fileColumns = header
		}
	}
	return nil
}

func (d *Dataset) hydrateFromCSV(data []byte) error {
	reader := csv.NewReader(bytes.NewReader(data))
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", d.csvPath, err)
	}
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	for _, cells := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(cells) && cells[i] != "" {
				record[col] = cells[i]
			}
		}
		d.records = append(d.records, record)
	}
	return nil
}

// Len returns the number of rows on record.
func (d *Dataset) Len() int { return len(d.records) }

// Has reports whether a run ID already has a row.
func (d *Dataset) Has(runID string) bool { return d.seen[runID] }

// Columns returns the current column union in output order.
func (d *Dataset) Columns() []string { return d.orderedColumns() }

// Append commits one row to both artifacts. Appending a run ID that is
// already present is a no-op: the persisted dataset never holds duplicate
// rows. The append is flushed to disk before Append returns; any write
// error is a systemic DatasetWriteFailure for the caller.
func (d *Dataset) Append(row Row) error {
	if d.seen[row.RunID] {
		logrus.Debugf("Dataset already holds %s; skipping append", row.RunID)
		return nil
	}

	record := flattenRow(row)
	grew := false
	for col := range record {
		if !d.columns[col] {
			d.columns[col] = true
			grew = true
		}
	}

	d.records = append(d.records, record)
	d.seen[row.RunID] = true

	want := d.orderedColumns()
	if grew || d.fileColumns == nil || !equalColumns(d.fileColumns, want) {
		if err := d.rewriteCSV(want); err != nil {
			return err
		}
	} else if err := d.appendCSV(want, record); err != nil {
		return err
	}

	if err := d.writeJSON(); err != nil {
		return err
	}
	logrus.Infof("Appended row #%d to dataset (%s)", len(d.records), row.RunID)
	return nil
}

// orderedColumns is fixed columns first, then params, then metrics, each
// group sorted.
func (d *Dataset) orderedColumns() []string {
	fixed := make(map[string]bool, len(fixedColumns))
	for _, col := range fixedColumns {
		fixed[col] = true
	}
	var params, metrics, other []string
	for col := range d.columns {
		switch {
		case fixed[col]:
		case strings.HasPrefix(col, "param_"):
			params = append(params, col)
		case strings.HasPrefix(col, "metric_"):
			metrics = append(metrics, col)
		default:
			other = append(other, col)
		}
	}
	sort.Strings(params)
	sort.Strings(metrics)
	sort.Strings(other)

	ordered := make([]string, 0, len(d.columns))
	ordered = append(ordered, fixedColumns...)
	ordered = append(ordered, params...)
	ordered = append(ordered, other...)
	ordered = append(ordered, metrics...)
	return ordered
}

func (d *Dataset) appendCSV(columns []string, record map[string]any) error {
	file, err := os.OpenFile(d.csvPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open dataset csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(cells(columns, record)); err != nil {
		return fmt.Errorf("append dataset row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("append dataset row: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync dataset csv: %w", err)
	}
	return nil
}

func (d *Dataset) rewriteCSV(columns []string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	for _, record := range d.records {
		if err := writer.Write(cells(columns, record)); err != nil {
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write dataset csv: %w", err)
	}
	if err := atomicWrite(d.csvPath, buf.Bytes()); err != nil {
		return fmt.Errorf("replace dataset csv: %w", err)
	}
	d.fileColumns = append([]string(nil), columns...)
	return nil
}

func (d *Dataset) writeJSON() error {
	data, err := json.MarshalIndent(d.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset json: %w", err)
	}
	if err := atomicWrite(d.jsonPath, data); err != nil {
		return fmt.Errorf("replace dataset json: %w", err)
	}
	return nil
}

// flattenRow turns a Row into flat column → typed cell form. Absent metrics
// simply have no cell; they are never materialized as zero.
func flattenRow(row Row) map[string]any {
	record := map[string]any{
		"run_id":           row.RunID,
		"benchmark":        row.Benchmark,
		"timestamp":        row.Timestamp.UTC().Format(time.RFC3339),
		"duration_seconds": row.Duration.Seconds(),
		"status":           string(row.Status),
	}
	for name, value := range row.Params {
		record["param_"+name] = value
	}
	for name, value := range row.Metrics {
		record["metric_"+name] = value
	}
	return record
}

func cells(columns []string, record map[string]any) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		if value, ok := record[col]; ok {
			out[i] = formatCell(value)
		}
	}
	return out
}

func formatCell(value any) string {
	switch t := value.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
