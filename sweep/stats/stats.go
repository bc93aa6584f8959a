// Package stats extracts structured metrics from gem5 output artifacts.
// Parsing is total: unrecognized or malformed output produces an empty
// metric map, never an error that could stall the sweep.
package stats

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Extractor pulls named numeric metrics out of a completed run's output
// directory. Each known simulator output format gets its own variant; new
// formats are supported by adding variants, not by branching inside one.
type Extractor interface {
	// Name identifies the output format the extractor understands.
	Name() string
	// Extract reads the run's artifacts and returns whatever metrics it
	// recognizes. A missing or malformed artifact yields an empty map.
	Extract(outputDir string) map[string]float64
}

// DefaultExtractors covers the formats gem5 produces out of the box.
func DefaultExtractors() []Extractor {
	return []Extractor{
		&StatsFileExtractor{},
		&SimoutExtractor{},
	}
}

// statLine matches "name value [# description]" entries in stats.txt.
var statLine = regexp.MustCompile(`^([^\s]+)\s+([^\s#]+)(?:\s+#\s*(.*))?$`)

// StatsFileExtractor parses the classic gem5 stats.txt dump and derives the
// key performance metrics from its raw counters.
type StatsFileExtractor struct {
	// Filename overrides the artifact name; default "stats.txt".
	Filename string
}

// Name implements Extractor.
func (e *StatsFileExtractor) Name() string { return "stats.txt" }

// Extract implements Extractor.
func (e *StatsFileExtractor) Extract(outputDir string) map[string]float64 {
	filename := e.Filename
	if filename == "" {
		filename = "stats.txt"
	}
	raw := parseStatsFile(filepath.Join(outputDir, filename))
	return deriveKeyMetrics(raw)
}

// parseStatsFile reads every numeric stat from a stats.txt file. Non-numeric
// values and malformed lines are skipped.
func parseStatsFile(path string) map[string]float64 {
	file, err := os.Open(path)
	if err != nil {
		return map[string]float64{}
	}
	defer file.Close()

	raw := make(map[string]float64)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := statLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		raw[m[1]] = value
	}
	return raw
}

// deriveKeyMetrics computes the flat metric set from raw gem5 counters. A
// derived metric whose inputs are absent stays absent; it is never reported
// as zero.
func deriveKeyMetrics(raw map[string]float64) map[string]float64 {
	metrics := make(map[string]float64)
	get := func(name string) (float64, bool) {
		v, ok := raw[name]
		return v, ok
	}
	// first returns the first counter present among alternates; gem5 names
	// differ between plain and switch-CPU runs.
	first := func(names ...string) (float64, bool) {
		for _, name := range names {
			if v, ok := raw[name]; ok {
				return v, true
			}
		}
		return 0, false
	}
	copyIf := func(name string) {
		if v, ok := get(name); ok {
			metrics[name] = v
		}
	}

	for _, name := range []string{
		"sim_seconds", "sim_ticks", "sim_freq", "sim_insts", "sim_ops",
		"host_inst_rate", "host_op_rate", "host_seconds",
	} {
		copyIf(name)
	}

	if cycles, ok := first("system.switch_cpus.numCycles", "system.cpu.numCycles"); ok && cycles > 0 {
		if insts, ok := get("sim_insts"); ok && insts > 0 {
			metrics["ipc"] = insts / cycles
			metrics["cpi"] = cycles / insts
		}
	}

	cacheRates(metrics, raw, "l1d", "system.cpu.dcache")
	cacheRates(metrics, raw, "l1i", "system.cpu.icache")
	cacheRates(metrics, raw, "l2", "system.l2")

	branches, haveBranches := first(
		"system.cpu.branchPred.condPredicted",
		"system.switch_cpus.branchPred.condPredicted",
	)
	mispredicts, haveMispredicts := first(
		"system.cpu.branchPred.condIncorrect",
		"system.switch_cpus.branchPred.condIncorrect",
	)
	if haveBranches {
		metrics["branches"] = branches
	}
	if haveMispredicts {
		metrics["branch_mispredicts"] = mispredicts
	}
	if haveBranches && haveMispredicts && branches > 0 {
		metrics["branch_mispred_rate"] = mispredicts / branches
	}

	if seconds, ok := get("sim_seconds"); ok && seconds > 0 {
		read, haveRead := get("system.mem_ctrls.bytesReadSys")
		written, haveWritten := get("system.mem_ctrls.bytesWrittenSys")
		if haveRead {
			metrics["memory_read_bw"] = read / seconds
		}
		if haveWritten {
			metrics["memory_write_bw"] = written / seconds
		}
		if haveRead && haveWritten {
			metrics["memory_total_bw"] = (read + written) / seconds
		}
	}
	if v, ok := get("system.mem_ctrls.readReqs"); ok {
		metrics["mem_read_reqs"] = v
	}
	if v, ok := get("system.mem_ctrls.writeReqs"); ok {
		metrics["mem_write_reqs"] = v
	}

	return metrics
}

// cacheRates derives hit/miss counts and the miss rate for one cache level.
func cacheRates(metrics, raw map[string]float64, label, prefix string) {
	hits, haveHits := raw[prefix+".overall_hits::total"]
	misses, haveMisses := raw[prefix+".overall_misses::total"]
	if haveHits {
		metrics[label+"_hits"] = hits
	}
	if haveMisses {
		metrics[label+"_misses"] = misses
	}
	if haveHits && haveMisses {
		if accesses := hits + misses; accesses > 0 {
			metrics[label+"_miss_rate"] = misses / accesses
		}
	}
}

// exitBanner matches gem5's termination line on captured stdout.
var exitBanner = regexp.MustCompile(`Exiting @ tick (\d+)`)

// SimoutExtractor scans the captured simulator stdout for the exit banner
// and contributes the final tick count.
type SimoutExtractor struct {
	// Filename overrides the artifact name; default "stdout.log".
	Filename string
}

// Name implements Extractor.
func (e *SimoutExtractor) Name() string { return "simout" }

// Extract implements Extractor.
func (e *SimoutExtractor) Extract(outputDir string) map[string]float64 {
	filename := e.Filename
	if filename == "" {
		filename = "stdout.log"
	}
	file, err := os.Open(filepath.Join(outputDir, filename))
	if err != nil {
		return map[string]float64{}
	}
	defer file.Close()

	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if m := exitBanner.FindStringSubmatch(scanner.Text()); m != nil {
			if tick, err := strconv.ParseFloat(m[1], 64); err == nil {
				metrics["exit_tick"] = tick
			}
		}
	}
	return metrics
}

// ParseConfigINI reads a gem5 config.ini dump into section → key → value
// form, for run artifact inspection.
func ParseConfigINI(path string) (map[string]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := make(map[string]map[string]string)
	var section string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			section = line[1 : len(line)-1]
			config[section] = make(map[string]string)
		case section != "" && strings.Contains(line, "="):
			key, value, _ := strings.Cut(line, "=")
			config[section][strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return config, scanner.Err()
}
