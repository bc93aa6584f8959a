package sweep

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
)

// Sentinel errors for the sweep error taxonomy. Per-job failures never
// surface as errors; they are carried as JobResult statuses instead.
var (
	// ErrInvalidSpace marks a malformed configuration space. Fatal at
	// enumeration time.
	ErrInvalidSpace = errors.New("invalid configuration space")

	// ErrInvalidBenchmarkSpec marks a malformed benchmark declaration.
	// Fatal for that benchmark, skippable for the rest of the suite.
	ErrInvalidBenchmarkSpec = errors.New("invalid benchmark spec")

	// ErrUnknownStrategy marks an unrecognized sampling strategy.
	ErrUnknownStrategy = errors.New("unknown sampling strategy")
)

// Strategy selects how configurations are drawn from the space.
type Strategy string

const (
	// StrategyGrid yields the full cross product in a stable order.
	StrategyGrid Strategy = "grid"
	// StrategyRandom draws a seeded sample without replacement.
	StrategyRandom Strategy = "random"
)

// reservedSpaceKeys are top-level config_space.json keys that are not
// parameter categories.
var reservedSpaceKeys = map[string]bool{
	"description":       true,
	"version":           true,
	"sampling_strategy": true,
	"presets":           true,
}

// Preset names a curated subset of the parameter space.
type Preset struct {
	Description string           `json:"description"`
	Overrides   map[string][]any `json:"overrides"`
}

// Space is the declared simulation parameter space: every swept parameter
// (named "category.param") with its ordered candidate values, plus named
// presets that narrow the candidate lists.
type Space struct {
	Params  map[string][]any
	Presets map[string]Preset
}

// LoadSpace reads a config_space.json file. Categories hold parameter
// objects; only entries carrying a "values" list are swept parameters. A
// declared parameter with zero candidate values is an error.
func LoadSpace(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config space: %w", err)
	}
	return ParseSpace(data)
}

// ParseSpace decodes the config_space.json format from raw bytes.
func ParseSpace(data []byte) (*Space, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}

	space := &Space{
		Params:  make(map[string][]any),
		Presets: make(map[string]Preset),
	}

	if raw, ok := top["presets"]; ok {
		if err := json.Unmarshal(raw, &space.Presets); err != nil {
			return nil, fmt.Errorf("%w: presets: %v", ErrInvalidSpace, err)
		}
	}

	for category, raw := range top {
		if reservedSpaceKeys[category] {
			continue
		}
		var params map[string]json.RawMessage
		if err := json.Unmarshal(raw, &params); err != nil {
			// Scalar top-level keys (free-form annotations) are ignored.
			continue
		}
		for name, rawParam := range params {
			var decl struct {
				Values []any `json:"values"`
			}
			if err := json.Unmarshal(rawParam, &decl); err != nil {
				continue
			}
			var probe map[string]json.RawMessage
			if json.Unmarshal(rawParam, &probe) != nil {
				continue
			}
			if _, declared := probe["values"]; !declared {
				continue
			}
			full := category + "." + name
			if len(decl.Values) == 0 {
				return nil, fmt.Errorf("%w: parameter %q has no candidate values", ErrInvalidSpace, full)
			}
			space.Params[full] = decl.Values
		}
	}

	return space, nil
}

// parameterSpace returns the candidate lists, with the named preset's
// overrides applied. An empty preset name means the full space.
func (s *Space) parameterSpace(preset string) (map[string][]any, error) {
	params := make(map[string][]any, len(s.Params))
	for name, values := range s.Params {
		params[name] = values
	}
	if preset != "" {
		p, ok := s.Presets[preset]
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidSpace, preset)
		}
		for name, values := range p.Overrides {
			if len(values) == 0 {
				return nil, fmt.Errorf("%w: preset %q overrides %q with no values", ErrInvalidSpace, preset, name)
			}
			params[name] = values
		}
	}
	for name, values := range params {
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: parameter %q has no candidate values", ErrInvalidSpace, name)
		}
	}
	return params, nil
}

// EnumerateOptions tunes Enumerate.
type EnumerateOptions struct {
	Preset  string // named preset to apply ("" = none)
	Samples int    // sample count for StrategyRandom
	Seed    int64  // RNG seed for StrategyRandom
}

// Enumerate expands the space into a finite, deterministic, ordered sequence
// of configurations. Grid order iterates parameters by sorted name with the
// rightmost parameter varying fastest, so two runs over the same space file
// always agree. Random sampling is seeded and draws without replacement.
func (s *Space) Enumerate(strategy Strategy, opts EnumerateOptions) ([]Configuration, error) {
	params, err := s.parameterSpace(opts.Preset)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case StrategyGrid:
		return gridConfigurations(params), nil
	case StrategyRandom:
		if opts.Samples < 1 {
			return nil, fmt.Errorf("%w: random strategy needs a positive sample count", ErrInvalidSpace)
		}
		grid := gridConfigurations(params)
		if opts.Samples > len(grid) {
			return nil, fmt.Errorf("%w: %d samples requested from a space of %d configurations",
				ErrInvalidSpace, opts.Samples, len(grid))
		}
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(grid), func(i, j int) { grid[i], grid[j] = grid[j], grid[i] })
		return grid[:opts.Samples], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// GridSize returns the cross-product count for the space under a preset.
func (s *Space) GridSize(preset string) (int, error) {
	params, err := s.parameterSpace(preset)
	if err != nil {
		return 0, err
	}
	total := 1
	for _, values := range params {
		total *= len(values)
	}
	return total, nil
}

func gridConfigurations(params map[string][]any) []Configuration {
	names := sortedKeys(params)
	total := 1
	for _, name := range names {
		total *= len(params[name])
	}

	configs := make([]Configuration, 0, total)
	indices := make([]int, len(names))
	for {
		assignment := make(map[string]any, len(names))
		for i, name := range names {
			assignment[name] = params[name][indices[i]]
		}
		configs = append(configs, Configuration{params: assignment})

		// Odometer increment, rightmost digit fastest.
		pos := len(names) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(params[names[pos]]) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return configs
}

// Configuration is one concrete assignment of every swept parameter to a
// single value. It is immutable once enumerated.
type Configuration struct {
	params map[string]any
}

// NewConfiguration copies the given assignment into a Configuration.
func NewConfiguration(params map[string]any) Configuration {
	copied := make(map[string]any, len(params))
	for name, value := range params {
		copied[name] = value
	}
	return Configuration{params: copied}
}

// Names returns the parameter names in sorted order.
func (c Configuration) Names() []string {
	return sortedKeys(c.params)
}

// Value returns the assigned value for a parameter.
func (c Configuration) Value(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Params returns a copy of the full assignment.
func (c Configuration) Params() map[string]any {
	copied := make(map[string]any, len(c.params))
	for name, value := range c.params {
		copied[name] = value
	}
	return copied
}

// MarshalJSON renders the assignment as a flat object.
func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.params)
}

// UnmarshalJSON restores an assignment from its flat object form.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.params)
}

// Fingerprint is a deterministic 8-hex-digit hash of the sorted key/value
// assignment. encoding/json sorts map keys, so the canonical form is stable.
func (c Configuration) Fingerprint() string {
	canonical, err := json.Marshal(c.params)
	if err != nil {
		// Only non-JSON-encodable values could land here, and the space
		// loader admits JSON values exclusively.
		panic(fmt.Sprintf("configuration not encodable: %v", err))
	}
	sum := md5.Sum(canonical)
	return fmt.Sprintf("%x", sum)[:8]
}

// ID is the run-log identifier for the configuration.
func (c Configuration) ID() string {
	return "config_" + c.Fingerprint()
}

// gemArgMapping maps parameter names to gem5 se.py flags.
var gemArgMapping = map[string]string{
	"cpu.cpu_type":            "--cpu-type",
	"cpu.cpu_clock":           "--cpu-clock",
	"memory.mem_size":         "--mem-size",
	"memory.mem_type":         "--mem-type",
	"cache_l1d.size":          "--l1d_size",
	"cache_l1d.assoc":         "--l1d_assoc",
	"cache_l1i.size":          "--l1i_size",
	"cache_l1i.assoc":         "--l1i_assoc",
	"cache_l2.size":           "--l2_size",
	"cache_l2.assoc":          "--l2_assoc",
	"cache_l3.size":           "--l3_size",
	"cache_l3.assoc":          "--l3_assoc",
	"system.sys_clock":        "--sys-clock",
	"simulation.fast_forward": "--fast-forward",
	"simulation.max_insts":    "--maxinsts",
}

// GemArgs converts the assignment to gem5 command-line arguments. Cache
// enable toggles expand to bare flags; everything else maps to a flag/value
// pair. Parameters outside the mapping are ignored.
func (c Configuration) GemArgs() []string {
	var args []string
	for _, name := range c.Names() {
		value := c.params[name]
		if flag, ok := gemArgMapping[name]; ok {
			args = append(args, flag, formatParamValue(value))
			continue
		}
		switch name {
		case "cache_l2.enabled":
			if truthy(value) {
				args = append(args, "--caches", "--l2cache")
			}
		case "cache_l3.enabled":
			if truthy(value) {
				args = append(args, "--l3cache")
			}
		}
	}
	return args
}

// formatParamValue renders a JSON-decoded parameter value the way gem5
// expects it on the command line. Whole floats print as integers because
// JSON has no integer type.
func formatParamValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
