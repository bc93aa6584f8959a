package sweep

// BenchmarkSpec declares how one benchmark is launched inside the simulator:
// the guest binary (relative to the CPU2006 root), its argument template,
// and an optional stdin redirection source.
type BenchmarkSpec struct {
	Name       string
	Binary     string   // path under the CPU2006 root; default "<name>/<name>"
	Options    []string // argument template; path-like tokens resolve per run
	Stdin      string   // optional stdin source under the CPU2006 root
	WorkingDir string   // optional guest working dir; default is the binary's dir
}

// BenchmarkOverride is the config.yaml shape for amending a benchmark
// command. Zero-valued fields keep the built-in default.
type BenchmarkOverride struct {
	Binary     string   `yaml:"binary"`
	Options    []string `yaml:"options"`
	Stdin      string   `yaml:"stdin"`
	WorkingDir string   `yaml:"working_dir"`
}

// defaultCommands carries the SPEC CPU2006 reference workload command lines.
// config.yaml can override any entry or add new ones.
var defaultCommands = map[string]BenchmarkSpec{
	"astar":      {Binary: "astar/astar", Options: []string{"rivers.cfg", "rivers.bin"}},
	"bwaves":     {Binary: "bwaves/bwaves", Options: []string{"bwaves.in"}},
	"bzip2":      {Binary: "bzip2/bzip2", Options: []string{"input.source", "280"}},
	"calculix":   {Binary: "calculix/calculix", Options: []string{"-i", "hyperviscoplastic"}},
	"gamess":     {Binary: "gamess/gamess", Stdin: "gamess/cytosine.2.config"},
	"gems":       {Binary: "gems/gems", Stdin: "gems/ref.in"},
	"gobmk":      {Binary: "gobmk/gobmk", Options: []string{"--quiet", "--mode", "gtp"}, Stdin: "gobmk/13x13.tst"},
	"gromacs":    {Binary: "gromacs/gromacs", Options: []string{"-silent", "-deffnm", "gromacs"}},
	"h264":       {Binary: "h264/h264", Options: []string{"-d", "foreman_ref_encoder_baseline.cfg"}},
	"hmmer":      {Binary: "hmmer/hmmer", Options: []string{"nph3.hmm", "swiss41"}},
	"lbm":        {Binary: "lbm/lbm", Options: []string{"3000", "reference.dat", "0", "0", "100_100_130_ldc.of"}},
	"leslie3d":   {Binary: "leslie3d/leslie3d", Options: []string{"leslie3d.in"}},
	"libquantum": {Binary: "libquantum/libquantum", Options: []string{"1397", "8"}},
	"mcf":        {Binary: "mcf/mcf", Options: []string{"inp.in"}},
	"milc":       {Binary: "milc/milc", Stdin: "milc/su3imp.in"},
	"namd":       {Binary: "namd/namd", Options: []string{"--input", "namd.input", "--iterations", "38", "--output", "namd.out"}},
	"omnetpp":    {Binary: "omnetpp/omnetpp", Options: []string{"omnetpp.ini"}},
	"povray":     {Binary: "povray/povray", Options: []string{"SPEC-benchmark-ref.ini"}},
	"sjeng":      {Binary: "sjeng/sjeng", Options: []string{"ref.txt"}},
	"soplex":     {Binary: "soplex/soplex", Options: []string{"-s1", "-e", "-m45000", "pds-50.mps"}},
	"tonto":      {Binary: "tonto/tonto", Stdin: "tonto/stdin"},
	"xalanc":     {Binary: "xalanc/xalanc", Options: []string{"t5.xml", "xalanc.xsl"}},
	"zeusmp":     {Binary: "zeusmp/zeusmp"},
}

// BenchmarkCommands merges config overrides over the built-in command table
// and returns the effective spec per benchmark name.
func BenchmarkCommands(overrides map[string]BenchmarkOverride) map[string]BenchmarkSpec {
	commands := make(map[string]BenchmarkSpec, len(defaultCommands))
	for name, spec := range defaultCommands {
		spec.Name = name
		commands[name] = spec
	}
	for name, custom := range overrides {
		spec := commands[name]
		spec.Name = name
		if custom.Binary != "" {
			spec.Binary = custom.Binary
		}
		if custom.Options != nil {
			spec.Options = custom.Options
		}
		if custom.Stdin != "" {
			spec.Stdin = custom.Stdin
		}
		if custom.WorkingDir != "" {
			spec.WorkingDir = custom.WorkingDir
		}
		commands[name] = spec
	}
	return commands
}

// BenchmarkNames lists all known benchmark names in sorted order.
func BenchmarkNames(commands map[string]BenchmarkSpec) []string {
	return sortedKeys(commands)
}
