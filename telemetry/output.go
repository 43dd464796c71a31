package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/phagosim/config"
)

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir          string
	stepsFile    *os.File
	clearingFile *os.File
	perfFile     *os.File

	// Track if headers have been written
	stepsHeaderWritten    bool
	clearingHeaderWritten bool
	perfHeaderWritten     bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	// Create output directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		name string
		dst  **os.File
	}{
		{"steps.csv", &om.stepsFile},
		{"clearance_times.csv", &om.clearingFile},
		{"perf.csv", &om.perfFile},
	}
	for _, f := range files {
		fh, err := os.Create(filepath.Join(dir, f.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", f.name, err)
		}
		*f.dst = fh
	}
	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	configPath := filepath.Join(om.dir, "config.yaml")
	return cfg.WriteYAML(configPath)
}

// writeRecords appends records to f, writing the header on first use.
func writeRecords(f *os.File, headerWritten *bool, records any) error {
	if !*headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, f)
}

// WriteStep appends a step record to steps.csv.
func (om *OutputManager) WriteStep(stats StepStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.stepsFile, &om.stepsHeaderWritten, []StepStats{stats}); err != nil {
		return fmt.Errorf("writing step stats: %w", err)
	}
	return nil
}

// WriteSummary appends a run record to clearance_times.csv.
func (om *OutputManager) WriteSummary(s RunSummary) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.clearingFile, &om.clearingHeaderWritten, []RunSummary{s}); err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	return nil
}

// WritePerf appends a performance record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, run, step int) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.perfFile, &om.perfHeaderWritten, []PerfStatsCSV{stats.ToCSV(run, step)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteClearanceGroups writes the grouped clearance statistics to
// clearance_groups.csv, replacing any previous file.
func (om *OutputManager) WriteClearanceGroups(groups []ClearanceGroup) error {
	if om == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(om.dir, "clearance_groups.csv"))
	if err != nil {
		return fmt.Errorf("creating clearance_groups.csv: %w", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&groups, f); err != nil {
		return fmt.Errorf("writing clearance groups: %w", err)
	}
	return nil
}

// ReadSummaries loads run records from a clearance_times.csv file.
func ReadSummaries(path string) ([]RunSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening summaries: %w", err)
	}
	defer f.Close()

	var runs []RunSummary
	if err := gocsv.UnmarshalFile(f, &runs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return runs, nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.stepsFile, om.clearingFile, om.perfFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
