package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb"

	"github.com/pthm-cable/phagosim/config"
	"github.com/pthm-cable/phagosim/export"
	"github.com/pthm-cable/phagosim/sim"
	"github.com/pthm-cable/phagosim/telemetry"
)

// perfInterval is the number of steps between perf.csv rows.
const perfInterval = 50

// runner executes sweep runs and routes their output.
type runner struct {
	cfg             *config.Config
	om              *telemetry.OutputManager
	perf            *telemetry.PerfCollector
	logStats        bool
	stopWhenCleared bool
}

// runOne simulates a single run with the given fast responder count and
// seed, writing step records and snapshots as configured.
func (r *runner) runOne(id, fast int, seed int64) (telemetry.RunSummary, error) {
	space, err := sim.NewSpace(r.cfg, seed)
	if err != nil {
		return telemetry.RunSummary{}, err
	}
	s, err := sim.New(r.cfg, space, fast)
	if err != nil {
		return telemetry.RunSummary{}, err
	}
	s.SetPerf(r.perf)

	var movie *export.Movie
	out := r.cfg.Output
	if out.Movie && r.om != nil {
		movie, err = export.NewMovie(filepath.Join(r.om.Dir(), fmt.Sprintf("run_%03d.avi", id)), space.Mesh, out.MovieSize, out.MovieFPS)
		if err != nil {
			return telemetry.RunSummary{}, err
		}
	}

	observe := func(s *sim.Simulation) error {
		step := s.StepIndex()
		if out.StepStats {
			stats := s.Stats(id)
			if err := r.om.WriteStep(stats); err != nil {
				return err
			}
			if r.logStats {
				stats.LogStats()
			}
		}
		if err := r.snapshot(s, id); err != nil {
			return err
		}
		if movie != nil {
			if err := movie.AddFrame(s.Field().Values(), s.Agents()); err != nil {
				return err
			}
		}
		if r.perf != nil && step%perfInterval == 0 {
			ps := r.perf.Stats()
			if err := r.om.WritePerf(ps, id, step); err != nil {
				return err
			}
			slog.Debug("perf", "run", id, "step", step, "stats", ps)
		}
		return nil
	}

	if err := observe(s); err != nil {
		return telemetry.RunSummary{}, err
	}
	runErr := s.Run(r.stopWhenCleared, observe)
	if movie != nil {
		if err := movie.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return telemetry.RunSummary{}, fmt.Errorf("run %d: %w", id, runErr)
	}

	summary := s.Summary(id)
	if err := r.om.WriteSummary(summary); err != nil {
		return summary, err
	}
	slog.Info("run finished",
		"run", id,
		"seed", seed,
		"fast_responders", summary.FastResponders,
		"clearance_time", summary.ClearanceTime,
		"removed", s.Removed(),
		"steps", s.StepIndex(),
	)
	return summary, nil
}

// snapshot writes the VTK and GeoJSON files due at the current step.
func (r *runner) snapshot(s *sim.Simulation, id int) error {
	if r.om == nil {
		return nil
	}
	step := s.StepIndex()
	m := s.Space().Mesh
	name := func(kind, ext string) string {
		return filepath.Join(r.om.Dir(), fmt.Sprintf("run_%03d_%s_step_%05d.%s", id, kind, step, ext))
	}
	if n := r.cfg.Output.VTKInterval; n > 0 && step%n == 0 {
		if err := export.WriteFile(name("agents", "vtk"), func(w io.Writer) error {
			return export.WriteAgentsVTK(w, m, s.Agents())
		}); err != nil {
			return err
		}
		if err := export.WriteFile(name("field", "vtk"), func(w io.Writer) error {
			return export.WriteFieldVTK(w, m, "chemokines", s.Field().Values())
		}); err != nil {
			return err
		}
		if err := export.WriteFile(name("faces", "vtk"), func(w io.Writer) error {
			return export.WriteOccupancyVTK(w, m, s.Agents())
		}); err != nil {
			return err
		}
	}
	if n := r.cfg.Output.GeoJSONInterval; n > 0 && step%n == 0 {
		if err := export.WriteFile(name("agents", "geojson"), func(w io.Writer) error {
			return export.WriteAgentsGeoJSON(w, m, s.Agents(), step, s.Time())
		}); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and snapshots (empty = use config)")
	seed := flag.Int64("seed", 0, "Base RNG seed, run i uses seed+i (0 = use config)")
	runs := flag.Int("runs", 0, "Runs per fast responder count (0 = use config)")
	logStats := flag.Bool("log-stats", false, "Output step stats via slog")
	perf := flag.Bool("perf", false, "Record step phase timings to perf.csv")
	stopWhenCleared := flag.Bool("stop-when-cleared", true, "End a run as soon as every pathogen is removed")
	quiet := flag.Bool("quiet", false, "Hide the progress bar")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *runs > 0 {
		cfg.Sweep.Runs = *runs
	}
	baseSeed := cfg.Sweep.Seed
	if *seed != 0 {
		baseSeed = *seed
	}

	om, err := telemetry.NewOutputManager(cfg.Output.Dir)
	if err != nil {
		slog.Error("failed to create output", "error", err)
		os.Exit(1)
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	r := &runner{
		cfg:             cfg,
		om:              om,
		logStats:        *logStats,
		stopWhenCleared: *stopWhenCleared,
	}
	if *perf {
		r.perf = telemetry.NewPerfCollector(perfInterval)
	}

	fastCounts := cfg.Sweep.FastResponders
	if len(fastCounts) == 0 {
		fastCounts = []int{cfg.Population.FastResponders.Count}
	}
	total := len(fastCounts) * cfg.Sweep.Runs

	slog.Info("starting sweep",
		"seed", baseSeed,
		"runs", cfg.Sweep.Runs,
		"fast_responders", fastCounts,
		"steps", cfg.Derived.Steps,
		"output_dir", cfg.Output.Dir,
	)

	var bar *pb.ProgressBar
	if !*quiet {
		bar = pb.New(total)
		bar.Output = os.Stderr
		bar.SetWidth(80)
		bar.Start()
	}

	summaries := make([]telemetry.RunSummary, 0, total)
	id := 0
	for _, fast := range fastCounts {
		for i := 0; i < cfg.Sweep.Runs; i++ {
			summary, err := r.runOne(id, fast, baseSeed+int64(id))
			if err != nil {
				slog.Error("run failed", "run", id, "error", err)
				os.Exit(1)
			}
			summaries = append(summaries, summary)
			id++
			if bar != nil {
				bar.Increment()
			}
		}
	}
	if bar != nil {
		bar.Finish()
	}

	groups := telemetry.GroupClearance(summaries)
	if err := om.WriteClearanceGroups(groups); err != nil {
		slog.Error("failed to write clearance groups", "error", err)
	}
	for _, g := range groups {
		slog.Info("clearance",
			"number_best", g.FastResponders,
			"runs", g.Runs,
			"cleared", g.Cleared,
			"mean", g.Mean,
			"std", g.StdDev,
			"median", g.Median,
		)
	}
}
