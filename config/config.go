// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// MaxSinkStep bounds dt*k_binding*total_receptors/(pi*r^2) for every binding
// population. The sink is applied explicitly and consistent P1 mass blocks
// weigh up to four times their diagonal, so larger steps overshoot.
const MaxSinkStep = 0.25

// Config holds all simulation configuration parameters.
type Config struct {
	Mesh       MeshConfig       `yaml:"mesh"`
	Domain     DomainConfig     `yaml:"domain"`
	Time       TimeConfig       `yaml:"time"`
	Field      FieldConfig      `yaml:"field"`
	Kinetics   KineticsConfig   `yaml:"kinetics"`
	Population PopulationConfig `yaml:"population"`
	Collision  CollisionConfig  `yaml:"collision"`
	Motion     MotionConfig     `yaml:"motion"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Output     OutputConfig     `yaml:"output"`
	Screen     ScreenConfig     `yaml:"screen"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// MeshConfig selects and sizes the generated surface.
type MeshConfig struct {
	Kind         string  `yaml:"kind"` // "plane" or "sphere"
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	Nx           int     `yaml:"nx"`
	Ny           int     `yaml:"ny"`
	Radius       float64 `yaml:"radius"`       // sphere only
	Subdivisions int     `yaml:"subdivisions"` // sphere only
}

// DomainConfig holds the reflective bounds in global x/y. Empty bounds
// disable reflection, e.g. on closed surfaces.
type DomainConfig struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// TimeConfig holds the step size and horizon, in minutes.
type TimeConfig struct {
	DT      float64 `yaml:"dt"`
	Horizon float64 `yaml:"horizon"`
}

// FieldConfig holds reaction-diffusion parameters.
type FieldConfig struct {
	Diffusion       float64 `yaml:"diffusion"`
	Decay           float64 `yaml:"decay"`
	SourceIntensity float64 `yaml:"source_intensity"`
	SolverRelTol    float64 `yaml:"solver_rel_tol"`
	SolverMaxIter   int     `yaml:"solver_max_iter"`
}

// KineticsConfig holds receptor-ligand rate constants shared by all agents.
type KineticsConfig struct {
	KBinding       float64 `yaml:"k_binding"`
	KInternalized  float64 `yaml:"k_internalized"`
	KRecycled      float64 `yaml:"k_recycled"`
	Sensitivity    float64 `yaml:"sensitivity"`
	TotalReceptors float64 `yaml:"total_receptors"`
}

// CellConfig describes one agent population.
type CellConfig struct {
	Count       int     `yaml:"count"`
	Radius      float64 `yaml:"radius"`
	Speed       float64 `yaml:"speed"`
	Persistence float64 `yaml:"persistence"` // 0 = never resample

	// Positions pins the first agents of the population to these points
	// ([x, y] or [x, y, z]); the rest start on random face centroids.
	Positions [][]float64 `yaml:"positions,omitempty"`
}

// PopulationConfig holds the initial populations.
type PopulationConfig struct {
	Pathogens      CellConfig `yaml:"pathogens"`
	Responders     CellConfig `yaml:"responders"`
	FastResponders CellConfig `yaml:"fast_responders"`
}

// CollisionConfig holds contact handling parameters.
type CollisionConfig struct {
	RemovalProbability float64 `yaml:"removal_probability"`
	LogMap             string  `yaml:"log_map"` // "heat" or "chordal"
}

// MotionConfig holds motion guard handling.
type MotionConfig struct {
	AbortOnGuard bool `yaml:"abort_on_guard"` // fail the run when a move hits the bounce cap
}

// SweepConfig holds the headless parameter sweep.
type SweepConfig struct {
	Runs           int   `yaml:"runs"`
	FastResponders []int `yaml:"fast_responders"` // fast responder counts to sweep
	Seed           int64 `yaml:"seed"`
}

// OutputConfig holds export settings. Intervals are in steps, 0 disables.
type OutputConfig struct {
	Dir             string `yaml:"dir"`
	StepStats       bool   `yaml:"step_stats"`
	VTKInterval     int    `yaml:"vtk_interval"`
	GeoJSONInterval int    `yaml:"geojson_interval"`
	Movie           bool   `yaml:"movie"`
	MovieSize       int    `yaml:"movie_size"`
	MovieFPS        int    `yaml:"movie_fps"`
}

// ScreenConfig holds viewer window settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	Steps int // number of steps in the horizon
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate reports every setting that would make a run meaningless.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Mesh.Kind {
	case "plane":
		check(c.Mesh.Width > 0 && c.Mesh.Height > 0, "mesh: plane size %vx%v must be positive", c.Mesh.Width, c.Mesh.Height)
		check(c.Mesh.Nx > 0 && c.Mesh.Ny > 0, "mesh: resolution %dx%d must be positive", c.Mesh.Nx, c.Mesh.Ny)
	case "sphere":
		check(c.Mesh.Radius > 0, "mesh: sphere radius %v must be positive", c.Mesh.Radius)
		check(c.Mesh.Subdivisions >= 0, "mesh: negative subdivisions %d", c.Mesh.Subdivisions)
	default:
		errs = append(errs, fmt.Errorf("mesh: unknown kind %q", c.Mesh.Kind))
	}

	check(c.Time.DT > 0, "time: dt %v must be positive", c.Time.DT)
	check(c.Time.Horizon > 0, "time: horizon %v must be positive", c.Time.Horizon)
	check(c.Field.Diffusion >= 0 && c.Field.Decay >= 0, "field: negative coefficients")
	check(c.Field.SolverRelTol > 0 && c.Field.SolverMaxIter > 0, "field: solver settings must be positive")

	for name, p := range map[string]CellConfig{
		"pathogens":       c.Population.Pathogens,
		"responders":      c.Population.Responders,
		"fast_responders": c.Population.FastResponders,
	} {
		check(p.Count >= 0, "population.%s: negative count", name)
		check(p.Radius > 0, "population.%s: radius %v must be positive", name, p.Radius)
		check(p.Speed >= 0, "population.%s: negative speed", name)
		check(len(p.Positions) <= p.Count,
			"population.%s: %d positions for %d agents", name, len(p.Positions), p.Count)
		for i, pos := range p.Positions {
			check(len(pos) == 2 || len(pos) == 3, "population.%s: position %d needs 2 or 3 coordinates", name, i)
		}
	}

	for name, p := range map[string]CellConfig{
		"responders":      c.Population.Responders,
		"fast_responders": c.Population.FastResponders,
	} {
		if p.Radius <= 0 {
			continue
		}
		step := c.SinkStep(p.Radius)
		check(step < MaxSinkStep,
			"kinetics: dt*k_binding*total_receptors/(pi*r^2) = %.3g for population.%s exceeds %v",
			step, name, MaxSinkStep)
	}

	pr := c.Collision.RemovalProbability
	check(pr >= 0 && pr <= 1, "collision: removal probability %v outside [0,1]", pr)
	check(c.Collision.LogMap == "heat" || c.Collision.LogMap == "chordal", "collision: unknown log map %q", c.Collision.LogMap)
	check(c.Sweep.Runs > 0, "sweep: runs must be positive")

	return errors.Join(errs...)
}

// SinkStep returns dt*alpha at full free receptors for an agent of radius r,
// where alpha = k_binding*total_receptors/(pi*r^2) is the sink rate.
func (c *Config) SinkStep(r float64) float64 {
	return c.Time.DT * c.Kinetics.KBinding * c.Kinetics.TotalReceptors / (math.Pi * r * r)
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	if c.Time.DT > 0 {
		c.Derived.Steps = int(math.Round(c.Time.Horizon / c.Time.DT))
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
