package sim

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/collision"
	"github.com/pthm-cable/phagosim/config"
	"github.com/pthm-cable/phagosim/field"
	"github.com/pthm-cable/phagosim/mesh"
	"github.com/pthm-cable/phagosim/telemetry"
)

// NotCleared is the clearance time reported while pathogens remain.
const NotCleared = -1.0

// Simulation is one run: a population of agents on a surface coupled to a
// chemoattractant field.
type Simulation struct {
	cfg   *config.Config
	space *Space

	agents     []*agent.Agent
	registry   *Registry
	collisions *collision.Manager
	field      *field.Field
	perf       *telemetry.PerfCollector

	sourceIntensity float64
	initial         Census
	step            int
	time            float64
	clearance       float64
	removedTotal    int
}

// New populates a run on space. fastResponders overrides the configured
// fast responder count when non-negative.
//
// Responders are placed first, then fast responders, then pathogens, each at
// the centroid of a random face. An initial collision pass separates
// overlapping cells before the field is set up.
func New(cfg *config.Config, space *Space, fastResponders int) (*Simulation, error) {
	oracle, err := space.Oracle(cfg.Collision.LogMap)
	if err != nil {
		return nil, err
	}
	mgr := collision.NewManager(space.Env, space.Mesh.NumFaces(), oracle)
	mgr.RemovalProbability = cfg.Collision.RemovalProbability

	s := &Simulation{
		cfg:             cfg,
		space:           space,
		registry:        NewRegistry(),
		collisions:      mgr,
		field:           field.New(space.FE),
		sourceIntensity: cfg.Field.SourceIntensity,
		clearance:       NotCleared,
	}

	pop := cfg.Population
	fast := pop.FastResponders
	if fastResponders >= 0 {
		fast.Count = fastResponders
	}
	nextID := 1
	for _, group := range []struct {
		typ agent.Type
		c   config.CellConfig
	}{
		{agent.Responder, pop.Responders},
		{agent.FastResponder, fast},
		{agent.Pathogen, pop.Pathogens},
	} {
		for i := 0; i < group.c.Count; i++ {
			a, err := s.spawn(nextID, group.typ, group.c, i)
			if err != nil {
				return nil, err
			}
			nextID++
			s.agents = append(s.agents, a)
			s.registry.Add(a)
		}
	}
	s.initial = s.registry.Census()

	if err := s.resolveCollisions(); err != nil {
		return nil, fmt.Errorf("initial collision pass: %w", err)
	}

	if err := s.field.Setup(cfg.Time.DT, cfg.Field.Diffusion, cfg.Field.Decay); err != nil {
		return nil, err
	}
	s.field.SetSolver(cfg.Field.SolverRelTol, cfg.Field.SolverMaxIter)
	s.field.ComputeSources(s.agents, s.sourceIntensity)

	if s.initial.Pathogens > 0 && s.Census().Pathogens == 0 {
		s.clearance = 0
	}
	return s, nil
}

// spawn creates the i-th agent of a population, at its configured position
// when one is given and on a random face centroid otherwise.
func (s *Simulation) spawn(id int, typ agent.Type, c config.CellConfig, i int) (*agent.Agent, error) {
	k := s.cfg.Kinetics
	p := agent.Params{
		Radius: c.Radius,
		Kinetics: agent.Kinetics{
			KBinding:       k.KBinding,
			KInternalized:  k.KInternalized,
			KRecycled:      k.KRecycled,
			Sensitivity:    k.Sensitivity,
			TotalReceptors: k.TotalReceptors,
		},
	}
	var pos mesh.SurfacePoint
	if i < len(c.Positions) {
		var ok bool
		if pos, ok = s.space.Place(c.Positions[i]); !ok {
			return nil, fmt.Errorf("spawning %s: position %v is not on the mesh", typ, c.Positions[i])
		}
	} else {
		pos = s.space.RandomCentroid()
	}
	if !typ.Hostile() {
		p.PersistencePeriod = c.Persistence
		// random phase so responders do not turn in lockstep
		p.InitialTimer = c.Persistence * s.space.Rand().Float64()
	}
	a, err := agent.New(s.space.Env, id, typ, pos, p)
	if err != nil {
		return nil, fmt.Errorf("spawning %s: %w", typ, err)
	}
	a.SetVelocity(r2.Vec{X: c.Speed})
	return a, nil
}

// resolveCollisions runs one detection and resolution pass and drops the
// removed agents from the registry.
func (s *Simulation) resolveCollisions() error {
	if err := s.collisions.CheckCollisions(s.agents); err != nil {
		return err
	}
	survivors, removed := s.collisions.FixCollisions(s.agents)
	if !removed {
		return nil
	}
	s.agents = survivors
	n := s.registry.Sync(survivors)
	s.removedTotal += n
	slog.Debug("agents removed", "step", s.step, "removed", s.collisions.Removed())
	return nil
}

// Step advances the run by one time step: shuffle, move, resolve contacts,
// update sources when the population changed, bind receptors and step the
// field.
func (s *Simulation) Step() error {
	s.perf.StartTick()
	defer s.perf.EndTick()
	return s.advance()
}

func (s *Simulation) advance() error {
	dt := s.cfg.Time.DT
	rng := s.space.Rand()

	s.perf.StartPhase(telemetry.PhaseMotion)
	rng.Shuffle(len(s.agents), func(i, j int) {
		s.agents[i], s.agents[j] = s.agents[j], s.agents[i]
	})

	for _, a := range s.agents {
		if a.Type().Hostile() {
			continue
		}
		if err := a.Move(dt, true); err != nil {
			if s.cfg.Motion.AbortOnGuard || !errors.Is(err, agent.ErrMoveGuard) {
				return fmt.Errorf("step %d: moving agent %d: %w", s.step, a.ID(), err)
			}
			slog.Warn("move guard hit", "step", s.step, "agent", a.ID())
		}
		if a.PersistenceTimer(dt) {
			a.ComputeNewBPRWVelocity()
		}
	}

	s.perf.StartPhase(telemetry.PhaseCollision)
	before := len(s.agents)
	if err := s.resolveCollisions(); err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}
	if len(s.agents) != before {
		s.perf.StartPhase(telemetry.PhaseSources)
		s.field.ComputeSources(s.agents, s.sourceIntensity)
	}

	s.perf.StartPhase(telemetry.PhaseSinks)
	s.field.ComputeSinksAndBindReceptors(dt, s.agents)
	s.perf.StartPhase(telemetry.PhaseSolve)
	if err := s.field.Step(); err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}

	s.step++
	s.time = float64(s.step) * dt
	if s.clearance == NotCleared && s.initial.Pathogens > 0 && s.Census().Pathogens == 0 {
		s.clearance = s.time
		slog.Info("pathogens cleared", "step", s.step, "time", s.time)
	}
	return nil
}

// Run steps until the horizon, calling observe after every step. It stops
// early once pathogens are cleared when stopWhenCleared is set.
func (s *Simulation) Run(stopWhenCleared bool, observe func(*Simulation) error) error {
	for !s.Done() {
		s.perf.StartTick()
		err := s.advance()
		if err == nil && observe != nil {
			s.perf.StartPhase(telemetry.PhaseOutput)
			err = observe(s)
		}
		s.perf.EndTick()
		if err != nil {
			return err
		}
		if stopWhenCleared && s.Cleared() {
			return nil
		}
	}
	return nil
}

// Reconfigure changes the field coefficients and source intensity of a
// running simulation, keeping the current concentration.
func (s *Simulation) Reconfigure(diffusion, decay, sourceIntensity float64) error {
	if err := s.field.SetCoefficients(s.cfg.Time.DT, diffusion, decay); err != nil {
		return err
	}
	s.sourceIntensity = sourceIntensity
	s.field.ComputeSources(s.agents, sourceIntensity)
	return nil
}

// Stats summarises the current step for the step table.
func (s *Simulation) Stats(run int) telemetry.StepStats {
	c := s.Census()
	var free []float64
	for _, a := range s.agents {
		if !a.Type().Hostile() {
			free = append(free, a.FreeReceptors())
		}
	}
	mean, p10, p90 := telemetry.Distribution(free)
	return telemetry.StepStats{
		Run:               run,
		Step:              s.step,
		Time:              s.time,
		Pathogens:         c.Pathogens,
		Responders:        c.Responders,
		FastResponders:    c.FastResponders,
		Removed:           s.removedTotal,
		FieldTotal:        s.field.Total(),
		FieldMax:          s.field.Max(),
		SolveIters:        s.field.LastSolve().Iterations,
		FreeReceptorsMean: mean,
		FreeReceptorsP10:  p10,
		FreeReceptorsP90:  p90,
	}
}

// Summary returns the end-of-run record.
func (s *Simulation) Summary(run int) telemetry.RunSummary {
	return telemetry.RunSummary{
		Run:            run,
		FastResponders: s.initial.FastResponders,
		Responders:     s.initial.Responders,
		Pathogens:      s.initial.Pathogens,
		ClearanceTime:  s.clearance,
	}
}

// SetPerf attaches a collector timing the phases of every step.
func (s *Simulation) SetPerf(p *telemetry.PerfCollector) { s.perf = p }

// Done reports whether the horizon has been reached.
func (s *Simulation) Done() bool { return s.step >= s.cfg.Derived.Steps }

// Cleared reports whether every pathogen has been removed.
func (s *Simulation) Cleared() bool { return s.clearance != NotCleared }

// ClearanceTime returns the time the last pathogen was removed, or
// NotCleared.
func (s *Simulation) ClearanceTime() float64 { return s.clearance }

// Census counts the live agents by type.
func (s *Simulation) Census() Census { return s.registry.Census() }

// InitialCensus returns the population before the initial collision pass.
func (s *Simulation) InitialCensus() Census { return s.initial }

func (s *Simulation) Agents() []*agent.Agent { return s.agents }
func (s *Simulation) Field() *field.Field    { return s.field }
func (s *Simulation) Space() *Space          { return s.space }
func (s *Simulation) StepIndex() int         { return s.step }
func (s *Simulation) Time() float64          { return s.time }
func (s *Simulation) Removed() int           { return s.removedTotal }
