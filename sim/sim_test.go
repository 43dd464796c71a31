package sim

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/config"
	"github.com/pthm-cable/phagosim/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	cfg.Mesh.Nx, cfg.Mesh.Ny = 10, 10
	cfg.Collision.LogMap = "chordal"
	cfg.Time.Horizon = 1
	cfg.Field.SolverMaxIter = 200
	cfg.Derived.Steps = int(math.Round(cfg.Time.Horizon / cfg.Time.DT))
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newSim(t *testing.T, cfg *config.Config, seed int64, fast int) *Simulation {
	t.Helper()
	space, err := NewSpace(cfg, seed)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	s, err := New(cfg, space, fast)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewPopulation(t *testing.T) {
	cfg := testConfig(t)
	s := newSim(t, cfg, 1, 3)

	want := Census{Pathogens: 10, Responders: 10, FastResponders: 3}
	if got := s.InitialCensus(); got != want {
		t.Errorf("initial census = %+v, want %+v", got, want)
	}
	if s.Census().Total() != len(s.Agents()) {
		t.Errorf("registry holds %d, list holds %d", s.Census().Total(), len(s.Agents()))
	}

	ids := map[int]bool{}
	for _, a := range s.Agents() {
		if a.ID() == 0 || ids[a.ID()] {
			t.Errorf("bad or duplicate id %d", a.ID())
		}
		ids[a.ID()] = true
		switch a.Type() {
		case agent.Pathogen:
			if a.Speed() != 0 {
				t.Errorf("pathogen %d moves at %v", a.ID(), a.Speed())
			}
		case agent.FastResponder:
			if a.Speed() != cfg.Population.FastResponders.Speed {
				t.Errorf("fast responder speed %v", a.Speed())
			}
		}
	}
	if s.ClearanceTime() != NotCleared && s.Census().Pathogens > 0 {
		t.Errorf("cleared with pathogens alive")
	}
}

func TestStepAdvances(t *testing.T) {
	cfg := testConfig(t)
	s := newSim(t, cfg, 2, -1)

	steps := 0
	err := s.Run(false, func(s *Simulation) error {
		steps++
		for _, a := range s.Agents() {
			x := a.Position()
			if x.X < -1e-9 || x.X > 10+1e-9 || x.Y < -1e-9 || x.Y > 10+1e-9 {
				t.Errorf("step %d: agent %d left the domain at %v", s.StepIndex(), a.ID(), x)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if steps != cfg.Derived.Steps || !s.Done() {
		t.Errorf("ran %d steps, want %d", steps, cfg.Derived.Steps)
	}
	if math.Abs(s.Time()-cfg.Time.Horizon) > 1e-9 {
		t.Errorf("time = %v, want %v", s.Time(), cfg.Time.Horizon)
	}
	if s.Census().Pathogens > 0 && !(s.Field().Total() > 0) {
		t.Errorf("pathogens emitted nothing: total %v", s.Field().Total())
	}

	st := s.Stats(3)
	if st.Run != 3 || st.Step != cfg.Derived.Steps || st.Pathogens != s.Census().Pathogens {
		t.Errorf("stats = %+v", st)
	}
	if !(st.FreeReceptorsMean > 0) || st.FreeReceptorsMean > cfg.Kinetics.TotalReceptors {
		t.Errorf("free receptor mean = %v", st.FreeReceptorsMean)
	}
	sum := s.Summary(3)
	if sum.Pathogens != 10 || sum.Responders != 10 || sum.ClearanceTime != s.ClearanceTime() {
		t.Errorf("summary = %+v", sum)
	}
}

// One pathogen covering the whole plane touches every responder.
func engulfingConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Population.Pathogens.Count = 1
	cfg.Population.Pathogens.Radius = 15
	cfg.Population.Responders.Count = 2
	return cfg
}

func TestClearanceInInitialPass(t *testing.T) {
	cfg := engulfingConfig(t)
	cfg.Collision.RemovalProbability = 1
	s := newSim(t, cfg, 3, 0)

	if s.Census().Pathogens != 0 {
		t.Fatalf("pathogen survived a certain removal")
	}
	if s.ClearanceTime() != 0 {
		t.Errorf("clearance = %v, want 0", s.ClearanceTime())
	}
	if s.Removed() != 1 {
		t.Errorf("removed = %d, want 1", s.Removed())
	}
}

func TestClearanceTimeRecorded(t *testing.T) {
	cfg := engulfingConfig(t)
	cfg.Collision.RemovalProbability = 0
	s := newSim(t, cfg, 4, 0)
	if s.Cleared() {
		t.Fatal("cleared with zero removal probability")
	}

	s.collisions.RemovalProbability = 1
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := s.ClearanceTime(); math.Abs(got-cfg.Time.DT) > 1e-12 {
		t.Errorf("clearance = %v, want %v", got, cfg.Time.DT)
	}
	if floats.Sum(s.Field().Sources()) != 0 {
		t.Error("sources not rebuilt after the last pathogen was removed")
	}

	// Later steps keep the first clearance time.
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := s.ClearanceTime(); math.Abs(got-cfg.Time.DT) > 1e-12 {
		t.Errorf("clearance moved to %v", got)
	}
}

func TestNotClearedSentinel(t *testing.T) {
	cfg := engulfingConfig(t)
	cfg.Collision.RemovalProbability = 0
	s := newSim(t, cfg, 5, 0)
	if err := s.Run(true, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.ClearanceTime() != NotCleared {
		t.Errorf("clearance = %v, want %v", s.ClearanceTime(), NotCleared)
	}
}

func TestSameSeedSameRun(t *testing.T) {
	cfg := testConfig(t)
	a := newSim(t, cfg, 11, 2)
	b := newSim(t, cfg, 11, 2)
	for i := 0; i < 5; i++ {
		if err := a.Step(); err != nil {
			t.Fatal(err)
		}
		if err := b.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.Agents()) != len(b.Agents()) {
		t.Fatalf("populations differ: %d vs %d", len(a.Agents()), len(b.Agents()))
	}
	for i := range a.Agents() {
		pa, pb := a.Agents()[i], b.Agents()[i]
		if pa.ID() != pb.ID() || pa.Position() != pb.Position() {
			t.Errorf("agent %d diverged: %v vs %v", i, pa.Position(), pb.Position())
		}
	}
	va, vb := a.Field().Values(), b.Field().Values()
	for i := range va {
		if va[i] != vb[i] {
			t.Fatalf("field diverged at dof %d", i)
		}
	}
}

func TestReconfigure(t *testing.T) {
	cfg := testConfig(t)
	s := newSim(t, cfg, 6, 0)
	if err := s.Reconfigure(0.1, 0.2, 0); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if floats.Sum(s.Field().Sources()) != 0 {
		t.Error("zero source intensity left sources")
	}
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestHeatOracle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collision.LogMap = "heat"
	s := newSim(t, cfg, 7, 0)
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestSphereRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mesh.Kind = "sphere"
	cfg.Mesh.Radius = 3
	cfg.Mesh.Subdivisions = 2
	cfg.Domain = config.DomainConfig{}
	s := newSim(t, cfg, 8, 0)
	for i := 0; i < 3; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	for _, a := range s.Agents() {
		if r := math.Sqrt(a.Position().X*a.Position().X + a.Position().Y*a.Position().Y + a.Position().Z*a.Position().Z); r > 3+1e-9 || r < 2.5 {
			t.Errorf("agent %d off the sphere: |x| = %v", a.ID(), r)
		}
	}
}

func TestRegistrySync(t *testing.T) {
	cfg := testConfig(t)
	s := newSim(t, cfg, 9, 0)
	r := NewRegistry()
	for _, a := range s.Agents() {
		r.Add(a)
	}
	live := s.Agents()[2:]
	if n := r.Sync(live); n != 2 {
		t.Errorf("Sync removed %d, want 2", n)
	}
	if r.Len() != len(live) {
		t.Errorf("Len = %d, want %d", r.Len(), len(live))
	}
	for _, a := range s.Agents()[:2] {
		if r.Has(a.ID()) {
			t.Errorf("agent %d still registered", a.ID())
		}
	}
	seen := 0
	r.Each(func(id Identity, a *agent.Agent) {
		seen++
		if id.ID != a.ID() || id.Type != a.Type() {
			t.Errorf("identity %+v does not match agent %d", id, a.ID())
		}
	})
	if seen != len(live) {
		t.Errorf("Each visited %d, want %d", seen, len(live))
	}
}

func TestRunTimesPhases(t *testing.T) {
	cfg := testConfig(t)
	s := newSim(t, cfg, 5, 0)
	perf := telemetry.NewPerfCollector(cfg.Derived.Steps)
	s.SetPerf(perf)

	calls := 0
	err := s.Run(false, func(*Simulation) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != cfg.Derived.Steps || !s.Done() {
		t.Errorf("observe called %d times over %d steps", calls, cfg.Derived.Steps)
	}
	stats := perf.Stats()
	for _, phase := range []telemetry.Phase{telemetry.PhaseMotion, telemetry.PhaseSinks, telemetry.PhaseSolve, telemetry.PhaseOutput} {
		if stats.PhaseTicks[phase] == 0 {
			t.Errorf("phase %v not timed", phase)
		}
	}
}

func TestConfiguredPositions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Population.Responders.Count = 1
	cfg.Population.Responders.Positions = [][]float64{{5.2, 4.9}}
	cfg.Population.Pathogens.Count = 2
	cfg.Population.Pathogens.Positions = [][]float64{{2.3, 7.6}, {8.1, 1.4, 0}}
	s := newSim(t, cfg, 1, 0)

	want := map[int][2]float64{1: {5.2, 4.9}, 2: {2.3, 7.6}, 3: {8.1, 1.4}}
	found := 0
	for _, a := range s.Agents() {
		w, ok := want[a.ID()]
		if !ok {
			continue
		}
		found++
		p := a.Position()
		if math.Abs(p.X-w[0]) > 1e-9 || math.Abs(p.Y-w[1]) > 1e-9 || math.Abs(p.Z) > 1e-9 {
			t.Errorf("agent %d at %v, want %v", a.ID(), p, w)
		}
	}
	if found != len(want) {
		t.Errorf("found %d placed agents, want %d", found, len(want))
	}
	if got := s.InitialCensus(); got.Pathogens != 2 || got.Responders != 1 {
		t.Errorf("initial census = %+v", got)
	}
}

func TestConfiguredPositionOffMesh(t *testing.T) {
	cfg := testConfig(t)
	cfg.Population.Pathogens.Positions = [][]float64{{20, 20}}
	space, err := NewSpace(cfg, 1)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	if _, err := New(cfg, space, 0); err == nil {
		t.Error("New accepted a pathogen placed off the mesh")
	}
}

func TestDefaultsFullHorizon(t *testing.T) {
	if testing.Short() {
		t.Skip("full horizon run")
	}
	cfg, err := config.Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, fast := range []int{0, 10} {
		s := newSim(t, cfg, 1, fast)
		err := s.Run(false, func(s *Simulation) error {
			for i, v := range s.Field().Values() {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("fast=%d step %d: field[%d] = %v", fast, s.StepIndex(), i, v)
				}
			}
			for _, a := range s.Agents() {
				free, bound, inter := a.Receptors()
				if tol := -1e-9 * cfg.Kinetics.TotalReceptors; free < tol || bound < tol || inter < tol {
					t.Fatalf("fast=%d step %d: agent %d receptors %v %v %v", fast, s.StepIndex(), a.ID(), free, bound, inter)
				}
				if total := free + bound + inter; math.Abs(total-cfg.Kinetics.TotalReceptors) > 1e-6*cfg.Kinetics.TotalReceptors {
					t.Fatalf("fast=%d step %d: agent %d receptor total %v", fast, s.StepIndex(), a.ID(), total)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("fast=%d: Run: %v", fast, err)
		}
		if !s.Done() {
			t.Errorf("fast=%d: stopped at step %d of %d", fast, s.StepIndex(), cfg.Derived.Steps)
		}
	}
}
