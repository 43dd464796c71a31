package field

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/fem"
	"github.com/pthm-cable/phagosim/mesh"
)

type fixture struct {
	mesh  *mesh.Mesh
	loc   *mesh.Locator
	env   *agent.Env
	field *Field
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	m, err := mesh.NewPlanar(10, 10, n, n)
	if err != nil {
		t.Fatalf("NewPlanar: %v", err)
	}
	loc, err := mesh.NewLocator(m)
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	return &fixture{
		mesh: m,
		loc:  loc,
		env: &agent.Env{
			Surface: m,
			Bounds:  orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}},
			Rand:    rand.New(rand.NewSource(1)),
		},
		field: New(fem.NewSpace(m)),
	}
}

func (fx *fixture) spawn(t *testing.T, id int, typ agent.Type, x r3.Vec, radius float64) *agent.Agent {
	t.Helper()
	p, ok := fx.loc.Locate(x)
	if !ok {
		t.Fatalf("no face at %v", x)
	}
	a, err := agent.New(fx.env, id, typ, p, agent.Params{Radius: radius, Kinetics: agent.DefaultKinetics()})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

func gaussian(x r3.Vec) float64 {
	dx, dy := x.X-4, x.Y-6
	return math.Exp(-(dx*dx + dy*dy))
}

func TestStepBeforeSetup(t *testing.T) {
	fx := newFixture(t, 4)
	if err := fx.field.Step(); !errors.Is(err, ErrNotSetup) {
		t.Errorf("Step before Setup = %v, want ErrNotSetup", err)
	}
}

func TestSetupValidation(t *testing.T) {
	fx := newFixture(t, 4)
	tests := []struct {
		name          string
		dt, d, lambda float64
		wantErr       bool
	}{
		{"ok", 0.1, 0.01, 0.01, false},
		{"zero dt", 0, 0.01, 0.01, true},
		{"negative diffusion", 0.1, -1, 0, true},
		{"negative decay", 0.1, 0, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fx.field.Setup(tt.dt, tt.d, tt.lambda)
			if (err != nil) != tt.wantErr {
				t.Errorf("Setup err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMassConservedWithoutSinks(t *testing.T) {
	fx := newFixture(t, 20)
	f := fx.field
	if err := f.Setup(0.1, 0.5, 0); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.SetSolver(1e-12, 500)
	f.Project(gaussian)
	f.ComputeSources(nil, 1)

	before := f.Total()
	for i := 0; i < 10; i++ {
		f.ComputeSinksAndBindReceptors(0.1, nil)
		if err := f.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	after := f.Total()
	if math.Abs(after-before) > 1e-8*before {
		t.Errorf("total went from %v to %v", before, after)
	}
	if f.Max() >= 1 {
		t.Errorf("diffusion did not flatten the peak: max %v", f.Max())
	}
	if !f.LastSolve().Converged {
		t.Errorf("solve did not converge: %+v", f.LastSolve())
	}
}

func TestUniformDecay(t *testing.T) {
	fx := newFixture(t, 10)
	f := fx.field
	const dt, lambda = 0.1, 0.5
	if err := f.Setup(dt, 0, lambda); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.SetSolver(1e-12, 500)
	f.Project(func(r3.Vec) float64 { return 1 })

	if err := f.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := 1 / (1 + dt*lambda)
	for i, v := range f.Values() {
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("value[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestSourcesFromPathogensOnly(t *testing.T) {
	fx := newFixture(t, 40)
	f := fx.field
	agents := []*agent.Agent{
		fx.spawn(t, 1, agent.Pathogen, r3.Vec{X: 5, Y: 5}, 1),
		fx.spawn(t, 2, agent.Responder, r3.Vec{X: 2, Y: 2}, 1),
	}

	const s0 = 2.0
	f.ComputeSources(agents, s0)
	got := floats.Sum(f.Sources())
	want := s0 * math.Pi
	if math.Abs(got-want) > 0.1*want {
		t.Errorf("source integral = %v, want about %v", got, want)
	}

	// The responder's neighbourhood gets nothing.
	v := fx.mesh.NearestVertex(agents[1].Point())
	if f.Sources()[v] != 0 {
		t.Errorf("source at responder vertex = %v, want 0", f.Sources()[v])
	}

	f.ComputeSources(agents[1:], s0)
	if floats.Sum(f.Sources()) != 0 {
		t.Error("sources remain after the pathogen is gone")
	}
}

func TestNonFiniteSourceIsZero(t *testing.T) {
	fx := newFixture(t, 10)
	agents := []*agent.Agent{fx.spawn(t, 1, agent.Pathogen, r3.Vec{X: 5, Y: 5}, 1)}
	for _, s0 := range []float64{math.NaN(), math.Inf(1)} {
		fx.field.ComputeSources(agents, s0)
		for i, v := range fx.field.Sources() {
			if v != 0 {
				t.Fatalf("s0=%v: source[%d] = %v, want 0", s0, i, v)
			}
		}
	}
}

func TestSourceStepAddsMass(t *testing.T) {
	fx := newFixture(t, 20)
	f := fx.field
	const dt, lambda = 0.1, 0.2
	if err := f.Setup(dt, 0.01, lambda); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.SetSolver(1e-12, 500)
	agents := []*agent.Agent{fx.spawn(t, 1, agent.Pathogen, r3.Vec{X: 5, Y: 5}, 0.5)}
	f.ComputeSources(agents, 1)
	f.ComputeSinksAndBindReceptors(dt, agents)

	if err := f.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := dt * floats.Sum(f.Sources()) / (1 + dt*lambda)
	if got := f.Total(); math.Abs(got-want) > 1e-8 {
		t.Errorf("total after one step = %v, want %v", got, want)
	}
}

func TestSinksBindReceptors(t *testing.T) {
	fx := newFixture(t, 40)
	f := fx.field
	f.Project(func(r3.Vec) float64 { return 1 })

	responder := fx.spawn(t, 1, agent.Responder, r3.Vec{X: 5.05, Y: 4.95}, 0.5)
	pathogen := fx.spawn(t, 2, agent.Pathogen, r3.Vec{X: 2, Y: 8}, 0.5)
	agents := []*agent.Agent{responder, pathogen}

	const dt = 0.1
	kin := agent.DefaultKinetics()
	f.ComputeSinksAndBindReceptors(dt, agents)

	free, bound, inter := responder.Receptors()
	if !(free < kin.TotalReceptors) || !(bound > 0) {
		t.Errorf("receptors free=%v bound=%v, want binding", free, bound)
	}
	if total := free + bound + inter; math.Abs(total-kin.TotalReceptors) > 1e-9*kin.TotalReceptors {
		t.Errorf("receptor total = %v, want %v", total, kin.TotalReceptors)
	}
	if pf, pb, _ := pathogen.Receptors(); pf != kin.TotalReceptors || pb != 0 {
		t.Errorf("pathogen receptors changed: free=%v bound=%v", pf, pb)
	}

	// Sink is symmetric and confined to DOFs near the responder.
	n := f.Space().NumDofs()
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	s := make([]float64, n)
	f.Sink().MulVec(s, ones)
	for i := 0; i < n; i++ {
		cols, vals := f.Sink().Row(i)
		for k, j := range cols {
			if math.Abs(vals[k]-f.Sink().At(j, i)) > 1e-15 {
				t.Fatalf("sink not symmetric at (%d,%d)", i, j)
			}
		}
		if s[i] != 0 {
			d := r3.Norm(r3.Sub(fx.mesh.VertexPosition(i), responder.Position()))
			if d > 0.5+fx.mesh.MeanEdgeLength() {
				t.Errorf("sink row %d at distance %v from the responder", i, d)
			}
		}
	}

	// 1^T S 1 is alpha times the squared integral of the covered hat
	// functions, bounded by the area of their supports.
	alpha := kin.KBinding * kin.TotalReceptors / (math.Pi * 0.25)
	reach := 0.5 + 2*0.25
	if sum := floats.Sum(s); !(sum > 0) || sum > alpha*math.Pi*reach*reach {
		t.Errorf("sink mass = %v, want in (0, %v]", sum, alpha*math.Pi*reach*reach)
	}
}

func TestSinksRebuiltEachStep(t *testing.T) {
	fx := newFixture(t, 20)
	f := fx.field
	responder := fx.spawn(t, 1, agent.Responder, r3.Vec{X: 5, Y: 5}, 0.6)

	f.ComputeSinksAndBindReceptors(0.1, []*agent.Agent{responder})
	if f.Sink().At(fx.mesh.NearestVertex(responder.Point()), fx.mesh.NearestVertex(responder.Point())) == 0 {
		t.Fatal("no sink under the responder")
	}
	f.ComputeSinksAndBindReceptors(0.1, nil)
	for i := 0; i < f.Space().NumDofs(); i++ {
		if _, vals := f.Sink().Row(i); floats.Norm(vals, 1) != 0 {
			t.Fatalf("stale sink row %d", i)
		}
	}
}

func TestSinksIgnoreUnusableLigand(t *testing.T) {
	for _, tt := range []struct {
		name  string
		value float64
	}{
		{"negative", -1},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, 20)
			f := fx.field
			f.Project(func(r3.Vec) float64 { return tt.value })
			responder := fx.spawn(t, 1, agent.Responder, r3.Vec{X: 5, Y: 5}, 0.6)
			kin := agent.DefaultKinetics()

			for i := 0; i < 5; i++ {
				f.ComputeSinksAndBindReceptors(0.1, []*agent.Agent{responder})
			}
			free, bound, inter := responder.Receptors()
			if free != kin.TotalReceptors || bound != 0 || inter != 0 {
				t.Errorf("receptors free=%v bound=%v internalized=%v, want all free", free, bound, inter)
			}
			if g := responder.CumulativeGradient(); !finite(g.X) || !finite(g.Y) || !finite(g.Z) {
				t.Errorf("cumulative gradient = %v", g)
			}
		})
	}
}

func TestSinksSkipNonFiniteVertex(t *testing.T) {
	fx := newFixture(t, 20)
	f := fx.field
	f.Project(func(x r3.Vec) float64 { return 1 + x.X })
	responder := fx.spawn(t, 1, agent.Responder, r3.Vec{X: 5.1, Y: 5.1}, 0.8)
	f.values[fx.mesh.NearestVertex(responder.Point())] = math.NaN()

	f.ComputeSinksAndBindReceptors(0.1, []*agent.Agent{responder})

	free, bound, _ := responder.Receptors()
	if !(free < agent.DefaultKinetics().TotalReceptors) || !(bound > 0) {
		t.Errorf("receptors free=%v bound=%v, want binding from the finite faces", free, bound)
	}
	g := responder.CumulativeGradient()
	if !finite(g.X) || !finite(g.Y) || !finite(g.Z) {
		t.Fatalf("cumulative gradient = %v, want finite", g)
	}
	if !(g.X > 0) {
		t.Errorf("cumulative gradient %v does not follow the +x ramp", g)
	}
}
