package agent

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/mesh"
)

type testWorld struct {
	mesh *mesh.Mesh
	loc  *mesh.Locator
	env  *Env
}

func newTestWorld(t *testing.T, n int) *testWorld {
	t.Helper()
	m, err := mesh.NewPlanar(10, 10, n, n)
	if err != nil {
		t.Fatalf("NewPlanar: %v", err)
	}
	loc, err := mesh.NewLocator(m)
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	return &testWorld{
		mesh: m,
		loc:  loc,
		env: &Env{
			Surface: m,
			Bounds:  orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}},
			Rand:    rand.New(rand.NewSource(42)),
		},
	}
}

func (w *testWorld) spawn(t *testing.T, id int, typ Type, x r3.Vec, radius float64) *Agent {
	t.Helper()
	p, ok := w.loc.Locate(x)
	if !ok {
		t.Fatalf("no face at %v", x)
	}
	a, err := New(w.env, id, typ, p, Params{Radius: radius, PersistencePeriod: 2, Kinetics: DefaultKinetics()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// setGlobalVelocity points the agent along the global vector v.
func setGlobalVelocity(a *Agent, v r3.Vec) {
	a.SetVelocity(a.env.Surface.GlobalToLocal(a.pos, v))
}

func TestNewValidation(t *testing.T) {
	w := newTestWorld(t, 4)
	p := mesh.CentroidPoint(0)

	tests := []struct {
		name    string
		id      int
		params  Params
		pos     mesh.SurfacePoint
		wantErr error
	}{
		{"zero id", 0, Params{Radius: 1}, p, ErrZeroID},
		{"zero radius", 3, Params{}, p, nil},
		{"invalid point", 3, Params{Radius: 1}, mesh.SurfacePoint{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(w.env, tt.id, Responder, tt.pos, tt.params)
			if err == nil || a != nil {
				t.Fatalf("New = %v, %v; want error", a, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	a, err := New(w.env, -7, Pathogen, p, Params{Radius: 0.5})
	if err != nil {
		t.Fatalf("negative id should be accepted: %v", err)
	}
	if a.ID() != -7 || a.Type() != Pathogen || !a.Type().Hostile() {
		t.Errorf("agent = id %d type %v", a.ID(), a.Type())
	}
}

func TestReceptorConservation(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	const dt = 0.1

	// Bind some receptors first so every compartment is populated.
	for i := 0; i < 20; i++ {
		a.UpdateLigandReceptors(300, r3.Vec{})
		a.StepLigandReceptors(dt)
	}
	free, bound, inter := a.Receptors()
	initial := free + bound + inter
	if math.Abs(initial-1e4) > 1e-6 {
		t.Fatalf("total after binding = %v, want 1e4", initial)
	}
	if bound <= 0 || inter <= 0 {
		t.Fatalf("compartments not populated: bound=%v inter=%v", bound, inter)
	}

	for i := 0; i < 5000; i++ {
		a.UpdateLigandReceptors(0, r3.Vec{})
		a.StepLigandReceptors(dt)
		free, bound, inter = a.Receptors()
		if math.Abs(free+bound+inter-initial) > 1e-6 {
			t.Fatalf("step %d: total = %v, want %v", i, free+bound+inter, initial)
		}
	}
	// Everything recycles back to free receptors.
	if free < 0.99*initial {
		t.Errorf("free = %v after long relaxation, want ~%v", free, initial)
	}
}

func TestBindingFluxClamp(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)

	a.UpdateLigandReceptors(1e9, r3.Vec{})
	a.StepLigandReceptors(0.1)

	free, bound, _ := a.Receptors()
	if math.Abs(free) > 1e-9 {
		t.Errorf("free = %v, want 0 after clamped binding", free)
	}
	if math.Abs(bound-1e4) > 1e-6 {
		t.Errorf("bound = %v, want 1e4", bound)
	}
}

func TestGradientAccumulation(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	const dt = 0.1
	grad := r3.Vec{X: 0, Y: 0.003}

	a.UpdateLigandReceptors(0, grad)
	a.StepLigandReceptors(dt)

	k := DefaultKinetics()
	want := k.KBinding * (8 * 0.2 / (3 * math.Pi)) * 0.003 * k.TotalReceptors * dt / 2
	got := a.CumulativeGradient()
	if math.Abs(got.Y-want) > 1e-12 || got.X != 0 || got.Z != 0 {
		t.Errorf("cumulative gradient = %v, want (0, %v, 0)", got, want)
	}
}

func TestMoveInterior(t *testing.T) {
	w := newTestWorld(t, 20)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 3.1, Y: 4.2}, 0.2)
	setGlobalVelocity(a, r3.Vec{X: 0.12, Y: -0.16})

	if err := a.Move(2, true); err != nil {
		t.Fatalf("Move: %v", err)
	}
	want := r3.Vec{X: 3.34, Y: 3.88}
	if got := a.Position(); r3.Norm(r3.Sub(got, want)) > 1e-9 {
		t.Errorf("position = %v, want %v", got, want)
	}
	if got := a.GlobalVelocity(); r3.Norm(r3.Sub(got, r3.Vec{X: 0.12, Y: -0.16})) > 1e-9 {
		t.Errorf("velocity = %v, want unchanged", got)
	}
}

func TestBoundaryReflection(t *testing.T) {
	tests := []struct {
		name    string
		start   r3.Vec
		vel     r3.Vec
		dt      float64
		wantPos r3.Vec
		wantVel r3.Vec
	}{
		{"right edge", r3.Vec{X: 9.9, Y: 5.05}, r3.Vec{X: 0.2}, 1, r3.Vec{X: 9.9, Y: 5.05}, r3.Vec{X: -0.2}},
		{"left edge", r3.Vec{X: 0.05, Y: 2.33}, r3.Vec{X: -0.2}, 0.5, r3.Vec{X: 0.05, Y: 2.33}, r3.Vec{X: 0.2}},
		{"top edge oblique", r3.Vec{X: 4.03, Y: 9.9}, r3.Vec{X: 0.1, Y: 0.2}, 1, r3.Vec{X: 4.13, Y: 9.9}, r3.Vec{X: 0.1, Y: -0.2}},
		{"bottom edge", r3.Vec{X: 6.07, Y: 0.1}, r3.Vec{Y: -0.4}, 1, r3.Vec{X: 6.07, Y: 0.3}, r3.Vec{Y: 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t, 20)
			a := w.spawn(t, 1, Responder, tt.start, 0.2)
			setGlobalVelocity(a, tt.vel)

			if err := a.Move(tt.dt, true); err != nil {
				t.Fatalf("Move: %v", err)
			}
			got := a.Position()
			if got.X < 0 || got.X > 10 || got.Y < 0 || got.Y > 10 {
				t.Fatalf("agent left the domain: %v", got)
			}
			if r3.Norm(r3.Sub(got, tt.wantPos)) > 1e-9 {
				t.Errorf("position = %v, want %v", got, tt.wantPos)
			}
			if v := a.GlobalVelocity(); r3.Norm(r3.Sub(v, tt.wantVel)) > 1e-9 {
				t.Errorf("velocity = %v, want %v", v, tt.wantVel)
			}
		})
	}
}

func TestRandomWalkStaysInDomain(t *testing.T) {
	w := newTestWorld(t, 20)
	a := w.spawn(t, 1, FastResponder, r3.Vec{X: 9.5, Y: 9.5}, 0.2)
	setGlobalVelocity(a, r3.Vec{X: 0.4})

	for step := 0; step < 2000; step++ {
		if err := a.Move(0.1, true); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if a.PersistenceTimer(0.1) {
			a.ComputeNewBPRWVelocity()
		}
		x := a.Position()
		if x.X < -1e-9 || x.X > 10+1e-9 || x.Y < -1e-9 || x.Y > 10+1e-9 {
			t.Fatalf("step %d: agent left the domain at %v", step, x)
		}
	}
}

// stuckSurface never lets a walk make progress.
type stuckSurface struct{ Surface }

func (s stuckSurface) TraceGeodesic(p mesh.SurfacePoint, v r2.Vec) mesh.TraceResult {
	return mesh.TraceResult{End: p, Direction: v, HitBoundary: true}
}

func TestMoveGuard(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	w.env.Surface = stuckSurface{w.mesh}
	a.SetVelocity(r2.Vec{X: 1})

	if err := a.Move(1, true); !errors.Is(err, ErrMoveGuard) {
		t.Errorf("Move err = %v, want ErrMoveGuard", err)
	}
}

func TestPersistenceTimer(t *testing.T) {
	w := newTestWorld(t, 4)
	p, _ := w.loc.Locate(r3.Vec{X: 5, Y: 5})
	a, err := New(w.env, 1, Responder, p, Params{Radius: 0.2, PersistencePeriod: 2, InitialTimer: 0.25})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []bool{false, false, true, false}
	for i, fire := range want {
		if got := a.PersistenceTimer(0.1); got != fire {
			t.Errorf("tick %d = %v, want %v", i, got, fire)
		}
	}
	if math.Abs(a.PersistenceRemaining()-1.9) > 1e-12 {
		t.Errorf("timer = %v, want 1.9 after rearm and one tick", a.PersistenceRemaining())
	}

	still, err := New(w.env, 2, Pathogen, p, Params{Radius: 0.05, InitialTimer: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 100; i++ {
		if still.PersistenceTimer(0.1) && i < 9 {
			t.Fatalf("tick %d fired early", i)
		}
	}
	if !math.IsInf(still.PersistenceRemaining(), 1) {
		t.Errorf("zero period should rearm to +Inf, got %v", still.PersistenceRemaining())
	}
}

func TestBPRWFollowsStrongGradient(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	setGlobalVelocity(a, r3.Vec{X: 1})

	// Large enough that |g|*sensitivity exceeds any uniform draw.
	a.cumGradient = r3.Vec{X: -0.3, Y: 0.4}
	a.ComputeNewBPRWVelocity()

	if got := a.GlobalVelocity(); r3.Norm(r3.Sub(got, r3.Vec{X: -0.6, Y: 0.8})) > 1e-12 {
		t.Errorf("velocity = %v, want along the gradient", got)
	}
	if a.CumulativeGradient() != (r3.Vec{}) {
		t.Errorf("accumulator not reset: %v", a.CumulativeGradient())
	}
}

func TestBPRWRandomTurn(t *testing.T) {
	w := newTestWorld(t, 4)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	a.SetVelocity(r2.Vec{X: 0.2})

	turned := 0
	for i := 0; i < 50; i++ {
		before := a.Direction()
		a.ComputeNewBPRWVelocity()
		d := a.Direction()
		if math.Abs(r2.Norm(d)-1) > 1e-12 {
			t.Fatalf("heading not unit: %v", d)
		}
		if r2.Norm(r2.Sub(d, before)) > 1e-9 {
			turned++
		}
	}
	if turned < 45 {
		t.Errorf("heading changed %d of 50 times, want nearly always", turned)
	}
	if a.Speed() != 0.2 {
		t.Errorf("speed = %v, want 0.2", a.Speed())
	}
}

func TestFacesWithinRadiusMonotone(t *testing.T) {
	w := newTestWorld(t, 40)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 4.37, Y: 6.11}, 0.2)

	var prev map[int]bool
	for _, r := range []float64{0, 0.1, 0.2, 0.35, 0.5, 1, 2} {
		cur := make(map[int]bool)
		for _, f := range a.FacesWithinRadius(r) {
			cur[f] = true
		}
		for f := range prev {
			if !cur[f] {
				t.Fatalf("face %d lost when radius grew to %v", f, r)
			}
		}
		prev = cur
	}

	// The face under the agent is always covered.
	home := a.Point().Face
	found := false
	for _, f := range a.FacesWithinRadius(0.2) {
		found = found || f == home
	}
	if !found {
		t.Errorf("face %d under the agent not covered", home)
	}
}

func TestFacesWithinRadiusBounded(t *testing.T) {
	w := newTestWorld(t, 40)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5.03, Y: 4.98}, 0.3)
	x := a.Position()
	h := 10.0 / 40 * math.Sqrt2

	for _, f := range a.CoveredFaces() {
		c := w.mesh.FaceCentroid(f)
		if d := r3.Norm(r3.Sub(c, x)); d > 0.3+h {
			t.Errorf("face %d centroid at distance %v, beyond radius plus one cell", f, d)
		}
	}
}

func TestCoveredFacesCache(t *testing.T) {
	w := newTestWorld(t, 40)
	a := w.spawn(t, 1, Responder, r3.Vec{X: 5, Y: 5}, 0.2)
	a.SetVelocity(r2.Vec{X: 0.2})

	first := a.CoveredFaces()
	second := a.FacesWithinRadius(a.Radius())
	if a.searches != 1 {
		t.Errorf("searches = %d after two default queries, want 1", a.searches)
	}
	if len(first) != len(second) {
		t.Fatalf("cached result differs: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached result differs: %v vs %v", first, second)
		}
	}

	a.FacesWithinRadius(0.5)
	a.FacesWithinRadius(0.5)
	if a.searches != 3 {
		t.Errorf("searches = %d, explicit radii must not be cached", a.searches)
	}
	a.CoveredFaces()
	if a.searches != 3 {
		t.Errorf("explicit radius query evicted the default cache")
	}

	if err := a.Move(1, true); err != nil {
		t.Fatalf("Move: %v", err)
	}
	a.CoveredFaces()
	if a.searches != 4 {
		t.Errorf("searches = %d, move must invalidate the cache", a.searches)
	}
}
