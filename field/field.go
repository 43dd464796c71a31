// Package field holds the chemoattractant concentration and advances it with
// an implicit-explicit backward Euler scheme coupled to the agents.
package field

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/fem"
)

// ErrNotSetup is returned by Step before Setup has built the operators.
var ErrNotSetup = errors.New("field: operators not set up")

// Default solver settings.
const (
	DefaultRelTol  = 1e-8
	DefaultMaxIter = 50
)

// Field is a P1 concentration with cached mass, reaction-diffusion and sink
// operators.
//
// The reaction-diffusion operator M + dt*(D*K + lambda*M) is built by Setup
// and stays valid only while dt, D and lambda are unchanged. Sources are
// rebuilt when the pathogen set changes and sinks on every step.
type Field struct {
	space  *fem.Space
	values []float64

	mass      *fem.CSR
	stiffness *fem.CSR
	rd        *fem.CSR
	sink      *fem.CSR
	sources   []float64

	solver fem.CG
	last   fem.Result

	dt, diffusion, decay float64
	ready                bool

	// scratch
	rhs, tmp []float64
}

// New creates a zero field on s. The mass and stiffness matrices are
// assembled once here.
func New(s *fem.Space) *Field {
	n := s.NumDofs()
	mass := s.AssembleMass()
	sink := mass.Clone()
	sink.Zero()
	return &Field{
		space:     s,
		values:    make([]float64, n),
		mass:      mass,
		stiffness: s.AssembleStiffness(),
		sink:      sink,
		sources:   make([]float64, n),
		solver:    fem.CG{RelTol: DefaultRelTol, MaxIter: DefaultMaxIter},
		rhs:       make([]float64, n),
		tmp:       make([]float64, n),
	}
}

// Setup resets the field to zero and builds the reaction-diffusion operator
// for time step dt, diffusion coefficient d and decay rate lambda.
func (f *Field) Setup(dt, d, lambda float64) error {
	if !(dt > 0) {
		return fmt.Errorf("field setup: time step %v must be positive", dt)
	}
	if d < 0 || lambda < 0 {
		return fmt.Errorf("field setup: negative coefficients D=%v lambda=%v", d, lambda)
	}
	if err := f.SetCoefficients(dt, d, lambda); err != nil {
		return err
	}
	for i := range f.values {
		f.values[i] = 0
	}
	return nil
}

// SetCoefficients rebuilds the reaction-diffusion operator without touching
// the current values.
func (f *Field) SetCoefficients(dt, d, lambda float64) error {
	rd := f.mass.Clone()
	if err := rd.AddScaled(dt*d, f.stiffness); err != nil {
		return fmt.Errorf("reaction-diffusion operator: %w", err)
	}
	if err := rd.AddScaled(dt*lambda, f.mass); err != nil {
		return fmt.Errorf("reaction-diffusion operator: %w", err)
	}
	f.rd = rd
	f.dt, f.diffusion, f.decay = dt, d, lambda
	f.ready = true
	return nil
}

// SetSolver overrides the CG tolerance and iteration cap.
func (f *Field) SetSolver(relTol float64, maxIter int) {
	f.solver = fem.CG{RelTol: relTol, MaxIter: maxIter}
}

// Values returns the nodal concentrations. The slice is owned by the field.
func (f *Field) Values() []float64 { return f.values }

// Sources returns the current source load vector.
func (f *Field) Sources() []float64 { return f.sources }

// Sink returns the sink operator built by the last ComputeSinksAndBindReceptors.
func (f *Field) Sink() *fem.CSR { return f.sink }

// Mass returns the mass matrix.
func (f *Field) Mass() *fem.CSR { return f.mass }

// LastSolve reports the outcome of the most recent Step.
func (f *Field) LastSolve() fem.Result { return f.last }

// TimeStep returns the dt the operator was built for.
func (f *Field) TimeStep() float64 { return f.dt }

// Space returns the function space of the field.
func (f *Field) Space() *fem.Space { return f.space }

// Project replaces the values with the nodal interpolant of fn.
func (f *Field) Project(fn func(x r3.Vec) float64) {
	copy(f.values, f.space.Interpolate(fn))
}

// ValueAt evaluates the field at barycentric coordinates inside face fc.
func (f *Field) ValueAt(fc int, bary [3]float64) float64 {
	return f.space.Value(f.values, fc, bary)
}

// ComputeSources rebuilds the source load vector: every point closer than its
// radius to a pathogen emits s0. Non-finite samples contribute nothing.
func (f *Field) ComputeSources(agents []*agent.Agent, s0 float64) {
	type emitter struct {
		x r3.Vec
		r float64
	}
	var ems []emitter
	for _, a := range agents {
		if a.Type().Hostile() {
			ems = append(ems, emitter{x: a.Position(), r: a.Radius()})
		}
	}
	if len(ems) == 0 {
		for i := range f.sources {
			f.sources[i] = 0
		}
		return
	}

	f.sources = f.space.AssembleLoad(func(_ int, x r3.Vec) float64 {
		v := 0.0
		for _, e := range ems {
			if r3.Norm(r3.Sub(x, e.x)) < e.r {
				v = s0
				break
			}
		}
		if !finite(v) {
			return 0
		}
		return v
	})
}

// ComputeSinksAndBindReceptors couples every non-hostile agent to the field.
// Faces found by the agent's neighbourhood search whose centroid lies within
// its radius are covered. The ligand seen on them drives the agent's receptor
// kinetics for one step of length dt, and alpha = kb*R/(pi*r^2), with R the
// free receptors before the step, scales the mass matrix entries coupling the
// covered DOFs into the sink operator. Negative or non-finite ligand samples
// count as zero and non-finite face gradients are left out of the average.
func (f *Field) ComputeSinksAndBindReceptors(dt float64, agents []*agent.Agent) {
	f.sink.Zero()
	m := f.space.Mesh()

	for _, a := range agents {
		if a.Type().Hostile() {
			continue
		}
		r := a.Radius()
		x := a.Position()

		var (
			ligand float64
			grad   r3.Vec
			count  int
			dofs   = make(map[int]struct{})
		)
		for _, fc := range a.CoveredFaces() {
			if r3.Norm(r3.Sub(m.FaceCentroid(fc), x)) > r {
				continue
			}
			for _, d := range f.space.ElementDofs(fc) {
				dofs[d] = struct{}{}
			}
			if c := f.space.Value(f.values, fc, [3]float64{1. / 3, 1. / 3, 1. / 3}); finite(c) && c > 0 {
				ligand += m.FaceArea(fc) * c
			}
			if g := f.space.Gradient(f.values, fc); finite(g.X) && finite(g.Y) && finite(g.Z) {
				grad = r3.Add(grad, g)
				count++
			}
		}
		if count > 0 {
			grad = r3.Scale(1/float64(count), grad)
		}

		alpha := a.Kinetics().KBinding * a.FreeReceptors() / (math.Pi * r * r)
		a.UpdateLigandReceptors(alpha*ligand, grad)
		a.StepLigandReceptors(dt)

		for row := range dofs {
			cols, vals := f.mass.Row(row)
			for k, col := range cols {
				if _, ok := dofs[col]; !ok {
					continue
				}
				if err := f.sink.Add(row, col, alpha*vals[k]); err != nil {
					// sink shares the mass pattern
					panic(err)
				}
			}
		}
	}
}

// Step advances the field by the time step given to Setup:
//
//	(M + dt*(D*K + lambda*M)) c' = M*c + dt*s - dt*S*c
//
// A solver breakdown is returned as an error. Running out of iterations is
// logged and the partial solution kept.
func (f *Field) Step() error {
	if !f.ready {
		return ErrNotSetup
	}
	f.mass.MulVec(f.rhs, f.values)
	floats.AddScaled(f.rhs, f.dt, f.sources)
	f.sink.MulVec(f.tmp, f.values)
	floats.AddScaled(f.rhs, -f.dt, f.tmp)

	res, err := f.solver.Solve(f.rd, f.rhs, f.values)
	f.last = res
	if err != nil {
		return fmt.Errorf("field step: %w", err)
	}
	if !res.Converged {
		slog.Warn("field solve did not converge",
			"iterations", res.Iterations,
			"residual", res.Residual,
		)
	}
	return nil
}

// Total returns the integral of the field, 1^T M c.
func (f *Field) Total() float64 {
	f.mass.MulVec(f.tmp, f.values)
	return floats.Sum(f.tmp)
}

// Max returns the largest nodal value.
func (f *Field) Max() float64 {
	if len(f.values) == 0 {
		return 0
	}
	return floats.Max(f.values)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
