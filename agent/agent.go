// Package agent implements a single cell living on a surface mesh: geodesic
// motion with reflective bounds, a biased persistent random walk, radius
// neighbourhood search and ligand-receptor kinetics.
package agent

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/mesh"
)

var (
	// ErrZeroID is returned when constructing an agent with id 0.
	ErrZeroID = errors.New("agent: id must be non-zero")
	// ErrMoveGuard is returned when a move needs more boundary bounces than
	// allowed, typically when pinned in a reflective corner.
	ErrMoveGuard = errors.New("agent: move bounce limit exceeded")
)

// Type classifies agents. The sign separates friend from foe; the magnitude
// is the speed class.
type Type int

const (
	Pathogen      Type = -1
	Responder     Type = 1
	FastResponder Type = 2
)

func (t Type) String() string {
	switch t {
	case Pathogen:
		return "pathogen"
	case Responder:
		return "responder"
	case FastResponder:
		return "fast_responder"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Hostile reports whether the type is a pathogen class.
func (t Type) Hostile() bool { return t < 0 }

// Surface is the geometry an agent moves on. *mesh.Mesh implements it.
type Surface interface {
	TraceGeodesic(p mesh.SurfacePoint, v r2.Vec) mesh.TraceResult
	Position(p mesh.SurfacePoint) r3.Vec
	LocalToGlobal(p mesh.SurfacePoint, v r2.Vec) r3.Vec
	GlobalToLocal(p mesh.SurfacePoint, v r3.Vec) r2.Vec
	NearestVertex(p mesh.SurfacePoint) int
	VertexPosition(v int) r3.Vec
	VertexFaces(v int) []int
	VertexNeighbors(v int) []int
}

// Env is the context shared by every agent of a simulation: the surface, the
// reflective bounds in global x/y and the single random source.
type Env struct {
	Surface Surface
	Bounds  orb.Bound // zero value disables reflection
	Rand    *rand.Rand
}

// Kinetics holds the receptor rate constants.
type Kinetics struct {
	KBinding       float64
	KInternalized  float64
	KRecycled      float64
	Sensitivity    float64 // gradient-following gain
	TotalReceptors float64
}

// DefaultKinetics returns the reference rate constants.
func DefaultKinetics() Kinetics {
	return Kinetics{
		KBinding:       0.01,
		KInternalized:  0.07,
		KRecycled:      0.05,
		Sensitivity:    500,
		TotalReceptors: 1e4,
	}
}

// Params configures a new agent.
type Params struct {
	Radius            float64
	PersistencePeriod float64 // 0 means never resample
	InitialTimer      float64
	Kinetics          Kinetics
}

// Agent is one cell on the surface.
type Agent struct {
	env *Env

	id     int
	typ    Type
	radius float64

	pos   mesh.SurfacePoint
	dir   r2.Vec // unit, in the tangent frame of pos
	speed float64

	period float64
	timer  float64

	kin                Kinetics
	free, bound, inter float64
	newlyBound         float64
	avgGradient        r3.Vec
	cumGradient        r3.Vec

	covered      []int
	coveredValid bool
	searches     int
}

// New creates an agent of type typ at pos, heading along the first tangent
// axis with zero speed.
func New(env *Env, id int, typ Type, pos mesh.SurfacePoint, p Params) (*Agent, error) {
	if id == 0 {
		return nil, ErrZeroID
	}
	if !(p.Radius > 0) {
		return nil, fmt.Errorf("agent %d: radius %g must be positive", id, p.Radius)
	}
	if pos.Kind == mesh.Invalid {
		return nil, fmt.Errorf("agent %d: invalid position", id)
	}
	period := p.PersistencePeriod
	if period <= 0 {
		period = math.Inf(1)
	}
	return &Agent{
		env:    env,
		id:     id,
		typ:    typ,
		radius: p.Radius,
		pos:    pos,
		dir:    r2.Vec{X: 1},
		period: period,
		timer:  p.InitialTimer,
		kin:    p.Kinetics,
		free:   p.Kinetics.TotalReceptors,
	}, nil
}

// ID returns the agent's identifier.
func (a *Agent) ID() int { return a.id }

func (a *Agent) Type() Type      { return a.typ }
func (a *Agent) Radius() float64 { return a.radius }

// Point returns the agent's surface location.
func (a *Agent) Point() mesh.SurfacePoint { return a.pos }

// Direction returns the unit heading in the local tangent frame.
func (a *Agent) Direction() r2.Vec { return a.dir }

func (a *Agent) Speed() float64                { return a.speed }
func (a *Agent) Kinetics() Kinetics            { return a.kin }
func (a *Agent) CumulativeGradient() r3.Vec    { return a.cumGradient }
func (a *Agent) PersistenceRemaining() float64 { return a.timer }

// Position returns the agent's location in space.
func (a *Agent) Position() r3.Vec {
	return a.env.Surface.Position(a.pos)
}

// LocalVelocity returns speed times heading in the local tangent frame.
func (a *Agent) LocalVelocity() r2.Vec {
	return r2.Scale(a.speed, a.dir)
}

// GlobalVelocity returns the velocity as a vector of R^3.
func (a *Agent) GlobalVelocity() r3.Vec {
	return a.env.Surface.LocalToGlobal(a.pos, a.LocalVelocity())
}

// SetVelocity sets speed and heading from a local tangent vector. A zero
// vector stops the agent and keeps its heading.
func (a *Agent) SetVelocity(v r2.Vec) {
	n := r2.Norm(v)
	a.speed = n
	if n > 0 {
		a.dir = r2.Scale(1/n, v)
	}
}

// SetDirection sets the unit heading without touching the speed.
func (a *Agent) SetDirection(d r2.Vec) {
	if n := r2.Norm(d); n > 0 {
		a.dir = r2.Scale(1/n, d)
	}
}

// Receptors returns the free, bound and internalised receptor amounts.
func (a *Agent) Receptors() (free, bound, internalized float64) {
	return a.free, a.bound, a.inter
}

// FreeReceptors returns the free receptor amount.
func (a *Agent) FreeReceptors() float64 { return a.free }
