// Package collision detects overlapping agents through shared face coverage
// and resolves each contact as an elastic bounce or a phagocytosis trial.
package collision

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/geodesic"
)

// DefaultRemovalProbability is the chance a touching pathogen is engulfed.
const DefaultRemovalProbability = 0.7

// contactTol absorbs round-off in the distance of agents placed exactly at
// contact.
const contactTol = 1e-12

// Pair is a contact detected during CheckCollisions. A was processed before B.
type Pair struct {
	A, B *agent.Agent
	// Overlap is rA + rB minus the distance from B to A's nearest vertex.
	Overlap  float64
	Touching bool
	// Headings that separate the pair, each in its own agent's frame.
	DirA, DirB r2.Vec
}

// Manager owns the per-step scratch state of collision handling. Call
// CheckCollisions, then FixCollisions, once per step.
type Manager struct {
	env    *agent.Env
	oracle geodesic.Oracle

	RemovalProbability float64

	occupancy []int // face -> agent id, 0 when free
	seen      map[[2]int]struct{}
	pairs     []Pair
	removed   []int
}

// NewManager creates a manager for a mesh with numFaces faces.
func NewManager(env *agent.Env, numFaces int, oracle geodesic.Oracle) *Manager {
	return &Manager{
		env:                env,
		oracle:             oracle,
		RemovalProbability: DefaultRemovalProbability,
		occupancy:          make([]int, numFaces),
		seen:               make(map[[2]int]struct{}),
	}
}

// Pairs returns the contacts found by the last CheckCollisions, ordered by
// the list positions of their agents.
func (m *Manager) Pairs() []Pair { return m.pairs }

// Removed returns the ids removed by the last FixCollisions.
func (m *Manager) Removed() []int { return m.removed }

// CheckCollisions claims every face covered by each agent in list order. When
// an agent covers a face already claimed by another, the two form a pair. The
// distance of each new pair is measured with one log map per later agent.
func (m *Manager) CheckCollisions(agents []*agent.Agent) error {
	for i := range m.occupancy {
		m.occupancy[i] = 0
	}
	clear(m.seen)
	m.pairs = m.pairs[:0]

	index := make(map[int]int, len(agents))
	for i, a := range agents {
		index[a.ID()] = i
	}

	s := m.env.Surface
	for ib, b := range agents {
		var logMap []r2.Vec
		for _, f := range b.CoveredFaces() {
			owner := m.occupancy[f]
			if owner == 0 || owner == b.ID() {
				m.occupancy[f] = b.ID()
				continue
			}
			ia := index[owner]
			key := [2]int{ia, ib}
			if _, dup := m.seen[key]; dup {
				continue
			}
			m.seen[key] = struct{}{}

			if logMap == nil {
				var err error
				if logMap, err = m.oracle.LogMap(b.Point()); err != nil {
					return fmt.Errorf("log map of agent %d: %w", b.ID(), err)
				}
			}

			a := agents[ia]
			lv := logMap[s.NearestVertex(a.Point())]
			p := Pair{A: a, B: b, Overlap: a.Radius() + b.Radius() - r2.Norm(lv)}
			if p.Overlap >= -contactTol {
				p.Touching = true
				p.DirA, p.DirB = m.separation(a, b, lv)
			}
			m.pairs = append(m.pairs, p)
		}
	}

	sort.Slice(m.pairs, func(i, j int) bool {
		ki := [2]int{index[m.pairs[i].A.ID()], index[m.pairs[i].B.ID()]}
		kj := [2]int{index[m.pairs[j].A.ID()], index[m.pairs[j].B.ID()]}
		if ki[0] != kj[0] {
			return ki[0] < kj[0]
		}
		return ki[1] < kj[1]
	})
	return nil
}

// separation returns headings pushing a and b apart. lv is the log map vector
// from b towards a. a's heading is the walk direction carried from b to a.
func (m *Manager) separation(a, b *agent.Agent, lv r2.Vec) (dirA, dirB r2.Vec) {
	s := m.env.Surface
	n := r2.Norm(lv)
	if n == 0 {
		// Coincident: pick any axis.
		angle := 2 * math.Pi * m.env.Rand.Float64()
		dirB = r2.Vec{X: math.Cos(angle), Y: math.Sin(angle)}
		away := r3.Scale(-1, s.LocalToGlobal(b.Point(), dirB))
		return unit2(s.GlobalToLocal(a.Point(), away)), dirB
	}

	dirB = r2.Scale(-1/n, lv)
	res := s.TraceGeodesic(b.Point(), lv)
	g := s.LocalToGlobal(res.End, res.Direction)
	dirA = unit2(s.GlobalToLocal(a.Point(), g))
	if dirA == (r2.Vec{}) {
		dirA = unit2(s.GlobalToLocal(a.Point(), r3.Scale(-1, s.LocalToGlobal(b.Point(), dirB))))
	}
	return dirA, dirB
}

// FixCollisions resolves the pairs of the last CheckCollisions and returns the
// surviving agents in their original order. removed reports whether any
// agent was engulfed.
//
// Same-sign pairs with positive overlap each turn to their separation
// heading, walk half the overlap and turn back by the angle they turned, so
// the heading relative to the new frame is kept. Touching opposite-sign pairs
// run a phagocytosis trial against RemovalProbability.
func (m *Manager) FixCollisions(agents []*agent.Agent) (survivors []*agent.Agent, removed bool) {
	m.removed = m.removed[:0]
	doomed := make(map[int]bool)

	for _, p := range m.pairs {
		same := p.A.Type()*p.B.Type() > 0
		switch {
		case same && p.Overlap > 0:
			m.bounce(p.A, p.DirA, p.Overlap/2)
			m.bounce(p.B, p.DirB, p.Overlap/2)
		case !same && p.Touching:
			if m.env.Rand.Float64() < m.RemovalProbability {
				victim := p.B
				if p.A.Type().Hostile() {
					victim = p.A
				}
				doomed[victim.ID()] = true
			}
		}
	}

	if len(doomed) == 0 {
		return agents, false
	}
	survivors = make([]*agent.Agent, 0, len(agents)-len(doomed))
	for _, a := range agents {
		if doomed[a.ID()] {
			m.removed = append(m.removed, a.ID())
			continue
		}
		survivors = append(survivors, a)
	}
	return survivors, true
}

func (m *Manager) bounce(a *agent.Agent, dir r2.Vec, length float64) {
	old := a.Direction()
	dir = unit2(dir)
	// Signed angle taking the new heading back to the old one.
	angle := math.Atan2(dir.X*old.Y-dir.Y*old.X, r2.Dot(dir, old))

	a.SetDirection(dir)
	if err := a.Move(length, false); err != nil {
		slog.Warn("collision push stopped early", "agent", a.ID(), "err", err)
	}
	a.SetDirection(r2.Rotate(a.Direction(), angle, r2.Vec{}))
}

func unit2(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n == 0 {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}
