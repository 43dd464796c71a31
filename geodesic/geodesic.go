// Package geodesic answers distance and direction queries from a surface
// point to every mesh vertex.
package geodesic

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/fem"
	"github.com/pthm-cable/phagosim/mesh"
)

// Oracle computes a per-vertex log map from a source point: for each vertex,
// a tangent vector at the source whose direction points towards the vertex
// and whose length is the distance to it.
type Oracle interface {
	LogMap(src mesh.SurfacePoint) ([]r2.Vec, error)
}

// Chordal measures straight-line distance. It is exact on flat meshes.
type Chordal struct {
	Mesh *mesh.Mesh
}

// LogMap implements Oracle.
func (c Chordal) LogMap(src mesh.SurfacePoint) ([]r2.Vec, error) {
	m := c.Mesh
	x := m.Position(src)
	e1, e2, _ := m.TangentBasis(src)
	out := make([]r2.Vec, m.NumVertices())
	for v := range out {
		chord := r3.Sub(m.VertexPosition(v), x)
		out[v] = scaleTo(r2.Vec{X: r3.Dot(chord, e1), Y: r3.Dot(chord, e2)}, r3.Norm(chord))
	}
	return out, nil
}

// HeatSolver approximates geodesic distance with the heat method: diffuse a
// spike for a short time, normalise the flow direction, then recover the
// distance by a Poisson solve. Operators are factored once per mesh.
type HeatSolver struct {
	space   *fem.Space
	heat    *fem.CSR // M + t*K
	poisson *fem.CSR // K + eps*M
	solver  fem.CG
}

// NewHeatSolver builds the operators for s with time step t = h^2, h the mean
// edge length.
func NewHeatSolver(s *fem.Space) (*HeatSolver, error) {
	h := s.Mesh().MeanEdgeLength()
	mass := s.AssembleMass()
	stiff := s.AssembleStiffness()

	heat := mass.Clone()
	if err := heat.AddScaled(h*h, stiff); err != nil {
		return nil, fmt.Errorf("heat operator: %w", err)
	}
	poisson := stiff.Clone()
	if err := poisson.AddScaled(1e-10, mass); err != nil {
		return nil, fmt.Errorf("poisson operator: %w", err)
	}
	return &HeatSolver{
		space:   s,
		heat:    heat,
		poisson: poisson,
		solver:  fem.CG{RelTol: 1e-10, MaxIter: 20 * s.NumDofs()},
	}, nil
}

// Distance returns the approximate geodesic distance from src to every vertex.
func (h *HeatSolver) Distance(src mesh.SurfacePoint) ([]float64, error) {
	m := h.space.Mesh()
	n := h.space.NumDofs()

	delta := make([]float64, n)
	weights := pointWeights(m, src)
	for v, w := range weights {
		delta[v] += w
	}

	u := make([]float64, n)
	if err := h.solve(h.heat, delta, u, "heat"); err != nil {
		return nil, err
	}

	div := make([]float64, n)
	for f := 0; f < m.NumFaces(); f++ {
		g := h.space.Gradient(u, f)
		gn := r3.Norm(g)
		if gn == 0 || math.IsNaN(gn) {
			continue
		}
		x := r3.Scale(-1/gn, g)
		area := m.FaceArea(f)
		dofs := h.space.ElementDofs(f)
		grads := h.space.BasisGradients(f)
		for i := 0; i < 3; i++ {
			div[dofs[i]] += area * r3.Dot(x, grads[i])
		}
	}

	phi := make([]float64, n)
	if err := h.solve(h.poisson, div, phi, "poisson"); err != nil {
		return nil, err
	}

	var shift float64
	for v, w := range weights {
		shift += w * phi[v]
	}
	for v := range phi {
		phi[v] = math.Max(phi[v]-shift, 0)
	}
	return phi, nil
}

// LogMap implements Oracle. Directions are chords projected into the source
// tangent plane; lengths are heat-method distances.
func (h *HeatSolver) LogMap(src mesh.SurfacePoint) ([]r2.Vec, error) {
	dist, err := h.Distance(src)
	if err != nil {
		return nil, err
	}
	m := h.space.Mesh()
	x := m.Position(src)
	e1, e2, _ := m.TangentBasis(src)
	out := make([]r2.Vec, len(dist))
	for v := range out {
		chord := r3.Sub(m.VertexPosition(v), x)
		out[v] = scaleTo(r2.Vec{X: r3.Dot(chord, e1), Y: r3.Dot(chord, e2)}, dist[v])
	}
	return out, nil
}

func (h *HeatSolver) solve(a *fem.CSR, b, x []float64, stage string) error {
	res, err := h.solver.Solve(a, b, x)
	if err != nil {
		return fmt.Errorf("geodesic %s solve: %w", stage, err)
	}
	if !res.Converged {
		slog.Warn("geodesic solve did not converge", "stage", stage, "iterations", res.Iterations, "residual", res.Residual)
	}
	return nil
}

// pointWeights spreads a surface point onto the vertices of its element.
func pointWeights(m *mesh.Mesh, p mesh.SurfacePoint) map[int]float64 {
	switch p.Kind {
	case mesh.OnVertex:
		return map[int]float64{p.Vertex: 1}
	case mesh.OnEdge:
		e := m.Edge(p.Edge)
		return map[int]float64{e.V[0]: 1 - p.T, e.V[1]: p.T}
	case mesh.InFace:
		tri := m.Face(p.Face)
		w := make(map[int]float64, 3)
		for i, v := range tri {
			w[v] += p.Bary[i]
		}
		return w
	default:
		panic(fmt.Sprintf("geodesic: %v source point", p.Kind))
	}
}

// scaleTo rescales v to length l. A zero direction with non-zero length, as
// for a vertex straight along the source normal, falls back to the first
// tangent axis.
func scaleTo(v r2.Vec, l float64) r2.Vec {
	n := r2.Norm(v)
	switch {
	case l == 0:
		return r2.Vec{}
	case n == 0:
		return r2.Vec{X: l}
	default:
		return r2.Scale(l/n, v)
	}
}
