package fem

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/mesh"
)

// Space is the continuous piecewise-linear Lagrange space on a triangle mesh:
// one degree of freedom per vertex.
type Space struct {
	mesh  *mesh.Mesh
	grads [][3]r3.Vec
}

// NewSpace precomputes the per-element basis gradients of m.
func NewSpace(m *mesh.Mesh) *Space {
	s := &Space{mesh: m, grads: make([][3]r3.Vec, m.NumFaces())}
	for f := 0; f < m.NumFaces(); f++ {
		tri := m.Face(f)
		n := m.FaceNormal(f)
		scale := 1 / (2 * m.FaceArea(f))
		for i := 0; i < 3; i++ {
			// Opposite edge, oriented so n x e points towards vertex i.
			e := r3.Sub(m.VertexPosition(tri[(i+2)%3]), m.VertexPosition(tri[(i+1)%3]))
			s.grads[f][i] = r3.Scale(scale, r3.Cross(n, e))
		}
	}
	return s
}

// Mesh returns the underlying mesh.
func (s *Space) Mesh() *mesh.Mesh { return s.mesh }

// NumDofs returns the number of degrees of freedom.
func (s *Space) NumDofs() int { return s.mesh.NumVertices() }

// ElementDofs returns the degrees of freedom of element f.
func (s *Space) ElementDofs(f int) [3]int { return s.mesh.Face(f) }

// BasisGradients returns the constant gradients of the three element basis
// functions of f.
func (s *Space) BasisGradients(f int) [3]r3.Vec { return s.grads[f] }

// NewMatrix returns an all-zero operator with the vertex-adjacency pattern of
// the space.
func (s *Space) NewMatrix() *CSR {
	n := s.NumDofs()
	pattern := make([][]int, n)
	for v := 0; v < n; v++ {
		row := make([]int, 0, len(s.mesh.VertexNeighbors(v))+1)
		row = append(row, v)
		row = append(row, s.mesh.VertexNeighbors(v)...)
		pattern[v] = row
	}
	a, err := NewCSRFromPattern(n, pattern)
	if err != nil {
		// Adjacency comes from the mesh itself.
		panic(fmt.Sprintf("fem: vertex pattern: %v", err))
	}
	return a
}

// AssembleMass returns the consistent mass matrix.
func (s *Space) AssembleMass() *CSR {
	a := s.NewMatrix()
	for f := 0; f < s.mesh.NumFaces(); f++ {
		dofs := s.ElementDofs(f)
		w := s.mesh.FaceArea(f) / 12
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v := w
				if i == j {
					v = 2 * w
				}
				s.mustAdd(a, dofs[i], dofs[j], v)
			}
		}
	}
	return a
}

// AssembleStiffness returns the Laplacian stiffness matrix.
func (s *Space) AssembleStiffness() *CSR {
	a := s.NewMatrix()
	for f := 0; f < s.mesh.NumFaces(); f++ {
		dofs := s.ElementDofs(f)
		area := s.mesh.FaceArea(f)
		g := s.grads[f]
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				s.mustAdd(a, dofs[i], dofs[j], area*r3.Dot(g[i], g[j]))
			}
		}
	}
	return a
}

// ElementMass returns the mass matrix entry coupling local DOFs i and j of f.
func (s *Space) ElementMass(f, i, j int) float64 {
	w := s.mesh.FaceArea(f) / 12
	if i == j {
		return 2 * w
	}
	return w
}

func (s *Space) mustAdd(a *CSR, i, j int, v float64) {
	if err := a.Add(i, j, v); err != nil {
		panic(err)
	}
}

// Value evaluates u inside element f at barycentric coordinates bary.
func (s *Space) Value(u []float64, f int, bary [3]float64) float64 {
	dofs := s.ElementDofs(f)
	return bary[0]*u[dofs[0]] + bary[1]*u[dofs[1]] + bary[2]*u[dofs[2]]
}

// Gradient returns the constant gradient of u on element f.
func (s *Space) Gradient(u []float64, f int) r3.Vec {
	dofs := s.ElementDofs(f)
	var g r3.Vec
	for i := 0; i < 3; i++ {
		g = r3.Add(g, r3.Scale(u[dofs[i]], s.grads[f][i]))
	}
	return g
}

// Interpolate returns the nodal interpolant of fn.
func (s *Space) Interpolate(fn func(x r3.Vec) float64) []float64 {
	u := make([]float64, s.NumDofs())
	for v := range u {
		u[v] = fn(s.mesh.VertexPosition(v))
	}
	return u
}

// AssembleLoad returns the load vector b_i = integral of fn*phi_i, integrated
// with a degree-4 rule on every element.
func (s *Space) AssembleLoad(fn func(f int, x r3.Vec) float64) []float64 {
	b := make([]float64, s.NumDofs())
	for f := 0; f < s.mesh.NumFaces(); f++ {
		dofs := s.ElementDofs(f)
		tri := s.mesh.Face(f)
		p0 := s.mesh.VertexPosition(tri[0])
		p1 := s.mesh.VertexPosition(tri[1])
		p2 := s.mesh.VertexPosition(tri[2])
		area := s.mesh.FaceArea(f)
		for _, q := range dunavant4 {
			x := r3.Add(r3.Add(r3.Scale(q.bary[0], p0), r3.Scale(q.bary[1], p1)), r3.Scale(q.bary[2], p2))
			v := fn(f, x)
			if v == 0 {
				continue
			}
			for i := 0; i < 3; i++ {
				b[dofs[i]] += area * q.weight * v * q.bary[i]
			}
		}
	}
	return b
}

type quadPoint struct {
	bary   [3]float64
	weight float64 // fraction of the element area
}

// Six-point degree-4 rule (Dunavant 1985).
var dunavant4 = func() []quadPoint {
	const (
		wa, a1, a2 = 0.223381589678011, 0.445948490915965, 0.108103018168070
		wb, b1, b2 = 0.109951743655322, 0.091576213509771, 0.816847572980459
	)
	return []quadPoint{
		{[3]float64{a1, a1, a2}, wa},
		{[3]float64{a1, a2, a1}, wa},
		{[3]float64{a2, a1, a1}, wa},
		{[3]float64{b1, b1, b2}, wb},
		{[3]float64{b1, b2, b1}, wb},
		{[3]float64{b2, b1, b1}, wb},
	}
}()
