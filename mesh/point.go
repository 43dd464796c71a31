package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Kind tags which mesh element a SurfacePoint lives on.
type Kind uint8

const (
	Invalid Kind = iota
	OnVertex
	OnEdge
	InFace
)

func (k Kind) String() string {
	switch k {
	case OnVertex:
		return "vertex"
	case OnEdge:
		return "edge"
	case InFace:
		return "face"
	default:
		return "invalid"
	}
}

// SurfacePoint is a location on the mesh.
type SurfacePoint struct {
	Kind   Kind
	Vertex int        // OnVertex
	Edge   int        // OnEdge
	T      float64    // OnEdge: fraction from Edge.V[0] to Edge.V[1]
	Face   int        // InFace
	Bary   [3]float64 // InFace: barycentric weights of the face vertices
}

// VertexPoint returns the surface point sitting on vertex v.
func VertexPoint(v int) SurfacePoint {
	return SurfacePoint{Kind: OnVertex, Vertex: v}
}

// EdgePoint returns the point at fraction t along edge e.
func EdgePoint(e int, t float64) SurfacePoint {
	return SurfacePoint{Kind: OnEdge, Edge: e, T: t}
}

// FacePoint returns the point with barycentric weights bary inside face f.
func FacePoint(f int, bary [3]float64) SurfacePoint {
	return SurfacePoint{Kind: InFace, Face: f, Bary: bary}
}

// CentroidPoint returns the barycenter of face f.
func CentroidPoint(f int) SurfacePoint {
	return FacePoint(f, [3]float64{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0})
}

func (p SurfacePoint) String() string {
	switch p.Kind {
	case OnVertex:
		return fmt.Sprintf("vertex(%d)", p.Vertex)
	case OnEdge:
		return fmt.Sprintf("edge(%d, %.4f)", p.Edge, p.T)
	case InFace:
		return fmt.Sprintf("face(%d, %.4f, %.4f, %.4f)", p.Face, p.Bary[0], p.Bary[1], p.Bary[2])
	default:
		return "invalid"
	}
}

// Position returns the embedding of p.
func (m *Mesh) Position(p SurfacePoint) r3.Vec {
	switch p.Kind {
	case OnVertex:
		return m.positions[p.Vertex]
	case OnEdge:
		e := m.edges[p.Edge]
		a, b := m.positions[e.V[0]], m.positions[e.V[1]]
		return r3.Add(a, r3.Scale(p.T, r3.Sub(b, a)))
	case InFace:
		tri := m.faces[p.Face]
		var x r3.Vec
		for i, v := range tri {
			x = r3.Add(x, r3.Scale(p.Bary[i], m.positions[v]))
		}
		return x
	default:
		panic(fmt.Sprintf("mesh: position of %v surface point", p.Kind))
	}
}

// NearestVertex returns the mesh vertex closest to p in its own element.
func (m *Mesh) NearestVertex(p SurfacePoint) int {
	switch p.Kind {
	case OnVertex:
		return p.Vertex
	case OnEdge:
		e := m.edges[p.Edge]
		if p.T < 0.5 {
			return e.V[0]
		}
		return e.V[1]
	case InFace:
		best := 0
		for i := 1; i < 3; i++ {
			if p.Bary[i] > p.Bary[best] {
				best = i
			}
		}
		return m.faces[p.Face][best]
	default:
		panic(fmt.Sprintf("mesh: nearest vertex of %v surface point", p.Kind))
	}
}

// TangentBasis returns an orthonormal frame (e1, e2) of the tangent plane at p
// together with the unit normal. An invalid point kind panics.
func (m *Mesh) TangentBasis(p SurfacePoint) (e1, e2, normal r3.Vec) {
	switch p.Kind {
	case OnVertex:
		v := p.Vertex
		normal = m.vertexNormals[v]
		for _, nb := range m.neighbors[v] {
			cand := unit3(r3.Sub(m.positions[nb], m.positions[v]))
			if math.Abs(r3.Dot(cand, normal)) < 1e-6 {
				e1 = cand
				break
			}
		}
		if e1 == (r3.Vec{}) && len(m.neighbors[v]) > 0 {
			// Curved vertex: project the first edge into the tangent plane.
			d := r3.Sub(m.positions[m.neighbors[v][0]], m.positions[v])
			e1 = unit3(r3.Sub(d, r3.Scale(r3.Dot(d, normal), normal)))
		}
	case OnEdge:
		e := m.edges[p.Edge]
		e1 = unit3(r3.Sub(m.positions[e.V[1]], m.positions[e.V[0]]))
		normal = m.faceNormals[e.Faces[0]]
	case InFace:
		tri := m.faces[p.Face]
		e1 = unit3(r3.Sub(m.positions[tri[1]], m.positions[tri[0]]))
		normal = m.faceNormals[p.Face]
	default:
		panic(fmt.Sprintf("mesh: invalid surface point kind %d", p.Kind))
	}
	e2 = unit3(r3.Cross(normal, e1))
	return e1, e2, normal
}

// LocalToGlobal maps a tangent vector expressed in the frame at p into R^3.
func (m *Mesh) LocalToGlobal(p SurfacePoint, v r2.Vec) r3.Vec {
	e1, e2, _ := m.TangentBasis(p)
	return r3.Add(r3.Scale(v.X, e1), r3.Scale(v.Y, e2))
}

// GlobalToLocal projects a vector of R^3 onto the tangent frame at p.
func (m *Mesh) GlobalToLocal(p SurfacePoint, v r3.Vec) r2.Vec {
	e1, e2, _ := m.TangentBasis(p)
	return r2.Vec{X: r3.Dot(v, e1), Y: r3.Dot(v, e2)}
}

// Barycentric returns the barycentric coordinates of x projected into face f.
func (m *Mesh) Barycentric(f int, x r3.Vec) [3]float64 {
	tri := m.faces[f]
	a := m.positions[tri[0]]
	v0 := r3.Sub(m.positions[tri[1]], a)
	v1 := r3.Sub(m.positions[tri[2]], a)
	v2 := r3.Sub(x, a)

	d00 := r3.Dot(v0, v0)
	d01 := r3.Dot(v0, v1)
	d11 := r3.Dot(v1, v1)
	d20 := r3.Dot(v2, v0)
	d21 := r3.Dot(v2, v1)
	denom := d00*d11 - d01*d01

	v := (d11*d20 - d01*d21) / denom
	w := (d00*d21 - d01*d20) / denom
	return [3]float64{1 - v - w, v, w}
}

// clampBary clips negative weights and renormalizes.
func clampBary(b [3]float64) [3]float64 {
	var sum float64
	for i := range b {
		if b[i] < 0 {
			b[i] = 0
		}
		sum += b[i]
	}
	if sum == 0 {
		return [3]float64{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0}
	}
	for i := range b {
		b[i] /= sum
	}
	return b
}

// slotOf returns the position of vertex v in face f, or -1.
func (m *Mesh) slotOf(f, v int) int {
	for i, u := range m.faces[f] {
		if u == v {
			return i
		}
	}
	return -1
}

// opposite returns the vertex of face f not on edge e.
func (m *Mesh) opposite(f, e int) int {
	ev := m.edges[e].V
	for _, u := range m.faces[f] {
		if u != ev[0] && u != ev[1] {
			return u
		}
	}
	return -1
}

// inward returns the unit vector in the plane of face f, perpendicular to
// edge e, pointing from the edge into the face.
func (m *Mesh) inward(f, e int) r3.Vec {
	ev := m.edges[e].V
	p0 := m.positions[ev[0]]
	axis := unit3(r3.Sub(m.positions[ev[1]], p0))
	d := r3.Sub(m.positions[m.opposite(f, e)], p0)
	return unit3(r3.Sub(d, r3.Scale(r3.Dot(d, axis), axis)))
}
