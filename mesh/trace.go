package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	traceEps     = 1e-12
	maxCrossings = 100000
)

// TraceResult is the outcome of walking a straight line over the surface.
type TraceResult struct {
	End         SurfacePoint
	Direction   r2.Vec // unit heading expressed in the tangent frame of End
	Length      float64
	HitBoundary bool
}

// TraceGeodesic walks from p along the tangent vector v, expressed in the
// frame of p, for |v| units of arc length. The walk is straight inside each
// face and the heading is unfolded across shared edges. It stops early on a
// boundary edge.
func (m *Mesh) TraceGeodesic(p SurfacePoint, v r2.Vec) TraceResult {
	length := r2.Norm(v)
	if length == 0 {
		return TraceResult{End: p, Direction: v}
	}
	heading := r2.Scale(1/length, v)

	f, x, d, ok := m.enterFace(p, unit3(m.LocalToGlobal(p, heading)))
	if !ok {
		return TraceResult{End: p, Direction: heading, HitBoundary: true}
	}

	remaining := length
	var traveled float64
	for i := 0; i < maxCrossings; i++ {
		slot, t, s, found := m.exitEdge(f, x, d)
		if !found || t >= remaining {
			if found {
				x = r3.Add(x, r3.Scale(remaining, d))
				traveled += remaining
			}
			return m.finish(FacePoint(f, clampBary(m.Barycentric(f, x))), d, traveled, false)
		}

		tri := m.faces[f]
		a, b := m.positions[tri[slot]], m.positions[tri[(slot+1)%3]]
		x = r3.Add(a, r3.Scale(s, r3.Sub(b, a)))
		traveled += t
		remaining -= t

		e := m.faceEdges[f][slot]
		edge := m.edges[e]
		if edge.Boundary() {
			param := s
			if tri[slot] != edge.V[0] {
				param = 1 - s
			}
			return m.finish(m.snapEdge(e, param), d, traveled, true)
		}

		g := edge.Faces[0]
		if g == f {
			g = edge.Faces[1]
		}
		d = m.unfold(f, g, e, d)
		f = g
	}
	return m.finish(FacePoint(f, clampBary(m.Barycentric(f, x))), d, traveled, false)
}

// enterFace picks the face a walk from p with global heading d starts in and
// returns the start position and the heading in that face's plane. ok is false
// when d leaves the surface through a boundary at p.
func (m *Mesh) enterFace(p SurfacePoint, d r3.Vec) (f int, x, dir r3.Vec, ok bool) {
	x = m.Position(p)
	switch p.Kind {
	case InFace:
		n := m.faceNormals[p.Face]
		return p.Face, x, unit3(r3.Sub(d, r3.Scale(r3.Dot(d, n), n))), true

	case OnEdge:
		edge := m.edges[p.Edge]
		f0 := edge.Faces[0]
		eu := unit3(r3.Sub(m.positions[edge.V[1]], m.positions[edge.V[0]]))
		a := r3.Dot(d, eu)
		b := r3.Dot(d, m.inward(f0, p.Edge))
		if b >= 0 {
			return f0, x, unit3(r3.Add(r3.Scale(a, eu), r3.Scale(b, m.inward(f0, p.Edge)))), true
		}
		if edge.Boundary() {
			return -1, x, d, false
		}
		g := edge.Faces[1]
		return g, x, unit3(r3.Add(r3.Scale(a, eu), r3.Scale(-b, m.inward(g, p.Edge)))), true

	case OnVertex:
		v := p.Vertex
		best, bestScore := -1, math.Inf(-1)
		var bestDir r3.Vec
		for _, face := range m.vertexFaces[v] {
			n := m.faceNormals[face]
			df := unit3(r3.Sub(d, r3.Scale(r3.Dot(d, n), n)))
			tri := m.faces[face]
			slot := m.slotOf(face, v)
			b := unit3(r3.Sub(m.positions[tri[(slot+1)%3]], x))
			c := unit3(r3.Sub(m.positions[tri[(slot+2)%3]], x))
			den := r3.Dot(r3.Cross(b, c), n)
			alpha := r3.Dot(r3.Cross(df, c), n) / den
			beta := r3.Dot(r3.Cross(b, df), n) / den
			if score := math.Min(alpha, beta); score > bestScore {
				best, bestScore, bestDir = face, score, df
			}
		}
		if best < 0 || (bestScore < -1e-9 && m.boundary[v]) {
			return -1, x, d, false
		}
		return best, x, bestDir, true

	default:
		panic("mesh: trace from invalid surface point")
	}
}

// exitEdge finds where the ray x + t*d leaves face f. It returns the edge slot,
// the ray parameter and the fraction along the slot's edge.
func (m *Mesh) exitEdge(f int, x, d r3.Vec) (slot int, t, s float64, ok bool) {
	n := m.faceNormals[f]
	tri := m.faces[f]
	slot, t = -1, math.Inf(-1)
	for i := 0; i < 3; i++ {
		a := m.positions[tri[i]]
		e := r3.Sub(m.positions[tri[(i+1)%3]], a)
		den := r3.Dot(r3.Cross(d, e), n)
		if math.Abs(den) < traceEps {
			continue
		}
		ti := r3.Dot(r3.Cross(r3.Sub(a, x), e), n) / den
		si := r3.Dot(r3.Cross(r3.Sub(x, a), d), n) / -den
		if si < -1e-9 || si > 1+1e-9 || ti < -traceEps {
			continue
		}
		// The walk starts on or inside the triangle, so the exit is the
		// farthest boundary crossing.
		if ti > t {
			slot, t, s = i, ti, si
		}
	}
	if slot < 0 {
		return -1, 0, 0, false
	}
	return slot, math.Max(t, 0), math.Min(math.Max(s, 0), 1), true
}

// unfold carries heading d from face f into neighbouring face g across edge e.
func (m *Mesh) unfold(f, g, e int, d r3.Vec) r3.Vec {
	edge := m.edges[e]
	eu := unit3(r3.Sub(m.positions[edge.V[1]], m.positions[edge.V[0]]))
	a := r3.Dot(d, eu)
	b := math.Abs(r3.Dot(d, m.inward(f, e)))
	return unit3(r3.Add(r3.Scale(a, eu), r3.Scale(b, m.inward(g, e))))
}

func (m *Mesh) snapEdge(e int, t float64) SurfacePoint {
	edge := m.edges[e]
	switch {
	case t <= traceEps:
		return VertexPoint(edge.V[0])
	case t >= 1-traceEps:
		return VertexPoint(edge.V[1])
	default:
		return EdgePoint(e, t)
	}
}

func (m *Mesh) finish(end SurfacePoint, d r3.Vec, traveled float64, boundary bool) TraceResult {
	dir := m.GlobalToLocal(end, d)
	if n := r2.Norm(dir); n > 0 {
		dir = r2.Scale(1/n, dir)
	}
	return TraceResult{End: end, Direction: dir, Length: traveled, HitBoundary: boundary}
}
