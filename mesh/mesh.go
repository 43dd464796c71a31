// Package mesh provides triangle-mesh topology and the surface geometry
// queries agents need: surface points, tangent frames, geodesic tracing and
// point location.
package mesh

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNonManifold is returned when an edge is shared by more than two faces.
	ErrNonManifold = errors.New("mesh: non-manifold edge")
	// ErrDegenerateFace is returned for faces with zero area or repeated vertices.
	ErrDegenerateFace = errors.New("mesh: degenerate face")
)

// Edge is an undirected mesh edge with up to two incident faces.
type Edge struct {
	V     [2]int // endpoints, V[0] < V[1]
	Faces [2]int // incident faces, Faces[1] is -1 on the boundary
}

// Boundary reports whether the edge has a single incident face.
func (e Edge) Boundary() bool {
	return e.Faces[1] < 0
}

// Mesh is an oriented triangle mesh with precomputed adjacency and geometry.
type Mesh struct {
	positions []r3.Vec
	faces     [][3]int

	edges       []Edge
	edgeIndex   map[[2]int]int
	faceEdges   [][3]int // faceEdges[f][i] joins faces[f][i] and faces[f][(i+1)%3]
	vertexFaces [][]int
	neighbors   [][]int
	boundary    []bool

	faceNormals   []r3.Vec
	faceAreas     []float64
	vertexNormals []r3.Vec
}

// New builds a mesh from vertex positions and counter-clockwise triangles.
func New(positions []r3.Vec, faces [][3]int) (*Mesh, error) {
	m := &Mesh{
		positions:   positions,
		faces:       faces,
		edgeIndex:   make(map[[2]int]int, len(faces)*3/2+1),
		faceEdges:   make([][3]int, len(faces)),
		vertexFaces: make([][]int, len(positions)),
		neighbors:   make([][]int, len(positions)),
		boundary:    make([]bool, len(positions)),
		faceNormals: make([]r3.Vec, len(faces)),
		faceAreas:   make([]float64, len(faces)),
	}

	for f, tri := range faces {
		for _, v := range tri {
			if v < 0 || v >= len(positions) {
				return nil, fmt.Errorf("face %d references vertex %d of %d", f, v, len(positions))
			}
		}
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			return nil, fmt.Errorf("face %d: %w", f, ErrDegenerateFace)
		}

		a, b, c := positions[tri[0]], positions[tri[1]], positions[tri[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		area := 0.5 * r3.Norm(n)
		if area <= 0 || math.IsNaN(area) {
			return nil, fmt.Errorf("face %d: %w", f, ErrDegenerateFace)
		}
		m.faceAreas[f] = area
		m.faceNormals[f] = r3.Scale(1/(2*area), n)

		for i := 0; i < 3; i++ {
			u, w := tri[i], tri[(i+1)%3]
			key := edgeKey(u, w)
			e, ok := m.edgeIndex[key]
			if !ok {
				e = len(m.edges)
				m.edgeIndex[key] = e
				m.edges = append(m.edges, Edge{V: key, Faces: [2]int{f, -1}})
			} else {
				if m.edges[e].Faces[1] >= 0 {
					return nil, fmt.Errorf("edge %d-%d: %w", key[0], key[1], ErrNonManifold)
				}
				m.edges[e].Faces[1] = f
			}
			m.faceEdges[f][i] = e
			m.vertexFaces[tri[i]] = append(m.vertexFaces[tri[i]], f)
		}
	}

	for _, e := range m.edges {
		m.neighbors[e.V[0]] = append(m.neighbors[e.V[0]], e.V[1])
		m.neighbors[e.V[1]] = append(m.neighbors[e.V[1]], e.V[0])
		if e.Boundary() {
			m.boundary[e.V[0]] = true
			m.boundary[e.V[1]] = true
		}
	}
	for v := range m.neighbors {
		sort.Ints(m.neighbors[v])
	}

	// Area-weighted vertex normals
	m.vertexNormals = make([]r3.Vec, len(positions))
	for f, tri := range faces {
		w := r3.Scale(m.faceAreas[f], m.faceNormals[f])
		for _, v := range tri {
			m.vertexNormals[v] = r3.Add(m.vertexNormals[v], w)
		}
	}
	for v := range m.vertexNormals {
		m.vertexNormals[v] = unit3(m.vertexNormals[v])
	}

	return m, nil
}

func edgeKey(a, b int) [2]int {
	if a < b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// NumVertices returns the vertex count.
func (m *Mesh) NumVertices() int { return len(m.positions) }

// NumFaces returns the face count.
func (m *Mesh) NumFaces() int { return len(m.faces) }

// NumEdges returns the edge count.
func (m *Mesh) NumEdges() int { return len(m.edges) }

// Face returns the vertex indices of face f.
func (m *Mesh) Face(f int) [3]int { return m.faces[f] }

// Edge returns edge e.
func (m *Mesh) Edge(e int) Edge { return m.edges[e] }

// FaceEdges returns the edges of face f; slot i joins vertex slots i and i+1.
func (m *Mesh) FaceEdges(f int) [3]int { return m.faceEdges[f] }

// EdgeBetween returns the edge joining vertices a and b.
func (m *Mesh) EdgeBetween(a, b int) (int, bool) {
	e, ok := m.edgeIndex[edgeKey(a, b)]
	return e, ok
}

// VertexPosition returns the embedding of vertex v.
func (m *Mesh) VertexPosition(v int) r3.Vec { return m.positions[v] }

// VertexFaces returns the faces incident to v in ascending order.
func (m *Mesh) VertexFaces(v int) []int { return m.vertexFaces[v] }

// VertexNeighbors returns the vertices sharing an edge with v in ascending order.
func (m *Mesh) VertexNeighbors(v int) []int { return m.neighbors[v] }

// VertexNormal returns the area-weighted unit normal at v.
func (m *Mesh) VertexNormal(v int) r3.Vec { return m.vertexNormals[v] }

// IsBoundaryVertex reports whether v lies on a boundary edge.
func (m *Mesh) IsBoundaryVertex(v int) bool { return m.boundary[v] }

// FaceNormal returns the unit normal of face f.
func (m *Mesh) FaceNormal(f int) r3.Vec { return m.faceNormals[f] }

// FaceArea returns the area of face f.
func (m *Mesh) FaceArea(f int) float64 { return m.faceAreas[f] }

// FaceCentroid returns the barycenter of face f.
func (m *Mesh) FaceCentroid(f int) r3.Vec {
	tri := m.faces[f]
	c := r3.Add(r3.Add(m.positions[tri[0]], m.positions[tri[1]]), m.positions[tri[2]])
	return r3.Scale(1.0/3.0, c)
}

// TotalArea returns the summed face area.
func (m *Mesh) TotalArea() float64 {
	var a float64
	for _, fa := range m.faceAreas {
		a += fa
	}
	return a
}

// MeanEdgeLength returns the average edge length.
func (m *Mesh) MeanEdgeLength() float64 {
	if len(m.edges) == 0 {
		return 0
	}
	var sum float64
	for _, e := range m.edges {
		sum += r3.Norm(r3.Sub(m.positions[e.V[1]], m.positions[e.V[0]]))
	}
	return sum / float64(len(m.edges))
}

// unit3 normalizes v, returning the zero vector unchanged.
func unit3(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}
