package agent

import (
	"container/heap"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

const maxSearchIters = 100000

type vertexDist struct {
	v int
	d float64
}

type distQueue []vertexDist

func (q distQueue) Len() int           { return len(q) }
func (q distQueue) Less(i, j int) bool { return q[i].d < q[j].d }
func (q distQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)        { *q = append(*q, x.(vertexDist)) }
func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// CoveredFaces returns the faces within the agent's own radius. The result is
// cached until the agent moves and must not be modified.
func (a *Agent) CoveredFaces() []int {
	return a.FacesWithinRadius(a.radius)
}

// FacesWithinRadius returns, in ascending order, the faces touching a vertex
// reachable from the agent's nearest vertex through vertices whose
// straight-line distance to the agent is at most r. The nearest vertex is
// always included.
func (a *Agent) FacesWithinRadius(r float64) []int {
	own := r == a.radius
	if own && a.coveredValid {
		return a.covered
	}
	a.searches++

	s := a.env.Surface
	x := a.Position()
	start := s.NearestVertex(a.pos)

	dist := map[int]float64{start: 0}
	q := &distQueue{{v: start}}
	faces := make(map[int]struct{})

	for iter := 0; q.Len() > 0 && iter < maxSearchIters; {
		it := heap.Pop(q).(vertexDist)
		if it.d > r {
			continue
		}
		for _, f := range s.VertexFaces(it.v) {
			faces[f] = struct{}{}
		}
		for _, nb := range s.VertexNeighbors(it.v) {
			nd := r3.Norm(r3.Sub(x, s.VertexPosition(nb)))
			if old, seen := dist[nb]; !seen || nd < old {
				dist[nb] = nd
				heap.Push(q, vertexDist{v: nb, d: nd})
			}
		}
		iter++
	}

	out := make([]int, 0, len(faces))
	for f := range faces {
		out = append(out, f)
	}
	sort.Ints(out)

	if own {
		a.covered = out
		a.coveredValid = true
	}
	return out
}
