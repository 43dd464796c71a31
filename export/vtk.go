// Package export writes simulation snapshots for external viewers: legacy
// VTK polydata, GeoJSON and MJPEG movies.
package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/mesh"
)

const (
	// DiskSegments is the number of triangles per agent disk.
	DiskSegments = 16
	// NormalShift lifts agent disks off the surface so they render above it.
	NormalShift = 0.02
)

// WriteAgentsVTK writes every agent as a flat disk in the tangent plane at
// its position. Cell data carries agent_type and agent_id per triangle.
func WriteAgentsVTK(w io.Writer, m *mesh.Mesh, agents []*agent.Agent) error {
	bw := bufio.NewWriter(w)
	header(bw, "agents")

	n := len(agents)
	fmt.Fprintf(bw, "POINTS %d float\n", n*(DiskSegments+1))
	for _, a := range agents {
		e1, e2, normal := m.TangentBasis(a.Point())
		lift := r3.Scale(NormalShift, normal)
		c := r3.Add(a.Position(), lift)
		writePoint(bw, c)
		for k := 0; k < DiskSegments; k++ {
			theta := 2 * math.Pi * float64(k) / DiskSegments
			off := r3.Add(r3.Scale(a.Radius()*math.Cos(theta), e1), r3.Scale(a.Radius()*math.Sin(theta), e2))
			writePoint(bw, r3.Add(c, off))
		}
	}

	cells := n * DiskSegments
	fmt.Fprintf(bw, "POLYGONS %d %d\n", cells, cells*4)
	for i := range agents {
		base := i * (DiskSegments + 1)
		for k := 0; k < DiskSegments; k++ {
			p0 := base + 1 + k
			p1 := base + 1 + (k+1)%DiskSegments
			fmt.Fprintf(bw, "3 %d %d %d\n", base, p0, p1)
		}
	}

	fmt.Fprintf(bw, "CELL_DATA %d\n", cells)
	fmt.Fprintf(bw, "SCALARS agent_type int 1\nLOOKUP_TABLE default\n")
	for _, a := range agents {
		for k := 0; k < DiskSegments; k++ {
			fmt.Fprintf(bw, "%d\n", int(a.Type()))
		}
	}
	fmt.Fprintf(bw, "SCALARS agent_id int 1\nLOOKUP_TABLE default\n")
	for _, a := range agents {
		for k := 0; k < DiskSegments; k++ {
			fmt.Fprintf(bw, "%d\n", a.ID())
		}
	}
	return bw.Flush()
}

// WriteFieldVTK writes the mesh with one scalar per vertex.
func WriteFieldVTK(w io.Writer, m *mesh.Mesh, name string, values []float64) error {
	if len(values) != m.NumVertices() {
		return fmt.Errorf("field has %d values for %d vertices", len(values), m.NumVertices())
	}
	bw := bufio.NewWriter(w)
	header(bw, name)
	writeMesh(bw, m)
	fmt.Fprintf(bw, "POINT_DATA %d\n", len(values))
	fmt.Fprintf(bw, "SCALARS %s double 1\nLOOKUP_TABLE default\n", name)
	for _, v := range values {
		fmt.Fprintf(bw, "%g\n", v)
	}
	return bw.Flush()
}

// WriteOccupancyVTK writes the mesh with the id of the agent covering each
// face, or 0 for free faces. Where disks overlap the first agent wins.
func WriteOccupancyVTK(w io.Writer, m *mesh.Mesh, agents []*agent.Agent) error {
	owner := make([]int, m.NumFaces())
	for _, a := range agents {
		for _, f := range a.CoveredFaces() {
			if owner[f] == 0 {
				owner[f] = a.ID()
			}
		}
	}
	bw := bufio.NewWriter(w)
	header(bw, "occupancy")
	writeMesh(bw, m)
	fmt.Fprintf(bw, "CELL_DATA %d\n", len(owner))
	fmt.Fprintf(bw, "SCALARS agent_id int 1\nLOOKUP_TABLE default\n")
	for _, id := range owner {
		fmt.Fprintf(bw, "%d\n", id)
	}
	return bw.Flush()
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func header(w *bufio.Writer, title string) {
	fmt.Fprintf(w, "# vtk DataFile Version 3.0\n%s\nASCII\nDATASET POLYDATA\n", title)
}

func writeMesh(w *bufio.Writer, m *mesh.Mesh) {
	fmt.Fprintf(w, "POINTS %d float\n", m.NumVertices())
	for v := 0; v < m.NumVertices(); v++ {
		writePoint(w, m.VertexPosition(v))
	}
	fmt.Fprintf(w, "POLYGONS %d %d\n", m.NumFaces(), m.NumFaces()*4)
	for f := 0; f < m.NumFaces(); f++ {
		t := m.Face(f)
		fmt.Fprintf(w, "3 %d %d %d\n", t[0], t[1], t[2])
	}
}

func writePoint(w *bufio.Writer, p r3.Vec) {
	fmt.Fprintf(w, "%g %g %g\n", p.X, p.Y, p.Z)
}
