// Package sim wires the mesh, field, agents and collision handling into a
// step-driven simulation.
package sim

import (
	"fmt"
	"math/rand"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/config"
	"github.com/pthm-cable/phagosim/fem"
	"github.com/pthm-cable/phagosim/geodesic"
	"github.com/pthm-cable/phagosim/mesh"
)

// Space is the shared geometric context of a run: the surface, its function
// space, a point locator and the agent environment carrying the run's single
// random generator.
type Space struct {
	Mesh    *mesh.Mesh
	FE      *fem.Space
	Locator *mesh.Locator
	Env     *agent.Env
}

// NewSpace builds the surface described by cfg and seeds the generator.
func NewSpace(cfg *config.Config, seed int64) (*Space, error) {
	m, err := buildMesh(cfg.Mesh)
	if err != nil {
		return nil, err
	}
	loc, err := mesh.NewLocator(m)
	if err != nil {
		return nil, fmt.Errorf("building locator: %w", err)
	}
	d := cfg.Domain
	return &Space{
		Mesh:    m,
		FE:      fem.NewSpace(m),
		Locator: loc,
		Env: &agent.Env{
			Surface: m,
			Bounds:  orb.Bound{Min: orb.Point{d.MinX, d.MinY}, Max: orb.Point{d.MaxX, d.MaxY}},
			Rand:    rand.New(rand.NewSource(seed)),
		},
	}, nil
}

func buildMesh(c config.MeshConfig) (*mesh.Mesh, error) {
	switch c.Kind {
	case "plane":
		return mesh.NewPlanar(c.Width, c.Height, c.Nx, c.Ny)
	case "sphere":
		return mesh.NewSphere(c.Radius, c.Subdivisions)
	}
	return nil, fmt.Errorf("unknown mesh kind %q", c.Kind)
}

// Rand returns the run's random generator.
func (s *Space) Rand() *rand.Rand { return s.Env.Rand }

// Oracle returns the log map oracle named by method.
func (s *Space) Oracle(method string) (geodesic.Oracle, error) {
	switch method {
	case "chordal":
		return geodesic.Chordal{Mesh: s.Mesh}, nil
	case "heat":
		h, err := geodesic.NewHeatSolver(s.FE)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, fmt.Errorf("unknown log map method %q", method)
}

// Place locates the surface point under coords, given as [x, y] or [x, y, z].
func (s *Space) Place(coords []float64) (mesh.SurfacePoint, bool) {
	var x r3.Vec
	switch len(coords) {
	case 3:
		x.Z = coords[2]
		fallthrough
	case 2:
		x.X, x.Y = coords[0], coords[1]
	default:
		return mesh.SurfacePoint{}, false
	}
	return s.Locator.Locate(x)
}

// RandomCentroid returns the centroid of a uniformly drawn face.
func (s *Space) RandomCentroid() mesh.SurfacePoint {
	return mesh.CentroidPoint(s.Env.Rand.Intn(s.Mesh.NumFaces()))
}
