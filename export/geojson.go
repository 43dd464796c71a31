package export

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/mesh"
)

// MeshBound returns the xy bounding box of the mesh vertices.
func MeshBound(m *mesh.Mesh) orb.Bound {
	pts := make(orb.MultiPoint, m.NumVertices())
	for v := range pts {
		p := m.VertexPosition(v)
		pts[v] = orb.Point{p.X, p.Y}
	}
	return pts.Bound()
}

// AgentsGeoJSON builds a feature collection with the domain outline and one
// point per agent projected on the xy plane.
func AgentsGeoJSON(m *mesh.Mesh, agents []*agent.Agent, step int, time float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	domain := geojson.NewFeature(MeshBound(m).ToPolygon())
	domain.Properties["kind"] = "domain"
	domain.Properties["step"] = step
	domain.Properties["time"] = time
	fc.Append(domain)

	for _, a := range agents {
		p := a.Position()
		f := geojson.NewFeature(orb.Point{p.X, p.Y})
		f.ID = a.ID()
		f.Properties["kind"] = "agent"
		f.Properties["type"] = a.Type().String()
		f.Properties["radius"] = a.Radius()
		f.Properties["z"] = p.Z
		if !a.Type().Hostile() {
			f.Properties["free_receptors"] = a.FreeReceptors()
		}
		fc.Append(f)
	}
	return fc
}

// WriteAgentsGeoJSON encodes AgentsGeoJSON to w.
func WriteAgentsGeoJSON(w io.Writer, m *mesh.Mesh, agents []*agent.Agent, step int, time float64) error {
	data, err := AgentsGeoJSON(m, agents, step, time).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding geojson: %w", err)
	}
	_, err = w.Write(data)
	return err
}
