package mesh

import (
	"fmt"
	"math"

	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/spatial/r3"
)

const locatePad = 1e-6

type faceBox struct {
	face int
	rect rtreego.Rect
}

func (b faceBox) Bounds() rtreego.Rect { return b.rect }

// Locator finds the face under a point of space using an R-tree over padded
// face bounding boxes.
type Locator struct {
	mesh *Mesh
	tree *rtreego.Rtree
}

// NewLocator indexes every face of m.
func NewLocator(m *Mesh) (*Locator, error) {
	spatials := make([]rtreego.Spatial, 0, m.NumFaces())
	for f, tri := range m.faces {
		lo := m.positions[tri[0]]
		hi := lo
		for _, v := range tri[1:] {
			p := m.positions[v]
			lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
			hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
		}
		rect, err := rtreego.NewRect(
			rtreego.Point{lo.X - locatePad, lo.Y - locatePad, lo.Z - locatePad},
			[]float64{hi.X - lo.X + 2*locatePad, hi.Y - lo.Y + 2*locatePad, hi.Z - lo.Z + 2*locatePad},
		)
		if err != nil {
			return nil, fmt.Errorf("face %d bounds: %w", f, err)
		}
		spatials = append(spatials, faceBox{face: f, rect: rect})
	}
	return &Locator{mesh: m, tree: rtreego.NewTree(3, 25, 50, spatials...)}, nil
}

// Locate returns the in-face surface point closest to x among the faces whose
// bounding box contains x. ok is false when no face is near x.
func (l *Locator) Locate(x r3.Vec) (SurfacePoint, bool) {
	probe, err := rtreego.NewRect(
		rtreego.Point{x.X - locatePad, x.Y - locatePad, x.Z - locatePad},
		[]float64{2 * locatePad, 2 * locatePad, 2 * locatePad},
	)
	if err != nil {
		return SurfacePoint{}, false
	}

	best := SurfacePoint{}
	bestErr := math.Inf(1)
	for _, s := range l.tree.SearchIntersect(probe) {
		f := s.(faceBox).face
		bary := l.mesh.Barycentric(f, x)
		// Distance outside the triangle in barycentric units plus the
		// offset from its plane.
		outside := math.Max(0, -bary[0]) + math.Max(0, -bary[1]) + math.Max(0, -bary[2])
		n := l.mesh.faceNormals[f]
		off := math.Abs(r3.Dot(r3.Sub(x, l.mesh.positions[l.mesh.faces[f][0]]), n))
		if score := outside + off; score < bestErr {
			bestErr = score
			best = FacePoint(f, clampBary(bary))
		}
	}
	return best, best.Kind == InFace
}
