package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/icza/mjpeg"
	"github.com/paulmach/orb"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/mesh"
)

var (
	background = color.RGBA{16, 16, 24, 255}
	agentColor = map[agent.Type]color.RGBA{
		agent.Pathogen:      {220, 40, 40, 255},
		agent.Responder:     {60, 200, 90, 255},
		agent.FastResponder: {250, 220, 60, 255},
	}
)

// Frame rasterises a top-down view of the field over the mesh with agents
// drawn as filled circles. Faces and agents on the far side of a closed
// surface (normal pointing away from +z) are skipped.
type Frame struct {
	mesh  *mesh.Mesh
	size  int
	bound orb.Bound
	scale float64
}

// NewFrame prepares a size×size raster fitted to the xy extent of m.
func NewFrame(m *mesh.Mesh, size int) *Frame {
	b := MeshBound(m)
	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if span <= 0 {
		span = 1
	}
	return &Frame{mesh: m, size: size, bound: b, scale: float64(size-1) / span}
}

// ToPixel maps xy world coordinates to image coordinates.
func (fr *Frame) ToPixel(x, y float64) (float64, float64) {
	px := (x - fr.bound.Min[0]) * fr.scale
	// image rows grow downwards
	py := float64(fr.size-1) - (y-fr.bound.Min[1])*fr.scale
	return px, py
}

// Render draws the field values and agents into a new image. The colour
// ramp is normalised to the largest value.
func (fr *Frame) Render(values []float64, agents []*agent.Agent) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fr.size, fr.size))
	for y := 0; y < fr.size; y++ {
		for x := 0; x < fr.size; x++ {
			img.SetRGBA(x, y, background)
		}
	}

	vmax := 0.0
	for _, v := range values {
		if v > vmax {
			vmax = v
		}
	}
	for f := 0; f < fr.mesh.NumFaces(); f++ {
		if fr.mesh.FaceNormal(f).Z < 0 {
			continue
		}
		fr.fillFace(img, f, values, vmax)
	}

	for _, a := range agents {
		if _, _, n := fr.mesh.TangentBasis(a.Point()); n.Z < 0 {
			continue
		}
		p := a.Position()
		cx, cy := fr.ToPixel(p.X, p.Y)
		r := math.Max(a.Radius()*fr.scale, 1.5)
		fillCircle(img, cx, cy, r, agentColor[a.Type()])
	}
	return img
}

func (fr *Frame) fillFace(img *image.RGBA, f int, values []float64, vmax float64) {
	tri := fr.mesh.Face(f)
	var px, py, val [3]float64
	for i, v := range tri {
		p := fr.mesh.VertexPosition(v)
		px[i], py[i] = fr.ToPixel(p.X, p.Y)
		if v < len(values) {
			val[i] = values[v]
		}
	}
	det := (py[1]-py[2])*(px[0]-px[2]) + (px[2]-px[1])*(py[0]-py[2])
	if math.Abs(det) < 1e-12 {
		return
	}
	x0 := int(math.Floor(math.Min(px[0], math.Min(px[1], px[2]))))
	x1 := int(math.Ceil(math.Max(px[0], math.Max(px[1], px[2]))))
	y0 := int(math.Floor(math.Min(py[0], math.Min(py[1], py[2]))))
	y1 := int(math.Ceil(math.Max(py[0], math.Max(py[1], py[2]))))
	bounds := img.Bounds()
	for y := max(y0, bounds.Min.Y); y <= min(y1, bounds.Max.Y-1); y++ {
		for x := max(x0, bounds.Min.X); x <= min(x1, bounds.Max.X-1); x++ {
			fx, fy := float64(x), float64(y)
			l0 := ((py[1]-py[2])*(fx-px[2]) + (px[2]-px[1])*(fy-py[2])) / det
			l1 := ((py[2]-py[0])*(fx-px[2]) + (px[0]-px[2])*(fy-py[2])) / det
			l2 := 1 - l0 - l1
			if l0 < -1e-9 || l1 < -1e-9 || l2 < -1e-9 {
				continue
			}
			v := l0*val[0] + l1*val[1] + l2*val[2]
			img.SetRGBA(x, y, ramp(v, vmax))
		}
	}
}

// ramp maps v in [0, vmax] from dark blue to white-hot red.
func ramp(v, vmax float64) color.RGBA {
	t := 0.0
	if vmax > 0 {
		t = math.Min(math.Max(v/vmax, 0), 1)
	}
	return color.RGBA{
		R: uint8(40 + 215*t),
		G: uint8(40 + 120*t*t),
		B: uint8(120 * (1 - t)),
		A: 255,
	}
}

func fillCircle(img *image.RGBA, cx, cy, r float64, c color.RGBA) {
	b := img.Bounds()
	for y := max(int(cy-r), b.Min.Y); y <= min(int(cy+r), b.Max.Y-1); y++ {
		for x := max(int(cx-r), b.Min.X); x <= min(int(cx+r), b.Max.X-1); x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// Movie appends rendered frames to an MJPEG AVI file.
type Movie struct {
	writer mjpeg.AviWriter
	frame  *Frame
	buf    bytes.Buffer
	opts   jpeg.Options
	frames int
}

// NewMovie creates an AVI at path with size×size frames played at fps.
func NewMovie(path string, m *mesh.Mesh, size, fps int) (*Movie, error) {
	if size < 2 || fps < 1 {
		return nil, fmt.Errorf("movie: invalid size %d or fps %d", size, fps)
	}
	w, err := mjpeg.New(path, int32(size), int32(size), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("creating movie: %w", err)
	}
	return &Movie{writer: w, frame: NewFrame(m, size), opts: jpeg.Options{Quality: 90}}, nil
}

// AddFrame renders and appends one frame.
func (mv *Movie) AddFrame(values []float64, agents []*agent.Agent) error {
	mv.buf.Reset()
	if err := jpeg.Encode(&mv.buf, mv.frame.Render(values, agents), &mv.opts); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := mv.writer.AddFrame(mv.buf.Bytes()); err != nil {
		return fmt.Errorf("adding frame: %w", err)
	}
	mv.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (mv *Movie) Frames() int { return mv.frames }

// Close finalises the AVI index.
func (mv *Movie) Close() error {
	return mv.writer.Close()
}
