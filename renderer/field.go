// Package renderer draws a running simulation with raylib.
package renderer

import (
	"image/color"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/phagosim/agent"
	"github.com/pthm-cable/phagosim/export"
	"github.com/pthm-cable/phagosim/mesh"
)

// FieldRenderer uploads the rasterised field and agents into a texture.
type FieldRenderer struct {
	frame   *export.Frame
	size    int
	pixels  []color.RGBA
	texture rl.Texture2D

	initialized bool
}

// NewFieldRenderer creates a renderer for m with a size×size texture.
func NewFieldRenderer(m *mesh.Mesh, size int) *FieldRenderer {
	return &FieldRenderer{
		frame:  export.NewFrame(m, size),
		size:   size,
		pixels: make([]color.RGBA, size*size),
	}
}

// Init allocates the texture (must be called after the raylib window is created).
func (r *FieldRenderer) Init() {
	if r.initialized {
		return
	}
	img := rl.GenImageColor(r.size, r.size, rl.Black)
	r.texture = rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	r.initialized = true
}

// Update re-renders the field values and agents.
func (r *FieldRenderer) Update(values []float64, agents []*agent.Agent) {
	if !r.initialized {
		r.Init()
	}
	img := r.frame.Render(values, agents)
	for i := range r.pixels {
		o := 4 * i
		r.pixels[i] = color.RGBA{R: img.Pix[o], G: img.Pix[o+1], B: img.Pix[o+2], A: img.Pix[o+3]}
	}
	rl.UpdateTexture(r.texture, r.pixels)
}

// Draw blits the texture into a square of side dst at (x, y).
func (r *FieldRenderer) Draw(x, y, dst float32) {
	if !r.initialized {
		return
	}
	rl.DrawTexturePro(
		r.texture,
		rl.Rectangle{X: 0, Y: 0, Width: float32(r.size), Height: float32(r.size)},
		rl.Rectangle{X: x, Y: y, Width: dst, Height: dst},
		rl.Vector2{X: 0, Y: 0},
		0,
		rl.White,
	)
	rl.DrawRectangleLines(int32(x), int32(y), int32(dst), int32(dst), rl.DarkGray)
}

// DrawHeadings draws a short tick along each responder's direction of
// travel, on top of a texture drawn with Draw(x, y, dst).
func (r *FieldRenderer) DrawHeadings(m *mesh.Mesh, agents []*agent.Agent, x, y, dst float32) {
	scale := dst / float32(r.size)
	for _, a := range agents {
		if a.Type().Hostile() {
			continue
		}
		g := m.LocalToGlobal(a.Point(), a.Direction())
		n := math.Hypot(g.X, g.Y)
		if n == 0 {
			continue
		}
		p := a.Position()
		length := 2 * a.Radius()
		px, py := r.frame.ToPixel(p.X, p.Y)
		qx, qy := r.frame.ToPixel(p.X+length*g.X/n, p.Y+length*g.Y/n)
		rl.DrawLineEx(
			rl.Vector2{X: x + float32(px)*scale, Y: y + float32(py)*scale},
			rl.Vector2{X: x + float32(qx)*scale, Y: y + float32(qy)*scale},
			2, rl.RayWhite,
		)
	}
}

// Unload frees the texture.
func (r *FieldRenderer) Unload() {
	if r.initialized {
		rl.UnloadTexture(r.texture)
		r.initialized = false
	}
}
