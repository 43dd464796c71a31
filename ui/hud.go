package ui

import (
	"fmt"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/phagosim/telemetry"
)

// HUDData holds all the data needed to render the main HUD.
type HUDData struct {
	Title          string
	Pathogens      int
	Responders     int
	FastResponders int
	Step           int
	Time           float64
	Clearance      float64
	Cleared        bool
	FPS            int32
	Paused         bool
}

// HUD renders the main heads-up display.
type HUD struct {
	renderer *Renderer
}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{renderer: NewRenderer()}
}

// Draw renders the HUD at (x, y) and returns the next free Y position.
func (h *HUD) Draw(x, y int32, data HUDData) int32 {
	rl.DrawText(data.Title, x, y, 20, rl.DarkGray)
	y += 25

	rl.DrawText(
		fmt.Sprintf("Pathogens: %d | Responders: %d | Fast: %d", data.Pathogens, data.Responders, data.FastResponders),
		x, y, 16, rl.Gray,
	)
	y += 20
	rl.DrawText(fmt.Sprintf("Step: %d | Time: %.1f | FPS: %d", data.Step, data.Time, data.FPS), x, y, 16, rl.Gray)
	y += 20

	status, color := "Running", rl.DarkGreen
	switch {
	case data.Cleared:
		status, color = fmt.Sprintf("Cleared at t=%.1f", data.Clearance), rl.Maroon
	case data.Paused:
		status, color = "PAUSED", rl.Orange
	}
	rl.DrawText(status, x, y, 16, color)
	return y + 25
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

// PerfPanel renders the step phase breakdown.
type PerfPanel struct {
	renderer *Renderer
	x, y     int32
}

// NewPerfPanel creates a new performance panel.
func NewPerfPanel(x, y int32) *PerfPanel {
	return &PerfPanel{renderer: NewRenderer(), x: x, y: y}
}

// SetPosition moves the panel.
func (p *PerfPanel) SetPosition(x, y int32) {
	p.x, p.y = x, y
}

// Draw renders the performance panel.
func (p *PerfPanel) Draw(stats telemetry.PerfStats) {
	x, y := p.x, p.y

	rl.DrawText("Step Performance", x, y, 16, rl.DarkGray)
	y += 20
	rl.DrawText(fmt.Sprintf("Avg: %s  (%.0f steps/s)", stats.Mean.Round(time.Microsecond), stats.TicksPerSecond), x, y, 14, rl.Gray)
	y += 16

	for _, ph := range telemetry.Phases() {
		pct := stats.PhaseShare[ph]
		color := rl.Gray
		if pct > 50 {
			color = rl.Red
		} else if pct > 25 {
			color = rl.Orange
		}
		rl.DrawText(
			fmt.Sprintf("%-10s %8s %5.1f%%", ph, stats.PhaseMean[ph].Round(time.Microsecond), pct),
			x, y, 12, color,
		)
		y += 14
	}
}

// FieldPanel shows the field coefficients and the receptor state of the
// responders.
type FieldPanel struct {
	renderer *Renderer
	width    int32
}

// NewFieldPanel creates a field panel of the given width.
func NewFieldPanel(width int32) *FieldPanel {
	return &FieldPanel{renderer: NewRenderer(), width: width}
}

// Draw renders the panel at (x, y) from the latest step record and returns
// the next free Y position. totalReceptors scales the receptor bars.
func (f *FieldPanel) Draw(x, y int32, s telemetry.StepStats, totalReceptors float64) int32 {
	r := f.renderer
	pad := r.Theme.Padding
	height := 7*r.Theme.LineHeight + 3*(r.Theme.LineHeight+2) + 2*pad
	r.DrawPanel(x, y, f.width, height)

	cx, cy := x+pad, y+pad
	cy = r.DrawSectionHeader(cx, cy, "Field")
	cy = r.DrawLabelValue(cx, cy, "Total", fmt.Sprintf("%.4g", s.FieldTotal))
	cy = r.DrawLabelValue(cx, cy, "Max", fmt.Sprintf("%.4g", s.FieldMax))
	cy = r.DrawLabelValue(cx, cy, "CG iterations", fmt.Sprintf("%d", s.SolveIters))
	cy = r.DrawLabelValue(cx, cy, "Removed", fmt.Sprintf("%d", s.Removed))

	cy = r.DrawSectionHeader(cx, cy+4, "Free receptors")
	scale := func(v float64) float32 {
		if totalReceptors <= 0 {
			return 0
		}
		return float32(v / totalReceptors)
	}
	w := f.width - 2*pad
	cy = r.DrawBar(cx, cy, "p10", scale(s.FreeReceptorsP10), w)
	cy = r.DrawBar(cx, cy, "mean", scale(s.FreeReceptorsMean), w)
	cy = r.DrawBar(cx, cy, "p90", scale(s.FreeReceptorsP90), w)
	return y + height + pad
}
