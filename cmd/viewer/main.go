// Interactive viewer: steps one run on screen with sliders for the field
// coefficients.
//
// Usage: go run ./cmd/viewer [-config path] [-seed n] [-fast n]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/phagosim/config"
	"github.com/pthm-cable/phagosim/renderer"
	"github.com/pthm-cable/phagosim/sim"
	"github.com/pthm-cable/phagosim/telemetry"
	"github.com/pthm-cable/phagosim/ui"
)

const (
	previewSize = 640
	textureSize = 512
	panelWidth  = 320
)

// FieldParams holds the slider-controlled coefficients.
type FieldParams struct {
	Diffusion       float32
	Decay           float32
	SourceIntensity float32
}

func paramsFrom(cfg *config.Config) FieldParams {
	return FieldParams{
		Diffusion:       float32(cfg.Field.Diffusion),
		Decay:           float32(cfg.Field.Decay),
		SourceIntensity: float32(cfg.Field.SourceIntensity),
	}
}

type viewer struct {
	cfg    *config.Config
	seed   int64
	fast   int
	params FieldParams

	sim   *sim.Simulation
	perf  *telemetry.PerfCollector
	field *renderer.FieldRenderer
}

func (v *viewer) reset() error {
	space, err := sim.NewSpace(v.cfg, v.seed)
	if err != nil {
		return err
	}
	s, err := sim.New(v.cfg, space, v.fast)
	if err != nil {
		return err
	}
	if err := s.Reconfigure(float64(v.params.Diffusion), float64(v.params.Decay), float64(v.params.SourceIntensity)); err != nil {
		return err
	}
	s.SetPerf(v.perf)
	if v.field != nil {
		v.field.Unload()
	}
	v.field = renderer.NewFieldRenderer(space.Mesh, textureSize)
	v.field.Init()
	v.sim = s
	v.redraw()
	return nil
}

func (v *viewer) redraw() {
	v.field.Update(v.sim.Field().Values(), v.sim.Agents())
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config sweep seed)")
	fast := flag.Int("fast", -1, "Fast responder count (-1 = use config)")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = cfg.Sweep.Seed
	}

	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "Phagocyte Viewer")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	v := &viewer{
		cfg:    cfg,
		seed:   rngSeed,
		fast:   *fast,
		params: paramsFrom(cfg),
		perf:   telemetry.NewPerfCollector(60),
	}
	if err := v.reset(); err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}
	defer func() { v.field.Unload() }()

	w := ui.NewRenderer()
	hud := ui.NewHUD()
	fieldPanel := ui.NewFieldPanel(panelWidth - 20)
	perfPanel := ui.NewPerfPanel(0, 0)
	paused := true
	stepsPerFrame := 1

	for !rl.WindowShouldClose() {
		if rl.IsKeyPressed(rl.KeySpace) {
			paused = !paused
		}
		if rl.IsKeyPressed(rl.KeyComma) && stepsPerFrame > 1 {
			stepsPerFrame--
		}
		if rl.IsKeyPressed(rl.KeyPeriod) && stepsPerFrame < 10 {
			stepsPerFrame++
		}

		stepped := false
		step := func() {
			if v.sim.Done() {
				paused = true
				return
			}
			if err := v.sim.Step(); err != nil {
				slog.Error("step failed", "error", err)
				paused = true
				return
			}
			stepped = true
		}
		if !paused {
			for i := 0; i < stepsPerFrame && !paused; i++ {
				step()
			}
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.RayWhite)

		// Control panel
		panelX := int32(previewSize + 20)
		panelY := int32(10)
		rl.DrawText("Field Parameters", panelX, panelY, 20, rl.DarkGray)
		panelY += 35

		p := v.params
		p.Diffusion, panelY = w.Slider(panelX, panelY, panelWidth, "Diffusion D", "%.3f", p.Diffusion, 0, 0.1)
		p.Decay, panelY = w.Slider(panelX, panelY, panelWidth, "Decay lambda", "%.3f", p.Decay, 0, 0.1)
		p.SourceIntensity, panelY = w.Slider(panelX, panelY, panelWidth, "Source intensity S0", "%.2f", p.SourceIntensity, 0, 5)
		if p != v.params {
			v.params = p
			if err := v.sim.Reconfigure(float64(p.Diffusion), float64(p.Decay), float64(p.SourceIntensity)); err != nil {
				slog.Error("reconfigure failed", "error", err)
			}
		}
		panelY += 10

		if w.Button(panelX, panelY, 120, toggleText(paused, "Run", "Pause")) {
			paused = !paused
		}
		if w.Button(panelX+130, panelY, 120, "Step") {
			step()
		}
		panelY += 40
		if w.Button(panelX, panelY, 120, "Reset") {
			if err := v.reset(); err != nil {
				slog.Error("reset failed", "error", err)
			}
			paused = true
		}
		if w.Button(panelX+130, panelY, 120, "Random Seed") {
			v.seed = int64(rl.GetRandomValue(1, 99999))
			if err := v.reset(); err != nil {
				slog.Error("reset failed", "error", err)
			}
			paused = true
		}
		panelY += 45

		if stepped {
			v.redraw()
		}

		stats := v.sim.Stats(0)
		panelY = fieldPanel.Draw(panelX, panelY, stats, cfg.Kinetics.TotalReceptors)
		perfPanel.SetPosition(panelX, panelY)
		perfPanel.Draw(v.perf.Stats())

		// Simulation view
		v.field.Draw(10, 10, previewSize)
		v.field.DrawHeadings(v.sim.Space().Mesh, v.sim.Agents(), 10, 10, previewSize)

		c := v.sim.Census()
		hud.Draw(10, previewSize+20, ui.HUDData{
			Title:          fmt.Sprintf("Seed %d", v.seed),
			Pathogens:      c.Pathogens,
			Responders:     c.Responders,
			FastResponders: c.FastResponders,
			Step:           v.sim.StepIndex(),
			Time:           v.sim.Time(),
			Clearance:      v.sim.ClearanceTime(),
			Cleared:        v.sim.Cleared(),
			FPS:            rl.GetFPS(),
			Paused:         paused,
		})
		hud.DrawControls(int32(rl.GetScreenHeight()), fmt.Sprintf("Space: run/pause | ,/.: steps per frame (%d) | C: copy field YAML", stepsPerFrame))

		if rl.IsKeyPressed(rl.KeyC) {
			rl.SetClipboardText(fmt.Sprintf("field:\n  diffusion: %.4f\n  decay: %.4f\n  source_intensity: %.3f\n",
				v.params.Diffusion, v.params.Decay, v.params.SourceIntensity))
		}

		rl.EndDrawing()
	}
}

func toggleText(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
