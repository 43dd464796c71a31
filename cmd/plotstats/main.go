// Plot mean clearance time against the number of fast responders from a
// clearance_times.csv table.
//
// Usage: go run ./cmd/plotstats -input output/clearance_times.csv -out clearance.png
package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/pthm-cable/phagosim/telemetry"
)

// errPoints pairs group means with their standard deviations.
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// buildPlot draws the per-run clearance times and the group means with
// one standard deviation error bars. Runs that never cleared are left out.
func buildPlot(runs []telemetry.RunSummary) (*plot.Plot, error) {
	groups := telemetry.GroupClearance(runs)
	var means errPoints
	for _, g := range groups {
		if g.Cleared == 0 {
			continue
		}
		means.XYs = append(means.XYs, plotter.XY{X: float64(g.FastResponders), Y: g.Mean})
		means.YErrors = append(means.YErrors, struct{ Low, High float64 }{g.StdDev, g.StdDev})
	}
	if len(means.XYs) == 0 {
		return nil, errors.New("no cleared runs to plot")
	}

	var scatter plotter.XYs
	for _, r := range runs {
		if r.Cleared() {
			scatter = append(scatter, plotter.XY{X: float64(r.FastResponders), Y: r.ClearanceTime})
		}
	}

	p := plot.New()
	p.Title.Text = "Pathogen clearance"
	p.X.Label.Text = "Number of fast responders"
	p.Y.Label.Text = "Clearance time (min)"
	p.X.Tick.Marker = plot.TickerFunc(func(min, max float64) []plot.Tick {
		var ticks []plot.Tick
		for _, g := range groups {
			x := float64(g.FastResponders)
			ticks = append(ticks, plot.Tick{Value: x, Label: strconv.Itoa(g.FastResponders)})
		}
		return ticks
	})

	if err := plotutil.AddLinePoints(p, "Mean", means.XYs); err != nil {
		return nil, err
	}
	bars, err := plotter.NewYErrorBars(means)
	if err != nil {
		return nil, err
	}
	p.Add(bars)

	runsScatter, err := plotter.NewScatter(scatter)
	if err != nil {
		return nil, err
	}
	runsScatter.GlyphStyle.Color = plotutil.Color(1)
	runsScatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(runsScatter)
	p.Legend.Add("Runs", runsScatter)
	p.Legend.Top = true
	return p, nil
}

func main() {
	input := flag.String("input", "output/clearance_times.csv", "Run summary table written by the sweep")
	out := flag.String("out", "clearance.png", "Output image (format from extension)")
	width := flag.Float64("width", 8, "Image width in inches")
	height := flag.Float64("height", 5, "Image height in inches")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	runs, err := telemetry.ReadSummaries(*input)
	if err != nil {
		slog.Error("failed to read summaries", "error", err)
		os.Exit(1)
	}
	p, err := buildPlot(runs)
	if err != nil {
		slog.Error("failed to build plot", "error", err)
		os.Exit(1)
	}
	if err := p.Save(vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch, *out); err != nil {
		slog.Error("failed to save plot", "error", err)
		os.Exit(1)
	}

	for _, g := range telemetry.GroupClearance(runs) {
		slog.Info("group",
			"number_best", g.FastResponders,
			"runs", g.Runs,
			"cleared", g.Cleared,
			"mean", g.Mean,
			"std", g.StdDev,
			"median", g.Median,
		)
	}
}
