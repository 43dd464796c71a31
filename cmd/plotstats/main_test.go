package main

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/vg"

	"github.com/pthm-cable/phagosim/telemetry"
)

func TestBuildPlot(t *testing.T) {
	runs := []telemetry.RunSummary{
		{Run: 0, FastResponders: 0, ClearanceTime: 40},
		{Run: 1, FastResponders: 0, ClearanceTime: 50},
		{Run: 2, FastResponders: 4, ClearanceTime: 20},
		{Run: 3, FastResponders: 4, ClearanceTime: -1},
	}
	p, err := buildPlot(runs)
	if err != nil {
		t.Fatalf("buildPlot: %v", err)
	}
	path := filepath.Join(t.TempDir(), "clearance.png")
	if err := p.Save(4*vg.Inch, 3*vg.Inch, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("plot not written: %v", err)
	}
}

func TestBuildPlotNoClearedRuns(t *testing.T) {
	runs := []telemetry.RunSummary{{FastResponders: 2, ClearanceTime: -1}}
	if _, err := buildPlot(runs); err == nil {
		t.Error("expected error without cleared runs")
	}
}
