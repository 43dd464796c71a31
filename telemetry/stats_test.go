package telemetry

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestDistribution(t *testing.T) {
	values := []float64{1.0, 0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.4, 0.6, 0.5}
	mean, p10, p90 := Distribution(values)
	if math.Abs(mean-0.55) > 1e-12 {
		t.Errorf("mean = %v, want 0.55", mean)
	}
	if math.Abs(p10-0.19) > 1e-9 || math.Abs(p90-0.91) > 1e-9 {
		t.Errorf("p10 = %v, p90 = %v, want 0.19, 0.91", p10, p90)
	}
	if values[0] != 1.0 {
		t.Error("Distribution sorted its input")
	}

	if m, lo, hi := Distribution(nil); m != 0 || lo != 0 || hi != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestGroupClearance(t *testing.T) {
	runs := []RunSummary{
		{Run: 0, FastResponders: 4, ClearanceTime: 10},
		{Run: 1, FastResponders: 0, ClearanceTime: 30},
		{Run: 2, FastResponders: 4, ClearanceTime: 20},
		{Run: 3, FastResponders: 0, ClearanceTime: -1},
		{Run: 4, FastResponders: 4, ClearanceTime: 30},
		{Run: 5, FastResponders: 8, ClearanceTime: -1},
	}
	groups := GroupClearance(runs)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}

	tests := []struct {
		fast, runs, cleared int
		mean, median        float64
	}{
		{0, 2, 1, 30, 30},
		{4, 3, 3, 20, 20},
		{8, 1, 0, 0, 0},
	}
	for i, tt := range tests {
		g := groups[i]
		if g.FastResponders != tt.fast || g.Runs != tt.runs || g.Cleared != tt.cleared {
			t.Errorf("group %d = %+v, want fast %d runs %d cleared %d", i, g, tt.fast, tt.runs, tt.cleared)
		}
		if math.Abs(g.Mean-tt.mean) > 1e-12 || math.Abs(g.Median-tt.median) > 1e-12 {
			t.Errorf("group %d mean/median = %v/%v, want %v/%v", i, g.Mean, g.Median, tt.mean, tt.median)
		}
	}
	// Sample standard deviation of 10, 20, 30.
	if math.Abs(groups[1].StdDev-10) > 1e-12 {
		t.Errorf("std = %v, want 10", groups[1].StdDev)
	}
}
