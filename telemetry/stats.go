// Package telemetry records step and run statistics, phase timings and the
// CSV tables written by the sweep.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepStats is the per-step population and field record.
type StepStats struct {
	Run            int     `csv:"run"`
	Step           int     `csv:"step"`
	Time           float64 `csv:"time"`
	Pathogens      int     `csv:"pathogens"`
	Responders     int     `csv:"responders"`
	FastResponders int     `csv:"fast_responders"`
	Removed        int     `csv:"removed"`
	FieldTotal     float64 `csv:"field_total"`
	FieldMax       float64 `csv:"field_max"`
	SolveIters     int     `csv:"solve_iters"`

	// Free receptor distribution over responders of both kinds
	FreeReceptorsMean float64 `csv:"free_receptors_mean"`
	FreeReceptorsP10  float64 `csv:"free_receptors_p10"`
	FreeReceptorsP90  float64 `csv:"free_receptors_p90"`
}

// RunSummary is the end-of-run record. ClearanceTime is negative when the
// pathogens survived the horizon.
type RunSummary struct {
	Run            int     `csv:"simulation_id"`
	FastResponders int     `csv:"number_best"`
	Responders     int     `csv:"number_good"`
	Pathogens      int     `csv:"number_evil"`
	ClearanceTime  float64 `csv:"clearance_time"`
}

// Cleared reports whether the run removed every pathogen.
func (r RunSummary) Cleared() bool { return r.ClearanceTime >= 0 }

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution returns mean, p10 and p90 of values.
func Distribution(values []float64) (mean, p10, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Mean(sorted, nil), Percentile(sorted, 0.10), Percentile(sorted, 0.90)
}

// ClearanceGroup aggregates the runs sharing a fast responder count. Only
// cleared runs enter the time statistics.
type ClearanceGroup struct {
	FastResponders int     `csv:"number_best"`
	Runs           int     `csv:"runs"`
	Cleared        int     `csv:"cleared"`
	Mean           float64 `csv:"mean_clearance_time"`
	StdDev         float64 `csv:"std_clearance_time"`
	Median         float64 `csv:"median_clearance_time"`
}

// GroupClearance groups summaries by fast responder count, in ascending
// count order.
func GroupClearance(runs []RunSummary) []ClearanceGroup {
	times := make(map[int][]float64)
	total := make(map[int]int)
	for _, r := range runs {
		total[r.FastResponders]++
		if r.Cleared() {
			times[r.FastResponders] = append(times[r.FastResponders], r.ClearanceTime)
		}
	}

	keys := make([]int, 0, len(total))
	for k := range total {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	groups := make([]ClearanceGroup, 0, len(keys))
	for _, k := range keys {
		g := ClearanceGroup{FastResponders: k, Runs: total[k], Cleared: len(times[k])}
		if ts := times[k]; len(ts) > 0 {
			sort.Float64s(ts)
			g.Mean, g.StdDev = stat.MeanStdDev(ts, nil)
			g.Median = Percentile(ts, 0.5)
		}
		groups = append(groups, g)
	}
	return groups
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("run", s.Run),
		slog.Int("step", s.Step),
		slog.Float64("time", s.Time),
		slog.Int("pathogens", s.Pathogens),
		slog.Int("responders", s.Responders),
		slog.Int("fast_responders", s.FastResponders),
		slog.Int("removed", s.Removed),
		slog.Float64("field_total", s.FieldTotal),
		slog.Float64("field_max", s.FieldMax),
	)
}

// LogStats logs the step stats using slog.
func (s StepStats) LogStats() {
	slog.Info("stats",
		"run", s.Run,
		"step", s.Step,
		"time", s.Time,
		"pathogens", s.Pathogens,
		"responders", s.Responders+s.FastResponders,
		"removed", s.Removed,
		"field_total", s.FieldTotal,
	)
}
