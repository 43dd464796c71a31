package telemetry

import (
	"log/slog"
	"time"
)

// Phase is one timed section of a simulation step.
type Phase int

const (
	PhaseMotion Phase = iota
	PhaseCollision
	PhaseSources
	PhaseSinks
	PhaseSolve
	PhaseOutput
	numPhases

	noPhase Phase = -1
)

var phaseNames = [numPhases]string{"motion", "collision", "sources", "sinks", "solve", "output"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return "unknown"
	}
	return phaseNames[p]
}

// Phases returns every phase in step order.
func Phases() []Phase {
	out := make([]Phase, numPhases)
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}

type tick struct {
	total  time.Duration
	phases [numPhases]time.Duration
	seen   [numPhases]bool
}

// PerfCollector keeps the last window steps' phase timings in a ring. A nil
// collector ignores all calls.
type PerfCollector struct {
	ring  []tick
	next  int
	full  bool
	cur   tick
	start time.Time
	mark  time.Time
	open  Phase
}

// NewPerfCollector returns a collector averaging over window steps.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 60
	}
	return &PerfCollector{ring: make([]tick, window), open: noPhase}
}

// StartTick begins a step.
func (p *PerfCollector) StartTick() {
	if p == nil {
		return
	}
	p.cur = tick{}
	p.start = time.Now()
	p.open = noPhase
}

// StartPhase closes the running phase, if any, and opens ph.
func (p *PerfCollector) StartPhase(ph Phase) {
	if p == nil || ph < 0 || ph >= numPhases {
		return
	}
	now := time.Now()
	p.closePhase(now)
	p.open, p.mark = ph, now
	p.cur.seen[ph] = true
}

// EndTick closes the step and stores it in the ring.
func (p *PerfCollector) EndTick() {
	if p == nil {
		return
	}
	now := time.Now()
	p.closePhase(now)
	p.cur.total = now.Sub(p.start)
	p.ring[p.next] = p.cur
	p.next++
	if p.next == len(p.ring) {
		p.next, p.full = 0, true
	}
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.open != noPhase {
		p.cur.phases[p.open] += now.Sub(p.mark)
		p.open = noPhase
	}
}

// PerfStats summarises the steps held by a collector.
type PerfStats struct {
	Ticks          int
	Mean, Min, Max time.Duration
	TicksPerSecond float64

	PhaseMean  [numPhases]time.Duration
	PhaseShare [numPhases]float64 // percent of Mean
	PhaseTicks [numPhases]int     // steps in which the phase ran
}

// Stats summarises the current window.
func (p *PerfCollector) Stats() PerfStats {
	var s PerfStats
	if p == nil {
		return s
	}
	n := p.next
	if p.full {
		n = len(p.ring)
	}
	if n == 0 {
		return s
	}

	var total time.Duration
	var phaseTotal [numPhases]time.Duration
	for i, t := range p.ring[:n] {
		total += t.total
		if i == 0 || t.total < s.Min {
			s.Min = t.total
		}
		s.Max = max(s.Max, t.total)
		for ph := range phaseTotal {
			phaseTotal[ph] += t.phases[ph]
			if t.seen[ph] {
				s.PhaseTicks[ph]++
			}
		}
	}

	s.Ticks = n
	s.Mean = total / time.Duration(n)
	if s.Mean > 0 {
		s.TicksPerSecond = float64(time.Second) / float64(s.Mean)
	}
	for ph, d := range phaseTotal {
		s.PhaseMean[ph] = d / time.Duration(n)
		if s.Mean > 0 {
			s.PhaseShare[ph] = 100 * float64(s.PhaseMean[ph]) / float64(s.Mean)
		}
	}
	return s
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("ticks", s.Ticks),
		slog.Int64("mean_us", s.Mean.Microseconds()),
		slog.Int64("max_us", s.Max.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	for _, ph := range Phases() {
		if s.PhaseTicks[ph] > 0 {
			attrs = append(attrs, slog.Float64(ph.String()+"_pct", s.PhaseShare[ph]))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	Run          int     `csv:"run"`
	Step         int     `csv:"step"`
	AvgTickUS    int64   `csv:"avg_tick_us"`
	MinTickUS    int64   `csv:"min_tick_us"`
	MaxTickUS    int64   `csv:"max_tick_us"`
	TicksPerSec  float64 `csv:"ticks_per_sec"`
	MotionPct    float64 `csv:"motion_pct"`
	CollisionPct float64 `csv:"collision_pct"`
	SourcesPct   float64 `csv:"sources_pct"`
	SinksPct     float64 `csv:"sinks_pct"`
	SolvePct     float64 `csv:"solve_pct"`
	OutputPct    float64 `csv:"output_pct"`
}

// ToCSV flattens the stats into a perf.csv row.
func (s PerfStats) ToCSV(run, step int) PerfStatsCSV {
	return PerfStatsCSV{
		Run:          run,
		Step:         step,
		AvgTickUS:    s.Mean.Microseconds(),
		MinTickUS:    s.Min.Microseconds(),
		MaxTickUS:    s.Max.Microseconds(),
		TicksPerSec:  s.TicksPerSecond,
		MotionPct:    s.PhaseShare[PhaseMotion],
		CollisionPct: s.PhaseShare[PhaseCollision],
		SourcesPct:   s.PhaseShare[PhaseSources],
		SinksPct:     s.PhaseShare[PhaseSinks],
		SolvePct:     s.PhaseShare[PhaseSolve],
		OutputPct:    s.PhaseShare[PhaseOutput],
	}
}
