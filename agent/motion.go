package agent

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	maxMoveBounces = 100
	minRemaining   = 1e-6
	reflectEps     = 1e-12
)

// Move walks the agent along a geodesic for distance, scaled by its speed
// when useSpeed is set. Whenever the walk stops on a boundary or falls short,
// the heading is reflected against the domain bounds and the rest of the
// distance is walked again. More than maxMoveBounces restarts abort the move
// with ErrMoveGuard, leaving the agent where it got to.
func (a *Agent) Move(distance float64, useSpeed bool) error {
	a.coveredValid = false

	length := distance
	if useSpeed {
		length *= a.speed
	}

	for bounce := 0; bounce <= maxMoveBounces; bounce++ {
		res := a.env.Surface.TraceGeodesic(a.pos, r2.Scale(length, a.dir))
		a.pos = res.End
		a.SetDirection(res.Direction)

		remaining := math.Min(length-res.Length, length)
		if !res.HitBoundary && remaining <= minRemaining {
			return nil
		}
		a.reflect()
		length = remaining
	}
	return ErrMoveGuard
}

// reflect negates each global x/y heading component whose coordinate sits on
// a domain bound.
func (a *Agent) reflect() {
	b := a.env.Bounds
	if b.IsZero() {
		return
	}
	x := a.Position()
	g := a.env.Surface.LocalToGlobal(a.pos, a.dir)
	if b.Max[0]-x.X <= reflectEps || x.X-b.Min[0] <= reflectEps {
		g.X = -g.X
	}
	if b.Max[1]-x.Y <= reflectEps || x.Y-b.Min[1] <= reflectEps {
		g.Y = -g.Y
	}
	a.SetDirection(a.env.Surface.GlobalToLocal(a.pos, g))
}

// PersistenceTimer counts the persistence timer down by dt. It reports true,
// and rearms the timer, once the countdown reaches zero.
func (a *Agent) PersistenceTimer(dt float64) bool {
	a.timer -= dt
	if a.timer <= 0 {
		a.timer = a.period
		return true
	}
	return false
}

// ComputeNewBPRWVelocity resamples the heading. With probability
// |cumulative gradient| * sensitivity the agent turns up the accumulated
// gradient; otherwise it turns by a uniform random angle. The accumulator is
// cleared either way.
func (a *Agent) ComputeNewBPRWVelocity() {
	rng := a.env.Rand
	p := rng.Float64()
	if p < r3.Norm(a.cumGradient)*a.kin.Sensitivity {
		local := a.env.Surface.GlobalToLocal(a.pos, a.cumGradient)
		if n := r2.Norm(local); n > 0 {
			a.dir = r2.Scale(1/n, local)
			a.cumGradient = r3.Vec{}
			return
		}
	}
	a.cumGradient = r3.Vec{}

	angle := 2 * math.Pi * rng.Float64()
	a.dir = r2.Rotate(a.dir, angle, r2.Vec{})
}
