package agent

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// UpdateLigandReceptors records the binding flux and the mean field gradient
// seen by the agent this step.
func (a *Agent) UpdateLigandReceptors(boundFlux float64, avgGradient r3.Vec) {
	a.newlyBound = boundFlux
	a.avgGradient = avgGradient
}

// StepLigandReceptors advances the receptor kinetics by one explicit Euler
// step of length dt and accumulates the chemotactic gradient signal.
//
// The binding flux is clamped so that a single step cannot bind more than
// the free receptors. Euler drift of the total is left as is.
func (a *Agent) StepLigandReceptors(dt float64) {
	if gn := r3.Norm(a.avgGradient); gn > 0 {
		cDiff := 8 * a.radius / (3 * math.Pi) * gn
		dLR := a.kin.KBinding * cDiff * a.free * dt / 2
		a.cumGradient = r3.Add(a.cumGradient, r3.Scale(dLR/gn, a.avgGradient))
	}

	flux := a.newlyBound
	if dt*flux > a.free {
		flux = a.free / dt
	}

	dFree := a.kin.KRecycled*a.inter - flux
	dBound := flux - a.kin.KInternalized*a.bound
	dInter := a.kin.KInternalized*a.bound - a.kin.KRecycled*a.inter

	a.free += dt * dFree
	a.bound += dt * dBound
	a.inter += dt * dInter
}
