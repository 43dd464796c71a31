package fem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CG is a conjugate-gradient solver for symmetric positive definite systems.
type CG struct {
	RelTol  float64 // stop when |r| <= RelTol*|b|
	MaxIter int
}

// Result describes a finished solve.
type Result struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// Solve solves a*x = b, using the incoming x as the initial guess. Running out
// of iterations is not an error; check Result.Converged.
func (c CG) Solve(a *CSR, b, x []float64) (Result, error) {
	n, _ := a.Dims()
	if len(b) != n || len(x) != n {
		return Result{}, fmt.Errorf("cg: system %d, rhs %d, x %d: %w", n, len(b), len(x), ErrDimension)
	}

	r := make([]float64, n)
	a.MulVec(r, x)
	floats.SubTo(r, b, r)

	target := c.RelTol * floats.Norm(b, 2)
	rr := floats.Dot(r, r)
	res := Result{Residual: math.Sqrt(rr)}
	if res.Residual <= target {
		res.Converged = true
		return res, nil
	}

	p := append([]float64(nil), r...)
	ap := make([]float64, n)
	for res.Iterations < c.MaxIter {
		a.MulVec(ap, p)
		pap := floats.Dot(p, ap)
		if !(pap > 0) || math.IsInf(pap, 0) {
			return res, fmt.Errorf("cg: iteration %d, pAp=%g: %w", res.Iterations, pap, ErrBreakdown)
		}
		alpha := rr / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		res.Iterations++

		rrNew := floats.Dot(r, r)
		res.Residual = math.Sqrt(rrNew)
		if res.Residual <= target {
			res.Converged = true
			return res, nil
		}
		beta := rrNew / rr
		rr = rrNew
		// p = r + beta*p
		floats.AddScaledTo(p, r, beta, p)
	}
	return res, nil
}
