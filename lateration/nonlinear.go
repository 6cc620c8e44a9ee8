package lateration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

const (
	initialDamping = 1e-3
	maxDamping     = 1e12
	minDamping     = 1e-12
)

// refine runs damped Gauss-Newton iterations on the range residuals
//
//	f_i(x) = |x - p_i| - d_i
//
// from the given seed. Steps solve (J'WJ + lambda*I) dx = -J'Wf; the
// damping factor shrinks on accepted steps and grows on rejected ones.
func refine(positions []geom.Point, distances, weights []float64, seed geom.Point, opts Options) (Result, error) {
	dim := seed.Dim()
	n := len(positions)

	x := seed.Clone()
	j := mat.NewDense(n, dim, nil)
	f := mat.NewVecDense(n, nil)
	g := mat.NewVecDense(dim, nil)
	delta := mat.NewVecDense(dim, nil)
	jtj := mat.NewSymDense(dim, nil)
	damped := mat.NewSymDense(dim, nil)

	// buildAt fills the weighted Jacobian and residual vector at p and
	// returns the cost f'Wf.
	buildAt := func(p geom.Point) float64 {
		var cost float64
		for i, ref := range positions {
			dist := p.DistanceTo(ref)
			r := dist - distances[i]
			sw := math.Sqrt(weights[i])
			// Row gradient is (p-ref)/dist; guard coincident points.
			if dist < 1e-12 {
				dist = 1e-12
			}
			for c := 0; c < dim; c++ {
				j.Set(i, c, sw*(p[c]-ref[c])/dist)
			}
			f.SetVec(i, sw*r)
			cost += weights[i] * r * r
		}
		return cost
	}

	cost := buildAt(x)
	lambda := initialDamping
	tol := opts.ConvergenceTolerance
	if tol <= 0 {
		tol = 1e-12
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	converged := cost <= 1e-24
	iters := 0
	for !converged && iters < maxIter {
		iters++

		jtj.SymOuterK(1, j.T())
		g.MulVec(j.T(), f)

		damped.CopySym(jtj)
		for c := 0; c < dim; c++ {
			damped.SetSym(c, c, jtj.At(c, c)+lambda)
		}

		var chol mat.Cholesky
		if !chol.Factorize(damped) {
			lambda *= 10
			if lambda > maxDamping {
				return Result{}, fmt.Errorf("%w: normal matrix not positive definite", ErrDegenerate)
			}
			continue
		}
		if err := chol.SolveVecTo(delta, g); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
		}

		trial := x.Clone()
		for c := 0; c < dim; c++ {
			trial[c] -= delta.AtVec(c)
		}
		trialCost := buildAt(trial)
		if trialCost < cost {
			x = trial
			cost = trialCost
			lambda /= 10
			if lambda < minDamping {
				lambda = minDamping
			}
			step := mat.Norm(delta, 2)
			if step <= tol*(1+x.Norm()) || cost <= 1e-24 {
				converged = true
			}
		} else {
			// Rejected step: restore the Jacobian at x and damp harder.
			buildAt(x)
			lambda *= 10
			if lambda > maxDamping {
				break
			}
		}
	}
	if !converged {
		return Result{}, fmt.Errorf("%w after %d iterations (cost %.3g)", ErrNoConvergence, iters, cost)
	}

	res := Result{
		Position:   x,
		Iterations: iters,
		Residual:   weightedRMS(positions, distances, weights, x),
	}
	if opts.KeepCovariance {
		res.Covariance = covarianceAt(j, jtj, x, buildAt)
	}
	return res, nil
}

// covarianceAt inverts J'WJ at the solution. A singular normal matrix
// yields no covariance rather than an error.
func covarianceAt(j *mat.Dense, jtj *mat.SymDense, x geom.Point, buildAt func(geom.Point) float64) *mat.SymDense {
	buildAt(x)
	jtj.SymOuterK(1, j.T())

	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil
	}
	return &cov
}
