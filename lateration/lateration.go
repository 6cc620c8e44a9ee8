// Package lateration solves for an unknown position from distances to
// known reference positions in 2 or 3 dimensions.
//
// A solve runs in two stages. A linear stage rewrites the circle (or
// sphere) equations into a least squares system and solves it by QR
// factorization, or by SVD in the homogeneous variant. A non-linear
// stage then refines the linear solution with damped Gauss-Newton
// iterations on the true range residuals, optionally producing the
// position covariance. Either stage can be disabled; the non-linear
// stage falls back to the caller's initial position or the weighted
// centroid when no linear solution is available.
package lateration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

var (
	// ErrNotEnoughPositions is returned when fewer reference positions
	// are given than the geometry requires.
	ErrNotEnoughPositions = errors.New("not enough reference positions")

	// ErrBadInput is returned for malformed input: mismatched slice
	// lengths, unsupported dimension, non-finite values, or options
	// giving no solver at all.
	ErrBadInput = errors.New("bad lateration input")

	// ErrDegenerate is returned when the reference geometry does not
	// determine a position (collinear or coincident references).
	ErrDegenerate = errors.New("degenerate reference geometry")

	// ErrNoConvergence is returned when the non-linear refinement does
	// not converge within the iteration budget.
	ErrNoConvergence = errors.New("refinement did not converge")
)

// MinRequiredPositions returns the smallest number of reference
// positions that determines a position in dim dimensions: 3 for 2D,
// 4 for 3D.
func MinRequiredPositions(dim int) int { return dim + 1 }

// Options control a single solve.
type Options struct {
	// LinearSolverUsed enables the linear preliminary stage.
	LinearSolverUsed bool

	// HomogeneousLinearSolverUsed selects the homogeneous (SVD) linear
	// variant instead of the inhomogeneous (QR) one.
	HomogeneousLinearSolverUsed bool

	// RefineSolution enables the non-linear Gauss-Newton stage.
	RefineSolution bool

	// KeepCovariance computes the position covariance at the refined
	// solution. It has no effect without refinement.
	KeepCovariance bool

	// InitialPosition seeds the non-linear stage when the linear stage
	// is disabled. Must have the problem dimension when set.
	InitialPosition geom.Point

	// MaxIterations bounds the Gauss-Newton iterations.
	MaxIterations int

	// ConvergenceTolerance is the relative step size below which the
	// refinement stops.
	ConvergenceTolerance float64
}

// DefaultOptions returns the options used by the robust estimators:
// inhomogeneous linear start, refined solution, covariance kept.
func DefaultOptions() Options {
	return Options{
		LinearSolverUsed:     true,
		RefineSolution:       true,
		KeepCovariance:       true,
		MaxIterations:        100,
		ConvergenceTolerance: 1e-12,
	}
}

// Result is a solved position.
type Result struct {
	Position geom.Point

	// Covariance is (J'WJ)^-1 at the refined solution. Nil unless
	// covariance keeping is enabled, refinement ran, and the normal
	// matrix was invertible.
	Covariance *mat.SymDense

	// Iterations counts non-linear iterations, zero for linear-only
	// solves.
	Iterations int

	// Residual is the weighted RMS range residual at the solution.
	Residual float64
}

// Solve estimates the position implied by distances[i] metres to
// positions[i]. stdDevs holds per-distance standard deviations and may
// be nil for an unweighted solve; non-positive deviations fall back to
// unit weight.
func Solve(positions []geom.Point, distances, stdDevs []float64, opts Options) (Result, error) {
	dim, err := checkInput(positions, distances, stdDevs, opts)
	if err != nil {
		return Result{}, err
	}

	weights := buildWeights(len(distances), stdDevs)

	var seed geom.Point
	switch {
	case opts.LinearSolverUsed && opts.HomogeneousLinearSolverUsed:
		seed, err = solveHomogeneous(positions, distances, weights, dim)
	case opts.LinearSolverUsed:
		seed, err = solveInhomogeneous(positions, distances, weights, dim)
	case opts.InitialPosition != nil:
		seed = opts.InitialPosition.Clone()
	default:
		seed = geom.WeightedCentroid(positions, weights)
	}
	if err != nil {
		if !opts.RefineSolution {
			return Result{}, err
		}
		// The refinement can still converge from a crude seed.
		if opts.InitialPosition != nil {
			seed = opts.InitialPosition.Clone()
		} else {
			seed = geom.WeightedCentroid(positions, weights)
		}
	}

	if !opts.RefineSolution {
		return Result{
			Position: seed,
			Residual: weightedRMS(positions, distances, weights, seed),
		}, nil
	}
	return refine(positions, distances, weights, seed, opts)
}

func checkInput(positions []geom.Point, distances, stdDevs []float64, opts Options) (int, error) {
	if len(positions) == 0 {
		return 0, fmt.Errorf("%w: no positions", ErrNotEnoughPositions)
	}
	dim := positions[0].Dim()
	if dim != 2 && dim != 3 {
		return 0, fmt.Errorf("%w: dimension %d, want 2 or 3", ErrBadInput, dim)
	}
	if len(positions) < MinRequiredPositions(dim) {
		return 0, fmt.Errorf("%w: %d positions, want at least %d", ErrNotEnoughPositions, len(positions), MinRequiredPositions(dim))
	}
	if len(distances) != len(positions) {
		return 0, fmt.Errorf("%w: %d distances for %d positions", ErrBadInput, len(distances), len(positions))
	}
	if stdDevs != nil && len(stdDevs) != len(positions) {
		return 0, fmt.Errorf("%w: %d standard deviations for %d positions", ErrBadInput, len(stdDevs), len(positions))
	}
	for i, p := range positions {
		if p.Dim() != dim {
			return 0, fmt.Errorf("%w: position %d has %d coordinates, want %d", ErrBadInput, i, p.Dim(), dim)
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: non-finite coordinate in position %d", ErrBadInput, i)
			}
		}
	}
	for i, d := range distances {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return 0, fmt.Errorf("%w: distance %d is %v", ErrBadInput, i, d)
		}
	}
	if !opts.LinearSolverUsed && !opts.RefineSolution {
		return 0, fmt.Errorf("%w: both solver stages disabled", ErrBadInput)
	}
	if opts.InitialPosition != nil && opts.InitialPosition.Dim() != dim {
		return 0, fmt.Errorf("%w: initial position has %d coordinates, want %d", ErrBadInput, opts.InitialPosition.Dim(), dim)
	}
	return dim, nil
}

// buildWeights maps standard deviations to 1/sigma^2 weights. Unknown
// deviations weigh 1.
func buildWeights(n int, stdDevs []float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
		if stdDevs != nil && stdDevs[i] > 0 && !math.IsNaN(stdDevs[i]) {
			w[i] = 1 / (stdDevs[i] * stdDevs[i])
		}
	}
	return w
}

func sqNorm(p geom.Point) float64 {
	var s float64
	for _, v := range p {
		s += v * v
	}
	return s
}

func weightedRMS(positions []geom.Point, distances, weights []float64, at geom.Point) float64 {
	var ss, ws float64
	for i, p := range positions {
		r := at.DistanceTo(p) - distances[i]
		ss += weights[i] * r * r
		ws += weights[i]
	}
	if ws == 0 {
		return 0
	}
	return math.Sqrt(ss / ws)
}
