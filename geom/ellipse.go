package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidCovariance is returned when a covariance matrix cannot
// describe a confidence region (wrong size, not positive semidefinite,
// or a failed decomposition).
var ErrInvalidCovariance = errors.New("invalid position covariance")

// Ellipse is a confidence region around an estimated position. For 2D
// estimates it is an ellipse, for 3D an ellipsoid. SemiAxes are sorted
// descending and Axes holds the matching unit direction vectors.
type Ellipse struct {
	Center   Point
	SemiAxes []float64
	Axes     []Point

	// Confidence is the probability mass enclosed by the region.
	Confidence float64
}

// ConfidenceEllipse derives the confidence region at the given level
// from a position covariance. The covariance dimension must match the
// center point.
func ConfidenceEllipse(center Point, cov *mat.SymDense, confidence float64) (Ellipse, error) {
	dim := center.Dim()
	if cov == nil || cov.SymmetricDim() != dim {
		return Ellipse{}, fmt.Errorf("%w: covariance dimension does not match %dD center", ErrInvalidCovariance, dim)
	}
	if confidence <= 0 || confidence >= 1 {
		return Ellipse{}, fmt.Errorf("%w: confidence %v outside (0,1)", ErrInvalidCovariance, confidence)
	}

	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		return Ellipse{}, fmt.Errorf("%w: eigen decomposition failed", ErrInvalidCovariance)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Chi-square quantile scales eigenvalues to the requested mass.
	scale := distuv.ChiSquared{K: float64(dim)}.Quantile(confidence)

	e := Ellipse{
		Center:     center.Clone(),
		SemiAxes:   make([]float64, dim),
		Axes:       make([]Point, dim),
		Confidence: confidence,
	}
	// EigenSym returns ascending eigenvalues; report descending.
	for i := 0; i < dim; i++ {
		src := dim - 1 - i
		if vals[src] < 0 {
			if vals[src] < -1e-12 {
				return Ellipse{}, fmt.Errorf("%w: negative eigenvalue %v", ErrInvalidCovariance, vals[src])
			}
			vals[src] = 0
		}
		e.SemiAxes[i] = math.Sqrt(vals[src] * scale)
		axis := make(Point, dim)
		for r := 0; r < dim; r++ {
			axis[r] = vecs.At(r, src)
		}
		e.Axes[i] = axis
	}
	return e, nil
}

// Orientation returns the angle in radians between the major axis and
// the +x direction. It is only meaningful for 2D ellipses.
func (e Ellipse) Orientation() float64 {
	if len(e.Axes) == 0 || len(e.Axes[0]) < 2 {
		return 0
	}
	return math.Atan2(e.Axes[0][1], e.Axes[0][0])
}

// Outline samples n points around a 2D ellipse boundary for plotting.
// It returns nil for other dimensions or n < 3.
func (e Ellipse) Outline(n int) []Point {
	if len(e.Center) != 2 || len(e.SemiAxes) != 2 || n < 3 {
		return nil
	}
	theta := e.Orientation()
	cos, sin := math.Cos(theta), math.Sin(theta)
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		x := e.SemiAxes[0] * math.Cos(t)
		y := e.SemiAxes[1] * math.Sin(t)
		out[i] = Point{
			e.Center[0] + x*cos - y*sin,
			e.Center[1] + x*sin + y*cos,
		}
	}
	return out
}
