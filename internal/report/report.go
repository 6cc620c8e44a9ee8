// Package report renders run artifacts: a PNG scatter of the scenario
// geometry and an HTML page with interactive charts. Three-dimensional
// runs are drawn as XY projections.
package report

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

// ErrBadRun is returned when a Run is missing required fields.
var ErrBadRun = errors.New("report: bad run")

// Run holds everything one estimate needs rendered.
type Run struct {
	// Title heads both artifacts. Empty means "position estimate".
	Title string

	// SamplePositions are the flattened source positions, one per
	// reading.
	SamplePositions []geom.Point

	// InlierFlags marks, per sample, whether the winning candidate
	// kept it. Same length as SamplePositions.
	InlierFlags []bool

	// Residuals holds the winning candidate's residual per sample.
	// Same length as SamplePositions, or nil to skip the residual
	// chart.
	Residuals []float64

	// Truth is the known receiver position in simulated runs, nil
	// otherwise.
	Truth geom.Point

	// Estimate is the estimated receiver position.
	Estimate geom.Point

	// Covariance draws the 95% accuracy ellipse when present.
	Covariance *mat.SymDense

	// Scale is the robust residual scale of the winning candidate.
	Scale float64

	Score      float64
	Iterations int
}

func (r Run) validate() error {
	if len(r.Estimate) < 2 {
		return fmt.Errorf("%w: estimate has %d coordinates", ErrBadRun, len(r.Estimate))
	}
	if len(r.SamplePositions) == 0 {
		return fmt.Errorf("%w: no sample positions", ErrBadRun)
	}
	if len(r.InlierFlags) != len(r.SamplePositions) {
		return fmt.Errorf("%w: %d inlier flags for %d samples", ErrBadRun, len(r.InlierFlags), len(r.SamplePositions))
	}
	if r.Residuals != nil && len(r.Residuals) != len(r.SamplePositions) {
		return fmt.Errorf("%w: %d residuals for %d samples", ErrBadRun, len(r.Residuals), len(r.SamplePositions))
	}
	for i, p := range r.SamplePositions {
		if len(p) < 2 {
			return fmt.Errorf("%w: sample %d has %d coordinates", ErrBadRun, i, len(p))
		}
	}
	if r.Truth != nil && len(r.Truth) < 2 {
		return fmt.Errorf("%w: truth has %d coordinates", ErrBadRun, len(r.Truth))
	}
	return nil
}

func (r Run) title() string {
	if r.Title != "" {
		return r.Title
	}
	return "position estimate"
}

// split separates sample positions into kept and rejected sets.
func (r Run) split() (inliers, outliers []geom.Point) {
	for i, p := range r.SamplePositions {
		if r.InlierFlags[i] {
			inliers = append(inliers, p)
		} else {
			outliers = append(outliers, p)
		}
	}
	return inliers, outliers
}

// numInliers counts set flags.
func (r Run) numInliers() int {
	n := 0
	for _, f := range r.InlierFlags {
		if f {
			n++
		}
	}
	return n
}
