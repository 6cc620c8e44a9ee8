package estimator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/lateration"
	"github.com/banshee-data/radiofix/promeds"
	"github.com/banshee-data/radiofix/radio"
)

// measurements is one flattened reading set: parallel arrays with one
// entry per reading, built once per Estimate call and immutable for its
// duration.
type measurements struct {
	positions []geom.Point
	distances []float64
	stdDevs   []float64

	// sourceOf maps a flattened index to its source index; readingOf
	// maps it back to the fingerprint reading index.
	sourceOf  []int
	readingOf []int

	// weights are the combined quality scores, nil when no scores are
	// configured.
	weights []float64
}

// flatten converts the fingerprint into measurement triples: RSSI
// readings pass through the path loss model, unusable deviations take
// the fallback, and source position covariance inflates deviations when
// configured.
func (e *Estimator) flatten() *measurements {
	n := e.fingerprint.Len()
	m := &measurements{
		positions: make([]geom.Point, n),
		distances: make([]float64, n),
		stdDevs:   make([]float64, n),
		sourceOf:  make([]int, n),
		readingOf: make([]int, n),
	}
	if e.sourceScores != nil || e.readingScores != nil {
		m.weights = make([]float64, n)
	}

	for i, r := range e.fingerprint.Readings {
		si := e.sourceIndex[r.SourceID]
		src := e.sources[si]
		m.sourceOf[i] = si
		m.readingOf[i] = i
		m.positions[i] = src.Position

		var dist, sd float64
		switch r.Kind {
		case radio.ReadingRSSI:
			dist = e.cfg.PathLoss.Distance(r.RSSI)
			sd = e.cfg.PathLoss.DistanceStdDev(r.RSSI, r.StdDev)
		default:
			dist = r.Distance
			sd = r.StdDev
		}
		if sd <= 0 || math.IsNaN(sd) {
			sd = e.cfg.FallbackDistanceStdDev
		}
		if e.cfg.SourcePositionCovarianceUsed {
			if v := src.PositionVariance(); v > 0 {
				sd = math.Sqrt(sd*sd + v)
			}
		}
		m.distances[i] = dist
		m.stdDevs[i] = sd

		if m.weights != nil {
			w := 1.0
			if e.sourceScores != nil {
				w *= e.sourceScores[si]
			}
			if e.readingScores != nil {
				w *= e.readingScores[i]
			}
			m.weights[i] = w
		}
	}
	return m
}

// laterationProblem adapts flattened measurements to the robust loop.
type laterationProblem struct {
	m          *measurements
	subsetOpts lateration.Options
	refineOpts lateration.Options

	// Gather buffers reused across candidate solves.
	positions []geom.Point
	distances []float64
	stdDevs   []float64
}

func newLaterationProblem(m *measurements, cfg Config) *laterationProblem {
	subsetOpts := lateration.Options{
		LinearSolverUsed:            cfg.LinearSolverUsed,
		HomogeneousLinearSolverUsed: cfg.HomogeneousLinearSolverUsed,
		RefineSolution:              cfg.PreliminarySolutionRefined,
		InitialPosition:             cfg.InitialPosition,
		MaxIterations:               100,
		ConvergenceTolerance:        1e-12,
	}
	refineOpts := subsetOpts
	refineOpts.RefineSolution = true
	refineOpts.KeepCovariance = cfg.CovarianceKept

	k := cfg.subsetSize(len(m.positions[0]))
	return &laterationProblem{
		m:          m,
		subsetOpts: subsetOpts,
		refineOpts: refineOpts,
		positions:  make([]geom.Point, 0, k),
		distances:  make([]float64, 0, k),
		stdDevs:    make([]float64, 0, k),
	}
}

func (p *laterationProblem) gather(indices []int) {
	p.positions = p.positions[:0]
	p.distances = p.distances[:0]
	p.stdDevs = p.stdDevs[:0]
	for _, i := range indices {
		p.positions = append(p.positions, p.m.positions[i])
		p.distances = append(p.distances, p.m.distances[i])
		p.stdDevs = append(p.stdDevs, p.m.stdDevs[i])
	}
}

func (p *laterationProblem) SolveSubset(indices []int) (lateration.Result, error) {
	p.gather(indices)
	return lateration.Solve(p.positions, p.distances, p.stdDevs, p.subsetOpts)
}

func (p *laterationProblem) Residuals(c lateration.Result, dst []float64) {
	for i, pos := range p.m.positions {
		dst[i] = p.m.distances[i] - c.Position.DistanceTo(pos)
	}
}

func (p *laterationProblem) Refine(inliers []int, best lateration.Result) (lateration.Result, error) {
	p.gather(inliers)
	opts := p.refineOpts
	opts.LinearSolverUsed = false
	opts.InitialPosition = best.Position
	return lateration.Solve(p.positions, p.distances, p.stdDevs, opts)
}

// Estimate runs the robust loop over the configured data. It locks the
// estimator for the duration of the call; the lock is released on every
// exit path. On success the result is also retained for the getters.
func (e *Estimator) Estimate() (*Result, error) {
	if e.locked {
		return nil, ErrLocked
	}
	if !e.IsReady() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, e.notReadyReason())
	}
	e.locked = true
	defer func() { e.locked = false }()

	if e.listener != nil {
		e.listener.OnEstimateStart(e)
	}

	m := e.flatten()
	problem := newLaterationProblem(m, e.cfg)

	src := e.cfg.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	cfg := promeds.Config{
		SubsetSize:       e.cfg.subsetSize(e.dim),
		MaxIterations:    e.cfg.MaxIterations,
		Confidence:       e.cfg.Confidence,
		StopThreshold:    e.cfg.StopThreshold,
		ProgressDelta:    e.cfg.ProgressDelta,
		RefineResult:     e.cfg.ResultRefined,
		EvenlyDistribute: e.cfg.EvenlyDistributeReadings,
		Weights:          m.weights,
		Groups:           m.sourceOf,
		Src:              src,
	}
	var cb promeds.Callbacks
	if e.listener != nil {
		cb.OnIteration = func(iteration int) { e.listener.OnEstimateNextIteration(e, iteration) }
		cb.OnProgress = func(progress float64) { e.listener.OnEstimateProgressChange(e, progress) }
	}

	run, err := promeds.Run[lateration.Result](problem, e.fingerprint.Len(), cfg, cb)
	if err != nil {
		if errors.Is(err, promeds.ErrConfig) {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, err
	}

	res := &Result{
		Position:   run.Best.Position,
		Inliers:    run.Inliers,
		Iterations: run.Iterations,
		Refined:    run.Refined,
		Score:      run.Score,
	}
	if run.Refined {
		res.Covariance = run.Best.Covariance
	}
	e.last = res
	e.lastMeasurements = m

	if e.listener != nil {
		e.listener.OnEstimateEnd(e)
	}
	return res, nil
}

func (e *Estimator) notReadyReason() string {
	switch {
	case len(e.sources) < e.MinRequiredSources():
		return fmt.Sprintf("%d sources configured, want at least %d", len(e.sources), e.MinRequiredSources())
	case e.fingerprint.Len() == 0:
		return "no fingerprint readings"
	case e.fingerprint.Len() < e.cfg.subsetSize(e.dim):
		return fmt.Sprintf("%d readings for subsets of %d", e.fingerprint.Len(), e.cfg.subsetSize(e.dim))
	}
	for _, r := range e.fingerprint.Readings {
		if _, known := e.sourceIndex[r.SourceID]; !known {
			return fmt.Sprintf("reading references unknown source %q", r.SourceID)
		}
	}
	if e.sourceScores != nil && len(e.sourceScores) != len(e.sources) {
		return "source quality scores out of step with sources"
	}
	if e.readingScores != nil && len(e.readingScores) != e.fingerprint.Len() {
		return "reading quality scores out of step with fingerprint"
	}
	return "too few distinct sources referenced by readings"
}

// Positions returns the flattened source positions of the last
// successful estimate, one per reading.
func (e *Estimator) Positions() []geom.Point {
	if e.lastMeasurements == nil {
		return nil
	}
	return e.lastMeasurements.positions
}

// Distances returns the flattened distances of the last successful
// estimate, one per reading, RSSI readings already converted.
func (e *Estimator) Distances() []float64 {
	if e.lastMeasurements == nil {
		return nil
	}
	return e.lastMeasurements.distances
}

// DistanceStandardDeviations returns the flattened deviations of the
// last successful estimate, fallbacks and covariance inflation applied.
func (e *Estimator) DistanceStandardDeviations() []float64 {
	if e.lastMeasurements == nil {
		return nil
	}
	return e.lastMeasurements.stdDevs
}
