package estimator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/lateration"
	"github.com/banshee-data/radiofix/promeds"
	"github.com/banshee-data/radiofix/radio"
)

var (
	// ErrConfiguration is returned when a setter or constructor is
	// given an illegal value.
	ErrConfiguration = errors.New("invalid estimator configuration")

	// ErrLocked is returned by mutators and re-entrant Estimate calls
	// while an estimate is in flight.
	ErrLocked = errors.New("estimator is locked")

	// ErrNotReady is returned by Estimate when the estimator does not
	// hold enough consistent data to solve.
	ErrNotReady = errors.New("estimator is not ready")
)

// Listener receives synchronous notifications during Estimate. The
// estimator is locked for the duration of every callback.
type Listener interface {
	// OnEstimateStart fires after the estimator locks, before solving.
	OnEstimateStart(e *Estimator)

	// OnEstimateEnd fires after a successful estimate, while still
	// locked.
	OnEstimateEnd(e *Estimator)

	// OnEstimateNextIteration fires at the start of every robust
	// sampling iteration, counting from 1.
	OnEstimateNextIteration(e *Estimator, iteration int)

	// OnEstimateProgressChange fires when estimated progress advances
	// by at least the configured delta.
	OnEstimateProgressChange(e *Estimator, progress float64)
}

// Config is the scalar and boolean configuration of an estimator.
// Validation happens when the config is applied, not when it is built.
type Config struct {
	// StopThreshold ends the robust loop early once a candidate's
	// weighted median of squared residuals falls to or below it.
	// Strictly positive, in squared metres.
	StopThreshold float64

	// ProgressDelta is the minimum progress advance between listener
	// progress callbacks, in [0, 1].
	ProgressDelta float64

	// Confidence is the target probability of sampling at least one
	// all-inlier subset, in [0, 1).
	Confidence float64

	// MaxIterations caps robust sampling iterations.
	MaxIterations int

	// SubsetSize is the number of readings per candidate solve. Zero
	// selects the geometric minimum for the estimator's dimension;
	// explicit values below that minimum are rejected.
	SubsetSize int

	// LinearSolverUsed enables the linear stage of candidate solves.
	LinearSolverUsed bool

	// HomogeneousLinearSolverUsed selects the homogeneous linear
	// variant.
	HomogeneousLinearSolverUsed bool

	// PreliminarySolutionRefined runs the non-linear stage on every
	// candidate solve.
	PreliminarySolutionRefined bool

	// ResultRefined re-solves with all inliers after the robust loop.
	ResultRefined bool

	// CovarianceKept computes the position covariance on the final
	// refine.
	CovarianceKept bool

	// EvenlyDistributeReadings caps subsets at one reading per source
	// while unused sources remain.
	EvenlyDistributeReadings bool

	// SourcePositionCovarianceUsed inflates per-reading deviations
	// with the source position covariance.
	SourcePositionCovarianceUsed bool

	// FallbackDistanceStdDev stands in for unusable reading
	// deviations, in metres. Strictly positive.
	FallbackDistanceStdDev float64

	// InitialPosition optionally seeds non-linear solves when the
	// linear stage is disabled.
	InitialPosition geom.Point

	// PathLoss converts RSSI readings to distances.
	PathLoss radio.PathLossModel

	// Src seeds subset sampling. Nil draws a fresh seed per estimator.
	Src rand.Source
}

// DefaultConfig returns the estimator defaults: linear start, refined
// result with covariance, evenly distributed subsets of minimum size.
func DefaultConfig() Config {
	return Config{
		StopThreshold:              1e-6,
		ProgressDelta:              0.05,
		Confidence:                 0.99,
		MaxIterations:              5000,
		LinearSolverUsed:           true,
		PreliminarySolutionRefined: true,
		ResultRefined:              true,
		CovarianceKept:             true,
		EvenlyDistributeReadings:   true,
		FallbackDistanceStdDev:     1,
		PathLoss:                   radio.DefaultPathLossModel(),
	}
}

func (c Config) validate(dim int) error {
	if c.StopThreshold <= 0 || math.IsNaN(c.StopThreshold) {
		return fmt.Errorf("%w: stop threshold %v", ErrConfiguration, c.StopThreshold)
	}
	if c.ProgressDelta < 0 || c.ProgressDelta > 1 || math.IsNaN(c.ProgressDelta) {
		return fmt.Errorf("%w: progress delta %v outside [0,1]", ErrConfiguration, c.ProgressDelta)
	}
	if c.Confidence < 0 || c.Confidence >= 1 || math.IsNaN(c.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1)", ErrConfiguration, c.Confidence)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d", ErrConfiguration, c.MaxIterations)
	}
	if min := lateration.MinRequiredPositions(dim); c.SubsetSize != 0 && c.SubsetSize < min {
		return fmt.Errorf("%w: subset size %d below the %dD minimum %d", ErrConfiguration, c.SubsetSize, dim, min)
	}
	if !c.LinearSolverUsed && !c.PreliminarySolutionRefined {
		return fmt.Errorf("%w: linear solver and preliminary refinement both disabled", ErrConfiguration)
	}
	if c.FallbackDistanceStdDev <= 0 || math.IsNaN(c.FallbackDistanceStdDev) {
		return fmt.Errorf("%w: fallback distance deviation %v", ErrConfiguration, c.FallbackDistanceStdDev)
	}
	if c.InitialPosition != nil && c.InitialPosition.Dim() != dim {
		return fmt.Errorf("%w: initial position has %d coordinates, want %d", ErrConfiguration, c.InitialPosition.Dim(), dim)
	}
	if err := c.PathLoss.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// subsetSize resolves the zero auto value.
func (c Config) subsetSize(dim int) int {
	if c.SubsetSize == 0 {
		return lateration.MinRequiredPositions(dim)
	}
	return c.SubsetSize
}

// Params is the full construction surface. Only Config is consulted
// through its pointer: nil means DefaultConfig. Data fields left nil
// stay unset and can be supplied later through setters.
type Params struct {
	Config               *Config
	Sources              []radio.Source
	Fingerprint          *radio.Fingerprint
	SourceQualityScores  []float64
	ReadingQualityScores []float64
	Listener             Listener
}

// Estimator estimates a fixed-dimension position. It is not safe for
// concurrent use; the lock flag serializes work within one goroutine
// and its callbacks.
type Estimator struct {
	dim    int
	cfg    Config
	locked bool

	sources       []radio.Source
	sourceIndex   map[string]int
	fingerprint   radio.Fingerprint
	sourceScores  []float64
	readingScores []float64
	listener      Listener

	// Snapshot of the last successful estimate.
	last             *Result
	lastMeasurements *measurements
}

// Result is a successful position estimate.
type Result struct {
	// Position is the estimated receiver position.
	Position geom.Point

	// Covariance is present when covariance keeping is enabled and the
	// final refinement succeeded.
	Covariance *mat.SymDense

	// Inliers classifies every flattened reading against the winning
	// preliminary candidate.
	Inliers promeds.InliersData

	// Iterations counts robust sampling iterations.
	Iterations int

	// Refined reports whether the result was re-fitted to the inliers.
	Refined bool

	// Score is the winning weighted median of squared residuals.
	Score float64
}

// New2D builds a two-dimensional estimator.
func New2D(p Params) (*Estimator, error) { return newEstimator(2, p) }

// New3D builds a three-dimensional estimator.
func New3D(p Params) (*Estimator, error) { return newEstimator(3, p) }

func newEstimator(dim int, p Params) (*Estimator, error) {
	cfg := DefaultConfig()
	if p.Config != nil {
		cfg = *p.Config
	}
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}
	e := &Estimator{dim: dim, cfg: cfg}
	if p.Sources != nil {
		if err := e.SetSources(p.Sources); err != nil {
			return nil, err
		}
	}
	if p.Fingerprint != nil {
		if err := e.SetFingerprint(*p.Fingerprint); err != nil {
			return nil, err
		}
	}
	if p.SourceQualityScores != nil {
		if err := e.SetSourceQualityScores(p.SourceQualityScores); err != nil {
			return nil, err
		}
	}
	if p.ReadingQualityScores != nil {
		if err := e.SetReadingQualityScores(p.ReadingQualityScores); err != nil {
			return nil, err
		}
	}
	e.listener = p.Listener
	return e, nil
}

// Dim returns the estimator dimension, 2 or 3.
func (e *Estimator) Dim() int { return e.dim }

// MinRequiredSources returns the minimum number of distinct sources
// needed to estimate.
func (e *Estimator) MinRequiredSources() int { return lateration.MinRequiredPositions(e.dim) }

// IsLocked reports whether an estimate is in flight.
func (e *Estimator) IsLocked() bool { return e.locked }

// Config returns a copy of the active configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Sources returns the configured sources. The slice is owned by the
// estimator.
func (e *Estimator) Sources() []radio.Source { return e.sources }

// Fingerprint returns the configured fingerprint.
func (e *Estimator) Fingerprint() radio.Fingerprint { return e.fingerprint }

// SourceQualityScores returns the per-source scores, nil when unset.
func (e *Estimator) SourceQualityScores() []float64 { return e.sourceScores }

// ReadingQualityScores returns the per-reading scores, nil when unset.
func (e *Estimator) ReadingQualityScores() []float64 { return e.readingScores }

// Listener returns the configured listener, nil when unset.
func (e *Estimator) Listener() Listener { return e.listener }

// SetConfig swaps the whole configuration.
func (e *Estimator) SetConfig(cfg Config) error {
	if e.locked {
		return ErrLocked
	}
	if err := cfg.validate(e.dim); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// SetSources replaces the known sources. At least MinRequiredSources
// valid sources with distinct IDs are required.
func (e *Estimator) SetSources(sources []radio.Source) error {
	if e.locked {
		return ErrLocked
	}
	if len(sources) < e.MinRequiredSources() {
		return fmt.Errorf("%w: %d sources, want at least %d", ErrConfiguration, len(sources), e.MinRequiredSources())
	}
	index := make(map[string]int, len(sources))
	for i, s := range sources {
		if err := s.Validate(e.dim); err != nil {
			return fmt.Errorf("%w: source %d: %v", ErrConfiguration, i, err)
		}
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("%w: duplicate source ID %q", ErrConfiguration, s.ID)
		}
		index[s.ID] = i
	}
	e.sources = sources
	e.sourceIndex = index
	return nil
}

// SetFingerprint replaces the fingerprint. Readings must be well
// formed; they may reference sources the estimator does not know yet,
// leaving it not ready.
func (e *Estimator) SetFingerprint(f radio.Fingerprint) error {
	if e.locked {
		return ErrLocked
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	e.fingerprint = f
	return nil
}

// SetSourceQualityScores replaces the per-source scores. Length must
// match the configured sources; values must be strictly positive. Nil
// clears.
func (e *Estimator) SetSourceQualityScores(scores []float64) error {
	if e.locked {
		return ErrLocked
	}
	if scores != nil {
		if len(scores) != len(e.sources) {
			return fmt.Errorf("%w: %d source quality scores for %d sources", ErrConfiguration, len(scores), len(e.sources))
		}
		if err := checkScores(scores); err != nil {
			return err
		}
	}
	e.sourceScores = scores
	return nil
}

// SetReadingQualityScores replaces the per-reading scores. Length must
// match the fingerprint; values must be strictly positive. Nil clears.
func (e *Estimator) SetReadingQualityScores(scores []float64) error {
	if e.locked {
		return ErrLocked
	}
	if scores != nil {
		if len(scores) != e.fingerprint.Len() {
			return fmt.Errorf("%w: %d reading quality scores for %d readings", ErrConfiguration, len(scores), e.fingerprint.Len())
		}
		if err := checkScores(scores); err != nil {
			return err
		}
	}
	e.readingScores = scores
	return nil
}

// SetListener replaces the listener. Nil clears.
func (e *Estimator) SetListener(l Listener) error {
	if e.locked {
		return ErrLocked
	}
	e.listener = l
	return nil
}

func checkScores(scores []float64) error {
	for i, s := range scores {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: quality score %d is %v", ErrConfiguration, i, s)
		}
	}
	return nil
}

// IsReady reports whether Estimate can run: sources and readings are
// present and consistent, every reading resolves to a known source,
// enough distinct sources are referenced, and there are at least as
// many readings as the subset size.
func (e *Estimator) IsReady() bool {
	if len(e.sources) < e.MinRequiredSources() || e.fingerprint.Len() == 0 {
		return false
	}
	if e.fingerprint.Len() < e.cfg.subsetSize(e.dim) {
		return false
	}
	distinct := make(map[string]struct{}, len(e.sources))
	for _, r := range e.fingerprint.Readings {
		if _, known := e.sourceIndex[r.SourceID]; !known {
			return false
		}
		distinct[r.SourceID] = struct{}{}
	}
	if len(distinct) < e.MinRequiredSources() {
		return false
	}
	if e.sourceScores != nil && len(e.sourceScores) != len(e.sources) {
		return false
	}
	if e.readingScores != nil && len(e.readingScores) != e.fingerprint.Len() {
		return false
	}
	return true
}

// EstimatedPosition returns the last estimated position, nil before the
// first successful Estimate.
func (e *Estimator) EstimatedPosition() geom.Point {
	if e.last == nil {
		return nil
	}
	return e.last.Position
}

// Covariance returns the last estimate's covariance, nil when absent.
func (e *Estimator) Covariance() *mat.SymDense {
	if e.last == nil {
		return nil
	}
	return e.last.Covariance
}

// InliersData returns the last estimate's inlier classification, nil
// before the first successful Estimate.
func (e *Estimator) InliersData() *promeds.InliersData {
	if e.last == nil {
		return nil
	}
	return &e.last.Inliers
}
