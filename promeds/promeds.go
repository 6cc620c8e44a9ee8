package promeds

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrConfig is returned when a Config cannot drive the loop.
	ErrConfig = errors.New("invalid robust estimation config")

	// ErrRobustEstimation is returned when the loop exhausts its budget
	// without a usable candidate, or when too few inliers remain to
	// refine the winner.
	ErrRobustEstimation = errors.New("robust estimation failed")
)

// Problem is the model being estimated. Sample indices run from 0 to
// one below the sample count passed to Run.
type Problem[C any] interface {
	// SolveSubset fits a candidate to the samples at the given indices.
	// A candidate that cannot be fitted returns an error; the loop
	// skips it and keeps sampling.
	SolveSubset(indices []int) (C, error)

	// Residuals fills dst, which has one slot per sample, with the
	// signed residuals of every sample against c.
	Residuals(c C, dst []float64)

	// Refine re-fits a candidate to all inlier samples, seeded by the
	// winning candidate.
	Refine(inliers []int, best C) (C, error)
}

// Callbacks are optional hooks invoked synchronously from Run.
type Callbacks struct {
	// OnIteration fires at the start of every sampling iteration,
	// starting from 1.
	OnIteration func(iteration int)

	// OnProgress fires when estimated progress has advanced by at
	// least the configured delta since the last report.
	OnProgress func(progress float64)
}

// Config controls the robust loop.
type Config struct {
	// SubsetSize is how many samples each candidate is fitted to. It
	// must be at least the model's geometric minimum; the caller is
	// responsible for that bound.
	SubsetSize int

	// MaxIterations caps sampling iterations.
	MaxIterations int

	// Confidence is the target probability of having drawn at least
	// one all-inlier subset; it shrinks the iteration bound as better
	// candidates appear. In [0, 1).
	Confidence float64

	// StopThreshold ends the loop early once a candidate scores at or
	// below it. Scores are weighted medians of squared residuals, so
	// the threshold is in squared measurement units.
	StopThreshold float64

	// ProgressDelta is the minimum progress change between OnProgress
	// calls, in [0, 1].
	ProgressDelta float64

	// RefineResult re-fits the winning candidate to all its inliers.
	RefineResult bool

	// EvenlyDistribute caps subsets at one sample per group while
	// unused groups remain. Requires Groups.
	EvenlyDistribute bool

	// Weights are per-sample quality scores, strictly positive. Nil
	// weighs all samples equally. Weights bias subset sampling and the
	// median scoring; they never alter the samples themselves.
	Weights []float64

	// Groups assigns each sample to a group (for position estimation,
	// the source it was measured against). Nil disables grouping.
	Groups []int

	// Src seeds the sampler. Nil draws a fresh PCG seed.
	Src rand.Source
}

// DefaultConfig returns the loop settings used by the position
// estimators.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    5000,
		Confidence:       0.99,
		StopThreshold:    1e-6,
		ProgressDelta:    0.05,
		RefineResult:     true,
		EvenlyDistribute: true,
	}
}

func (c Config) validate(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: no samples", ErrConfig)
	}
	if c.SubsetSize < 1 {
		return fmt.Errorf("%w: subset size %d", ErrConfig, c.SubsetSize)
	}
	if c.SubsetSize > n {
		return fmt.Errorf("%w: subset size %d exceeds %d samples", ErrConfig, c.SubsetSize, n)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d", ErrConfig, c.MaxIterations)
	}
	if c.Confidence < 0 || c.Confidence >= 1 || math.IsNaN(c.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1)", ErrConfig, c.Confidence)
	}
	if c.StopThreshold <= 0 || math.IsNaN(c.StopThreshold) {
		return fmt.Errorf("%w: stop threshold %v", ErrConfig, c.StopThreshold)
	}
	if c.ProgressDelta < 0 || c.ProgressDelta > 1 || math.IsNaN(c.ProgressDelta) {
		return fmt.Errorf("%w: progress delta %v outside [0,1]", ErrConfig, c.ProgressDelta)
	}
	if c.Weights != nil {
		if len(c.Weights) != n {
			return fmt.Errorf("%w: %d weights for %d samples", ErrConfig, len(c.Weights), n)
		}
		for i, w := range c.Weights {
			if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("%w: weight %d is %v", ErrConfig, i, w)
			}
		}
	}
	if c.Groups != nil {
		if len(c.Groups) != n {
			return fmt.Errorf("%w: %d groups for %d samples", ErrConfig, len(c.Groups), n)
		}
		for i, g := range c.Groups {
			if g < 0 {
				return fmt.Errorf("%w: group %d is %d", ErrConfig, i, g)
			}
		}
	}
	return nil
}

// InliersData classifies every sample against the winning candidate.
type InliersData struct {
	// Flags marks inlier samples.
	Flags []bool

	// Residuals holds the winning candidate's residual per sample.
	Residuals []float64

	// Scale is the robust residual standard deviation estimate.
	Scale float64

	// NumInliers counts set flags.
	NumInliers int
}

// InlierIndices returns the indices of all inlier samples, ascending.
func (d InliersData) InlierIndices() []int {
	idx := make([]int, 0, d.NumInliers)
	for i, f := range d.Flags {
		if f {
			idx = append(idx, i)
		}
	}
	return idx
}

// Result is a finished robust estimation.
type Result[C any] struct {
	// Best is the winning candidate, refined when Refined is set.
	Best C

	// Score is the winning weighted median of squared residuals.
	Score float64

	// Iterations counts sampling iterations actually run.
	Iterations int

	// Refined reports whether Best was re-fitted to the inliers.
	Refined bool

	// Inliers classifies the samples against the winning preliminary
	// candidate.
	Inliers InliersData
}

// minInlierThreshold keeps exact-data classifications from collapsing:
// a score near zero would otherwise exclude samples whose residuals sit
// at floating point noise.
const minInlierThreshold = 1e-9

// Run executes the robust loop over n samples.
func Run[C any](p Problem[C], n int, cfg Config, cb Callbacks) (*Result[C], error) {
	if err := cfg.validate(n); err != nil {
		return nil, err
	}

	weights := make([]float64, n)
	if cfg.Weights == nil {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		// Normalize to mean 1 so scores and thresholds stay in squared
		// measurement units regardless of the score magnitudes.
		var sum float64
		for _, w := range cfg.Weights {
			sum += w
		}
		scale := float64(n) / sum
		for i, w := range cfg.Weights {
			weights[i] = w * scale
		}
	}

	src := cfg.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	var groups []int
	if cfg.EvenlyDistribute {
		groups = cfg.Groups
	}
	smp := newSampler(weights, groups, cfg.EvenlyDistribute, src)

	var (
		best          C
		haveBest      bool
		bestScore     = math.Inf(1)
		inliers       InliersData
		residuals     = make([]float64, n)
		bestResiduals = make([]float64, n)
		values        = make([]float64, n)
		ws            = make([]float64, n)
		subset        = make([]int, 0, cfg.SubsetSize)
		bound         = cfg.MaxIterations
		reported      float64
		iter          int
	)

	for iter < cfg.MaxIterations && iter < bound {
		iter++
		if cb.OnIteration != nil {
			cb.OnIteration(iter)
		}

		subset = smp.draw(cfg.SubsetSize, subset)
		if len(subset) < cfg.SubsetSize {
			break
		}

		cand, err := p.SolveSubset(subset)
		if err == nil {
			p.Residuals(cand, residuals)
			score := weightedMedianSquares(residuals, weights, values, ws)
			if score < bestScore {
				best, bestScore, haveBest = cand, score, true
				copy(bestResiduals, residuals)
				inliers = classify(bestResiduals, weights, score, cfg.SubsetSize)
				// A candidate that excludes nothing tells the stop rule
				// nothing unless its score is already at the stop level.
				if inliers.NumInliers < n || bestScore <= cfg.StopThreshold {
					ratio := float64(inliers.NumInliers) / float64(n)
					bound = adaptiveBound(cfg.Confidence, ratio, cfg.SubsetSize, cfg.MaxIterations)
				}
			}
		}

		if cb.OnProgress != nil {
			eff := bound
			if cfg.MaxIterations < eff {
				eff = cfg.MaxIterations
			}
			progress := float64(iter) / float64(eff)
			if progress > 1 {
				progress = 1
			}
			if progress-reported >= cfg.ProgressDelta {
				reported = progress
				cb.OnProgress(progress)
			}
		}

		if haveBest && bestScore <= cfg.StopThreshold {
			break
		}
	}

	if !haveBest {
		return nil, fmt.Errorf("%w: no subset produced a candidate in %d iterations", ErrRobustEstimation, iter)
	}

	res := &Result[C]{
		Best:       best,
		Score:      bestScore,
		Iterations: iter,
		Inliers:    inliers,
	}
	if cfg.RefineResult {
		if inliers.NumInliers < cfg.SubsetSize {
			return nil, fmt.Errorf("%w: %d inliers, need at least %d to refine", ErrRobustEstimation, inliers.NumInliers, cfg.SubsetSize)
		}
		if refined, err := p.Refine(inliers.InlierIndices(), best); err == nil {
			res.Best = refined
			res.Refined = true
		}
	}
	return res, nil
}

// classify splits samples into inliers and outliers around the winning
// candidate using the robust scale of its score.
func classify(residuals, weights []float64, score float64, m int) InliersData {
	n := len(residuals)
	d := InliersData{
		Flags:     make([]bool, n),
		Residuals: append([]float64(nil), residuals...),
		Scale:     robustScale(score, n, m),
	}
	threshold := inlierSigmas * d.Scale
	if threshold < minInlierThreshold {
		threshold = minInlierThreshold
	}
	for i, r := range residuals {
		if math.Sqrt(weights[i])*math.Abs(r) <= threshold {
			d.Flags[i] = true
			d.NumInliers++
		}
	}
	return d
}
