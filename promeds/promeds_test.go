package promeds

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineProblem fits y = a*x by least squares; the candidate is the
// slope. failFirst makes the first solves fail to exercise the skip
// path.
type lineProblem struct {
	xs, ys    []float64
	failFirst int
	calls     int
}

func (p *lineProblem) SolveSubset(indices []int) (float64, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return 0, errors.New("unstable subset")
	}
	return p.fit(indices)
}

func (p *lineProblem) Residuals(a float64, dst []float64) {
	for i := range p.xs {
		dst[i] = p.ys[i] - a*p.xs[i]
	}
}

func (p *lineProblem) Refine(inliers []int, best float64) (float64, error) {
	return p.fit(inliers)
}

func (p *lineProblem) fit(indices []int) (float64, error) {
	var sxy, sxx float64
	for _, i := range indices {
		sxy += p.xs[i] * p.ys[i]
		sxx += p.xs[i] * p.xs[i]
	}
	if sxx == 0 {
		return 0, errors.New("degenerate subset")
	}
	return sxy / sxx, nil
}

// cleanLine builds n exact samples of y = slope*x at x = 1..n.
func cleanLine(n int, slope float64) *lineProblem {
	p := &lineProblem{xs: make([]float64, n), ys: make([]float64, n)}
	for i := 0; i < n; i++ {
		p.xs[i] = float64(i + 1)
		p.ys[i] = slope * p.xs[i]
	}
	return p
}

func TestRunFindsModelDespiteOutliers(t *testing.T) {
	const n = 20
	p := cleanLine(n, 2)

	// Four gross outliers with quality scores inversely proportional
	// to their error, as a fingerprint scorer would assign.
	outliers := []int{3, 8, 13, 19}
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	for _, i := range outliers {
		p.ys[i] += 50
		weights[i] = 1 / (1 + 50.0)
	}

	cfg := DefaultConfig()
	cfg.SubsetSize = 3
	cfg.Weights = weights
	cfg.Src = rand.NewPCG(42, 1)

	res, err := Run[float64](p, n, cfg, Callbacks{})
	require.NoError(t, err)

	assert.InDelta(t, 2, res.Best, 1e-9)
	assert.True(t, res.Refined)
	assert.LessOrEqual(t, res.Score, cfg.StopThreshold)
	assert.Equal(t, n-len(outliers), res.Inliers.NumInliers)
	for _, i := range outliers {
		assert.False(t, res.Inliers.Flags[i], "outlier %d flagged as inlier", i)
		assert.InDelta(t, 50, res.Inliers.Residuals[i], 1e-9)
	}
}

func TestRunGroupedSampling(t *testing.T) {
	const n = 12
	p := cleanLine(n, -1.5)

	// Two samples per group; grouped sampling must still find the
	// model.
	groups := make([]int, n)
	for i := range groups {
		groups[i] = i / 2
	}

	cfg := DefaultConfig()
	cfg.SubsetSize = 4
	cfg.Groups = groups
	cfg.Src = rand.NewPCG(3, 9)

	res, err := Run[float64](p, n, cfg, Callbacks{})
	require.NoError(t, err)
	assert.InDelta(t, -1.5, res.Best, 1e-9)
	assert.Equal(t, n, res.Inliers.NumInliers)
}

func TestRunCallbacks(t *testing.T) {
	const n = 8
	p := cleanLine(n, 2)
	p.failFirst = 7

	cfg := DefaultConfig()
	cfg.SubsetSize = 3
	cfg.MaxIterations = 20
	cfg.ProgressDelta = 0.2
	cfg.Src = rand.NewPCG(1, 5)

	var iterations []int
	var progress []float64
	cb := Callbacks{
		OnIteration: func(i int) { iterations = append(iterations, i) },
		OnProgress:  func(p float64) { progress = append(progress, p) },
	}

	res, err := Run[float64](p, n, cfg, cb)
	require.NoError(t, err)

	// Seven failing solves, then the eighth wins and stops the loop.
	require.Equal(t, 8, res.Iterations)
	require.Len(t, iterations, 8)
	for i, it := range iterations {
		assert.Equal(t, i+1, it)
	}

	// Progress runs against the 20-iteration budget until the winning
	// candidate collapses the adaptive bound, which snaps it to 1.
	require.Equal(t, []float64{0.2, 1}, progress)
}

func TestRunAllSolvesFail(t *testing.T) {
	p := cleanLine(6, 2)
	p.failFirst = math.MaxInt

	cfg := DefaultConfig()
	cfg.SubsetSize = 3
	cfg.MaxIterations = 40
	cfg.Src = rand.NewPCG(2, 2)

	_, err := Run[float64](p, 6, cfg, Callbacks{})
	assert.ErrorIs(t, err, ErrRobustEstimation)
}

// fixedProblem returns a constant candidate whose residuals leave too
// few inliers to refine.
type fixedProblem struct{ residuals []float64 }

func (p *fixedProblem) SolveSubset([]int) (int, error) { return 0, nil }
func (p *fixedProblem) Residuals(_ int, dst []float64) { copy(dst, p.residuals) }
func (p *fixedProblem) Refine([]int, int) (int, error) { return 0, nil }

func TestRunTooFewInliersToRefine(t *testing.T) {
	// Median of {0, 0, 100^2} is zero, so the threshold floor admits
	// only the two exact samples: fewer than the subset size.
	p := &fixedProblem{residuals: []float64{0, 0, 100}}

	cfg := DefaultConfig()
	cfg.SubsetSize = 3
	cfg.Src = rand.NewPCG(4, 4)

	_, err := Run[int](p, 3, cfg, Callbacks{})
	assert.ErrorIs(t, err, ErrRobustEstimation)

	// Without refinement the same result is returned as-is.
	cfg.RefineResult = false
	res, err := Run[int](p, 3, cfg, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inliers.NumInliers)
	assert.False(t, res.Refined)
}

func TestRunConfigValidation(t *testing.T) {
	p := cleanLine(6, 2)

	valid := DefaultConfig()
	valid.SubsetSize = 3

	tests := []struct {
		name   string
		mutate func(*Config)
		n      int
	}{
		{"no samples", func(c *Config) {}, 0},
		{"zero subset size", func(c *Config) { c.SubsetSize = 0 }, 6},
		{"subset larger than samples", func(c *Config) { c.SubsetSize = 7 }, 6},
		{"zero max iterations", func(c *Config) { c.MaxIterations = 0 }, 6},
		{"negative confidence", func(c *Config) { c.Confidence = -0.1 }, 6},
		{"confidence of one", func(c *Config) { c.Confidence = 1 }, 6},
		{"zero stop threshold", func(c *Config) { c.StopThreshold = 0 }, 6},
		{"negative progress delta", func(c *Config) { c.ProgressDelta = -0.5 }, 6},
		{"progress delta above one", func(c *Config) { c.ProgressDelta = 1.5 }, 6},
		{"weight count mismatch", func(c *Config) { c.Weights = []float64{1, 2} }, 6},
		{"non-positive weight", func(c *Config) { c.Weights = []float64{1, 1, 0, 1, 1, 1} }, 6},
		{"nan weight", func(c *Config) { c.Weights = []float64{1, 1, math.NaN(), 1, 1, 1} }, 6},
		{"group count mismatch", func(c *Config) { c.Groups = []int{0, 1} }, 6},
		{"negative group", func(c *Config) { c.Groups = []int{0, 1, 2, -1, 4, 5} }, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := Run[float64](p, tt.n, cfg, Callbacks{})
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}
