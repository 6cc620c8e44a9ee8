package promeds

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// lmedsScaleFactor converts a median of squared residuals into a robust
// standard deviation estimate, after Rousseeuw's LMedS consistency
// constant for Gaussian noise.
const lmedsScaleFactor = 1.4826

// inlierSigmas is the robust-scale multiple below which a residual
// counts as an inlier.
const inlierSigmas = 2.5

// weightedMedianSquares scores a candidate: the weighted median of
// w_i*r_i^2 with weights w_i. values and ws are scratch space of the
// same length as residuals.
func weightedMedianSquares(residuals, weights, values, ws []float64) float64 {
	for i, r := range residuals {
		values[i] = weights[i] * r * r
		ws[i] = weights[i]
	}
	stat.SortWeighted(values, ws)
	return stat.Quantile(0.5, stat.Empirical, values, ws)
}

// robustScale estimates the residual standard deviation from the best
// candidate's score, with the small-sample correction 1+5/(n-m).
func robustScale(score float64, n, m int) float64 {
	correction := 1.0
	if n > m {
		correction = 1 + 5/float64(n-m)
	}
	return lmedsScaleFactor * correction * math.Sqrt(score)
}

// adaptiveBound returns the number of iterations needed to draw an
// all-inlier subset of size m with the given confidence, clamped to
// [1, maxIter].
func adaptiveBound(confidence, inlierRatio float64, m, maxIter int) int {
	if inlierRatio <= 0 {
		return maxIter
	}
	if inlierRatio > 1 {
		inlierRatio = 1
	}
	p := math.Pow(inlierRatio, float64(m))
	if p >= 1-1e-12 {
		return 1
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if math.IsNaN(k) || k < 1 {
		return 1
	}
	if k > float64(maxIter) {
		return maxIter
	}
	return int(math.Ceil(k))
}
