package promeds

import (
	"math"
	"testing"
)

func TestWeightedMedianSquares(t *testing.T) {
	tests := []struct {
		name      string
		residuals []float64
		weights   []float64
		want      float64
	}{
		{"equal weights", []float64{1, 2, 3}, []float64{1, 1, 1}, 4},
		{"heavy small residual", []float64{1, 10}, []float64{3, 1}, 3},
		{"single sample", []float64{-2}, []float64{1}, 4},
		{"all zero", []float64{0, 0, 0, 0}, []float64{1, 2, 3, 4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(tt.residuals)
			got := weightedMedianSquares(tt.residuals, tt.weights, make([]float64, n), make([]float64, n))
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("weightedMedianSquares() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRobustScale(t *testing.T) {
	if got, want := robustScale(4, 12, 2), 1.4826*1.5*2; math.Abs(got-want) > 1e-12 {
		t.Errorf("robustScale(4, 12, 2) = %v, want %v", got, want)
	}
	// No small-sample correction when n does not exceed m.
	if got, want := robustScale(4, 3, 3), 1.4826*2; math.Abs(got-want) > 1e-12 {
		t.Errorf("robustScale(4, 3, 3) = %v, want %v", got, want)
	}
	if got := robustScale(0, 10, 3); got != 0 {
		t.Errorf("robustScale(0, 10, 3) = %v, want 0", got)
	}
}

func TestAdaptiveBound(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		ratio      float64
		m          int
		maxIter    int
		want       int
	}{
		{"half inliers pair", 0.99, 0.5, 2, 10000, 17},
		{"all inliers", 0.99, 1, 4, 10000, 1},
		{"no inliers", 0.99, 0, 4, 10000, 10000},
		{"tiny ratio clamps to max", 0.99, 1e-3, 4, 5000, 5000},
		{"zero confidence", 0, 0.5, 2, 10000, 1},
		{"ratio above one clamps", 0.99, 1.5, 3, 10000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adaptiveBound(tt.confidence, tt.ratio, tt.m, tt.maxIter)
			if got != tt.want {
				t.Errorf("adaptiveBound(%v, %v, %d, %d) = %d, want %d",
					tt.confidence, tt.ratio, tt.m, tt.maxIter, got, tt.want)
			}
		})
	}
}
