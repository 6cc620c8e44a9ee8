// Package geom provides the small geometric primitives shared by the
// lateration solvers and the position estimators: points in 2 or 3
// dimensions and confidence ellipses derived from position covariances.
package geom

import (
	"math"
)

// Point is a position in 2 or 3 dimensions. Coordinates are metres.
type Point []float64

// Dim returns the number of coordinates in p.
func (p Point) Dim() int { return len(p) }

// Clone returns an independent copy of p.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	c := make(Point, len(p))
	copy(c, p)
	return c
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	var s float64
	for _, v := range p {
		s += v * v
	}
	return math.Sqrt(s)
}

// DistanceTo returns the Euclidean distance from p to q. Both points
// must have the same dimension.
func (p Point) DistanceTo(q Point) float64 {
	var s float64
	for i := range p {
		d := p[i] - q[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// SquaredDistanceTo returns the squared Euclidean distance from p to q.
func (p Point) SquaredDistanceTo(q Point) float64 {
	var s float64
	for i := range p {
		d := p[i] - q[i]
		s += d * d
	}
	return s
}

// Centroid returns the unweighted mean of the given points. It returns
// nil when pts is empty. All points must share one dimension.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return nil
	}
	c := make(Point, len(pts[0]))
	for _, p := range pts {
		for i, v := range p {
			c[i] += v
		}
	}
	for i := range c {
		c[i] /= float64(len(pts))
	}
	return c
}

// WeightedCentroid returns the weighted mean of the given points. Weights
// must be non-negative with a positive sum; otherwise the unweighted
// centroid is returned.
func WeightedCentroid(pts []Point, weights []float64) Point {
	if len(pts) == 0 {
		return nil
	}
	if len(weights) != len(pts) {
		return Centroid(pts)
	}
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return Centroid(pts)
		}
		sum += w
	}
	if sum <= 0 {
		return Centroid(pts)
	}
	c := make(Point, len(pts[0]))
	for j, p := range pts {
		for i, v := range p {
			c[i] += weights[j] * v
		}
	}
	for i := range c {
		c[i] /= sum
	}
	return c
}
