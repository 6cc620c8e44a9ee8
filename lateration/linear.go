package lateration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

// solveInhomogeneous linearizes the range equations by differencing
// against the last reference position:
//
//	2*(p_i - p_ref) . x = d_ref^2 - d_i^2 + |p_i|^2 - |p_ref|^2
//
// and solves the resulting system by weighted QR least squares.
func solveInhomogeneous(positions []geom.Point, distances, weights []float64, dim int) (geom.Point, error) {
	n := len(positions)
	ref := n - 1
	pRef := positions[ref]
	dRef := distances[ref]
	normRef := sqNorm(pRef)

	a := mat.NewDense(n-1, dim, nil)
	b := mat.NewVecDense(n-1, nil)
	for i := 0; i < n-1; i++ {
		sw := math.Sqrt(weights[i])
		p := positions[i]
		norm := sqNorm(p)
		for j := 0; j < dim; j++ {
			a.Set(i, j, sw*2*(p[j]-pRef[j]))
		}
		b.SetVec(i, sw*(dRef*dRef-distances[i]*distances[i]+norm-normRef))
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}

	out := make(geom.Point, dim)
	for j := 0; j < dim; j++ {
		v := x.AtVec(j)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite linear solution", ErrDegenerate)
		}
		out[j] = v
	}
	return out, nil
}

// solveHomogeneous treats the squared norm of the unknown as an extra
// unknown s, turning each range equation into a homogeneous one:
//
//	[-2*p_i, 1, |p_i|^2 - d_i^2] . (x, s, 1) = 0
//
// The solution is the right singular vector of the smallest singular
// value, rescaled so its last component is 1.
func solveHomogeneous(positions []geom.Point, distances, weights []float64, dim int) (geom.Point, error) {
	n := len(positions)
	cols := dim + 2

	m := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(weights[i])
		p := positions[i]
		var norm float64
		for j := 0; j < dim; j++ {
			m.Set(i, j, sw*-2*p[j])
			norm += p[j] * p[j]
		}
		m.Set(i, dim, sw)
		m.Set(i, dim+1, sw*(norm-distances[i]*distances[i]))
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFullV) {
		return nil, fmt.Errorf("%w: svd factorization failed", ErrDegenerate)
	}
	var v mat.Dense
	svd.VTo(&v)

	// Null-space vector: the column for the smallest singular value.
	null := cols - 1
	last := v.At(cols-1, null)
	if math.Abs(last) < 1e-12 {
		return nil, fmt.Errorf("%w: homogeneous solution at infinity", ErrDegenerate)
	}

	out := make(geom.Point, dim)
	for j := 0; j < dim; j++ {
		c := v.At(j, null) / last
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: non-finite homogeneous solution", ErrDegenerate)
		}
		out[j] = c
	}
	return out, nil
}
