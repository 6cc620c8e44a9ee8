package geom

import (
	"math"
	"testing"
)

func TestDistanceTo(t *testing.T) {
	tests := []struct {
		name string
		p, q Point
		want float64
	}{
		{"same point", Point{1, 2}, Point{1, 2}, 0},
		{"unit x", Point{0, 0}, Point{1, 0}, 1},
		{"pythagorean", Point{0, 0}, Point{3, 4}, 5},
		{"3d", Point{1, 1, 1}, Point{2, 2, 2}, math.Sqrt(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.DistanceTo(tt.q); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("DistanceTo() = %v, want %v", got, tt.want)
			}
			if got := tt.p.SquaredDistanceTo(tt.q); math.Abs(got-tt.want*tt.want) > 1e-12 {
				t.Errorf("SquaredDistanceTo() = %v, want %v", got, tt.want*tt.want)
			}
		})
	}
}

func TestClone(t *testing.T) {
	p := Point{1, 2, 3}
	c := p.Clone()
	c[0] = 99
	if p[0] != 1 {
		t.Errorf("Clone shares backing array: p[0] = %v", p[0])
	}
	if Point(nil).Clone() != nil {
		t.Error("Clone(nil) should be nil")
	}
}

func TestCentroid(t *testing.T) {
	pts := []Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	got := Centroid(pts)
	want := Point{1, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("Centroid() = %v, want %v", got, want)
		}
	}
	if Centroid(nil) != nil {
		t.Error("Centroid(nil) should be nil")
	}
}

func TestWeightedCentroid(t *testing.T) {
	pts := []Point{{0, 0}, {4, 0}}

	got := WeightedCentroid(pts, []float64{1, 3})
	if math.Abs(got[0]-3) > 1e-12 || math.Abs(got[1]) > 1e-12 {
		t.Errorf("WeightedCentroid() = %v, want [3 0]", got)
	}

	// Degenerate weights fall back to the unweighted mean.
	for _, ws := range [][]float64{nil, {0, 0}, {-1, 2}, {math.NaN(), 1}} {
		got := WeightedCentroid(pts, ws)
		if math.Abs(got[0]-2) > 1e-12 {
			t.Errorf("WeightedCentroid(weights=%v) = %v, want centroid [2 0]", ws, got)
		}
	}
}
