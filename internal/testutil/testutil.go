// Package testutil provides shared assertion helpers for tests that
// compare estimation results.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/radiofix/geom"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within delta of want.
func AssertInDelta(t *testing.T, what string, got, want, delta float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > delta {
		t.Errorf("%s = %v, want %v within %v", what, got, want, delta)
	}
}

// AssertPointNear checks that two points share a dimension and agree
// within tol in every coordinate.
func AssertPointNear(t *testing.T, got, want geom.Point, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("point has %d coordinates, want %d", len(got), len(want))
	}
	for i := range got {
		if math.IsNaN(got[i]) || math.Abs(got[i]-want[i]) > tol {
			t.Errorf("coordinate %d = %v, want %v within %v", i, got[i], want[i], tol)
			return
		}
	}
}
