package promeds

import (
	"math/rand/v2"
	"testing"
)

func TestSamplerDrawsDistinctIndices(t *testing.T) {
	weights := []float64{1, 1, 1, 1, 1, 1}
	s := newSampler(weights, nil, false, rand.NewPCG(1, 1))

	got := s.draw(6, nil)
	if len(got) != 6 {
		t.Fatalf("draw(6) returned %d indices", len(got))
	}
	seen := make(map[int]bool)
	for _, idx := range got {
		if idx < 0 || idx >= 6 {
			t.Fatalf("index %d out of range", idx)
		}
		if seen[idx] {
			t.Fatalf("index %d drawn twice", idx)
		}
		seen[idx] = true
	}

	// Drawing again reuses the full population.
	again := s.draw(3, got[:0])
	if len(again) != 3 {
		t.Fatalf("second draw returned %d indices", len(again))
	}
}

func TestSamplerBiasTowardsHeavyWeights(t *testing.T) {
	// One sample carries nearly all the weight; over many draws of a
	// single index it must dominate.
	weights := []float64{1000, 1, 1, 1, 1}
	s := newSampler(weights, nil, false, rand.NewPCG(7, 3))

	hits := 0
	for i := 0; i < 200; i++ {
		if got := s.draw(1, nil); got[0] == 0 {
			hits++
		}
	}
	if hits < 180 {
		t.Errorf("heavy sample drawn %d/200 times, want nearly always", hits)
	}
}

func TestSamplerGroupCap(t *testing.T) {
	// Three groups, subset of three: one sample per group, always.
	weights := []float64{1, 1, 1, 1, 1, 1}
	groups := []int{0, 0, 0, 1, 1, 2}
	s := newSampler(weights, groups, true, rand.NewPCG(11, 13))

	for i := 0; i < 50; i++ {
		got := s.draw(3, nil)
		if len(got) != 3 {
			t.Fatalf("draw(3) returned %d indices", len(got))
		}
		seen := make(map[int]bool)
		for _, idx := range got {
			g := groups[idx]
			if seen[g] {
				t.Fatalf("draw %d: group %d sampled twice in %v", i, g, got)
			}
			seen[g] = true
		}
	}
}

func TestSamplerGroupCapRelaxes(t *testing.T) {
	// Only two groups for a subset of three: the cap must rise so the
	// subset still fills, keeping the single-sample group at one.
	weights := []float64{1, 1, 1, 1}
	groups := []int{0, 0, 0, 1}
	s := newSampler(weights, groups, true, rand.NewPCG(5, 17))

	for i := 0; i < 50; i++ {
		got := s.draw(3, nil)
		if len(got) != 3 {
			t.Fatalf("draw(3) returned %d indices", len(got))
		}
		counts := map[int]int{}
		for _, idx := range got {
			counts[groups[idx]]++
		}
		if counts[0] != 2 || counts[1] != 1 {
			t.Fatalf("draw %d: group counts %v, want 2 from group 0 and 1 from group 1", i, counts)
		}
	}
}

func TestSamplerExhaustsPopulation(t *testing.T) {
	weights := []float64{1, 1, 1}
	s := newSampler(weights, nil, false, rand.NewPCG(2, 9))

	got := s.draw(10, nil)
	if len(got) != 3 {
		t.Errorf("draw(10) over 3 samples returned %d indices, want 3", len(got))
	}
}
