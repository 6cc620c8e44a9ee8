package promeds

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/sampleuv"
)

// sampler draws subsets of sample indices without replacement, with
// probability proportional to per-sample quality weights. When grouped
// sampling is enabled, each group contributes at most one sample while
// ungrouped candidates remain; the cap rises one step at a time when a
// subset cannot otherwise be filled.
type sampler struct {
	weights  []float64
	groups   []int
	counts   []int
	deferred []int
	weighted sampleuv.Weighted
	evenly   bool
}

func newSampler(weights []float64, groups []int, evenly bool, src rand.Source) *sampler {
	s := &sampler{
		weights: weights,
		groups:  groups,
		evenly:  evenly && groups != nil,
	}
	if s.evenly {
		max := 0
		for _, g := range groups {
			if g > max {
				max = g
			}
		}
		s.counts = make([]int, max+1)
		s.deferred = make([]int, 0, len(weights))
	}
	s.weighted = sampleuv.NewWeighted(weights, src)
	return s
}

// draw fills dst with k distinct sample indices.
func (s *sampler) draw(k int, dst []int) []int {
	s.weighted.ReweightAll(s.weights)
	dst = dst[:0]

	if !s.evenly {
		for len(dst) < k {
			idx, ok := s.weighted.Take()
			if !ok {
				break
			}
			dst = append(dst, idx)
		}
		return dst
	}

	for i := range s.counts {
		s.counts[i] = 0
	}
	deferred := s.deferred[:0]
	for len(dst) < k {
		idx, ok := s.weighted.Take()
		if !ok {
			break
		}
		if s.counts[s.groups[idx]] >= 1 {
			deferred = append(deferred, idx)
			continue
		}
		s.counts[s.groups[idx]]++
		dst = append(dst, idx)
	}

	// Deferred samples keep their weighted draw order, so relaxing the
	// cap stays biased towards quality.
	for capLimit := 2; len(dst) < k && len(deferred) > 0; capLimit++ {
		kept := deferred[:0]
		for _, idx := range deferred {
			if len(dst) < k && s.counts[s.groups[idx]] < capLimit {
				s.counts[s.groups[idx]]++
				dst = append(dst, idx)
			} else {
				kept = append(kept, idx)
			}
		}
		deferred = kept
	}
	s.deferred = deferred[:0]
	return dst
}
