// Package simulate builds synthetic estimation scenarios: sources
// placed uniformly in a box around the origin, a ground-truth receiver
// position, and a fingerprint of distance-like readings with optional
// Gaussian noise and gross outliers. Tests, the scenario runner and the
// parameter sweep all draw their data from here.
package simulate

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/radio"
)

// ErrConfig is returned when a scenario config cannot be generated.
var ErrConfig = errors.New("invalid scenario config")

// Config describes a synthetic scenario.
type Config struct {
	// Dim is the position dimension, 2 or 3.
	Dim int

	// NumSources is how many sources to place.
	NumSources int

	// ReadingsPerSource repeats each source's measurement. Zero means
	// one.
	ReadingsPerSource int

	// Extent is the half-width of the placement box in metres; sources
	// and the truth position land in [-Extent, Extent] per axis.
	Extent float64

	// Truth fixes the receiver position. Nil places it randomly inside
	// the box.
	Truth geom.Point

	// Kind selects ranging or rssi readings.
	Kind radio.ReadingKind

	// PathLoss converts distances to RSSI for rssi scenarios.
	PathLoss radio.PathLossModel

	// NoiseStdDev adds Gaussian noise to every true distance, metres.
	NoiseStdDev float64

	// OutlierFraction perturbs that share of readings by a gross
	// offset, in [0, 1).
	OutlierFraction float64

	// OutlierMinOffset and OutlierMaxOffset bound the gross offset
	// magnitude in metres; the sign is random.
	OutlierMinOffset, OutlierMaxOffset float64

	// ScoreFromError assigns each reading the quality score
	// 1/(1+|injected error|).
	ScoreFromError bool
}

// DefaultConfig returns a 2D scenario of 150 clean ranging readings in
// a 100 m box, the shape the estimator's accuracy contract is written
// against.
func DefaultConfig() Config {
	return Config{
		Dim:               2,
		NumSources:        150,
		ReadingsPerSource: 1,
		Extent:            50,
		Kind:              radio.ReadingRanging,
		PathLoss:          radio.DefaultPathLossModel(),
		OutlierMinOffset:  5,
		OutlierMaxOffset:  15,
	}
}

// Scenario is a generated estimation problem with its ground truth.
type Scenario struct {
	Truth       geom.Point
	Sources     []radio.Source
	Fingerprint radio.Fingerprint

	// ReadingScores is populated when ScoreFromError is set.
	ReadingScores []float64

	// Errors is the injected absolute error per reading: noise plus
	// outlier offset.
	Errors []float64

	// OutlierIdx lists the perturbed reading indices, ascending.
	OutlierIdx []int
}

// New generates a scenario. Out-of-range fractions and offsets are
// clamped with a warning rather than rejected, so sweeps over raw
// parameter grids keep running.
func New(cfg Config, src rand.Source) (*Scenario, error) {
	if cfg.Dim != 2 && cfg.Dim != 3 {
		return nil, fmt.Errorf("%w: dimension %d", ErrConfig, cfg.Dim)
	}
	if cfg.NumSources < cfg.Dim+1 {
		return nil, fmt.Errorf("%w: %d sources cannot determine a %dD position", ErrConfig, cfg.NumSources, cfg.Dim)
	}
	if cfg.Extent <= 0 {
		return nil, fmt.Errorf("%w: extent %v", ErrConfig, cfg.Extent)
	}
	if !cfg.Kind.IsValid() {
		return nil, fmt.Errorf("%w: reading kind %q", ErrConfig, cfg.Kind)
	}
	if cfg.Kind == radio.ReadingRSSI {
		if err := cfg.PathLoss.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	if cfg.ReadingsPerSource < 1 {
		cfg.ReadingsPerSource = 1
	}
	if cfg.OutlierFraction < 0 || cfg.OutlierFraction >= 1 {
		log.Printf("WARNING: clamping outlier fraction %v into [0,1)", cfg.OutlierFraction)
		cfg.OutlierFraction = min(max(cfg.OutlierFraction, 0), 0.99)
	}
	if cfg.OutlierMaxOffset < cfg.OutlierMinOffset {
		log.Printf("WARNING: outlier offsets %v..%v reversed", cfg.OutlierMinOffset, cfg.OutlierMaxOffset)
		cfg.OutlierMinOffset, cfg.OutlierMaxOffset = cfg.OutlierMaxOffset, cfg.OutlierMinOffset
	}

	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	rng := rand.New(src)

	s := &Scenario{Truth: cfg.Truth.Clone()}
	if s.Truth == nil {
		s.Truth = randomPoint(rng, cfg.Dim, cfg.Extent)
	} else if s.Truth.Dim() != cfg.Dim {
		return nil, fmt.Errorf("%w: truth has %d coordinates, want %d", ErrConfig, s.Truth.Dim(), cfg.Dim)
	}

	s.Sources = make([]radio.Source, cfg.NumSources)
	for i := range s.Sources {
		s.Sources[i] = radio.Source{
			ID:          fmt.Sprintf("src-%03d", i),
			FrequencyHz: 2.412e9,
			Position:    randomPoint(rng, cfg.Dim, cfg.Extent),
		}
	}

	n := cfg.NumSources * cfg.ReadingsPerSource
	s.Errors = make([]float64, n)
	readings := make([]radio.Reading, n)

	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseStdDev, Src: src}
	idx := 0
	for _, source := range s.Sources {
		trueDist := s.Truth.DistanceTo(source.Position)
		for r := 0; r < cfg.ReadingsPerSource; r++ {
			d := trueDist
			if cfg.NoiseStdDev > 0 {
				d += noise.Rand()
				if d < 0 {
					d = 0
				}
				s.Errors[idx] = d - trueDist
			}
			readings[idx] = makeReading(cfg, source.ID, d)
			idx++
		}
	}

	// Gross outliers on a random subset of readings.
	numOutliers := int(cfg.OutlierFraction * float64(n))
	if numOutliers > 0 {
		perm := rng.Perm(n)[:numOutliers]
		for _, i := range perm {
			offset := cfg.OutlierMinOffset + (cfg.OutlierMaxOffset-cfg.OutlierMinOffset)*rng.Float64()
			if rng.IntN(2) == 0 {
				offset = -offset
			}
			base := readings[i]
			d := distanceOf(cfg, base) + offset
			if d < 0 {
				// Flip the sign rather than clamp so the offset
				// magnitude survives.
				d = distanceOf(cfg, base) - offset
			}
			readings[i] = makeReading(cfg, base.SourceID, d)
			s.Errors[i] += d - distanceOf(cfg, base)
			s.OutlierIdx = append(s.OutlierIdx, i)
		}
		slices.Sort(s.OutlierIdx)
	}

	if cfg.ScoreFromError {
		s.ReadingScores = make([]float64, n)
		for i, e := range s.Errors {
			s.ReadingScores[i] = 1 / (1 + abs(e))
		}
	}

	s.Fingerprint = radio.Fingerprint{Readings: readings}
	return s, nil
}

func makeReading(cfg Config, sourceID string, distance float64) radio.Reading {
	if cfg.Kind == radio.ReadingRSSI {
		return radio.Reading{
			SourceID: sourceID,
			Kind:     radio.ReadingRSSI,
			RSSI:     cfg.PathLoss.RSSI(max(distance, 1e-3)),
		}
	}
	return radio.Reading{
		SourceID: sourceID,
		Kind:     radio.ReadingRanging,
		Distance: distance,
		StdDev:   cfg.NoiseStdDev,
	}
}

func distanceOf(cfg Config, r radio.Reading) float64 {
	if cfg.Kind == radio.ReadingRSSI {
		return cfg.PathLoss.Distance(r.RSSI)
	}
	return r.Distance
}

func randomPoint(rng *rand.Rand, dim int, extent float64) geom.Point {
	p := make(geom.Point, dim)
	for c := range p {
		p[c] = -extent + 2*extent*rng.Float64()
	}
	return p
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
