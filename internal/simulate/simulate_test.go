package simulate

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/radio"
)

func TestNewCleanScenario(t *testing.T) {
	cfg := DefaultConfig()
	s, err := New(cfg, rand.NewPCG(1, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := len(s.Sources); got != 150 {
		t.Fatalf("got %d sources, want 150", got)
	}
	if got := s.Fingerprint.Len(); got != 150 {
		t.Fatalf("got %d readings, want 150", got)
	}
	if len(s.OutlierIdx) != 0 {
		t.Fatalf("clean scenario has outliers at %v", s.OutlierIdx)
	}
	if s.ReadingScores != nil {
		t.Fatalf("scores requested by nobody: %v", s.ReadingScores[:3])
	}
	if got := s.Truth.Dim(); got != 2 {
		t.Fatalf("truth dimension = %d, want 2", got)
	}
	for _, c := range s.Truth {
		if c < -cfg.Extent || c > cfg.Extent {
			t.Fatalf("truth %v outside the box", s.Truth)
		}
	}

	for i, r := range s.Fingerprint.Readings {
		src := s.Sources[i]
		if r.SourceID != src.ID {
			t.Fatalf("reading %d references %s, want %s", i, r.SourceID, src.ID)
		}
		want := s.Truth.DistanceTo(src.Position)
		if math.Abs(r.Distance-want) > 1e-12 {
			t.Fatalf("reading %d distance = %v, want %v", i, r.Distance, want)
		}
		if s.Errors[i] != 0 {
			t.Fatalf("reading %d carries error %v in a clean scenario", i, s.Errors[i])
		}
	}
}

func TestNewDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoiseStdDev = 0.3
	cfg.OutlierFraction = 0.1
	cfg.ScoreFromError = true

	a, err := New(cfg, rand.NewPCG(7, 7))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(cfg, rand.NewPCG(7, 7))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different scenarios (-a +b):\n%s", diff)
	}
}

func TestNewOutliers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutlierFraction = 0.2
	cfg.ScoreFromError = true

	s, err := New(cfg, rand.NewPCG(3, 4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, want := len(s.OutlierIdx), 30; got != want {
		t.Fatalf("got %d outliers, want %d", got, want)
	}

	outlier := make(map[int]bool, len(s.OutlierIdx))
	for _, i := range s.OutlierIdx {
		outlier[i] = true
	}
	for i := range s.Fingerprint.Readings {
		e := math.Abs(s.Errors[i])
		score := s.ReadingScores[i]
		if outlier[i] {
			if e < cfg.OutlierMinOffset-1e-9 {
				t.Fatalf("outlier %d has offset %v below %v", i, e, cfg.OutlierMinOffset)
			}
			if score >= 1.0/(1+cfg.OutlierMinOffset)+1e-9 {
				t.Fatalf("outlier %d has score %v, want at most %v", i, score, 1.0/(1+cfg.OutlierMinOffset))
			}
		} else {
			if e != 0 {
				t.Fatalf("inlier %d has error %v", i, e)
			}
			if score != 1 {
				t.Fatalf("inlier %d has score %v, want 1", i, score)
			}
		}
	}
}

func TestNewRSSIRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = radio.ReadingRSSI

	s, err := New(cfg, rand.NewPCG(9, 9))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, r := range s.Fingerprint.Readings {
		if r.Kind != radio.ReadingRSSI {
			t.Fatalf("reading %d kind = %q", i, r.Kind)
		}
		want := s.Truth.DistanceTo(s.Sources[i].Position)
		got := cfg.PathLoss.Distance(r.RSSI)
		if math.Abs(got-want) > 1e-9*want {
			t.Fatalf("reading %d implies distance %v, want %v", i, got, want)
		}
	}
}

func TestNewReadingsPerSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumSources = 10
	cfg.ReadingsPerSource = 5

	s, err := New(cfg, rand.NewPCG(5, 6))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Fingerprint.Len(); got != 50 {
		t.Fatalf("got %d readings, want 50", got)
	}
	if got := s.Fingerprint.DistinctSources(); got != 10 {
		t.Fatalf("got %d distinct sources, want 10", got)
	}
}

func TestNewFixedTruth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Truth = geom.Point{12.5, -3}

	s, err := New(cfg, rand.NewPCG(1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff(cfg.Truth, s.Truth); diff != "" {
		t.Fatalf("truth not honored (-want +got):\n%s", diff)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad dimension", func(c *Config) { c.Dim = 4 }},
		{"too few sources", func(c *Config) { c.NumSources = 2 }},
		{"zero extent", func(c *Config) { c.Extent = 0 }},
		{"bad kind", func(c *Config) { c.Kind = "chirp" }},
		{"truth dimension mismatch", func(c *Config) { c.Truth = geom.Point{1, 2, 3} }},
		{"bad path loss", func(c *Config) {
			c.Kind = radio.ReadingRSSI
			c.PathLoss.Exponent = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, rand.NewPCG(1, 1)); !errors.Is(err, ErrConfig) {
				t.Fatalf("got error %v, want ErrConfig", err)
			}
		})
	}
}

func TestNewClampsOutlierFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumSources = 20
	cfg.OutlierFraction = 1.7

	s, err := New(cfg, rand.NewPCG(2, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(s.OutlierIdx); got >= 20 {
		t.Fatalf("clamped fraction still perturbed %d of 20 readings", got)
	}
}
