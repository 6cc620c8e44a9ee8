package radio

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

func TestSourceValidate(t *testing.T) {
	cov2 := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	cov3 := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})

	tests := []struct {
		name    string
		source  Source
		dim     int
		wantErr bool
	}{
		{"valid 2d", Source{ID: "ap-1", Position: geom.Point{1, 2}}, 2, false},
		{"valid 3d with covariance", Source{ID: "ap-1", Position: geom.Point{1, 2, 3}, PositionCovariance: cov3}, 3, false},
		{"empty id", Source{Position: geom.Point{1, 2}}, 2, true},
		{"wrong dimension", Source{ID: "ap-1", Position: geom.Point{1, 2, 3}}, 2, true},
		{"nan coordinate", Source{ID: "ap-1", Position: geom.Point{1, math.NaN()}}, 2, true},
		{"covariance dimension mismatch", Source{ID: "ap-1", Position: geom.Point{1, 2, 3}, PositionCovariance: cov2}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate(tt.dim)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSource) {
				t.Errorf("error %v is not ErrInvalidSource", err)
			}
		})
	}
}

func TestSourcePositionVariance(t *testing.T) {
	s := Source{ID: "ap-1", Position: geom.Point{0, 0}}
	if got := s.PositionVariance(); got != 0 {
		t.Errorf("PositionVariance() without covariance = %v, want 0", got)
	}
	s.PositionCovariance = mat.NewSymDense(2, []float64{4, 0, 0, 2})
	if got := s.PositionVariance(); got != 3 {
		t.Errorf("PositionVariance() = %v, want 3", got)
	}
}

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		wantErr bool
	}{
		{"valid ranging", Reading{SourceID: "ap-1", Kind: ReadingRanging, Distance: 4.2, StdDev: 0.1}, false},
		{"valid rssi", Reading{SourceID: "ap-1", Kind: ReadingRSSI, RSSI: -61}, false},
		{"empty source id", Reading{Kind: ReadingRanging, Distance: 1}, true},
		{"unknown kind", Reading{SourceID: "ap-1", Kind: "doppler"}, true},
		{"negative distance", Reading{SourceID: "ap-1", Kind: ReadingRanging, Distance: -1}, true},
		{"nan distance", Reading{SourceID: "ap-1", Kind: ReadingRanging, Distance: math.NaN()}, true},
		{"nan rssi", Reading{SourceID: "ap-1", Kind: ReadingRSSI, RSSI: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidReading) {
				t.Errorf("error %v is not ErrInvalidReading", err)
			}
		})
	}
}

func TestFingerprintDistinctSources(t *testing.T) {
	f := Fingerprint{Readings: []Reading{
		{SourceID: "a", Kind: ReadingRanging, Distance: 1},
		{SourceID: "b", Kind: ReadingRanging, Distance: 2},
		{SourceID: "a", Kind: ReadingRSSI, RSSI: -50},
	}}
	if got := f.DistinctSources(); got != 2 {
		t.Errorf("DistinctSources() = %d, want 2", got)
	}
	if got := f.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	f.Readings = append(f.Readings, Reading{SourceID: "c", Kind: "bogus"})
	if err := f.Validate(); err == nil {
		t.Error("Validate() accepted a malformed reading")
	}
}
