// Package radio defines the measurement model consumed by the position
// estimators: known transmitter sources, distance-like readings taken at
// an unknown position, and the propagation model that turns received
// signal strength into distance.
package radio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
)

// ReadingKind tells how a reading measures distance to its source.
type ReadingKind string

const (
	// ReadingRanging is a direct distance measurement in metres, for
	// example from a two-way-ranging exchange.
	ReadingRanging ReadingKind = "ranging"

	// ReadingRSSI is a received signal strength in dBm, converted to a
	// distance through a path loss model.
	ReadingRSSI ReadingKind = "rssi"
)

// IsValid reports whether k is a known reading kind.
func (k ReadingKind) IsValid() bool {
	return k == ReadingRanging || k == ReadingRSSI
}

// ErrInvalidSource is returned when a source cannot take part in an
// estimation (missing ID, wrong position dimension, malformed covariance).
var ErrInvalidSource = errors.New("invalid radio source")

// ErrInvalidReading is returned when a reading is malformed (unknown
// kind, missing source ID, non-finite measurement).
var ErrInvalidReading = errors.New("invalid reading")

// Source is a transmitter at a known position. Sources are treated as
// immutable once handed to an estimator.
type Source struct {
	// ID identifies the transmitter, typically a BSSID or beacon ID.
	ID string

	// FrequencyHz is the carrier frequency. Zero when unknown.
	FrequencyHz float64

	// Position is the surveyed transmitter position, 2 or 3 coordinates.
	Position geom.Point

	// PositionCovariance describes survey uncertainty. Nil when the
	// position is taken as exact.
	PositionCovariance *mat.SymDense
}

// Validate checks that s can take part in a dim-dimensional estimation.
func (s Source) Validate(dim int) error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidSource)
	}
	if s.Position.Dim() != dim {
		return fmt.Errorf("%w %s: position has %d coordinates, want %d", ErrInvalidSource, s.ID, s.Position.Dim(), dim)
	}
	for _, v := range s.Position {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w %s: non-finite position coordinate", ErrInvalidSource, s.ID)
		}
	}
	if s.PositionCovariance != nil && s.PositionCovariance.SymmetricDim() != dim {
		return fmt.Errorf("%w %s: covariance is %dx%d, want %dx%d", ErrInvalidSource, s.ID,
			s.PositionCovariance.SymmetricDim(), s.PositionCovariance.SymmetricDim(), dim, dim)
	}
	return nil
}

// PositionVariance returns the mean diagonal element of the position
// covariance, or zero when no covariance is attached.
func (s Source) PositionVariance() float64 {
	if s.PositionCovariance == nil {
		return 0
	}
	n := s.PositionCovariance.SymmetricDim()
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.PositionCovariance.At(i, i)
	}
	return sum / float64(n)
}

// Reading is one distance-like measurement to a source. Several readings
// may reference the same source.
type Reading struct {
	// SourceID names the measured source.
	SourceID string

	// Kind selects which measurement field carries the value.
	Kind ReadingKind

	// Distance is the measured distance in metres (ranging readings).
	Distance float64

	// RSSI is the received signal strength in dBm (rssi readings).
	RSSI float64

	// StdDev is the measurement standard deviation: metres for ranging
	// readings, dB for rssi readings. Zero or negative means unknown.
	StdDev float64
}

// Validate checks that r is well formed.
func (r Reading) Validate() error {
	if r.SourceID == "" {
		return fmt.Errorf("%w: empty source ID", ErrInvalidReading)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w %s: unknown kind %q", ErrInvalidReading, r.SourceID, r.Kind)
	}
	switch r.Kind {
	case ReadingRanging:
		if math.IsNaN(r.Distance) || math.IsInf(r.Distance, 0) || r.Distance < 0 {
			return fmt.Errorf("%w %s: bad distance %v", ErrInvalidReading, r.SourceID, r.Distance)
		}
	case ReadingRSSI:
		if math.IsNaN(r.RSSI) || math.IsInf(r.RSSI, 0) {
			return fmt.Errorf("%w %s: bad rssi %v", ErrInvalidReading, r.SourceID, r.RSSI)
		}
	}
	return nil
}

// Fingerprint is an ordered set of readings taken at one unknown
// position.
type Fingerprint struct {
	// TakenAt records when the readings were collected. Zero when the
	// fingerprint is synthetic.
	TakenAt time.Time

	Readings []Reading
}

// Len returns the number of readings.
func (f Fingerprint) Len() int { return len(f.Readings) }

// DistinctSources returns the number of distinct source IDs referenced
// by the readings.
func (f Fingerprint) DistinctSources() int {
	seen := make(map[string]struct{}, len(f.Readings))
	for _, r := range f.Readings {
		seen[r.SourceID] = struct{}{}
	}
	return len(seen)
}

// Validate checks every reading.
func (f Fingerprint) Validate() error {
	for i, r := range f.Readings {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
	}
	return nil
}
