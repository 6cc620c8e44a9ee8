// Package capture turns 802.11 monitor-mode captures into fingerprints.
// Frames are read from a FrameSource (a pcap file in production, a mock
// in tests), grouped by transmitter, and folded into per-source RSSI
// readings whose deviations come from the observed signal spread.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/radiofix/radio"
)

// ErrNoFrames is returned when a capture contains no usable frames.
var ErrNoFrames = errors.New("no usable frames in capture")

// Frame is one decoded 802.11 frame with its radio metadata.
type Frame struct {
	// TransmitterID identifies the sending radio, normally its MAC.
	TransmitterID string

	// RSSI is the received signal strength in dBm.
	RSSI float64

	// FrequencyHz is the capture channel frequency, zero when unknown.
	FrequencyHz float64

	// Management reports whether this is a management frame. Beacons
	// and probe responses give the steadiest signal readings.
	Management bool

	Time time.Time
}

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next() (Frame, error)
}

// Options control how frames fold into a fingerprint.
type Options struct {
	// ManagementOnly drops data and control frames.
	ManagementOnly bool

	// MinFrames drops transmitters seen fewer than this many times.
	// Zero means 1.
	MinFrames int

	// Aggregate folds each transmitter's frames into a single RSSI
	// reading with the sample deviation. When false every frame
	// becomes its own reading.
	Aggregate bool
}

// DiscoveredSource summarises one transmitter seen in a capture.
type DiscoveredSource struct {
	ID          string
	FrequencyHz float64
	Frames      int
	MeanRSSI    float64
	RSSIStdDev  float64
}

// Capture is the result of folding a frame stream.
type Capture struct {
	Fingerprint radio.Fingerprint
	Sources     []DiscoveredSource

	// FramesRead counts all frames consumed, FramesUsed the ones that
	// survived filtering.
	FramesRead int
	FramesUsed int
}

// Collect drains src and folds the frames into a capture.
func Collect(src FrameSource, opts Options) (*Capture, error) {
	minFrames := opts.MinFrames
	if minFrames < 1 {
		minFrames = 1
	}

	type group struct {
		frames []Frame
		rssi   []float64
	}
	groups := make(map[string]*group)

	c := &Capture{}
	var takenAt time.Time
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		c.FramesRead++

		if f.TransmitterID == "" {
			continue
		}
		if opts.ManagementOnly && !f.Management {
			continue
		}

		g := groups[f.TransmitterID]
		if g == nil {
			g = &group{}
			groups[f.TransmitterID] = g
		}
		g.frames = append(g.frames, f)
		g.rssi = append(g.rssi, f.RSSI)
		if f.Time.After(takenAt) {
			takenAt = f.Time
		}
	}

	ids := make([]string, 0, len(groups))
	for id, g := range groups {
		if len(g.frames) >= minFrames {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoFrames
	}
	sort.Strings(ids)

	c.Fingerprint.TakenAt = takenAt
	for _, id := range ids {
		g := groups[id]
		mean, std := stat.MeanStdDev(g.rssi, nil)
		if len(g.rssi) < 2 {
			std = 0
		}
		c.Sources = append(c.Sources, DiscoveredSource{
			ID:          id,
			FrequencyHz: g.frames[0].FrequencyHz,
			Frames:      len(g.frames),
			MeanRSSI:    mean,
			RSSIStdDev:  std,
		})
		c.FramesUsed += len(g.frames)

		if opts.Aggregate {
			c.Fingerprint.Readings = append(c.Fingerprint.Readings, radio.Reading{
				SourceID: id,
				Kind:     radio.ReadingRSSI,
				RSSI:     mean,
				StdDev:   std,
			})
			continue
		}
		for _, f := range g.frames {
			c.Fingerprint.Readings = append(c.Fingerprint.Readings, radio.Reading{
				SourceID: id,
				Kind:     radio.ReadingRSSI,
				RSSI:     f.RSSI,
			})
		}
	}
	return c, nil
}
