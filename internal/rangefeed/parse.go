package rangefeed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/radiofix/radio"
)

// Line prefixes emitted by the tag firmware.
const (
	prefixRanging = "RNG"
	prefixRSSI    = "RSS"
)

// ErrUnknownLine is returned for lines that are not a known record type.
var ErrUnknownLine = errors.New("unknown line")

// errSkippable marks blank lines and comments, which carry no data.
var errSkippable = errors.New("skippable line")

// Measurement is one parsed device record. At is stamped by the feed
// when the line arrives, not by the parser.
type Measurement struct {
	Reading radio.Reading

	// Quality is the device's own confidence in [0, 1]. Lines without
	// a quality field report 1.
	Quality float64

	At time.Time
}

// ParseLine parses one line of tag output. Supported records:
//
//	RNG,<source>,<distance_m>[,<stddev_m>[,<quality>]]
//	RSS,<source>,<rssi_dbm>[,<stddev_db>]
//
// Blank lines and lines starting with '#' are skipped.
func ParseLine(line string) (Measurement, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Measurement{}, errSkippable
	}

	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	switch fields[0] {
	case prefixRanging:
		return parseRanging(fields)
	case prefixRSSI:
		return parseRSSI(fields)
	default:
		return Measurement{}, fmt.Errorf("%w: %q", ErrUnknownLine, fields[0])
	}
}

func parseRanging(fields []string) (Measurement, error) {
	if len(fields) < 3 || len(fields) > 5 {
		return Measurement{}, fmt.Errorf("ranging record has %d fields, want 3 to 5", len(fields))
	}
	m := Measurement{
		Reading: radio.Reading{
			SourceID: fields[1],
			Kind:     radio.ReadingRanging,
		},
		Quality: 1,
	}
	var err error
	if m.Reading.Distance, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Measurement{}, fmt.Errorf("bad distance %q: %w", fields[2], err)
	}
	if len(fields) > 3 {
		if m.Reading.StdDev, err = strconv.ParseFloat(fields[3], 64); err != nil {
			return Measurement{}, fmt.Errorf("bad stddev %q: %w", fields[3], err)
		}
	}
	if len(fields) > 4 {
		if m.Quality, err = strconv.ParseFloat(fields[4], 64); err != nil {
			return Measurement{}, fmt.Errorf("bad quality %q: %w", fields[4], err)
		}
		if m.Quality < 0 || m.Quality > 1 {
			return Measurement{}, fmt.Errorf("quality %v outside [0, 1]", m.Quality)
		}
	}
	if err := m.Reading.Validate(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

func parseRSSI(fields []string) (Measurement, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return Measurement{}, fmt.Errorf("rssi record has %d fields, want 3 or 4", len(fields))
	}
	m := Measurement{
		Reading: radio.Reading{
			SourceID: fields[1],
			Kind:     radio.ReadingRSSI,
		},
		Quality: 1,
	}
	var err error
	if m.Reading.RSSI, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Measurement{}, fmt.Errorf("bad rssi %q: %w", fields[2], err)
	}
	if len(fields) > 3 {
		if m.Reading.StdDev, err = strconv.ParseFloat(fields[3], 64); err != nil {
			return Measurement{}, fmt.Errorf("bad stddev %q: %w", fields[3], err)
		}
	}
	if err := m.Reading.Validate(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}
