package main

import (
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/internal/store"
)

func TestRunSummaryLine(t *testing.T) {
	r := store.Run{
		ID:         "run-1",
		Label:      "bench",
		CreatedAt:  time.Unix(0, 1724310001000000000).UTC(),
		Dim:        2,
		NumSources: 24,
		Position:   geom.Point{1, 2},
		Score:      0.0125,
		NumInliers: 19,
	}

	line := runSummaryLine(r)
	for _, want := range []string{"run-1", "2D", "24 sources", "score 0.0125", "19 inliers", "bench"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected summary line to contain %q, got %q", want, line)
		}
	}

	r.Label = ""
	if !strings.Contains(runSummaryLine(r), "(unlabelled)") {
		t.Errorf("Expected placeholder for empty label, got %q", runSummaryLine(r))
	}
}
