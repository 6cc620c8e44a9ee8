package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/internal/registry"
	"github.com/banshee-data/radiofix/internal/store"
	"github.com/banshee-data/radiofix/radio"
)

func TestMatchReadings(t *testing.T) {
	site := &registry.Site{
		Name: "lab",
		Dim:  2,
		Sources: []radio.Source{
			{ID: "a1", Position: geom.Point{0, 0}},
			{ID: "a2", Position: geom.Point{10, 0}},
		},
	}
	readings := []radio.Reading{
		{SourceID: "a1", Kind: radio.ReadingRanging, Distance: 5},
		{SourceID: "ghost", Kind: radio.ReadingRanging, Distance: 7},
		{SourceID: "a2", Kind: radio.ReadingRanging, Distance: 6},
	}
	scores := []float64{0.9, 0.1, 0.8}

	fp, kept, skipped := matchReadings(site, readings, scores)
	if fp.Len() != 2 {
		t.Fatalf("Expected 2 matched readings, got %d", fp.Len())
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped reading, got %d", skipped)
	}
	if len(kept) != 2 || kept[0] != 0.9 || kept[1] != 0.8 {
		t.Errorf("Expected scores [0.9 0.8], got %v", kept)
	}
	if fp.Readings[1].SourceID != "a2" {
		t.Errorf("Expected second kept reading from a2, got %q", fp.Readings[1].SourceID)
	}

	fp, kept, skipped = matchReadings(site, readings, nil)
	if fp.Len() != 2 || skipped != 1 {
		t.Errorf("Expected 2 matched and 1 skipped without scores, got %d and %d", fp.Len(), skipped)
	}
	if kept != nil {
		t.Errorf("Expected nil scores to stay nil, got %v", kept)
	}
}

func TestCovarianceRowMajor(t *testing.T) {
	if got := covarianceRowMajor(nil); got != nil {
		t.Errorf("Expected nil for nil covariance, got %v", got)
	}

	cov := mat.NewSymDense(2, []float64{1, 2, 2, 4})
	got := covarianceRowMajor(cov)
	want := []float64{1, 2, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected value %v at %d, got %v", want[i], i, got[i])
		}
	}
}

func TestAssembleProblemUnknownKind(t *testing.T) {
	sc := &Scenario{Input: InputConfig{Kind: "bogus"}}
	if _, err := assembleProblem(context.Background(), sc); err == nil {
		t.Error("Expected error for unknown input kind, got nil")
	}
}

func TestRunScenarioSimulate(t *testing.T) {
	dir := t.TempDir()
	seed := uint64(7)
	maxIter := 128
	keepCov := true
	sc := &Scenario{
		Label: "simulated bench",
		Seed:  &seed,
		Input: InputConfig{Kind: "simulate"},
		Simulate: &SimulateConfig{
			Dim:             2,
			NumSources:      24,
			NoiseStdDev:     0.2,
			OutlierFraction: 0.2,
		},
		Estimator: &EstimatorConfig{
			MaxIterations:  &maxIter,
			KeepCovariance: &keepCov,
		},
		Output: OutputConfig{
			DB:         filepath.Join(dir, "runs.db"),
			Dir:        filepath.Join(dir, "reports"),
			ReportBase: "bench",
		},
	}

	if err := runScenario(context.Background(), sc); err != nil {
		t.Fatalf("Failed to run scenario: %v", err)
	}

	st, err := store.Open(sc.Output.DB)
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	defer st.Close()
	runs, err := st.ListRuns(10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 stored run, got %d", len(runs))
	}
	if runs[0].Label != "simulated bench" {
		t.Errorf("Expected run label 'simulated bench', got %q", runs[0].Label)
	}
	if runs[0].Dim != 2 {
		t.Errorf("Expected 2D run, got %dD", runs[0].Dim)
	}
	if runs[0].NumInliers == 0 {
		t.Error("Expected a positive inlier count")
	}
	if len(runs[0].Covariance) != 4 {
		t.Errorf("Expected 2x2 covariance, got %d values", len(runs[0].Covariance))
	}

	png, err := os.ReadFile(filepath.Join(dir, "reports", "bench.png"))
	if err != nil {
		t.Fatalf("Failed to read PNG report: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("Expected PNG report to start with the PNG signature")
	}

	html, err := os.ReadFile(filepath.Join(dir, "reports", "bench.html"))
	if err != nil {
		t.Fatalf("Failed to read HTML report: %v", err)
	}
	if !bytes.Contains(html, []byte("estimate")) {
		t.Error("Expected HTML report to name the estimate series")
	}
}
