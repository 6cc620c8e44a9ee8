package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/radiofix/estimator"
	"github.com/banshee-data/radiofix/radio"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	testYAML := `
label: bench run
seed: 42
input:
  kind: simulate
simulate:
  dim: 3
  numSources: 20
  noiseStdDev: 0.5
  outlierFraction: 0.2
estimator:
  maxIterations: 128
  keepCovariance: true
pathLoss:
  exponent: 2.4
output:
  db: runs.db
  dir: out
  reportBase: bench
`
	sc, err := LoadScenario(writeTestFile(t, "scenario.yaml", testYAML))
	if err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	if sc.Label != "bench run" {
		t.Errorf("Expected label 'bench run', got %q", sc.Label)
	}
	if sc.Seed == nil || *sc.Seed != 42 {
		t.Errorf("Expected seed 42, got %v", sc.Seed)
	}
	if sc.Input.Kind != "simulate" {
		t.Errorf("Expected input kind simulate, got %q", sc.Input.Kind)
	}
	if sc.Simulate == nil || sc.Simulate.Dim != 3 {
		t.Errorf("Expected simulate dim 3, got %+v", sc.Simulate)
	}
	if sc.Simulate.NumSources != 20 {
		t.Errorf("Expected 20 sources, got %d", sc.Simulate.NumSources)
	}
	if sc.Estimator == nil || sc.Estimator.MaxIterations == nil || *sc.Estimator.MaxIterations != 128 {
		t.Errorf("Expected maxIterations 128, got %+v", sc.Estimator)
	}
	if sc.Estimator.KeepCovariance == nil || !*sc.Estimator.KeepCovariance {
		t.Errorf("Expected keepCovariance true, got %v", sc.Estimator.KeepCovariance)
	}
	if sc.PathLoss == nil || sc.PathLoss.Exponent == nil || *sc.PathLoss.Exponent != 2.4 {
		t.Errorf("Expected pathLoss exponent 2.4, got %+v", sc.PathLoss)
	}
	if sc.Output.DB != "runs.db" || sc.Output.Dir != "out" || sc.Output.ReportBase != "bench" {
		t.Errorf("Unexpected output config: %+v", sc.Output)
	}
}

func TestLoadScenarioMissing(t *testing.T) {
	_, err := LoadScenario("/nonexistent/path/scenario.yaml")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		yaml string
	}{
		{
			name: "wrong extension",
			file: "scenario.json",
			yaml: "input:\n  kind: simulate\n",
		},
		{
			name: "unknown field",
			file: "scenario.yaml",
			yaml: "input:\n  kind: simulate\nbogus: 1\n",
		},
		{
			name: "missing kind",
			file: "scenario.yaml",
			yaml: "label: x\n",
		},
		{
			name: "bad kind",
			file: "scenario.yaml",
			yaml: "input:\n  kind: csv\n",
		},
		{
			name: "pcap without site",
			file: "scenario.yaml",
			yaml: "input:\n  kind: pcap\n  pcap: cap.pcap\n",
		},
		{
			name: "pcap without file",
			file: "scenario.yaml",
			yaml: "input:\n  kind: pcap\n  site: lab\n",
		},
		{
			name: "serial without port",
			file: "scenario.yaml",
			yaml: "input:\n  kind: serial\n  site: lab\n",
		},
		{
			name: "bad listen window",
			file: "scenario.yaml",
			yaml: "input:\n  kind: simulate\n  listenFor: soon\n",
		},
		{
			name: "negative min frames",
			file: "scenario.yaml",
			yaml: "input:\n  kind: simulate\n  minFrames: -1\n",
		},
		{
			name: "bad simulate kind",
			file: "scenario.yaml",
			yaml: "input:\n  kind: simulate\nsimulate:\n  kind: sonar\n",
		},
		{
			name: "bad simulate dim",
			file: "scenario.yaml",
			yaml: "input:\n  kind: simulate\nsimulate:\n  dim: 4\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeTestFile(t, tt.file, tt.yaml))
			if err == nil {
				t.Errorf("Expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestScenarioEstimatorConfigDefaults(t *testing.T) {
	sc := &Scenario{Input: InputConfig{Kind: "simulate"}}
	cfg := sc.estimatorConfig()
	def := estimator.DefaultConfig()

	if cfg.StopThreshold != def.StopThreshold {
		t.Errorf("Expected default stop threshold %v, got %v", def.StopThreshold, cfg.StopThreshold)
	}
	if cfg.MaxIterations != def.MaxIterations {
		t.Errorf("Expected default max iterations %d, got %d", def.MaxIterations, cfg.MaxIterations)
	}
	if cfg.SubsetSize != def.SubsetSize {
		t.Errorf("Expected default subset size %d, got %d", def.SubsetSize, cfg.SubsetSize)
	}
}

func TestScenarioEstimatorConfigOverrides(t *testing.T) {
	stop := 1e-6
	iter := 64
	subset := 5
	linear := false
	keepCov := true
	fallback := 2.5
	sc := &Scenario{
		Input: InputConfig{Kind: "simulate"},
		Estimator: &EstimatorConfig{
			StopThreshold:   &stop,
			MaxIterations:   &iter,
			SubsetSize:      &subset,
			LinearSolver:    &linear,
			KeepCovariance:  &keepCov,
			FallbackStdDev:  &fallback,
			InitialPosition: []float64{1, 2},
		},
	}
	cfg := sc.estimatorConfig()

	if cfg.StopThreshold != stop {
		t.Errorf("Expected stop threshold %v, got %v", stop, cfg.StopThreshold)
	}
	if cfg.MaxIterations != iter {
		t.Errorf("Expected max iterations %d, got %d", iter, cfg.MaxIterations)
	}
	if cfg.SubsetSize != subset {
		t.Errorf("Expected subset size %d, got %d", subset, cfg.SubsetSize)
	}
	if cfg.LinearSolverUsed {
		t.Error("Expected linear solver disabled")
	}
	if !cfg.CovarianceKept {
		t.Error("Expected covariance kept")
	}
	if cfg.FallbackDistanceStdDev != fallback {
		t.Errorf("Expected fallback std dev %v, got %v", fallback, cfg.FallbackDistanceStdDev)
	}
	if len(cfg.InitialPosition) != 2 || cfg.InitialPosition[0] != 1 {
		t.Errorf("Expected initial position [1 2], got %v", cfg.InitialPosition)
	}
}

func TestScenarioSimulateConfig(t *testing.T) {
	exponent := 2.7
	sc := &Scenario{
		Input: InputConfig{Kind: "simulate"},
		Simulate: &SimulateConfig{
			Dim:             3,
			NumSources:      30,
			Kind:            "rssi",
			NoiseStdDev:     0.5,
			OutlierFraction: 0.1,
			Truth:           []float64{1, 2, 3},
		},
		PathLoss: &PathLossConfig{Exponent: &exponent},
	}
	cfg := sc.simulateConfig()

	if cfg.Dim != 3 {
		t.Errorf("Expected dim 3, got %d", cfg.Dim)
	}
	if cfg.NumSources != 30 {
		t.Errorf("Expected 30 sources, got %d", cfg.NumSources)
	}
	if cfg.Kind != radio.ReadingRSSI {
		t.Errorf("Expected rssi kind, got %q", cfg.Kind)
	}
	if cfg.NoiseStdDev != 0.5 {
		t.Errorf("Expected noise 0.5, got %v", cfg.NoiseStdDev)
	}
	if cfg.OutlierFraction != 0.1 {
		t.Errorf("Expected outlier fraction 0.1, got %v", cfg.OutlierFraction)
	}
	if len(cfg.Truth) != 3 || cfg.Truth[2] != 3 {
		t.Errorf("Expected truth [1 2 3], got %v", cfg.Truth)
	}
	if cfg.PathLoss.Exponent != exponent {
		t.Errorf("Expected path loss exponent %v, got %v", exponent, cfg.PathLoss.Exponent)
	}
	// Omitted fields keep simulator defaults.
	if cfg.Extent != 50 {
		t.Errorf("Expected default extent 50, got %v", cfg.Extent)
	}
}

func TestInputConfigDefaults(t *testing.T) {
	var in InputConfig
	if got := in.listenFor(); got != 10*time.Second {
		t.Errorf("Expected default listen window 10s, got %v", got)
	}
	if got := in.registryPath(); got != "sites.db" {
		t.Errorf("Expected default registry sites.db, got %q", got)
	}

	in.ListenFor = "2s"
	in.Registry = "custom.db"
	if got := in.listenFor(); got != 2*time.Second {
		t.Errorf("Expected listen window 2s, got %v", got)
	}
	if got := in.registryPath(); got != "custom.db" {
		t.Errorf("Expected registry custom.db, got %q", got)
	}

	mgmtOnly, aggregate, minFrames := in.captureOptions()
	if !mgmtOnly || !aggregate || minFrames != 0 {
		t.Errorf("Expected default capture options (true, true, 0), got (%v, %v, %d)", mgmtOnly, aggregate, minFrames)
	}
	off := false
	in.ManagementOnly = &off
	in.Aggregate = &off
	in.MinFrames = 3
	mgmtOnly, aggregate, minFrames = in.captureOptions()
	if mgmtOnly || aggregate || minFrames != 3 {
		t.Errorf("Expected capture options (false, false, 3), got (%v, %v, %d)", mgmtOnly, aggregate, minFrames)
	}

	var out OutputConfig
	if got := out.reportBase(); got != "run" {
		t.Errorf("Expected default report base 'run', got %q", got)
	}
	out.ReportBase = "bench"
	if got := out.reportBase(); got != "bench" {
		t.Errorf("Expected report base 'bench', got %q", got)
	}
}
