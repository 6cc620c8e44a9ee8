package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/radiofix/estimator"
	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/internal/simulate"
	"github.com/banshee-data/radiofix/radio"
)

// Scenario is one YAML-described run. Fields omitted from the file keep
// their defaults, so partial scenarios are safe.
type Scenario struct {
	Label     string           `yaml:"label"`
	Seed      *uint64          `yaml:"seed,omitempty"`
	Input     InputConfig      `yaml:"input"`
	Simulate  *SimulateConfig  `yaml:"simulate,omitempty"`
	Estimator *EstimatorConfig `yaml:"estimator,omitempty"`
	PathLoss  *PathLossConfig  `yaml:"pathLoss,omitempty"`
	Output    OutputConfig     `yaml:"output"`
}

// InputConfig selects where the fingerprint comes from.
type InputConfig struct {
	// Kind is simulate, pcap, or serial.
	Kind string `yaml:"kind"`

	// Pcap is the capture file for pcap input.
	Pcap string `yaml:"pcap,omitempty"`

	// Site names the registry entry holding the surveyed source
	// positions for pcap and serial input.
	Site string `yaml:"site,omitempty"`

	// Registry is the bbolt site database path.
	Registry string `yaml:"registry,omitempty"`

	SerialPort string `yaml:"serialPort,omitempty"`
	BaudRate   int    `yaml:"baudRate,omitempty"`

	// ListenFor bounds the serial collection window, e.g. "10s".
	ListenFor string `yaml:"listenFor,omitempty"`

	// MinFrames drops transmitters seen fewer times in a capture.
	MinFrames int `yaml:"minFrames,omitempty"`

	// Aggregate folds a capture into one reading per transmitter.
	Aggregate *bool `yaml:"aggregate,omitempty"`

	// ManagementOnly keeps only 802.11 management frames.
	ManagementOnly *bool `yaml:"managementOnly,omitempty"`
}

// SimulateConfig shapes synthetic scenarios. Zero values fall back to
// the simulator defaults.
type SimulateConfig struct {
	Dim               int       `yaml:"dim,omitempty"`
	NumSources        int       `yaml:"numSources,omitempty"`
	ReadingsPerSource int       `yaml:"readingsPerSource,omitempty"`
	Extent            float64   `yaml:"extent,omitempty"`
	Kind              string    `yaml:"kind,omitempty"`
	NoiseStdDev       float64   `yaml:"noiseStdDev,omitempty"`
	OutlierFraction   float64   `yaml:"outlierFraction,omitempty"`
	OutlierMinOffset  float64   `yaml:"outlierMinOffset,omitempty"`
	OutlierMaxOffset  float64   `yaml:"outlierMaxOffset,omitempty"`
	ScoreFromError    bool      `yaml:"scoreFromError,omitempty"`
	Truth             []float64 `yaml:"truth,omitempty"`
}

// EstimatorConfig overrides estimator defaults. Only set fields apply.
type EstimatorConfig struct {
	StopThreshold       *float64  `yaml:"stopThreshold,omitempty"`
	Confidence          *float64  `yaml:"confidence,omitempty"`
	MaxIterations       *int      `yaml:"maxIterations,omitempty"`
	SubsetSize          *int      `yaml:"subsetSize,omitempty"`
	LinearSolver        *bool     `yaml:"linearSolver,omitempty"`
	HomogeneousSolver   *bool     `yaml:"homogeneousSolver,omitempty"`
	RefineCandidates    *bool     `yaml:"refineCandidates,omitempty"`
	RefineResult        *bool     `yaml:"refineResult,omitempty"`
	KeepCovariance      *bool     `yaml:"keepCovariance,omitempty"`
	EvenReadings        *bool     `yaml:"evenReadings,omitempty"`
	UseSourceCovariance *bool     `yaml:"useSourceCovariance,omitempty"`
	FallbackStdDev      *float64  `yaml:"fallbackStdDev,omitempty"`
	InitialPosition     []float64 `yaml:"initialPosition,omitempty"`
}

// PathLossConfig overrides the RSSI conversion model.
type PathLossConfig struct {
	ReferencePower    *float64 `yaml:"referencePower,omitempty"`
	ReferenceDistance *float64 `yaml:"referenceDistance,omitempty"`
	Exponent          *float64 `yaml:"exponent,omitempty"`
	ShadowSigma       *float64 `yaml:"shadowSigma,omitempty"`
}

// OutputConfig names the run artifacts.
type OutputConfig struct {
	// DB is the runs database path. Empty skips persistence.
	DB string `yaml:"db,omitempty"`

	// Dir receives the report files. Empty skips reports.
	Dir string `yaml:"dir,omitempty"`

	// ReportBase is the artifact base name, default "run".
	ReportBase string `yaml:"reportBase,omitempty"`
}

const maxScenarioSize = 1 << 20

// LoadScenario reads and validates a YAML scenario file. Unknown keys
// are rejected so typos surface instead of silently using defaults.
func LoadScenario(path string) (*Scenario, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("scenario file must have .yaml or .yml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario file: %w", err)
	}
	if info.Size() > maxScenarioSize {
		return nil, fmt.Errorf("scenario file too large: %d bytes (max %d)", info.Size(), maxScenarioSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()

	var sc Scenario
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks the scenario's cross-field requirements.
func (sc *Scenario) Validate() error {
	switch sc.Input.Kind {
	case "simulate":
	case "pcap":
		if sc.Input.Pcap == "" {
			return fmt.Errorf("pcap input needs input.pcap")
		}
		if sc.Input.Site == "" {
			return fmt.Errorf("pcap input needs input.site")
		}
	case "serial":
		if sc.Input.SerialPort == "" {
			return fmt.Errorf("serial input needs input.serialPort")
		}
		if sc.Input.Site == "" {
			return fmt.Errorf("serial input needs input.site")
		}
	default:
		return fmt.Errorf("input.kind must be simulate, pcap, or serial, got %q", sc.Input.Kind)
	}

	if sc.Input.ListenFor != "" {
		if _, err := time.ParseDuration(sc.Input.ListenFor); err != nil {
			return fmt.Errorf("invalid input.listenFor %q: %w", sc.Input.ListenFor, err)
		}
	}
	if sc.Input.MinFrames < 0 {
		return fmt.Errorf("input.minFrames must be non-negative, got %d", sc.Input.MinFrames)
	}
	if s := sc.Simulate; s != nil {
		if s.Kind != "" && s.Kind != string(radio.ReadingRanging) && s.Kind != string(radio.ReadingRSSI) {
			return fmt.Errorf("simulate.kind must be ranging or rssi, got %q", s.Kind)
		}
		if s.Dim != 0 && s.Dim != 2 && s.Dim != 3 {
			return fmt.Errorf("simulate.dim must be 2 or 3, got %d", s.Dim)
		}
	}
	return nil
}

// listenFor resolves the serial collection window, default 10s.
func (c InputConfig) listenFor() time.Duration {
	if c.ListenFor == "" {
		return 10 * time.Second
	}
	d, _ := time.ParseDuration(c.ListenFor)
	return d
}

// registryPath resolves the site database location.
func (c InputConfig) registryPath() string {
	if c.Registry == "" {
		return "sites.db"
	}
	return c.Registry
}

// reportBase resolves the artifact base name.
func (c OutputConfig) reportBase() string {
	if c.ReportBase == "" {
		return "run"
	}
	return c.ReportBase
}

// simulateConfig maps the YAML block onto the simulator, filling
// defaults for omitted fields.
func (sc *Scenario) simulateConfig() simulate.Config {
	cfg := simulate.DefaultConfig()
	s := sc.Simulate
	if s == nil {
		return cfg
	}
	if s.Dim != 0 {
		cfg.Dim = s.Dim
	}
	if s.NumSources != 0 {
		cfg.NumSources = s.NumSources
	}
	if s.ReadingsPerSource != 0 {
		cfg.ReadingsPerSource = s.ReadingsPerSource
	}
	if s.Extent != 0 {
		cfg.Extent = s.Extent
	}
	if s.Kind != "" {
		cfg.Kind = radio.ReadingKind(s.Kind)
	}
	cfg.NoiseStdDev = s.NoiseStdDev
	cfg.OutlierFraction = s.OutlierFraction
	if s.OutlierMinOffset != 0 {
		cfg.OutlierMinOffset = s.OutlierMinOffset
	}
	if s.OutlierMaxOffset != 0 {
		cfg.OutlierMaxOffset = s.OutlierMaxOffset
	}
	cfg.ScoreFromError = s.ScoreFromError
	if len(s.Truth) > 0 {
		cfg.Truth = geom.Point(s.Truth)
	}
	if sc.PathLoss != nil {
		sc.PathLoss.apply(&cfg.PathLoss)
	}
	return cfg
}

// estimatorConfig maps the YAML overrides onto the estimator defaults.
func (sc *Scenario) estimatorConfig() estimator.Config {
	cfg := estimator.DefaultConfig()
	if sc.PathLoss != nil {
		sc.PathLoss.apply(&cfg.PathLoss)
	}
	e := sc.Estimator
	if e == nil {
		return cfg
	}
	if e.StopThreshold != nil {
		cfg.StopThreshold = *e.StopThreshold
	}
	if e.Confidence != nil {
		cfg.Confidence = *e.Confidence
	}
	if e.MaxIterations != nil {
		cfg.MaxIterations = *e.MaxIterations
	}
	if e.SubsetSize != nil {
		cfg.SubsetSize = *e.SubsetSize
	}
	if e.LinearSolver != nil {
		cfg.LinearSolverUsed = *e.LinearSolver
	}
	if e.HomogeneousSolver != nil {
		cfg.HomogeneousLinearSolverUsed = *e.HomogeneousSolver
	}
	if e.RefineCandidates != nil {
		cfg.PreliminarySolutionRefined = *e.RefineCandidates
	}
	if e.RefineResult != nil {
		cfg.ResultRefined = *e.RefineResult
	}
	if e.KeepCovariance != nil {
		cfg.CovarianceKept = *e.KeepCovariance
	}
	if e.EvenReadings != nil {
		cfg.EvenlyDistributeReadings = *e.EvenReadings
	}
	if e.UseSourceCovariance != nil {
		cfg.SourcePositionCovarianceUsed = *e.UseSourceCovariance
	}
	if e.FallbackStdDev != nil {
		cfg.FallbackDistanceStdDev = *e.FallbackStdDev
	}
	if len(e.InitialPosition) > 0 {
		cfg.InitialPosition = geom.Point(e.InitialPosition)
	}
	return cfg
}

func (p *PathLossConfig) apply(m *radio.PathLossModel) {
	if p.ReferencePower != nil {
		m.ReferencePower = *p.ReferencePower
	}
	if p.ReferenceDistance != nil {
		m.ReferenceDistance = *p.ReferenceDistance
	}
	if p.Exponent != nil {
		m.Exponent = *p.Exponent
	}
	if p.ShadowSigma != nil {
		m.ShadowSigma = *p.ShadowSigma
	}
}

func (c InputConfig) captureOptions() (mgmtOnly, aggregate bool, minFrames int) {
	mgmtOnly = true
	if c.ManagementOnly != nil {
		mgmtOnly = *c.ManagementOnly
	}
	aggregate = true
	if c.Aggregate != nil {
		aggregate = *c.Aggregate
	}
	return mgmtOnly, aggregate, c.MinFrames
}
