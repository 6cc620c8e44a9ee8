package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/radiofix/estimator"
	"github.com/banshee-data/radiofix/internal/simulate"
	"github.com/banshee-data/radiofix/radio"
)

// parseCSVFloatSlice parses a comma-separated list of floats
func parseCSVFloatSlice(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseCSVIntSlice parses a comma-separated list of ints
func parseCSVIntSlice(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// meanStd computes the sample mean and standard deviation, zeroing the
// deviation where it is undefined.
func meanStd(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 || math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func main() {
	// Common flags
	output := flag.String("output", "", "Output CSV filename (defaults to locsweep-<mode>-<timestamp>.csv)")

	// Sweep mode selection
	sweepMode := flag.String("mode", "multi", "Sweep mode: 'multi' (all combinations), 'noise' (vary noise only), 'outliers' (vary outlier fraction only), 'subset' (vary subset size only)")

	// Parameter ranges for multi-sweep
	noiseList := flag.String("noise", "", "Comma-separated noise std dev values in metres (e.g. 0.1,0.3,1.0)")
	outlierList := flag.String("outliers", "", "Comma-separated outlier fractions (e.g. 0,0.1,0.3)")
	subsetList := flag.String("subsets", "", "Comma-separated candidate subset sizes (e.g. 3,4,6); 0 keeps the estimator default")

	// Single-variable sweep ranges (when mode != multi)
	noiseStart := flag.Float64("noise-start", 0.1, "Start noise std dev for noise sweep")
	noiseEnd := flag.Float64("noise-end", 1.0, "End noise std dev for noise sweep")
	noiseStep := flag.Float64("noise-step", 0.1, "Step for noise sweep")

	outlierStart := flag.Float64("outlier-start", 0, "Start outlier fraction for outlier sweep")
	outlierEnd := flag.Float64("outlier-end", 0.4, "End outlier fraction for outlier sweep")
	outlierStep := flag.Float64("outlier-step", 0.1, "Step for outlier sweep")

	subsetStart := flag.Int("subset-start", 3, "Start subset size for subset sweep")
	subsetEnd := flag.Int("subset-end", 8, "End subset size for subset sweep")
	subsetStep := flag.Int("subset-step", 1, "Step for subset sweep")

	// Fixed values for single-variable sweeps
	fixedNoise := flag.Float64("fixed-noise", 0.3, "Fixed noise std dev (when not sweeping noise)")
	fixedOutliers := flag.Float64("fixed-outliers", 0.2, "Fixed outlier fraction (when not sweeping outliers)")
	fixedSubset := flag.Int("fixed-subset", 0, "Fixed subset size (when not sweeping subsets); 0 keeps the estimator default")

	// Scenario shape
	dim := flag.Int("dim", 2, "Position dimension, 2 or 3")
	numSources := flag.Int("sources", 20, "Sources per scenario")
	readingsPerSource := flag.Int("readings-per-source", 1, "Readings per source")
	extent := flag.Float64("extent", 50, "Half-width of the source placement box in metres")
	kind := flag.String("kind", "ranging", "Reading kind: ranging or rssi")
	scoreFromError := flag.Bool("score-from-error", false, "Derive reading quality scores from the injected error")

	// Estimator overrides
	maxIterations := flag.Int("max-iterations", 0, "Robust iteration cap (0 keeps the estimator default)")

	// Sampling configuration
	iterations := flag.Int("iterations", 30, "Number of scenarios per parameter combination")
	seed := flag.Uint64("seed", 1, "Base RNG seed; each run derives its own stream")

	flag.Parse()

	if *dim != 2 && *dim != 3 {
		log.Fatalf("Invalid dimension: %d (must be 2 or 3)", *dim)
	}
	if *kind != string(radio.ReadingRanging) && *kind != string(radio.ReadingRSSI) {
		log.Fatalf("Invalid reading kind: %s (must be ranging or rssi)", *kind)
	}

	// Determine parameter combinations based on sweep mode
	var noiseCombos, outlierCombos []float64
	var subsetCombos []int

	switch *sweepMode {
	case "multi":
		// Multi-parameter sweep: use lists or parse ranges
		noiseCombos = parseParamList(*noiseList, *noiseStart, *noiseEnd, *noiseStep)
		outlierCombos = parseParamList(*outlierList, *outlierStart, *outlierEnd, *outlierStep)
		subsetCombos = parseIntParamList(*subsetList, *subsetStart, *subsetEnd, *subsetStep)

	case "noise":
		// Sweep noise only, fix others
		noiseCombos = generateRange(*noiseStart, *noiseEnd, *noiseStep)
		outlierCombos = []float64{*fixedOutliers}
		subsetCombos = []int{*fixedSubset}

	case "outliers":
		// Sweep outlier fraction only, fix others
		noiseCombos = []float64{*fixedNoise}
		outlierCombos = generateRange(*outlierStart, *outlierEnd, *outlierStep)
		subsetCombos = []int{*fixedSubset}

	case "subset":
		// Sweep subset size only, fix others
		noiseCombos = []float64{*fixedNoise}
		outlierCombos = []float64{*fixedOutliers}
		subsetCombos = generateIntRange(*subsetStart, *subsetEnd, *subsetStep)

	default:
		log.Fatalf("Invalid sweep mode: %s (must be multi, noise, outliers, or subset)", *sweepMode)
	}

	// Provide defaults if lists are empty
	if len(noiseCombos) == 0 {
		noiseCombos = []float64{0.1, 0.3, 1.0}
	}
	if len(outlierCombos) == 0 {
		outlierCombos = []float64{0, 0.1, 0.3}
	}
	if len(subsetCombos) == 0 {
		subsetCombos = []int{0}
	}

	totalCombos := len(noiseCombos) * len(outlierCombos) * len(subsetCombos)
	log.Printf("Sweep mode: %s", *sweepMode)
	log.Printf("Parameter combinations: %d (noise: %d, outliers: %d, subsets: %d)",
		totalCombos, len(noiseCombos), len(outlierCombos), len(subsetCombos))
	log.Printf("Scenario shape: %dD, %d sources x %d readings, extent %.0f m, kind %s",
		*dim, *numSources, *readingsPerSource, *extent, *kind)

	// Prepare output files
	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("locsweep-%s-%s.csv", *sweepMode, time.Now().Format("20060102-150405"))
	}

	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Could not create output file %s: %v", filename, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	rawFilename := strings.TrimSuffix(filename, ".csv") + "-raw.csv"
	fRaw, err := os.Create(rawFilename)
	if err != nil {
		log.Fatalf("Could not create raw output file %s: %v", rawFilename, err)
	}
	defer fRaw.Close()
	rawW := csv.NewWriter(fRaw)
	defer rawW.Flush()

	// Write headers
	writeHeaders(w, rawW)

	simBase := simulate.DefaultConfig()
	simBase.Dim = *dim
	simBase.NumSources = *numSources
	simBase.ReadingsPerSource = *readingsPerSource
	simBase.Extent = *extent
	simBase.Kind = radio.ReadingKind(*kind)
	simBase.ScoreFromError = *scoreFromError

	// Run sweep
	comboNum := 0

	for _, noise := range noiseCombos {
		for _, outliers := range outlierCombos {
			for _, subset := range subsetCombos {
				comboNum++
				log.Printf("=== Combination %d/%d: noise=%.3f, outliers=%.2f, subset=%d ===",
					comboNum, totalCombos, noise, outliers, subset)

				simCfg := simBase
				simCfg.NoiseStdDev = noise
				simCfg.OutlierFraction = outliers

				estCfg := estimator.DefaultConfig()
				if subset > 0 {
					estCfg.SubsetSize = subset
				}
				if *maxIterations > 0 {
					estCfg.MaxIterations = *maxIterations
				}

				samples, failures := collectSamples(simCfg, estCfg, *iterations, *seed, uint64(comboNum), rawW, noise, outliers, subset)

				// Compute statistics and write summary
				writeSummary(w, noise, outliers, subset, samples, failures)
			}
		}
	}

	log.Printf("Sweep complete!")
	log.Printf("Summary: %s", filename)
	log.Printf("Raw data: %s", rawFilename)
}

// parseParamList parses a comma-separated list or generates a range
func parseParamList(list string, start, end, step float64) []float64 {
	if list != "" {
		vals, err := parseCSVFloatSlice(list)
		if err != nil {
			log.Fatalf("Invalid parameter list: %v", err)
		}
		return vals
	}
	return generateRange(start, end, step)
}

func parseIntParamList(list string, start, end, step int) []int {
	if list != "" {
		vals, err := parseCSVIntSlice(list)
		if err != nil {
			log.Fatalf("Invalid parameter list: %v", err)
		}
		return vals
	}
	return generateIntRange(start, end, step)
}

func generateRange(start, end, step float64) []float64 {
	if step <= 0 {
		step = 0.01
	}
	var result []float64
	for v := start; v <= end+1e-9; v += step {
		result = append(result, v)
	}
	return result
}

func generateIntRange(start, end, step int) []int {
	if step <= 0 {
		step = 1
	}
	var result []int
	for v := start; v <= end; v += step {
		result = append(result, v)
	}
	return result
}

type sweepSample struct {
	PositionError float64
	Score         float64
	Iterations    int
	NumInliers    int
	Refined       bool
	Duration      time.Duration
}

// collectSamples generates and solves one scenario per iteration. Each
// run draws from its own seeded stream so sweeps reproduce exactly.
func collectSamples(simCfg simulate.Config, estCfg estimator.Config, iterations int, baseSeed, comboNum uint64, rawW *csv.Writer, noise, outliers float64, subset int) ([]sweepSample, int) {
	samples := make([]sweepSample, 0, iterations)
	failures := 0

	for i := 0; i < iterations; i++ {
		stream := comboNum<<32 + uint64(i)
		sample, err := runSample(simCfg, estCfg, baseSeed, stream)
		if err != nil {
			log.Printf("WARNING: Sample %d failed: %v", i+1, err)
			failures++
			continue
		}
		samples = append(samples, sample)

		// Write raw data
		writeRawRow(rawW, noise, outliers, subset, i, sample)
	}

	return samples, failures
}

func runSample(simCfg simulate.Config, estCfg estimator.Config, seed1, seed2 uint64) (sweepSample, error) {
	scn, err := simulate.New(simCfg, rand.NewPCG(seed1, seed2))
	if err != nil {
		return sweepSample{}, fmt.Errorf("scenario generation failed: %w", err)
	}

	estCfg.Src = rand.NewPCG(seed2, seed1)
	params := estimator.Params{
		Config:               &estCfg,
		Sources:              scn.Sources,
		Fingerprint:          &scn.Fingerprint,
		ReadingQualityScores: scn.ReadingScores,
	}

	var est *estimator.Estimator
	if simCfg.Dim == 3 {
		est, err = estimator.New3D(params)
	} else {
		est, err = estimator.New2D(params)
	}
	if err != nil {
		return sweepSample{}, fmt.Errorf("estimator construction failed: %w", err)
	}

	started := time.Now()
	res, err := est.Estimate()
	if err != nil {
		return sweepSample{}, fmt.Errorf("estimate failed: %w", err)
	}

	return sweepSample{
		PositionError: res.Position.DistanceTo(scn.Truth),
		Score:         res.Score,
		Iterations:    res.Iterations,
		NumInliers:    res.Inliers.NumInliers,
		Refined:       res.Refined,
		Duration:      time.Since(started),
	}, nil
}

func writeHeaders(w, rawW *csv.Writer) {
	// Summary header
	w.Write([]string{
		"noise_stddev", "outlier_fraction", "subset_size",
		"error_mean", "error_stddev",
		"iterations_mean", "iterations_stddev",
		"inliers_mean", "inliers_stddev",
		"duration_ms_mean", "duration_ms_stddev",
		"failures",
	})

	// Raw header
	rawW.Write([]string{
		"noise_stddev", "outlier_fraction", "subset_size", "iter",
		"error", "score", "iterations", "num_inliers", "refined", "duration_ms",
	})
}

func writeRawRow(w *csv.Writer, noise, outliers float64, subset, iter int, s sweepSample) {
	w.Write([]string{
		fmt.Sprintf("%.6f", noise),
		fmt.Sprintf("%.6f", outliers),
		fmt.Sprintf("%d", subset),
		fmt.Sprintf("%d", iter),
		fmt.Sprintf("%.6f", s.PositionError),
		fmt.Sprintf("%.6g", s.Score),
		fmt.Sprintf("%d", s.Iterations),
		fmt.Sprintf("%d", s.NumInliers),
		fmt.Sprintf("%t", s.Refined),
		fmt.Sprintf("%.3f", float64(s.Duration)/float64(time.Millisecond)),
	})
	w.Flush()
}

func writeSummary(w *csv.Writer, noise, outliers float64, subset int, samples []sweepSample, failures int) {
	if len(samples) == 0 {
		log.Printf("WARNING: No results to summarize (%d failures)", failures)
		return
	}

	errors := make([]float64, len(samples))
	iters := make([]float64, len(samples))
	inliers := make([]float64, len(samples))
	durations := make([]float64, len(samples))
	for i, s := range samples {
		errors[i] = s.PositionError
		iters[i] = float64(s.Iterations)
		inliers[i] = float64(s.NumInliers)
		durations[i] = float64(s.Duration) / float64(time.Millisecond)
	}

	errMean, errStd := meanStd(errors)
	iterMean, iterStd := meanStd(iters)
	inlierMean, inlierStd := meanStd(inliers)
	durMean, durStd := meanStd(durations)

	log.Printf("Results: error=%.4f±%.4f m, iterations=%.1f±%.1f, inliers=%.1f±%.1f, failures=%d",
		errMean, errStd, iterMean, iterStd, inlierMean, inlierStd, failures)

	w.Write([]string{
		fmt.Sprintf("%.6f", noise),
		fmt.Sprintf("%.6f", outliers),
		fmt.Sprintf("%d", subset),
		fmt.Sprintf("%.6f", errMean),
		fmt.Sprintf("%.6f", errStd),
		fmt.Sprintf("%.2f", iterMean),
		fmt.Sprintf("%.2f", iterStd),
		fmt.Sprintf("%.2f", inlierMean),
		fmt.Sprintf("%.2f", inlierStd),
		fmt.Sprintf("%.3f", durMean),
		fmt.Sprintf("%.3f", durStd),
		fmt.Sprintf("%d", failures),
	})
	w.Flush()
}
