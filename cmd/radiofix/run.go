package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radiofix/estimator"
	"github.com/banshee-data/radiofix/geom"
	"github.com/banshee-data/radiofix/internal/capture"
	"github.com/banshee-data/radiofix/internal/rangefeed"
	"github.com/banshee-data/radiofix/internal/registry"
	"github.com/banshee-data/radiofix/internal/report"
	"github.com/banshee-data/radiofix/internal/simulate"
	"github.com/banshee-data/radiofix/internal/store"
	"github.com/banshee-data/radiofix/radio"
)

// problem is the assembled estimation input, whatever its origin.
type problem struct {
	sources       []radio.Source
	fingerprint   radio.Fingerprint
	readingScores []float64
	truth         geom.Point
	dim           int
}

// runScenario executes one scenario end to end: assemble the input,
// estimate, persist, render.
func runScenario(ctx context.Context, sc *Scenario) error {
	prob, err := assembleProblem(ctx, sc)
	if err != nil {
		return err
	}
	log.Printf("assembled %s readings from %s sources (%dD)",
		humanize.Comma(int64(prob.fingerprint.Len())), humanize.Comma(int64(len(prob.sources))), prob.dim)

	cfg := sc.estimatorConfig()
	if sc.Seed != nil {
		cfg.Src = rand.NewPCG(*sc.Seed, *sc.Seed)
	}
	params := estimator.Params{
		Config:               &cfg,
		Sources:              prob.sources,
		Fingerprint:          &prob.fingerprint,
		ReadingQualityScores: prob.readingScores,
	}

	var est *estimator.Estimator
	if prob.dim == 3 {
		est, err = estimator.New3D(params)
	} else {
		est, err = estimator.New2D(params)
	}
	if err != nil {
		return fmt.Errorf("failed to build estimator: %w", err)
	}

	started := time.Now()
	res, err := est.Estimate()
	if err != nil {
		return fmt.Errorf("estimate failed: %w", err)
	}
	elapsed := time.Since(started)

	log.Printf("estimated position %v after %s iterations in %s (score %.6g, %s/%s inliers)",
		res.Position,
		humanize.Comma(int64(res.Iterations)),
		elapsed.Round(time.Millisecond),
		res.Score,
		humanize.Comma(int64(res.Inliers.NumInliers)),
		humanize.Comma(int64(prob.fingerprint.Len())))
	if prob.truth != nil {
		log.Printf("truth %v, position error %.6g m", prob.truth, res.Position.DistanceTo(prob.truth))
	}

	if sc.Output.DB != "" {
		if err := persistRun(sc, prob, est, res, elapsed); err != nil {
			return err
		}
	}
	if sc.Output.Dir != "" {
		if err := renderReports(sc, prob, est, res); err != nil {
			return err
		}
	}
	return nil
}

// assembleProblem builds sources and fingerprint for the configured
// input kind.
func assembleProblem(ctx context.Context, sc *Scenario) (*problem, error) {
	switch sc.Input.Kind {
	case "simulate":
		return simulateProblem(sc)
	case "pcap":
		return pcapProblem(sc)
	case "serial":
		return serialProblem(ctx, sc)
	}
	return nil, fmt.Errorf("unknown input kind %q", sc.Input.Kind)
}

func simulateProblem(sc *Scenario) (*problem, error) {
	cfg := sc.simulateConfig()
	var src rand.Source
	if sc.Seed != nil {
		src = rand.NewPCG(*sc.Seed, *sc.Seed)
	}
	scn, err := simulate.New(cfg, src)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate scenario: %w", err)
	}
	return &problem{
		sources:       scn.Sources,
		fingerprint:   scn.Fingerprint,
		readingScores: scn.ReadingScores,
		truth:         scn.Truth,
		dim:           cfg.Dim,
	}, nil
}

func pcapProblem(sc *Scenario) (*problem, error) {
	site, err := loadSite(sc)
	if err != nil {
		return nil, err
	}

	src, err := capture.OpenFile(sc.Input.Pcap)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer src.Close()

	mgmtOnly, aggregate, minFrames := sc.Input.captureOptions()
	capt, err := capture.Collect(src, capture.Options{
		ManagementOnly: mgmtOnly,
		Aggregate:      aggregate,
		MinFrames:      minFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect capture: %w", err)
	}
	log.Printf("capture: %d frames read, %d used, %d transmitters",
		capt.FramesRead, capt.FramesUsed, len(capt.Sources))

	fp, _, skipped := matchReadings(site, capt.Fingerprint.Readings, nil)
	fp.TakenAt = capt.Fingerprint.TakenAt
	if skipped > 0 {
		log.Printf("skipped %d readings from transmitters not in site %q", skipped, site.Name)
	}
	return &problem{
		sources:     site.Sources,
		fingerprint: fp,
		dim:         site.Dim,
	}, nil
}

func serialProblem(ctx context.Context, sc *Scenario) (*problem, error) {
	site, err := loadSite(sc)
	if err != nil {
		return nil, err
	}

	port, err := rangefeed.OpenTagPort(sc.Input.SerialPort, sc.Input.BaudRate)
	if err != nil {
		return nil, err
	}
	feed := rangefeed.New(port)
	defer feed.Close()

	if err := feed.Initialise(); err != nil {
		return nil, err
	}

	window := sc.Input.listenFor()
	log.Printf("listening on %s for %s", sc.Input.SerialPort, window)

	monitorCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	_, ch := feed.Subscribe()

	// The collector keeps the subscriber channel drained while Monitor
	// runs; it ends when Close shuts the channel.
	var measurements []rangefeed.Measurement
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range ch {
			measurements = append(measurements, m)
		}
	}()

	if err := feed.Monitor(monitorCtx); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		log.Printf("serial monitor stopped: %v", err)
	}
	feed.Close()
	<-done
	if bad := feed.BadLines(); bad > 0 {
		log.Printf("discarded %d unparseable lines", bad)
	}
	if len(measurements) == 0 {
		return nil, fmt.Errorf("no measurements received on %s within %s", sc.Input.SerialPort, window)
	}

	readings := make([]radio.Reading, len(measurements))
	scores := make([]float64, len(measurements))
	for i, m := range measurements {
		readings[i] = m.Reading
		scores[i] = m.Quality
	}
	fp, scores, skipped := matchReadings(site, readings, scores)
	fp.TakenAt = measurements[len(measurements)-1].At
	if skipped > 0 {
		log.Printf("skipped %d readings from sources not in site %q", skipped, site.Name)
	}
	return &problem{
		sources:       site.Sources,
		fingerprint:   fp,
		readingScores: scores,
		dim:           site.Dim,
	}, nil
}

func loadSite(sc *Scenario) (*registry.Site, error) {
	reg, err := registry.Open(sc.Input.registryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open site registry: %w", err)
	}
	defer reg.Close()

	site, err := reg.GetSite(sc.Input.Site)
	if err != nil {
		return nil, fmt.Errorf("failed to load site %q: %w", sc.Input.Site, err)
	}
	return site, nil
}

// matchReadings keeps readings whose source the site knows. Scores may
// be nil; when present they are filtered in step.
func matchReadings(site *registry.Site, readings []radio.Reading, scores []float64) (radio.Fingerprint, []float64, int) {
	known := make(map[string]struct{}, len(site.Sources))
	for _, s := range site.Sources {
		known[s.ID] = struct{}{}
	}

	var fp radio.Fingerprint
	var kept []float64
	skipped := 0
	for i, r := range readings {
		if _, ok := known[r.SourceID]; !ok {
			skipped++
			continue
		}
		fp.Readings = append(fp.Readings, r)
		if scores != nil {
			kept = append(kept, scores[i])
		}
	}
	return fp, kept, skipped
}

func persistRun(sc *Scenario, prob *problem, est *estimator.Estimator, res *estimator.Result, elapsed time.Duration) error {
	st, err := store.Open(sc.Output.DB)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()
	if err := st.MigrateUp(); err != nil {
		return fmt.Errorf("failed to migrate run store: %w", err)
	}

	run := &store.Run{
		Label:      sc.Label,
		Dim:        prob.dim,
		NumSources: len(prob.sources),
		Truth:      prob.truth,
		Position:   res.Position,
		Covariance: covarianceRowMajor(res.Covariance),
		Score:      res.Score,
		Iterations: res.Iterations,
		Refined:    res.Refined,
		NumInliers: res.Inliers.NumInliers,
		Duration:   elapsed,
		Readings:   readingRows(prob, est, res),
	}
	if err := st.SaveRun(run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	log.Printf("saved run %s to %s", run.ID, sc.Output.DB)
	return nil
}

func readingRows(prob *problem, est *estimator.Estimator, res *estimator.Result) []store.ReadingRow {
	distances := est.Distances()
	stdDevs := est.DistanceStandardDeviations()

	rows := make([]store.ReadingRow, len(prob.fingerprint.Readings))
	for i, r := range prob.fingerprint.Readings {
		quality := 1.0
		if prob.readingScores != nil {
			quality = prob.readingScores[i]
		}
		rows[i] = store.ReadingRow{
			SourceID: r.SourceID,
			Kind:     string(r.Kind),
			Distance: distances[i],
			StdDev:   stdDevs[i],
			Quality:  quality,
			Residual: res.Inliers.Residuals[i],
			Inlier:   res.Inliers.Flags[i],
		}
	}
	return rows
}

func renderReports(sc *Scenario, prob *problem, est *estimator.Estimator, res *estimator.Result) error {
	if err := os.MkdirAll(sc.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	run := report.Run{
		Title:           sc.Label,
		SamplePositions: est.Positions(),
		InlierFlags:     res.Inliers.Flags,
		Residuals:       res.Inliers.Residuals,
		Truth:           prob.truth,
		Estimate:        res.Position,
		Covariance:      res.Covariance,
		Scale:           res.Inliers.Scale,
		Score:           res.Score,
		Iterations:      res.Iterations,
	}

	base := filepath.Join(sc.Output.Dir, sc.Output.reportBase())
	if err := report.WritePNG(base+".png", run); err != nil {
		return fmt.Errorf("failed to write PNG report: %w", err)
	}
	if err := report.WriteHTML(base+".html", run); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	log.Printf("wrote reports %s.png and %s.html", base, base)
	return nil
}

// covarianceRowMajor flattens a symmetric matrix for storage.
func covarianceRowMajor(cov *mat.SymDense) []float64 {
	if cov == nil {
		return nil
	}
	n := cov.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, cov.At(i, j))
		}
	}
	return out
}
