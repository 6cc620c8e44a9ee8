package report

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/radiofix/geom"
)

// WriteHTML renders the run to an interactive HTML page at path. The
// page holds the geometry scatter and, when residuals are present, a
// per-sample residual bar chart.
func WriteHTML(path string, run Run) error {
	if err := run.validate(); err != nil {
		return err
	}

	page := components.NewPage()
	page.AddCharts(geometryScatter(run))
	if run.Residuals != nil {
		page.AddCharts(residualBar(run))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func geometryScatter(run Run) *charts.Scatter {
	inliers, outliers := run.split()

	// Pad the axis ranges so edge points stay visible.
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	expand := func(pts []geom.Point) {
		for _, pt := range pts {
			minX, maxX = math.Min(minX, pt[0]), math.Max(maxX, pt[0])
			minY, maxY = math.Min(minY, pt[1]), math.Max(maxY, pt[1])
		}
	}
	expand(run.SamplePositions)
	expand([]geom.Point{run.Estimate})
	if run.Truth != nil {
		expand([]geom.Point{run.Truth})
	}
	padX := (maxX - minX) * 0.05
	padY := (maxY - minY) * 0.05
	if padX == 0 {
		padX = 1
	}
	if padY == 0 {
		padY = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: run.title(), Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    run.title(),
			Subtitle: fmt.Sprintf("score=%.6g inliers=%d/%d iterations=%d", run.Score, run.numInliers(), len(run.SamplePositions), run.Iterations),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minX - padX, Max: maxX + padX, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minY - padY, Max: maxY + padY, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	if len(inliers) > 0 {
		scatter.AddSeries("inliers", toScatterData(inliers),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#1f77b4"}),
		)
	}
	if len(outliers) > 0 {
		scatter.AddSeries("outliers", toScatterData(outliers),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}),
		)
	}
	if run.Truth != nil {
		scatter.AddSeries("truth", toScatterData([]geom.Point{run.Truth}),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#2ca02c"}),
		)
	}
	scatter.AddSeries("estimate", toScatterData([]geom.Point{run.Estimate}),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffffff"}),
	)
	return scatter
}

func residualBar(run Run) *charts.Bar {
	x := make([]string, len(run.Residuals))
	y := make([]opts.BarData, len(run.Residuals))
	for i, r := range run.Residuals {
		x[i] = fmt.Sprintf("%d", i)
		d := opts.BarData{Value: math.Abs(r)}
		if !run.InlierFlags[i] {
			d.ItemStyle = &opts.ItemStyle{Color: "#d62728"}
		}
		y[i] = d
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "absolute residuals",
			Subtitle: fmt.Sprintf("robust scale %.6g", run.Scale),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("residuals", y)
	return bar
}

func toScatterData(pts []geom.Point) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, pt := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{pt[0], pt[1]}})
	}
	return data
}
