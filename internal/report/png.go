package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/radiofix/geom"
)

// ellipseOutlinePoints controls how smooth the accuracy ellipse is.
const ellipseOutlinePoints = 64

// WritePNG renders the run geometry to a PNG file at path.
func WritePNG(path string, run Run) error {
	if err := run.validate(); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = run.title()
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	inliers, outliers := run.split()

	if len(inliers) > 0 {
		s, err := plotter.NewScatter(toXYs(inliers))
		if err != nil {
			return fmt.Errorf("inlier scatter: %w", err)
		}
		s.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		s.GlyphStyle.Radius = vg.Points(3)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("inliers (%d)", len(inliers)), s)
	}

	if len(outliers) > 0 {
		s, err := plotter.NewScatter(toXYs(outliers))
		if err != nil {
			return fmt.Errorf("outlier scatter: %w", err)
		}
		s.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		s.GlyphStyle.Radius = vg.Points(3)
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("outliers (%d)", len(outliers)), s)
	}

	if run.Truth != nil {
		s, err := plotter.NewScatter(toXYs([]geom.Point{run.Truth}))
		if err != nil {
			return fmt.Errorf("truth scatter: %w", err)
		}
		s.GlyphStyle.Color = color.RGBA{R: 44, G: 160, B: 44, A: 255}
		s.GlyphStyle.Radius = vg.Points(5)
		s.GlyphStyle.Shape = draw.PyramidGlyph{}
		p.Add(s)
		p.Legend.Add("truth", s)
	}

	est, err := plotter.NewScatter(toXYs([]geom.Point{run.Estimate}))
	if err != nil {
		return fmt.Errorf("estimate scatter: %w", err)
	}
	est.GlyphStyle.Color = color.RGBA{A: 255}
	est.GlyphStyle.Radius = vg.Points(5)
	est.GlyphStyle.Shape = draw.RingGlyph{}
	p.Add(est)
	p.Legend.Add("estimate", est)

	if run.Covariance != nil {
		if err := addEllipse(p, run); err != nil {
			return err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// addEllipse draws the 95% accuracy ellipse around the estimate. A
// covariance the eigensolver rejects skips the ellipse rather than
// failing the whole artifact.
func addEllipse(p *plot.Plot, run Run) error {
	ell, err := geom.ConfidenceEllipse(run.Estimate, run.Covariance, 0.95)
	if err != nil {
		return nil
	}
	outline := ell.Outline(ellipseOutlinePoints)
	if len(outline) == 0 {
		return nil
	}
	// Close the loop.
	outline = append(outline, outline[0])

	l, err := plotter.NewLine(toXYs(outline))
	if err != nil {
		return fmt.Errorf("ellipse line: %w", err)
	}
	l.Color = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	l.Width = vg.Points(1)
	l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(l)
	p.Legend.Add("95% ellipse", l)
	return nil
}

func toXYs(pts []geom.Point) plotter.XYs {
	xys := make(plotter.XYs, 0, len(pts))
	for _, pt := range pts {
		xys = append(xys, plotter.XY{X: pt[0], Y: pt[1]})
	}
	return xys
}
