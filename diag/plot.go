// Package diag renders diagnostic plots of the scale search and its aggregation.
package diag

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/thermalign/registration"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// Mark is a labelled vertical line at a scale, such as an aggregate or a known
// ground truth.
type Mark struct {
	Label string
	Scale float64
}

// PlotObservations draws every view's (scale, score) and a vertical line per mark.
// The image format follows the extension of path.
func PlotObservations(path string, obs []registration.ScaleObservation, marks ...Mark) error {
	if len(obs) == 0 {
		return registration.ErrNoObservations
	}
	p := newPlot("scale observations", "scale", "score")
	pts := lo.Map(obs, func(o registration.ScaleObservation, _ int) plotter.XY {
		return plotter.XY{X: o.Scale, Y: o.Score}
	})
	if err := addScatter(p, "views", pts, plotutil.Color(0), draw.CircleGlyph{}); err != nil {
		return err
	}
	scores := lo.Map(obs, func(o registration.ScaleObservation, _ int) float64 { return o.Score })
	minScore, maxScore := floats.Min(scores), floats.Max(scores)
	for i, m := range marks {
		if err := addVertical(p, m, minScore, maxScore, plotutil.Color(i+1)); err != nil {
			return err
		}
	}
	return save(p, path)
}

// PlotCurve draws the raw and smoothed scores of a scale search and marks its best scale.
func PlotCurve(path, title string, curve *registration.ScaleCurve) error {
	if curve == nil || len(curve.Scales) == 0 {
		return errors.New("empty scale curve")
	}
	p := newPlot(title, "scale", "score")
	raw := make(plotter.XYs, len(curve.Scales))
	smooth := make(plotter.XYs, len(curve.Scales))
	for i, s := range curve.Scales {
		raw[i] = plotter.XY{X: s, Y: curve.Raw[i]}
		smooth[i] = plotter.XY{X: s, Y: curve.Smoothed[i]}
	}
	if err := addScatter(p, "raw", raw, plotutil.Color(0), draw.CrossGlyph{}); err != nil {
		return err
	}
	line, err := plotter.NewLine(smooth)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = plotutil.Color(1)
	p.Add(line)
	p.Legend.Add("smoothed", line)

	all := append(append([]float64(nil), curve.Raw...), curve.Smoothed...)
	best := Mark{Label: "best", Scale: curve.BestScale()}
	if err := addVertical(p, best, floats.Min(all), floats.Max(all), plotutil.Color(2)); err != nil {
		return err
	}
	return save(p, path)
}

// PlotIteration draws one band hypothesis: every observation, the picked and
// inlier subsets and the band of half width threshold around the centre.
func PlotIteration(path string, it registration.BandIteration, obs []registration.ScaleObservation, threshold float64) error {
	if len(obs) == 0 {
		return registration.ErrNoObservations
	}
	p := newPlot("ransac iteration", "scale", "score")
	toXYs := func(in []registration.ScaleObservation) plotter.XYs {
		return lo.Map(in, func(o registration.ScaleObservation, _ int) plotter.XY {
			return plotter.XY{X: o.Scale, Y: o.Score}
		})
	}
	if err := addScatter(p, "observations", toXYs(obs), color.Gray{Y: 160}, draw.CircleGlyph{}); err != nil {
		return err
	}
	if len(it.Inliers) > 0 {
		if err := addScatter(p, "inliers", toXYs(it.Inliers), plotutil.Color(2), draw.CircleGlyph{}); err != nil {
			return err
		}
	}
	if len(it.Picked) > 0 {
		if err := addScatter(p, "picked", toXYs(it.Picked), plotutil.Color(0), draw.TriangleGlyph{}); err != nil {
			return err
		}
	}
	scores := lo.Map(obs, func(o registration.ScaleObservation, _ int) float64 { return o.Score })
	minScore, maxScore := floats.Min(scores), floats.Max(scores)
	for _, m := range []Mark{
		{Label: "centre", Scale: it.Centre},
		{Label: "band", Scale: it.Centre - threshold},
		{Label: "", Scale: it.Centre + threshold},
	} {
		if err := addVertical(p, m, minScore, maxScore, plotutil.Color(1)); err != nil {
			return err
		}
	}
	return save(p, path)
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Add(plotter.NewGrid())
	return p
}

func addScatter(p *plot.Plot, label string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer) error {
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrapf(err, "cannot plot %s", label)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(3)
	s.GlyphStyle.Shape = shape
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}

func addVertical(p *plot.Plot, m Mark, bottom, top float64, c color.Color) error {
	if bottom == top {
		bottom, top = bottom-0.5, top+0.5
	}
	line, err := plotter.NewLine(plotter.XYs{{X: m.Scale, Y: bottom}, {X: m.Scale, Y: top}})
	if err != nil {
		return errors.Wrapf(err, "cannot mark %q", m.Label)
	}
	line.LineStyle.Color = c
	line.LineStyle.Width = vg.Points(1)
	line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)
	if m.Label != "" {
		p.Legend.Add(m.Label, line)
	}
	return nil
}

func save(p *plot.Plot, path string) error {
	if filepath.Ext(path) == "" {
		return errors.Errorf("plot path %q needs an image extension", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrapf(err, "cannot save plot %q", path)
	}
	return nil
}
