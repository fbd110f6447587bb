package diag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"

	"go.viam.com/thermalign/registration"
)

var observations = []registration.ScaleObservation{
	{View: "view_1.mve", Scale: 95, Score: 1.2},
	{View: "view_2.mve", Scale: 102, Score: 1.5},
	{View: "view_3.mve", Scale: 240, Score: 0.4},
}

func requireImage(t *testing.T, path string) {
	t.Helper()
	img, err := imaging.Open(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldBeGreaterThan, 0)
}

func TestPlotObservations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "scales.png")
	err := PlotObservations(path, observations, Mark{Label: "average", Scale: 120}, Mark{Label: "ransac", Scale: 99})
	test.That(t, err, test.ShouldBeNil)
	requireImage(t, path)

	err = PlotObservations(path, nil)
	test.That(t, err, test.ShouldEqual, registration.ErrNoObservations)
	err = PlotObservations(filepath.Join(t.TempDir(), "noext"), observations)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPlotCurve(t *testing.T) {
	curve := &registration.ScaleCurve{
		Scales:   []float64{10, 20, 30, 40},
		Raw:      []float64{0, 0.5, 1.1, 0.7},
		Smoothed: []float64{0.2, 0.5, 0.8, 0.6},
		Best:     2,
	}
	path := filepath.Join(t.TempDir(), "curve.png")
	test.That(t, PlotCurve(path, "view_1.mve", curve), test.ShouldBeNil)
	requireImage(t, path)

	test.That(t, PlotCurve(path, "empty", &registration.ScaleCurve{}), test.ShouldNotBeNil)
	test.That(t, PlotCurve(path, "nil", nil), test.ShouldNotBeNil)
}

func TestPlotIteration(t *testing.T) {
	it := registration.BandIteration{
		Iteration: 3,
		Centre:    100,
		Picked:    observations[:1],
		Inliers:   observations[1:2],
	}
	path := filepath.Join(t.TempDir(), "iteration_3.png")
	test.That(t, PlotIteration(path, it, observations, 20), test.ShouldBeNil)
	requireImage(t, path)

	// a hypothesis without inliers still plots
	it.Inliers = nil
	test.That(t, PlotIteration(path, it, observations, 20), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
