package calib

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
)

func TestImageSetCollect(t *testing.T) {
	dir := t.TempDir()
	grid, _ := renderGrid(true, -1)
	for _, name := range []string{"0.png", "2.png", "10.png"} {
		test.That(t, rimage.WriteImageToFile(filepath.Join(dir, name), grid), test.ShouldBeNil)
	}
	blank, _ := renderGrid(true, 100)
	test.That(t, rimage.WriteImageToFile(filepath.Join(dir, "1.png"), image.NewGray(blank.Bounds())), test.ShouldBeNil)
	small := image.NewGray(image.Rect(0, 0, 10, 10))
	test.That(t, rimage.WriteImageToFile(filepath.Join(dir, "11.png"), small), test.ShouldBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	set := &ImageSet{
		Dir:      dir,
		Pattern:  "*.png",
		Grid:     testGrid,
		Detector: NewBlobGridDetector(true),
		Annotate: true,
		Logger:   logger,
	}
	got, err := set.Collect(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Width, test.ShouldEqual, 220)
	test.That(t, got.Height, test.ShouldEqual, 310)
	test.That(t, got.Sources(), test.ShouldResemble, []string{
		filepath.Join(dir, "0.png"),
		filepath.Join(dir, "2.png"),
		filepath.Join(dir, "10.png"),
	})
	test.That(t, got.Validate(), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("grid not found").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("skipping calibration image of different size").Len(), test.ShouldEqual, 1)

	// annotated copies are numbered by position in the ordered listing
	for _, name := range []string{"corners_found0.png", "corners_found2.png", "corners_found3.png"} {
		_, err := os.Stat(filepath.Join(dir, "corners", name))
		test.That(t, err, test.ShouldBeNil)
	}
}

func TestImageSetNoDetections(t *testing.T) {
	dir := t.TempDir()
	test.That(t, rimage.WriteImageToFile(filepath.Join(dir, "0.jpg"), image.NewGray(image.Rect(0, 0, 20, 20))), test.ShouldBeNil)

	set := &ImageSet{Dir: dir, Grid: testGrid, Detector: NewBlobGridDetector(true), Logger: logging.NewTestLogger(t)}
	_, err := set.Collect(context.Background())
	test.That(t, errors.Is(err, ErrNoDetections), test.ShouldBeTrue)

	set.Dir = filepath.Join(dir, "missing")
	_, err = set.Collect(context.Background())
	test.That(t, errors.Is(err, ErrNoDetections), test.ShouldBeTrue)

	set.Detector = nil
	_, err = set.Collect(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageSetWithoutLogger(t *testing.T) {
	dir := t.TempDir()
	test.That(t, rimage.WriteImageToFile(filepath.Join(dir, "0.jpg"), image.NewGray(image.Rect(0, 0, 20, 20))), test.ShouldBeNil)

	set := &ImageSet{Dir: dir, Grid: testGrid, Detector: NewBlobGridDetector(true)}
	_, err := set.Collect(context.Background())
	test.That(t, errors.Is(err, ErrNoDetections), test.ShouldBeTrue)
}
