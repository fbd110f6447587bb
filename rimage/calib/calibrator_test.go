package calib

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
)

type fakeSolver struct {
	res *SolveResult
	err error
}

func (f *fakeSolver) Solve(*CorrespondenceSet) (*SolveResult, error) {
	return f.res, f.err
}

func fakeSet(n int) *CorrespondenceSet {
	set := &CorrespondenceSet{Width: 640, Height: 480}
	for i := 0; i < n; i++ {
		obj := testGrid.Points()
		set.Pairs = append(set.Pairs, Correspondence{Object: obj, Image: make([]r2.Point, len(obj))})
	}
	return set
}

func TestCalibratorWrapsSolverOutput(t *testing.T) {
	res := &SolveResult{
		K:          mat.NewDense(3, 3, []float64{600, 0, 320, 0, 605, 240, 0, 0, 1}),
		Distortion: []float64{-0.2, 0.05, 0.001, 0.002},
		RVecs:      []r3.Vector{{X: 0.1}, {Y: 0.2}},
		TVecs:      []r3.Vector{{Z: 500}, {Z: 700}},
		RMS:        0.25,
	}
	c := &Calibrator{Solver: &fakeSolver{res: res}, Logger: logging.NewTestLogger(t)}
	model, err := c.Calibrate(fakeSet(2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Intrinsics().Fx, test.ShouldEqual, 600.0)
	test.That(t, model.Intrinsics().Width, test.ShouldEqual, 640)
	test.That(t, model.Distortion().RadialK1, test.ShouldEqual, -0.2)
	test.That(t, model.Distortion().TangentialP2, test.ShouldEqual, 0.002)
	test.That(t, model.RMS(), test.ShouldEqual, 0.25)

	pose, err := model.Pose(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.TranslationVector(), test.ShouldResemble, r3.Vector{Z: 700})
	test.That(t, mat.EqualApprox(pose.Rotation, transform.Rodrigues(r3.Vector{Y: 0.2}), 1e-12), test.ShouldBeTrue)
}

func TestCalibratorWithoutLogger(t *testing.T) {
	res := &SolveResult{
		K:     mat.NewDense(3, 3, []float64{600, 0, 320, 0, 600, 240, 0, 0, 1}),
		RVecs: []r3.Vector{{}},
		TVecs: []r3.Vector{{Z: 500}},
	}
	model, err := (&Calibrator{Solver: &fakeSolver{res: res}}).Calibrate(fakeSet(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.NumPoses(), test.ShouldEqual, 1)
}

func TestCalibratorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	good := &SolveResult{
		K:     mat.NewDense(3, 3, []float64{600, 0, 320, 0, 605, 240, 0, 0, 1}),
		RVecs: []r3.Vector{{}},
		TVecs: []r3.Vector{{Z: 1}},
	}

	_, err := (&Calibrator{Solver: &fakeSolver{res: good}, Logger: logger}).Calibrate(&CorrespondenceSet{})
	test.That(t, errors.Is(err, ErrNoDetections), test.ShouldBeTrue)

	_, err = (&Calibrator{Solver: &fakeSolver{res: good}, Logger: logger}).Calibrate(fakeSet(2))
	test.That(t, err, test.ShouldNotBeNil)

	boom := errors.New("no convergence")
	_, err = (&Calibrator{Solver: &fakeSolver{err: boom}, Logger: logger}).Calibrate(fakeSet(1))
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)

	misaligned := fakeSet(1)
	misaligned.Pairs[0].Image = misaligned.Pairs[0].Image[:3]
	_, err = (&Calibrator{Solver: &fakeSolver{res: good}, Logger: logger}).Calibrate(misaligned)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrateSyntheticRig(t *testing.T) {
	cam := syntheticCamera{intrinsics: transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480, Fx: 800, Fy: 790, Ppx: 330, Ppy: 245,
	}}
	logger := logging.NewTestLogger(t)
	model, err := NewCalibrator(logger).Calibrate(cam.observe(t, testRotations))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.NumPoses(), test.ShouldEqual, len(testRotations))
	test.That(t, model.Intrinsics().Fx, test.ShouldAlmostEqual, 800.0, 0.5)

	// the calibrated model reprojects the board where it was observed
	set := cam.observe(t, testRotations)
	for i, pair := range set.Pairs {
		px, err := model.Project(pair.Object[7], i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, px.Sub(pair.Image[7]).Norm(), test.ShouldBeLessThan, 0.05)
	}
}

func TestUndistortSet(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	img.SetNRGBA(3, 3, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	var files []string
	for _, name := range []string{"5.png", "9.png"} {
		path := filepath.Join(dir, name)
		test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
		files = append(files, path)
	}
	model, err := transform.NewCameraModel(
		&transform.PinholeCameraIntrinsics{Width: 8, Height: 6, Fx: 10, Fy: 10, Ppx: 4, Ppy: 3},
		nil, nil, 0,
	)
	test.That(t, err, test.ShouldBeNil)

	written, err := UndistortSet(context.Background(), dir, files, model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, written, test.ShouldResemble, []string{
		filepath.Join(dir, "undistorted", "0.jpg"),
		filepath.Join(dir, "undistorted", "1.jpg"),
	})
	for _, w := range written {
		_, err := os.Stat(w)
		test.That(t, err, test.ShouldBeNil)
	}

	wrongSize, err := transform.NewCameraModel(
		&transform.PinholeCameraIntrinsics{Width: 16, Height: 12, Fx: 10, Fy: 10, Ppx: 8, Ppy: 6},
		nil, nil, 0,
	)
	test.That(t, err, test.ShouldBeNil)
	_, err = UndistortSet(context.Background(), dir, files, wrongSize)
	test.That(t, err, test.ShouldNotBeNil)
}
