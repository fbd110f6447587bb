package transform

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/thermalign/rimage"
)

func identityCamera(t *testing.T) *CameraModel {
	t.Helper()
	cm, err := NewCameraModel(
		&PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 1, Fy: 1},
		nil,
		[]*CamPose{NewCamPoseFromRodrigues(r3.Vector{}, r3.Vector{})},
		0,
	)
	test.That(t, err, test.ShouldBeNil)
	return cm
}

func rigCameras(t *testing.T) (*CameraModel, *CameraModel) {
	t.Helper()
	visual, err := NewCameraModel(
		&PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 600, Fy: 605, Ppx: 320, Ppy: 240},
		nil,
		[]*CamPose{
			NewCamPoseFromRodrigues(r3.Vector{X: 0.1, Y: -0.05, Z: 0.02}, r3.Vector{X: -100, Y: -60, Z: 800}),
			NewCamPoseFromRodrigues(r3.Vector{X: -0.2, Y: 0.1, Z: 0}, r3.Vector{X: -80, Y: -40, Z: 900}),
		},
		0.3,
	)
	test.That(t, err, test.ShouldBeNil)
	thermal, err := NewCameraModel(
		&PinholeCameraIntrinsics{Width: 320, Height: 256, Fx: 400, Fy: 402, Ppx: 160, Ppy: 128},
		nil,
		[]*CamPose{
			NewCamPoseFromRodrigues(r3.Vector{X: 0.12, Y: -0.07, Z: 0.03}, r3.Vector{X: -150, Y: -62, Z: 805}),
			NewCamPoseFromRodrigues(r3.Vector{X: -0.18, Y: 0.08, Z: 0.01}, r3.Vector{X: -130, Y: -41, Z: 903}),
		},
		0.4,
	)
	test.That(t, err, test.ShouldBeNil)
	return visual, thermal
}

func TestIdentityTransferMapsPixelOntoItself(t *testing.T) {
	cam := identityCamera(t)
	op, err := BuildTransferOperator(cam, cam, TransferOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(op.Matrix(), eye(4), 0), test.ShouldBeTrue)

	depth, scale := 2.0, 1.0
	x, y, ok := op.Apply(5, 5, 1/(depth*scale))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x, test.ShouldEqual, 5.0)
	test.That(t, y, test.ShouldEqual, 5.0)
}

func TestTransferRoundTripIsIdentity(t *testing.T) {
	visual, thermal := rigCameras(t)
	for pose := 0; pose < 2; pose++ {
		forward, err := BuildTransferOperator(visual, thermal, TransferOptions{PoseIndex: pose})
		test.That(t, err, test.ShouldBeNil)
		backward, err := BuildTransferOperator(thermal, visual, TransferOptions{PoseIndex: pose})
		test.That(t, err, test.ShouldBeNil)

		test.That(t, mat.EqualApprox(backward.Compose(forward).Matrix(), eye(4), 1e-9), test.ShouldBeTrue)

		inv, err := forward.Inverse()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.EqualApprox(inv.Matrix(), backward.Matrix(), 1e-9), test.ShouldBeTrue)
	}
}

func TestTransferAgreesWithProjection(t *testing.T) {
	visual, thermal := rigCameras(t)
	op, err := BuildTransferOperator(visual, thermal, TransferOptions{})
	test.That(t, err, test.ShouldBeNil)

	// a grid point seen by both cameras in pose 0
	grid := r3.Vector{X: 120, Y: 80}
	vp, err := visual.Pose(0)
	test.That(t, err, test.ShouldBeNil)
	z := vp.Apply(grid).Z
	src, err := visual.Project(grid, 0)
	test.That(t, err, test.ShouldBeNil)
	dst, err := thermal.Project(grid, 0)
	test.That(t, err, test.ShouldBeNil)

	x, y, ok := op.Apply(src.X, src.Y, 1/z)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x, test.ShouldAlmostEqual, dst.X, 1e-6)
	test.That(t, y, test.ShouldAlmostEqual, dst.Y, 1e-6)
}

func TestTransferRescale(t *testing.T) {
	visual, thermal := rigCameras(t)
	full, err := BuildTransferOperator(visual, thermal, TransferOptions{})
	test.That(t, err, test.ShouldBeNil)
	half, err := BuildTransferOperator(visual, thermal, TransferOptions{
		SourceRescale: RescaleFor(640, 480, 320, 240),
		TargetRescale: NoRescale,
	})
	test.That(t, err, test.ShouldBeNil)

	// a half size source pixel lands where the matching full size pixel does
	x1, y1, ok := full.Apply(200, 100, 1.0/800)
	test.That(t, ok, test.ShouldBeTrue)
	x2, y2, ok := half.Apply(100, 50, 1.0/800)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x2, test.ShouldAlmostEqual, x1, 1e-9)
	test.That(t, y2, test.ShouldAlmostEqual, y1, 1e-9)
}

func TestTransferErrors(t *testing.T) {
	visual, thermal := rigCameras(t)
	_, err := BuildTransferOperator(visual, thermal, TransferOptions{PoseIndex: 2})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = BuildTransferOperator(nil, thermal, TransferOptions{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewTransferOperator(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = IdentityTransfer().Compose(&TransferOperator{m: mat.NewDense(4, 4, nil)}).Inverse()
	test.That(t, err, test.ShouldNotBeNil)

	_, _, ok := (&TransferOperator{m: mat.NewDense(4, 4, nil)}).Apply(1, 1, 1)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestBuildRemap(t *testing.T) {
	ctx := context.Background()
	depth := rimage.NewFloatImage(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(x, y, 2)
		}
	}
	depth.Set(1, 1, 0)

	table, err := BuildRemap(ctx, IdentityTransfer(), depth, 1, 10, 10, RemapOptions{})
	test.That(t, err, test.ShouldBeNil)
	x, y, ok := table.At(5, 5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x, test.ShouldEqual, 5.0)
	test.That(t, y, test.ShouldEqual, 5.0)

	_, _, ok = table.At(1, 1)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, table.ValidCount(), test.ShouldEqual, 63)

	clamped, err := BuildRemap(ctx, IdentityTransfer(), depth, 1, 10, 10, RemapOptions{MinDepth: 1, ClampDepth: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clamped.ValidCount(), test.ShouldEqual, 64)

	_, err = BuildRemap(ctx, IdentityTransfer(), depth, 1, 10, 10, RemapOptions{ClampDepth: true})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildRemapNonFiniteDepth(t *testing.T) {
	ctx := context.Background()
	depth := rimage.NewFloatImage(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			depth.Set(x, y, 2)
		}
	}
	depth.Set(1, 1, math.Inf(1))
	depth.Set(2, 2, math.NaN())
	depth.Set(3, 3, math.Inf(-1))

	for _, opts := range []RemapOptions{{MinDepth: 1}, {MinDepth: 1, ClampDepth: true}} {
		table, err := BuildRemap(ctx, IdentityTransfer(), depth, 1, 10, 10, opts)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.ValidCount(), test.ShouldEqual, 13)
		for _, p := range [][2]int{{1, 1}, {2, 2}, {3, 3}} {
			_, _, ok := table.At(p[0], p[1])
			test.That(t, ok, test.ShouldBeFalse)
		}
	}
}

func TestRemapBoundsAndSample(t *testing.T) {
	ctx := context.Background()
	depth := rimage.NewFloatImage(8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(x, y, 1)
		}
	}
	// shift everything 5 pixels right: x' = x + 5 * (1/d)
	shift := mat.DenseCopyOf(eye(4))
	shift.Set(0, 3, 5)
	op, err := NewTransferOperator(shift)
	test.That(t, err, test.ShouldBeNil)

	table, err := BuildRemap(ctx, op, depth, 1, 8, 6, RemapOptions{})
	test.That(t, err, test.ShouldBeNil)
	bounds := table.ValidBounds()
	test.That(t, bounds.Min.X, test.ShouldEqual, 0)
	test.That(t, bounds.Max.X, test.ShouldEqual, 3)
	test.That(t, bounds.Dy(), test.ShouldEqual, 6)

	target := rimage.NewFloatImage(8, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			target.Set(x, y, float64(x))
		}
	}
	sampled := table.Sample(target)
	test.That(t, sampled.At(0, 0), test.ShouldEqual, 5.0)
	test.That(t, sampled.At(2, 3), test.ShouldEqual, 7.0)
	test.That(t, sampled.At(6, 3), test.ShouldEqual, 0.0)

	// doubling the scale halves the shift
	table, err = BuildRemap(ctx, op, depth, 2, 8, 6, RemapOptions{})
	test.That(t, err, test.ShouldBeNil)
	x, _, ok := table.At(0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, x, test.ShouldEqual, 2.5)

	// nothing lands inside
	table, err = BuildRemap(ctx, op, depth, 0.1, 8, 6, RemapOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.ValidBounds().Empty(), test.ShouldBeTrue)
	test.That(t, math.IsNaN(table.X[0]), test.ShouldBeFalse)
}
