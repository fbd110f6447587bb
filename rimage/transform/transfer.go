package transform

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/thermalign/utils"
)

// TransferOperator is the 4x4 matrix W that maps (u, v, 1, 1/depth) in the source
// camera image to homogeneous target image coordinates.
type TransferOperator struct {
	m *mat.Dense
}

// NewTransferOperator wraps a copy of a 4x4 matrix.
func NewTransferOperator(m mat.Matrix) (*TransferOperator, error) {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("transfer operator must be 4x4, got %dx%d", r, c)
	}
	d := mat.DenseCopyOf(m)
	for _, v := range d.RawMatrix().Data {
		if !utils.IsFinite(v) {
			return nil, errors.New("transfer operator has non-finite entries")
		}
	}
	return &TransferOperator{m: d}, nil
}

// IdentityTransfer maps every pixel onto itself.
func IdentityTransfer() *TransferOperator {
	return &TransferOperator{m: eye(4)}
}

// Matrix returns a copy of W.
func (op *TransferOperator) Matrix() *mat.Dense {
	return mat.DenseCopyOf(op.m)
}

// At returns entry (i, j) of W.
func (op *TransferOperator) At(i, j int) float64 {
	return op.m.At(i, j)
}

// Apply maps source pixel (u, v) with inverse depth invDepth and divides by the
// third homogeneous coordinate. ok is false when that coordinate is zero or the
// result is not finite.
func (op *TransferOperator) Apply(u, v, invDepth float64) (x, y float64, ok bool) {
	m := op.m
	hx := m.At(0, 0)*u + m.At(0, 1)*v + m.At(0, 2) + m.At(0, 3)*invDepth
	hy := m.At(1, 0)*u + m.At(1, 1)*v + m.At(1, 2) + m.At(1, 3)*invDepth
	hz := m.At(2, 0)*u + m.At(2, 1)*v + m.At(2, 2) + m.At(2, 3)*invDepth
	if hz == 0 {
		return 0, 0, false
	}
	x, y = hx/hz, hy/hz
	if !utils.IsFinite(x) || !utils.IsFinite(y) {
		return 0, 0, false
	}
	return x, y, true
}

// Inverse returns W⁻¹, the operator for the opposite direction.
func (op *TransferOperator) Inverse() (*TransferOperator, error) {
	var inv mat.Dense
	if err := inv.Inverse(op.m); err != nil {
		return nil, errors.Wrap(err, "transfer operator is singular")
	}
	return &TransferOperator{m: &inv}, nil
}

// Compose returns op·other, i.e. other is applied first.
func (op *TransferOperator) Compose(other *TransferOperator) *TransferOperator {
	var out mat.Dense
	out.Mul(op.m, other.m)
	return &TransferOperator{m: &out}
}

// TransferOptions selects the calibration pose and corrects intrinsics for images
// that were resized after calibration.
type TransferOptions struct {
	PoseIndex     int
	SourceRescale Rescale
	TargetRescale Rescale
}

// BuildTransferOperator composes W = K_target · P_target · P_source⁻¹ · K_source⁻¹
// from two calibrated cameras observing the same grid in pose opts.PoseIndex.
func BuildTransferOperator(source, target *CameraModel, opts TransferOptions) (*TransferOperator, error) {
	if source == nil || target == nil {
		return nil, errors.New("both camera models are required")
	}
	srcPose, err := source.Pose(opts.PoseIndex)
	if err != nil {
		return nil, errors.Wrap(err, "source camera")
	}
	dstPose, err := target.Pose(opts.PoseIndex)
	if err != nil {
		return nil, errors.Wrap(err, "target camera")
	}
	if err := CheckPoseEmbedding(srcPose.PoseMat); err != nil {
		return nil, errors.Wrap(err, "source pose")
	}
	if err := CheckPoseEmbedding(dstPose.PoseMat); err != nil {
		return nil, errors.Wrap(err, "target pose")
	}

	srcK := EmbedIntrinsics(rescaledK(source, opts.SourceRescale))
	dstK := EmbedIntrinsics(rescaledK(target, opts.TargetRescale))

	var srcKInv mat.Dense
	if err := srcKInv.Inverse(srcK); err != nil {
		return nil, errors.Wrap(err, "source intrinsics are singular")
	}
	srcPoseInv := srcPose.Inverse().PoseMat

	var kp, kpp, w mat.Dense
	kp.Mul(dstK, dstPose.PoseMat)
	kpp.Mul(&kp, srcPoseInv)
	w.Mul(&kpp, &srcKInv)
	return NewTransferOperator(&w)
}

func rescaledK(cm *CameraModel, r Rescale) *mat.Dense {
	if r.IsZero() {
		r = NoRescale
	}
	return cm.Intrinsics().Rescaled(r).GetCameraMatrix()
}
