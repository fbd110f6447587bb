package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNotHomogeneous is returned when a 4x4 matrix does not end in the identity extension
// that rigid poses and embedded intrinsics require.
var ErrNotHomogeneous = errors.New("matrix is not a homogeneous embedding")

// CamPose stores the 4x4 homogeneous pose matrix as well as the 3D Rotation and Translation matrices.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPose builds a pose from a 3x3 rotation and a translation.
func NewCamPose(rotation mat.Matrix, translation r3.Vector) (*CamPose, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	rot := mat.DenseCopyOf(rotation)
	t := mat.NewDense(3, 1, []float64{translation.X, translation.Y, translation.Z})
	return &CamPose{
		PoseMat:     EmbedPose(rot, t),
		Rotation:    rot,
		Translation: t,
	}, nil
}

// NewCamPoseFromRodrigues builds a pose from an axis-angle rotation vector and a translation.
func NewCamPoseFromRodrigues(rvec, tvec r3.Vector) *CamPose {
	//nolint:errcheck
	pose, _ := NewCamPose(Rodrigues(rvec), tvec)
	return pose
}

// NewCamPoseFromMat creates a pointer to a camera pose from a 3x4 or 4x4 pose dense matrix.
// A 4x4 matrix must have the homogeneous bottom row.
func NewCamPoseFromMat(pose *mat.Dense) (*CamPose, error) {
	rows, cols := pose.Dims()
	switch {
	case rows == 4 && cols == 4:
		if err := checkBottomRow(pose); err != nil {
			return nil, err
		}
	case rows == 3 && cols == 4:
	default:
		return nil, errors.Errorf("pose must be 3x4 or 4x4, got %dx%d", rows, cols)
	}
	U3 := pose.ColView(3)
	return NewCamPose(pose.Slice(0, 3, 0, 3), r3.Vector{X: U3.AtVec(0), Y: U3.AtVec(1), Z: U3.AtVec(2)})
}

// TranslationVector returns the translation as a vector.
func (cp *CamPose) TranslationVector() r3.Vector {
	return r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
}

// Homogeneous returns a copy of the 4x4 pose matrix.
func (cp *CamPose) Homogeneous() *mat.Dense {
	return mat.DenseCopyOf(cp.PoseMat)
}

// Inverse returns the analytic inverse [Rᵀ | -Rᵀt] of the rigid pose.
func (cp *CamPose) Inverse() *CamPose {
	var rt mat.Dense
	rt.CloneFrom(cp.Rotation.T())
	var t mat.Dense
	t.Mul(&rt, cp.Translation)
	t.Scale(-1, &t)
	//nolint:errcheck
	inv, _ := NewCamPose(&rt, r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)})
	return inv
}

// Apply maps a point from the grid frame into the camera frame.
func (cp *CamPose) Apply(p r3.Vector) r3.Vector {
	r, t := cp.Rotation, cp.Translation
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z + t.At(0, 0),
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z + t.At(1, 0),
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z + t.At(2, 0),
	}
}

// Rodrigues converts an axis-angle vector (direction = axis, norm = angle in radians)
// into a 3x3 rotation matrix.
func Rodrigues(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return eye(3)
	}
	k := rvec.Mul(1 / theta)
	kx := getCrossProductMatFromPoint(k)
	var kx2 mat.Dense
	kx2.Mul(kx, kx)

	rot := eye(3)
	var term mat.Dense
	term.Scale(math.Sin(theta), kx)
	rot.Add(rot, &term)
	term.Scale(1-math.Cos(theta), &kx2)
	rot.Add(rot, &term)
	return rot
}

// RotationToRodrigues converts a 3x3 rotation matrix into its axis-angle vector.
func RotationToRodrigues(rot mat.Matrix) r3.Vector {
	trace := rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// near pi the antisymmetric part vanishes; use the diagonal of (R + I) / 2 = k kᵀ
		kx := math.Sqrt(math.Max(0, (rot.At(0, 0)+1)/2))
		ky := math.Sqrt(math.Max(0, (rot.At(1, 1)+1)/2))
		kz := math.Sqrt(math.Max(0, (rot.At(2, 2)+1)/2))
		switch {
		case kx >= ky && kx >= kz:
			ky = math.Copysign(ky, rot.At(0, 1)+rot.At(1, 0))
			kz = math.Copysign(kz, rot.At(0, 2)+rot.At(2, 0))
		case ky >= kz:
			kx = math.Copysign(kx, rot.At(0, 1)+rot.At(1, 0))
			kz = math.Copysign(kz, rot.At(1, 2)+rot.At(2, 1))
		default:
			kx = math.Copysign(kx, rot.At(0, 2)+rot.At(2, 0))
			ky = math.Copysign(ky, rot.At(1, 2)+rot.At(2, 1))
		}
		return r3.Vector{X: kx, Y: ky, Z: kz}.Normalize().Mul(theta)
	}
	s := 2 * math.Sin(theta)
	axis := r3.Vector{
		X: (rot.At(2, 1) - rot.At(1, 2)) / s,
		Y: (rot.At(0, 2) - rot.At(2, 0)) / s,
		Z: (rot.At(1, 0) - rot.At(0, 1)) / s,
	}
	return axis.Mul(theta)
}

// NearestRotation projects m onto SO(3) through its SVD, flipping the last singular
// direction when the closest orthonormal matrix is a reflection.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	svd := performSVD(mat.DenseCopyOf(m))
	if svd == nil {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var rot mat.Dense
	rot.Mul(svd.U, svd.VT)
	if mat.Det(&rot) < 0 {
		d := eye(3)
		d.Set(2, 2, -1)
		var ud mat.Dense
		ud.Mul(svd.U, d)
		rot.Mul(&ud, svd.VT)
	}
	return &rot, nil
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}
