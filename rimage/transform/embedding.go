package transform

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EmbedIntrinsics pads a 3x3 camera matrix to 4x4 with a zero bottom row and a
// right column of [0 0 0 1]ᵀ, so the fourth homogeneous coordinate passes through.
func EmbedIntrinsics(k mat.Matrix) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, k.At(i, j))
		}
	}
	out.Set(3, 3, 1)
	return out
}

// EmbedPose stacks [R | t] over [0 0 0 1].
func EmbedPose(rotation, translation mat.Matrix) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rotation.At(i, j))
		}
		out.Set(i, 3, translation.At(i, 0))
	}
	out.Set(3, 3, 1)
	return out
}

// CheckIntrinsicsEmbedding verifies that m is 4x4 with the identity extension on
// both the bottom row and the right column.
func CheckIntrinsicsEmbedding(m mat.Matrix) error {
	if err := checkBottomRow(m); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if m.At(i, 3) != 0 {
			return errors.Wrapf(ErrNotHomogeneous, "right column entry (%d,3) = %v", i, m.At(i, 3))
		}
	}
	return nil
}

// CheckPoseEmbedding verifies that m is 4x4 with a [0 0 0 1] bottom row.
func CheckPoseEmbedding(m mat.Matrix) error {
	return checkBottomRow(m)
}

func checkBottomRow(m mat.Matrix) error {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return errors.Wrapf(ErrNotHomogeneous, "expected 4x4, got %dx%d", r, c)
	}
	for j := 0; j < 3; j++ {
		if m.At(3, j) != 0 {
			return errors.Wrapf(ErrNotHomogeneous, "bottom row entry (3,%d) = %v", j, m.At(3, j))
		}
	}
	if m.At(3, 3) != 1 {
		return errors.Wrapf(ErrNotHomogeneous, "bottom right entry = %v", m.At(3, 3))
	}
	return nil
}
