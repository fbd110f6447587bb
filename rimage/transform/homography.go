package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// At returns the entry at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dense returns h as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Apply maps pt through the homography and de-homogenizes.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// EstimateHomography fits the homography taking src onto dst with the normalized
// direct linear transform. At least four non-collinear correspondences are needed.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in length: %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences for a homography, got %d", len(src))
	}
	srcN, tSrc := normalizePoints(src)
	dstN, tDst := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h := nullVector(a)
	if h == nil {
		return nil, errors.New("failed to factorize homography system")
	}
	hn := mat.NewDense(3, 3, h)

	// undo the normalization: H = T_dst⁻¹ · Hn · T_src
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	var left, full mat.Dense
	left.Mul(&tDstInv, hn)
	full.Mul(&left, tSrc)

	scale := full.At(2, 2)
	if scale == 0 {
		return nil, errors.New("degenerate homography")
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = full.At(r, c) / scale
		}
	}
	return &out, nil
}
