package transform

import (
	"github.com/pkg/errors"

	"go.viam.com/thermalign/utils"
)

// DistortionType names a lens distortion model in a stored camera model.
type DistortionType string

// BrownConradyDistortionType is the only model calibration produces.
const BrownConradyDistortionType = DistortionType("brown_conrady")

// InvalidDistortionError is used when distortion parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion parameters"), msg)
}

// distortionFromCoefficients rebuilds a stored model. An empty type is read as
// Brown-Conrady.
func distortionFromCoefficients(kind DistortionType, coeffs []float64) (*BrownConrady, error) {
	switch kind {
	case "", BrownConradyDistortionType:
		return NewBrownConradyFromCoefficients(coeffs)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", kind)
	}
}

// BrownConrady is the radial and tangential lens distortion model:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
//
// on normalized image coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats ordered rk1, rk2, rk3, tp1, tp2.
// Missing trailing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	return &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

// NewBrownConradyFromCoefficients reads the conventional calibration output
// ordering (k1, k2, p1, p2[, k3]).
func NewBrownConradyFromCoefficients(coeffs []float64) (*BrownConrady, error) {
	if len(coeffs) > 5 {
		return nil, errors.Errorf("expected at most 5 distortion coefficients, got %d", len(coeffs))
	}
	c := make([]float64, 5)
	copy(c, coeffs)
	return &BrownConrady{RadialK1: c[0], RadialK2: c[1], TangentialP1: c[2], TangentialP2: c[3], RadialK3: c[4]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, p := range bc.Parameters() {
		if !utils.IsFinite(p) {
			return InvalidDistortionError("BrownConrady parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Coefficients returns the parameters in k1, k2, p1, p2, k3 order.
func (bc *BrownConrady) Coefficients() []float64 {
	if bc == nil {
		return make([]float64, 5)
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts the undistorted normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radDist := 1. + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radDist + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radDist + 2*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2*y*y)
	return xd, yd
}

// Undistort inverts Transform with Newton-Raphson iterations, starting from the
// distorted point itself.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	const (
		maxIterations = 20
		tolerance     = 1e-10
	)
	k1, k2, k3, p1, p2 := bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xEst, yEst := bc.Transform(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		radDist := 1. + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		dRad := k1 + 2*k2*r2 + 3*k3*r2*r2

		// jacobian of the forward model
		j00 := radDist + 2*xu*xu*dRad + 2*p1*yu + 6*p2*xu
		j01 := 2*xu*yu*dRad + 2*p1*xu + 2*p2*yu
		j10 := 2*xu*yu*dRad + 2*p2*yu + 2*p1*xu
		j11 := radDist + 2*yu*yu*dRad + 2*p2*xu + 6*p1*yu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
