package transform

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Skew   float64 `json:"skew,omitempty"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx, ppy and skew out of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if k.At(2, 2) == 0 {
		return nil, NewNoIntrinsicsError("camera matrix has zero scale")
	}
	s := 1 / k.At(2, 2)
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0) * s,
		Fy:     k.At(1, 1) * s,
		Ppx:    k.At(0, 2) * s,
		Ppy:    k.At(1, 2) * s,
		Skew:   k.At(0, 1) * s,
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// Rescaled returns intrinsics for the same lens at a resized image. Focal lengths
// and the principal point scale with the image; skew is left alone.
func (params *PinholeCameraIntrinsics) Rescaled(r Rescale) *PinholeCameraIntrinsics {
	out := *params
	out.Fx *= r.X
	out.Ppx *= r.X
	out.Fy *= r.Y
	out.Ppy *= r.Y
	out.Width = int(float64(params.Width)*r.X + 0.5)
	out.Height = int(float64(params.Height)*r.Y + 0.5)
	return &out
}

// PixelToPoint transforms a pixel with depth to a 3D point.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	yOverZ := (y - params.Ppy) / params.Fy
	xOverZ := (x - params.Ppx - params.Skew*yOverZ) / params.Fx
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point to a sub-pixel position in the image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := (x/z)*params.Fx + (y/z)*params.Skew + params.Ppx
		yPx := (y/z)*params.Fy + params.Ppy
		return xPx, yPx
	}
	// if depth is zero at this pixel, return negative coordinates so that the cropping to image bounds will filter it out
	return -1.0, -1.0
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx s  ppx],
//
//	[0  fy ppy],
//	[0  0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// Rescale holds the horizontal and vertical ratios between the image size used at
// registration time and the image size used at calibration time.
type Rescale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NoRescale leaves intrinsics untouched.
var NoRescale = Rescale{X: 1, Y: 1}

// RescaleFor returns the ratios that map a calibW x calibH calibration image onto a w x h image.
func RescaleFor(calibW, calibH, w, h int) Rescale {
	if calibW <= 0 || calibH <= 0 {
		return NoRescale
	}
	return Rescale{X: float64(w) / float64(calibW), Y: float64(h) / float64(calibH)}
}

// IsZero reports whether r carries no ratios, in which case callers treat it as NoRescale.
func (r Rescale) IsZero() bool {
	return r.X == 0 && r.Y == 0
}
