package transform

import (
	"encoding/json"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// CameraModel is the result of calibrating one camera: intrinsics, lens distortion
// and one grid pose per calibration image that was detected. It is not modified
// after construction; accessors hand out copies.
type CameraModel struct {
	intrinsics PinholeCameraIntrinsics
	distortion BrownConrady
	poses      []*CamPose
	rms        float64
}

// NewCameraModel validates and wraps calibration output.
func NewCameraModel(
	intrinsics *PinholeCameraIntrinsics,
	distortion *BrownConrady,
	poses []*CamPose,
	rms float64,
) (*CameraModel, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if distortion == nil {
		distortion = &BrownConrady{}
	}
	if err := distortion.CheckValid(); err != nil {
		return nil, err
	}
	for i, p := range poses {
		if p == nil {
			return nil, errors.Errorf("pose %d is nil", i)
		}
		if err := CheckPoseEmbedding(p.PoseMat); err != nil {
			return nil, errors.Wrapf(err, "pose %d", i)
		}
	}
	return &CameraModel{
		intrinsics: *intrinsics,
		distortion: *distortion,
		poses:      append([]*CamPose(nil), poses...),
		rms:        rms,
	}, nil
}

// Intrinsics returns a copy of the pinhole parameters.
func (cm *CameraModel) Intrinsics() *PinholeCameraIntrinsics {
	in := cm.intrinsics
	return &in
}

// Distortion returns a copy of the lens distortion.
func (cm *CameraModel) Distortion() *BrownConrady {
	d := cm.distortion
	return &d
}

// K returns a copy of the 3x3 camera matrix.
func (cm *CameraModel) K() *mat.Dense {
	return cm.intrinsics.GetCameraMatrix()
}

// NumPoses returns how many calibration poses the model carries.
func (cm *CameraModel) NumPoses() int {
	return len(cm.poses)
}

// Pose returns a copy of calibration pose i.
func (cm *CameraModel) Pose(i int) (*CamPose, error) {
	if i < 0 || i >= len(cm.poses) {
		return nil, errors.Errorf("pose index %d out of range [0, %d)", i, len(cm.poses))
	}
	p := cm.poses[i]
	return &CamPose{
		PoseMat:     mat.DenseCopyOf(p.PoseMat),
		Rotation:    mat.DenseCopyOf(p.Rotation),
		Translation: mat.DenseCopyOf(p.Translation),
	}, nil
}

// RMS is the reprojection error reported by the solver, in pixels.
func (cm *CameraModel) RMS() float64 {
	return cm.rms
}

// Project maps a grid point seen in calibration pose i to distorted pixel coordinates.
func (cm *CameraModel) Project(pt r3.Vector, pose int) (r2.Point, error) {
	p, err := cm.Pose(pose)
	if err != nil {
		return r2.Point{}, err
	}
	c := p.Apply(pt)
	if c.Z == 0 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}, nil
	}
	x, y := cm.distortion.Transform(c.X/c.Z, c.Y/c.Z)
	u, v := cm.intrinsics.PointToPixel(x, y, 1)
	return r2.Point{X: u, Y: v}, nil
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the lens model.
func (cm *CameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	params := cm.intrinsics
	return func(u, v float64) (float64, float64) {
		x, y, _ := params.PixelToPoint(u, v, 1)
		x, y = cm.distortion.Transform(x, y)
		return params.PointToPixel(x, y, 1)
	}
}

// UndistortPoints removes lens distortion from pixel positions.
func (cm *CameraModel) UndistortPoints(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		x, y, _ := cm.intrinsics.PixelToPoint(p.X, p.Y, 1)
		x, y = cm.distortion.Undistort(x, y)
		u, v := cm.intrinsics.PointToPixel(x, y, 1)
		out[i] = r2.Point{X: u, Y: v}
	}
	return out
}

// UndistortImage takes an input image and creates a new image the same size with the same camera parameters
// as the original image, but undistorted according to the lens model. A bilinear
// interpolation is used to interpolate values between image pixels.
func (cm *CameraModel) UndistortImage(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	b := img.Bounds()
	if cm.intrinsics.Width != b.Dx() || cm.intrinsics.Height != b.Dy() {
		return nil, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			b.Dx(), b.Dy(), cm.intrinsics.Width, cm.intrinsics.Height)
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	distortionMap := cm.DistortionMap()
	for v := 0; v < b.Dy(); v++ {
		for u := 0; u < b.Dx(); u++ {
			x, y := distortionMap(float64(u), float64(v))
			if c, ok := BilinearColor(img, x, y); ok {
				out.SetNRGBA(u, v, c)
			}
		}
	}
	return out, nil
}

// BilinearColor samples img at a sub-pixel position relative to its bounds origin.
// It returns false outside [0, w-1]x[0, h-1].
func BilinearColor(img image.Image, x, y float64) (color.NRGBA, bool) {
	b := img.Bounds()
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(b.Dx()-1) || y > float64(b.Dy()-1) {
		return color.NRGBA{}, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	ax, ay := x-float64(x0), y-float64(y0)

	var acc [4]float64
	blend := func(px, py int, w float64) {
		if w == 0 {
			return
		}
		c := color.NRGBAModel.Convert(img.At(b.Min.X+px, b.Min.Y+py)).(color.NRGBA)
		acc[0] += w * float64(c.R)
		acc[1] += w * float64(c.G)
		acc[2] += w * float64(c.B)
		acc[3] += w * float64(c.A)
	}
	blend(x0, y0, (1-ax)*(1-ay))
	blend(x1, y0, ax*(1-ay))
	blend(x0, y1, (1-ax)*ay)
	blend(x1, y1, ax*ay)
	round := func(v float64) uint8 { return uint8(math.Max(0, math.Min(255, math.Round(v)))) }
	return color.NRGBA{R: round(acc[0]), G: round(acc[1]), B: round(acc[2]), A: round(acc[3])}, true
}

type cameraModelJSON struct {
	Intrinsics     PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	DistortionType DistortionType          `json:"distortion_type"`
	// Distortion is ordered k1, k2, p1, p2, k3.
	Distortion []float64  `json:"distortion_coefficients"`
	Poses      []poseJSON `json:"poses"`
	RMS        float64    `json:"rms"`
}

type poseJSON struct {
	Rotation    []float64 `json:"rotation"`
	Translation []float64 `json:"translation"`
}

// MarshalJSON encodes the model with row-major rotation matrices.
func (cm *CameraModel) MarshalJSON() ([]byte, error) {
	out := cameraModelJSON{
		Intrinsics:     cm.intrinsics,
		DistortionType: cm.distortion.ModelType(),
		Distortion:     cm.distortion.Coefficients(),
		RMS:            cm.rms,
	}
	for _, p := range cm.poses {
		out.Poses = append(out.Poses, poseJSON{
			Rotation:    mat.DenseCopyOf(p.Rotation).RawMatrix().Data,
			Translation: mat.Col(nil, 0, p.Translation),
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes what MarshalJSON produced and re-validates it.
func (cm *CameraModel) UnmarshalJSON(data []byte) error {
	var in cameraModelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	distortion, err := distortionFromCoefficients(in.DistortionType, in.Distortion)
	if err != nil {
		return err
	}
	poses := make([]*CamPose, 0, len(in.Poses))
	for i, p := range in.Poses {
		if len(p.Rotation) != 9 || len(p.Translation) != 3 {
			return errors.Errorf("pose %d needs 9 rotation and 3 translation values", i)
		}
		pose, err := NewCamPose(mat.NewDense(3, 3, p.Rotation), r3.Vector{X: p.Translation[0], Y: p.Translation[1], Z: p.Translation[2]})
		if err != nil {
			return err
		}
		poses = append(poses, pose)
	}
	model, err := NewCameraModel(&in.Intrinsics, distortion, poses, in.RMS)
	if err != nil {
		return err
	}
	*cm = *model
	return nil
}

// WriteCameraModelFile stores the model as JSON.
func WriteCameraModelFile(path string, cm *CameraModel) error {
	data, err := json.MarshalIndent(cm, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "cannot write camera model %q", path)
}

// ReadCameraModelFile loads a model written by WriteCameraModelFile.
func ReadCameraModelFile(path string) (*CameraModel, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening camera model file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	var cm CameraModel
	if err := json.NewDecoder(f).Decode(&cm); err != nil {
		return nil, errors.Wrapf(err, "error parsing camera model %q", path)
	}
	return &cm, nil
}
