package calib

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage/transform"
)

// SolveResult is the raw output of a camera solve. Distortion is ordered k1, k2,
// p1, p2, k3 and may be shorter. RVecs and TVecs hold one axis-angle rotation and
// translation per correspondence pair, in pair order.
type SolveResult struct {
	K          *mat.Dense
	Distortion []float64
	RVecs      []r3.Vector
	TVecs      []r3.Vector
	RMS        float64
}

// CameraSolver estimates intrinsics, distortion and one board pose per view.
type CameraSolver interface {
	Solve(set *CorrespondenceSet) (*SolveResult, error)
}

// Calibrator turns a correspondence set into a camera model.
type Calibrator struct {
	Solver CameraSolver
	Logger logging.Logger
}

// NewCalibrator returns a calibrator backed by the closed-form and refined solve.
func NewCalibrator(logger logging.Logger) *Calibrator {
	return &Calibrator{Solver: &ZhangSolver{Logger: logger}, Logger: logger}
}

// Calibrate solves set and wraps the result. Pose i of the model belongs to pair i
// of the set.
func (c *Calibrator) Calibrate(set *CorrespondenceSet) (*transform.CameraModel, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	res, err := c.Solver.Solve(set)
	if err != nil {
		return nil, errors.Wrap(err, "camera solve failed")
	}
	if len(res.RVecs) != len(set.Pairs) || len(res.TVecs) != len(set.Pairs) {
		return nil, errors.Errorf("solver returned %d rotations and %d translations for %d views",
			len(res.RVecs), len(res.TVecs), len(set.Pairs))
	}
	if res.K == nil {
		return nil, transform.NewNoIntrinsicsError("solver returned no camera matrix")
	}

	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(res.K, set.Width, set.Height)
	if err != nil {
		return nil, err
	}
	distortion, err := transform.NewBrownConradyFromCoefficients(res.Distortion)
	if err != nil {
		return nil, err
	}
	poses := make([]*transform.CamPose, len(res.RVecs))
	for i := range res.RVecs {
		poses[i] = transform.NewCamPoseFromRodrigues(res.RVecs[i], res.TVecs[i])
	}
	model, err := transform.NewCameraModel(intrinsics, distortion, poses, res.RMS)
	if err != nil {
		return nil, err
	}
	c.logger().Infow("camera calibrated",
		"views", len(poses), "rms", res.RMS,
		"fx", intrinsics.Fx, "fy", intrinsics.Fy, "ppx", intrinsics.Ppx, "ppy", intrinsics.Ppy)
	return model, nil
}

func (c *Calibrator) logger() logging.Logger {
	if c.Logger == nil {
		return logging.Global()
	}
	return c.Logger
}
