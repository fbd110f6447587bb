// Package config holds the settings of a registration run.
package config

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/thermalign/rimage/calib"
)

// Config describes one registration run: how to calibrate both cameras, how to
// search for the depth scale of every view and how to aggregate and composite.
// It is passed by value and not modified once read.
type Config struct {
	Grid        calib.AsymmetricGrid `json:"grid"`
	Source      CameraConfig         `json:"source"`
	Target      CameraConfig         `json:"target"`
	Calibration CalibrationConfig    `json:"calibration"`
	Search      SearchConfig         `json:"search"`
	Ransac      RansacConfig         `json:"ransac"`
	Composite   CompositeConfig      `json:"composite"`
	Scene       SceneConfig          `json:"scene"`
	// Workers bounds concurrent candidate evaluations; zero means one per CPU.
	Workers int `json:"workers"`
}

// CameraConfig is the calibration image set of one camera. Source is the camera
// whose depth is reconstructed (visible), target the one warped onto it (thermal).
type CameraConfig struct {
	ImageDir string `json:"image_dir"`
	Pattern  string `json:"pattern"`
	// Order is "name" (numeric file names) or "mtime".
	Order string `json:"order"`
	// DarkDots is true for dark dots on a bright board.
	DarkDots            bool    `json:"dark_dots"`
	MinArea             int     `json:"min_area"`
	MaxArea             int     `json:"max_area"`
	MinDistBetweenBlobs float64 `json:"min_dist_between_blobs"`
	// Undistort writes undistorted copies of the calibration images.
	Undistort bool `json:"undistort"`
	// ImageWidth and ImageHeight are the size of the images used at registration
	// time. Zero keeps the calibration size.
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
	ModelPath   string `json:"model_path"`
}

// CalibrationConfig controls how the transfer operator is derived.
type CalibrationConfig struct {
	// PoseIndex selects the calibration view shared by both cameras.
	PoseIndex int    `json:"pose_index"`
	CachePath string `json:"cache_path"`
	Annotate  bool   `json:"annotate"`
}

// SearchConfig controls the per view depth scale search.
type SearchConfig struct {
	Start          float64 `json:"start"`
	Stop           float64 `json:"stop"`
	Step           float64 `json:"step"`
	Metric         string  `json:"metric"`
	Smoothing      float64 `json:"smoothing"`
	Optimize       bool    `json:"optimize"`
	LowerBound     float64 `json:"lower_bound"`
	Initial        float64 `json:"initial"`
	MaxEvaluations int     `json:"max_evaluations"`
	MinDepth       float64 `json:"min_depth"`
	ClampDepth     bool    `json:"clamp_depth"`
}

// RansacConfig controls the band consensus fit.
type RansacConfig struct {
	Iterations int     `json:"iterations"`
	Threshold  float64 `json:"threshold"`
	RatioGoal  float64 `json:"ratio_goal"`
	Picked     int     `json:"picked"`
	Seed       int64   `json:"seed"`
}

// CompositeConfig controls the overlay of the warped target image.
type CompositeConfig struct {
	Alpha float64 `json:"alpha"`
	// Scale overrides the aggregated scale when positive.
	Scale float64 `json:"scale"`
	// Aggregate picks "ransac" or "average".
	Aggregate string `json:"aggregate"`
}

// SceneConfig locates the reconstructed views. File names may contain "{sf}",
// replaced by ScaleFactor.
type SceneConfig struct {
	Root        string `json:"root"`
	TargetDir   string `json:"target_dir"`
	ScaleFactor int    `json:"scale_factor"`
	SourceDepth string `json:"source_depth"`
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
	TargetDepth string `json:"target_depth"`
	Output      string `json:"output"`
	PlotDir     string `json:"plot_dir"`
}

// Default returns the settings of the reference rig: a 3x9 board with 50 mm
// horizontal and 25 mm vertical spacing, candidates 10..300 in steps of 5 and a
// 100 iteration band fit.
func Default() Config {
	return Config{
		Grid: calib.AsymmetricGrid{Cols: 3, Rows: 9, HStep: 50, VStep: 25},
		Source: CameraConfig{
			ImageDir:            "normal-img",
			Pattern:             "*.jpg",
			Order:               string(calib.OrderByName),
			DarkDots:            true,
			MinArea:             10,
			MaxArea:             100000,
			MinDistBetweenBlobs: 5,
			Undistort:           true,
		},
		Target: CameraConfig{
			ImageDir:            "thermal-img",
			Pattern:             "*.jpg",
			Order:               string(calib.OrderByName),
			DarkDots:            false,
			MinArea:             10,
			MaxArea:             100000,
			MinDistBetweenBlobs: 5,
			Undistort:           true,
		},
		Calibration: CalibrationConfig{
			PoseIndex: 0,
			CachePath: "calibration.txt",
			Annotate:  true,
		},
		Search: SearchConfig{
			Start:          10,
			Stop:           300,
			Step:           5,
			Metric:         "mi",
			LowerBound:     1,
			MaxEvaluations: 60,
			MinDepth:       1,
		},
		Ransac: RansacConfig{
			Iterations: 100,
			Threshold:  20,
			RatioGoal:  0.8,
			Picked:     10,
			Seed:       1,
		},
		Composite: CompositeConfig{
			Alpha:     0.3,
			Aggregate: "ransac",
		},
		Scene: SceneConfig{
			ScaleFactor: 2,
			SourceDepth: "smvs-visual-B{sf}.mvei",
			SourceImage: "undist-L{sf}.png",
			TargetImage: "thermal.jpg",
			TargetDepth: "smvs-thermal-SGM.mvei",
			Output:      "merged-smvs.jpg",
		},
	}
}

// Validate returns every invalid field, each prefixed by its path.
func (c Config) Validate() error {
	var errs error
	if err := c.Grid.Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("grid", err))
	}
	errs = multierr.Append(errs, c.Source.validate("source"))
	errs = multierr.Append(errs, c.Target.validate("target"))
	if c.Calibration.PoseIndex < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("calibration.pose_index",
			errors.Errorf("must be non-negative, got %d", c.Calibration.PoseIndex)))
	}
	errs = multierr.Append(errs, c.Search.validate("search"))
	errs = multierr.Append(errs, c.Ransac.validate("ransac"))
	errs = multierr.Append(errs, c.Composite.validate("composite"))
	if c.Scene.ScaleFactor < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("scene.scale_factor",
			errors.Errorf("must be non-negative, got %d", c.Scene.ScaleFactor)))
	}
	if c.Workers < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError("workers",
			errors.Errorf("must be non-negative, got %d", c.Workers)))
	}
	return errs
}

func (c CameraConfig) validate(path string) error {
	var errs error
	if c.ImageDir == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "image_dir"))
	}
	switch calib.FileOrder(c.Order) {
	case "", calib.OrderByName, calib.OrderByModTime:
	default:
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".order",
			errors.Errorf("unknown order %q", c.Order)))
	}
	if c.MaxArea > 0 && c.MaxArea < c.MinArea {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".max_area",
			errors.Errorf("%d is below min_area %d", c.MaxArea, c.MinArea)))
	}
	if (c.ImageWidth == 0) != (c.ImageHeight == 0) || c.ImageWidth < 0 || c.ImageHeight < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".image_width",
			errors.Errorf("image size %dx%d must be both positive or both zero", c.ImageWidth, c.ImageHeight)))
	}
	return errs
}

func (c SearchConfig) validate(path string) error {
	var errs error
	if c.Step <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".step",
			errors.Errorf("must be positive, got %v", c.Step)))
	}
	if c.Stop <= c.Start {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".stop",
			errors.Errorf("%v must exceed start %v", c.Stop, c.Start)))
	}
	switch c.Metric {
	case "mi", "edge":
	default:
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".metric",
			errors.Errorf("unknown metric %q", c.Metric)))
	}
	if c.Smoothing < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".smoothing",
			errors.Errorf("must be non-negative, got %v", c.Smoothing)))
	}
	if c.ClampDepth && c.MinDepth <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".min_depth",
			errors.New("must be positive when clamp_depth is set")))
	}
	if c.MinDepth < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".min_depth",
			errors.Errorf("must be non-negative, got %v", c.MinDepth)))
	}
	return errs
}

func (c RansacConfig) validate(path string) error {
	var errs error
	if c.Iterations <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".iterations",
			errors.Errorf("must be positive, got %d", c.Iterations)))
	}
	if c.Threshold <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".threshold",
			errors.Errorf("must be positive, got %v", c.Threshold)))
	}
	if c.Picked <= 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".picked",
			errors.Errorf("must be positive, got %d", c.Picked)))
	}
	if c.RatioGoal < 0 || c.RatioGoal > 1 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".ratio_goal",
			errors.Errorf("must be in [0, 1], got %v", c.RatioGoal)))
	}
	return errs
}

func (c CompositeConfig) validate(path string) error {
	var errs error
	if c.Alpha < 0 || c.Alpha > 1 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".alpha",
			errors.Errorf("must be in [0, 1], got %v", c.Alpha)))
	}
	switch c.Aggregate {
	case "ransac", "average":
	default:
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path+".aggregate",
			errors.Errorf("unknown aggregation %q", c.Aggregate)))
	}
	return errs
}
