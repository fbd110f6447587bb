package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/thermalign/config"
	"go.viam.com/thermalign/diag"
	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/registration"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
	"go.viam.com/thermalign/scene"
)

type runner struct {
	cfg      config.Config
	logger   logging.Logger
	pipeline *registration.Pipeline
}

func newRunner(c *cli.Context) (*runner, error) {
	logger := logging.NewLogger("thermalign")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("thermalign")
	}
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	p, err := registration.NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &runner{cfg: cfg, logger: logger, pipeline: p}, nil
}

func (r *runner) layout() scene.Layout {
	return scene.LayoutFromConfig(r.cfg.Scene).Resolve(r.cfg.Scene.ScaleFactor)
}

func (r *runner) loadViews(c *cli.Context) ([]*registration.View, error) {
	if r.cfg.Scene.Root == "" {
		return nil, errors.New("scene.root is not configured")
	}
	views, err := scene.LoadViews(c.Context, r.cfg.Scene.Root, r.layout(), r.logger.Sublogger("scene"))
	if len(views) == 0 {
		return nil, err
	}
	if err != nil {
		r.logger.Warnw("some views could not be loaded", "error", err)
	}
	return views, nil
}

// CalibrateAction calibrates both cameras and stores the transfer operator.
func CalibrateAction(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	var op *transform.TransferOperator
	if c.Bool(flagForce) {
		if op, err = r.pipeline.BuildOperator(c.Context); err != nil {
			return err
		}
		cache := transform.TransferCache{Path: r.cfg.Calibration.CachePath}
		if err := cache.Store(op); err != nil {
			return err
		}
	} else if op, err = r.pipeline.Calibrate(c.Context); err != nil {
		return err
	}
	return transform.WriteTransferOperator(c.App.Writer, op)
}

// EstimateAction estimates per view scales and prints the aggregate.
func EstimateAction(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	op, err := r.pipeline.Calibrate(c.Context)
	if err != nil {
		return err
	}
	views, err := r.loadViews(c)
	if err != nil {
		return err
	}
	_, _, err = r.estimate(c, op, views)
	return err
}

func (r *runner) estimate(
	c *cli.Context,
	op *transform.TransferOperator,
	views []*registration.View,
) ([]registration.ScaleObservation, *registration.Aggregate, error) {
	results, estErr := r.pipeline.EstimateScales(c.Context, op, views)
	if len(results) == 0 {
		return nil, nil, multierr.Append(estErr, registration.ErrNoObservations)
	}
	if estErr != nil {
		r.logger.Warnw("some views could not be estimated", "error", estErr)
	}
	obs := registration.Observations(results)

	var iterations []registration.BandIteration
	var record func(registration.BandIteration)
	if r.cfg.Scene.PlotDir != "" {
		record = func(it registration.BandIteration) { iterations = append(iterations, it) }
	}
	agg, err := r.pipeline.Aggregate(obs, record)
	if err != nil {
		return nil, nil, err
	}

	for _, o := range obs {
		printf(c.App.Writer, "%s\t%.3f\t%.6f", o.View, o.Scale, o.Score)
	}
	printf(c.App.Writer, "average\t%.3f", agg.Average)
	printf(c.App.Writer, "ransac\t%.3f\tinliers=%.2f\tmet_goal=%t", agg.Band.Scale, agg.Band.InlierRatio, agg.Band.MetGoal)
	printf(c.App.Writer, "scale\t%.3f", agg.Scale)

	if out := c.String(flagOutput); out != "" {
		if err := writeObservations(out, obs); err != nil {
			return nil, nil, err
		}
	}
	if dir := r.cfg.Scene.PlotDir; dir != "" {
		r.writePlots(dir, results, obs, agg, iterations)
	}
	return obs, agg, nil
}

func (r *runner) writePlots(
	dir string,
	results []registration.ViewResult,
	obs []registration.ScaleObservation,
	agg *registration.Aggregate,
	iterations []registration.BandIteration,
) {
	var errs error
	errs = multierr.Append(errs, diag.PlotObservations(filepath.Join(dir, "observations.png"), obs,
		diag.Mark{Label: "average", Scale: agg.Average},
		diag.Mark{Label: "ransac", Scale: agg.Band.Scale},
	))
	for _, res := range results {
		if res.Curve == nil {
			continue
		}
		path := filepath.Join(dir, res.Observation.View+"-curve.png")
		errs = multierr.Append(errs, diag.PlotCurve(path, res.Observation.View, res.Curve))
	}
	for _, it := range iterations {
		path := filepath.Join(dir, "ransac", fmt.Sprintf("iteration-%03d.png", it.Iteration))
		errs = multierr.Append(errs, diag.PlotIteration(path, it, obs, r.cfg.Ransac.Threshold))
	}
	if errs != nil {
		r.logger.Warnw("cannot write diagnostic plots", "error", errs)
	}
}

func writeObservations(path string, obs []registration.ScaleObservation) error {
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readObservations(path string) ([]registration.ScaleObservation, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var obs []registration.ScaleObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, errors.Wrapf(err, "cannot parse observations %q", path)
	}
	return obs, nil
}

// RegisterAction composites every view at a given or aggregated scale.
func RegisterAction(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	scale := r.cfg.Composite.Scale
	switch {
	case c.Float64(flagScale) > 0:
		scale = c.Float64(flagScale)
	case c.String(flagObservations) != "":
		obs, err := readObservations(c.String(flagObservations))
		if err != nil {
			return err
		}
		agg, err := r.pipeline.Aggregate(obs, nil)
		if err != nil {
			return err
		}
		scale = agg.Scale
	}
	if scale <= 0 {
		return errors.New("no scale given: pass --scale, --observations or set composite.scale")
	}
	op, err := r.pipeline.Calibrate(c.Context)
	if err != nil {
		return err
	}
	views, err := r.loadViews(c)
	if err != nil {
		return err
	}
	return r.pipeline.RegisterViews(c.Context, op, views, scale)
}

// RunAction calibrates, estimates and registers every view.
func RunAction(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	op, err := r.pipeline.Calibrate(c.Context)
	if err != nil {
		return err
	}
	views, err := r.loadViews(c)
	if err != nil {
		return err
	}
	_, agg, err := r.estimate(c, op, views)
	if err != nil {
		return err
	}
	return r.pipeline.RegisterViews(c.Context, op, views, agg.Scale)
}

// DepthAction renders a depth container as a colorized image.
func DepthAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("expected a depth file and an output image")
	}
	dm, err := rimage.ParseDepthMap(c.Args().Get(0))
	if err != nil {
		return err
	}
	img := dm.ToPrettyPicture(c.Float64(flagMinDepth), c.Float64(flagMaxDepth))
	if err := rimage.WriteImageToFile(c.Args().Get(1), img); err != nil {
		return err
	}
	lo, hi := dm.MinMax()
	printf(c.App.Writer, "%dx%dx%d depth %.3f..%.3f written to %s",
		dm.Width(), dm.Height(), dm.Channels(), lo, hi, c.Args().Get(1))
	return nil
}

// CopyThermalAction copies thermal shots into the scene views.
func CopyThermalAction(c *cli.Context) error {
	r, err := newRunner(c)
	if err != nil {
		return err
	}
	if r.cfg.Scene.Root == "" || r.cfg.Scene.TargetDir == "" {
		return errors.New("scene.root and scene.target_dir must be configured")
	}
	views, err := scene.DiscoverViews(r.cfg.Scene.Root)
	if err != nil {
		return err
	}
	written, err := scene.CopyTargetImages(r.cfg.Scene.TargetDir, views, scene.CopyOptions{
		Pattern: r.cfg.Target.Pattern,
		Name:    r.layout().TargetImage,
		Marker:  c.String(flagMarker),
	}, r.logger.Sublogger("scene"))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "copied %d thermal images", len(written))
	return nil
}
