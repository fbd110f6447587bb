package registration

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/thermalign/config"
	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/calib"
	"go.viam.com/thermalign/rimage/transform"
)

// Pipeline runs calibration, per view scale estimation, aggregation and
// compositing as configured by a config.Config.
type Pipeline struct {
	cfg    config.Config
	logger logging.Logger

	sourceDetector calib.GridDetector
	targetDetector calib.GridDetector
	solver         calib.CameraSolver
	minimizer      Minimizer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDetectors replaces the blob detectors built from the camera configs.
func WithDetectors(source, target calib.GridDetector) Option {
	return func(p *Pipeline) {
		p.sourceDetector = source
		p.targetDetector = target
	}
}

// WithSolver replaces the camera solver.
func WithSolver(solver calib.CameraSolver) Option {
	return func(p *Pipeline) {
		p.solver = solver
	}
}

// WithMinimizer replaces the minimizer used when the search is optimized.
func WithMinimizer(m Minimizer) Option {
	return func(p *Pipeline) {
		p.minimizer = m
	}
}

// NewPipeline validates cfg and returns a pipeline for it.
func NewPipeline(cfg config.Config, logger logging.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Global()
	}
	p := &Pipeline{
		cfg:            cfg,
		logger:         logger,
		sourceDetector: detectorFor(cfg.Source),
		targetDetector: detectorFor(cfg.Target),
		solver:         &calib.ZhangSolver{Logger: logger.Sublogger("solver")},
		minimizer:      &NelderMeadSearch{MaxEvaluations: cfg.Search.MaxEvaluations},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func detectorFor(cam config.CameraConfig) calib.GridDetector {
	d := calib.NewBlobGridDetector(cam.DarkDots)
	if cam.MinArea > 0 {
		d.MinArea = cam.MinArea
	}
	if cam.MaxArea > 0 {
		d.MaxArea = cam.MaxArea
	}
	if cam.MinDistBetweenBlobs > 0 {
		d.MinDistBetweenBlobs = cam.MinDistBetweenBlobs
	}
	return d
}

// Config returns the settings the pipeline was built with.
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Calibrate returns the cached transfer operator or, when the cache misses,
// calibrates both cameras and stores the result.
func (p *Pipeline) Calibrate(ctx context.Context) (*transform.TransferOperator, error) {
	cache := transform.TransferCache{Path: p.cfg.Calibration.CachePath}
	op, hit, err := cache.GetOrCompute(ctx, p.BuildOperator)
	if err != nil {
		return nil, err
	}
	if hit {
		p.logger.Infow("using cached transfer operator", "path", cache.Path)
	}
	return op, nil
}

// BuildOperator calibrates both cameras from their image sets, ignoring the cache.
func (p *Pipeline) BuildOperator(ctx context.Context) (*transform.TransferOperator, error) {
	source, sourceSet, err := p.calibrateCamera(ctx, "source", p.cfg.Source, p.sourceDetector)
	if err != nil {
		return nil, errors.Wrap(err, "source camera")
	}
	target, targetSet, err := p.calibrateCamera(ctx, "target", p.cfg.Target, p.targetDetector)
	if err != nil {
		return nil, errors.Wrap(err, "target camera")
	}

	idx := p.cfg.Calibration.PoseIndex
	if idx < len(sourceSet.Pairs) && idx < len(targetSet.Pairs) {
		srcName := filepath.Base(sourceSet.Pairs[idx].Source)
		dstName := filepath.Base(targetSet.Pairs[idx].Source)
		if srcName != dstName {
			p.logger.Warnw("calibration views at the pose index come from differently named images",
				"pose_index", idx, "source", srcName, "target", dstName)
		}
	}

	op, err := transform.BuildTransferOperator(source, target, transform.TransferOptions{
		PoseIndex:     idx,
		SourceRescale: rescaleOf(source, p.cfg.Source),
		TargetRescale: rescaleOf(target, p.cfg.Target),
	})
	if err != nil {
		return nil, err
	}
	p.logger.Infow("transfer operator built", "pose_index", idx, "matrix", op.Matrix().RawMatrix().Data)
	return op, nil
}

func rescaleOf(model *transform.CameraModel, cam config.CameraConfig) transform.Rescale {
	if cam.ImageWidth == 0 {
		return transform.NoRescale
	}
	intr := model.Intrinsics()
	return transform.RescaleFor(intr.Width, intr.Height, cam.ImageWidth, cam.ImageHeight)
}

func (p *Pipeline) calibrateCamera(
	ctx context.Context,
	name string,
	cam config.CameraConfig,
	detector calib.GridDetector,
) (*transform.CameraModel, *calib.CorrespondenceSet, error) {
	logger := p.logger.Sublogger(name)
	set := &calib.ImageSet{
		Dir:      cam.ImageDir,
		Pattern:  cam.Pattern,
		Order:    calib.FileOrder(cam.Order),
		Grid:     p.cfg.Grid,
		Detector: detector,
		Annotate: p.cfg.Calibration.Annotate,
		Logger:   logger,
	}
	pairs, err := set.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := (&calib.Calibrator{Solver: p.solver, Logger: logger}).Calibrate(pairs)
	if err != nil {
		return nil, nil, err
	}
	if cam.ModelPath != "" {
		if err := transform.WriteCameraModelFile(cam.ModelPath, model); err != nil {
			return nil, nil, err
		}
	}
	if cam.Undistort {
		written, err := calib.UndistortSet(ctx, cam.ImageDir, pairs.Sources(), model)
		if err != nil {
			return nil, nil, err
		}
		logger.Debugw("undistorted calibration images", "count", len(written))
	}
	return model, pairs, nil
}

// Estimator returns a scale estimator configured for op.
func (p *Pipeline) Estimator(op *transform.TransferOperator) (*ScaleEstimator, error) {
	metric, err := MetricByName(p.cfg.Search.Metric)
	if err != nil {
		return nil, err
	}
	return &ScaleEstimator{
		Operator:  op,
		Metric:    metric,
		Remap:     p.remapOptions(),
		Smoothing: p.cfg.Search.Smoothing,
		Workers:   p.cfg.Workers,
		Minimizer: p.minimizer,
		Logger:    p.logger.Sublogger("estimator"),
	}, nil
}

func (p *Pipeline) remapOptions() transform.RemapOptions {
	return transform.RemapOptions{MinDepth: p.cfg.Search.MinDepth, ClampDepth: p.cfg.Search.ClampDepth}
}

// ViewResult is the estimate for one view. Curve is nil when the grid search
// did not run.
type ViewResult struct {
	Observation ScaleObservation
	Curve       *ScaleCurve
}

// EstimateView finds the best scale of one view: a grid search over the
// configured candidates, optionally refined by the minimizer. A positive
// Initial with Optimize set skips the grid search.
func (p *Pipeline) EstimateView(ctx context.Context, est *ScaleEstimator, view *View) (ViewResult, error) {
	search := p.cfg.Search
	var res ViewResult
	initial := search.Initial
	if !search.Optimize || initial <= 0 {
		candidates, err := Candidates(search.Start, search.Stop, search.Step)
		if err != nil {
			return ViewResult{}, err
		}
		curve, err := est.Search(ctx, view, candidates)
		if err != nil {
			return ViewResult{}, err
		}
		res.Curve = curve
		res.Observation = ScaleObservation{View: view.Name, Scale: curve.BestScale(), Score: curve.BestScore()}
		initial = curve.BestScale()
	}
	if search.Optimize {
		obs, err := est.Optimize(ctx, view, search.LowerBound, initial)
		if err != nil {
			return ViewResult{}, err
		}
		res.Observation = obs
	}
	return res, nil
}

// EstimateScales estimates every view in order. A failing view is logged and
// skipped; the failures are combined into the returned error alongside the
// results of the views that succeeded. Cancellation stops the batch.
func (p *Pipeline) EstimateScales(ctx context.Context, op *transform.TransferOperator, views []*View) ([]ViewResult, error) {
	est, err := p.Estimator(op)
	if err != nil {
		return nil, err
	}
	var (
		results []ViewResult
		errs    error
	)
	for _, view := range views {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		res, err := p.EstimateView(ctx, est, view)
		if err != nil {
			if ctx.Err() != nil {
				return results, multierr.Append(errs, ctx.Err())
			}
			p.logger.Warnw("cannot estimate view scale", "view", view.Name, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "view %q", view.Name))
			continue
		}
		p.logger.Infow("view scale", "view", view.Name, "scale", res.Observation.Scale, "score", res.Observation.Score)
		results = append(results, res)
	}
	return results, errs
}

// Observations extracts the observations of results.
func Observations(results []ViewResult) []ScaleObservation {
	out := make([]ScaleObservation, len(results))
	for i, r := range results {
		out[i] = r.Observation
	}
	return out
}

// Aggregate is the combined estimate over all views.
type Aggregate struct {
	Average float64
	Band    *BandModel
	Summary Summary
	// Scale is the value used for compositing, chosen by the configuration.
	Scale float64
}

// Aggregate combines per view observations into one scale.
func (p *Pipeline) Aggregate(obs []ScaleObservation, onIteration func(BandIteration)) (*Aggregate, error) {
	if len(obs) == 0 {
		return nil, ErrNoObservations
	}
	summary, err := Summarize(obs)
	if err != nil {
		return nil, err
	}
	agg := &Aggregate{Summary: summary}

	avg, avgErr := WeightedAverage(obs)
	if avgErr != nil {
		p.logger.Warnw("weighted average unavailable", "error", avgErr)
	}
	agg.Average = avg

	r := p.cfg.Ransac
	fitter := NewBandRansac(r.Iterations, r.Threshold, r.RatioGoal, r.Picked, r.Seed, p.logger.Sublogger("ransac"))
	fitter.OnIteration = onIteration
	if agg.Band, err = fitter.Fit(obs); err != nil {
		return nil, err
	}

	switch {
	case p.cfg.Composite.Scale > 0:
		agg.Scale = p.cfg.Composite.Scale
	case p.cfg.Composite.Aggregate == "average":
		if avgErr != nil {
			return nil, errors.Wrap(avgErr, "average aggregation selected")
		}
		agg.Scale = agg.Average
	default:
		agg.Scale = agg.Band.Scale
	}
	p.logger.Infow("scales aggregated",
		"views", summary.Count, "average", agg.Average, "ransac", agg.Band.Scale,
		"median", summary.Median, "stddev", summary.StdDev, "chosen", agg.Scale)
	return agg, nil
}

// RegisterViews composites every view that has an output path at scale. A
// failing view is logged and skipped; failures are combined into the error.
func (p *Pipeline) RegisterViews(ctx context.Context, op *transform.TransferOperator, views []*View, scale float64) error {
	comp := &Compositor{Operator: op, Alpha: p.cfg.Composite.Alpha, Remap: p.remapOptions()}
	var errs error
	for _, view := range views {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if view.OutputPath == "" {
			continue
		}
		if err := p.registerView(ctx, comp, view, scale); err != nil {
			p.logger.Warnw("cannot register view", "view", view.Name, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "view %q", view.Name))
			continue
		}
		p.logger.Infow("view registered", "view", view.Name, "output", view.OutputPath)
	}
	return errs
}

func (p *Pipeline) registerView(ctx context.Context, comp *Compositor, view *View, scale float64) error {
	depth := view.CompositeDepth
	if depth == nil {
		if view.SourceDepth == nil {
			return errors.New("view has no depth")
		}
		depth = rimage.DepthMapFromFloatImage(view.SourceDepth)
	}
	out, err := comp.Composite(ctx, view.SourceImage, view.TargetImage, depth, scale)
	if err != nil {
		return err
	}
	return rimage.WriteImageToFile(view.OutputPath, out)
}
