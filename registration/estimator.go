package registration

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
)

// WorstScore is the score of a candidate scale that leaves no overlap between the
// two modalities.
const WorstScore = 0.0

// View is one scene viewpoint: the reconstructed source depth at source image
// resolution and the target modality signal at target image resolution.
type View struct {
	Name string
	// SourceDepth holds depth in reconstruction units, one sample per source pixel.
	SourceDepth *rimage.FloatImage
	// TargetSignal is compared against the source depth once resampled into the
	// source frame, typically the target camera's own depth estimate.
	TargetSignal *rimage.FloatImage
	SourceImage  image.Image
	TargetImage  image.Image
	// CompositeDepth is the depth used when compositing; SourceDepth if nil.
	CompositeDepth *rimage.DepthMap
	OutputPath     string
}

// Validate checks that the view carries what scoring needs.
func (v *View) Validate() error {
	if v == nil || v.SourceDepth == nil || v.TargetSignal == nil {
		return errors.New("view needs a source depth and a target signal")
	}
	if v.SourceDepth.Width() == 0 || v.SourceDepth.Height() == 0 ||
		v.TargetSignal.Width() == 0 || v.TargetSignal.Height() == 0 {
		return errors.Errorf("view %q has an empty image", v.Name)
	}
	return nil
}

// ScaleEstimator scores candidate depth scales for a view.
type ScaleEstimator struct {
	Operator *transform.TransferOperator
	Metric   SimilarityMetric
	Remap    transform.RemapOptions
	// Smoothing is the gaussian sigma, in candidates, applied to a search curve
	// before its maximum is picked. Zero disables smoothing.
	Smoothing float64
	// Workers bounds concurrent candidate evaluations; zero means unbounded.
	Workers   int
	Minimizer Minimizer
	Logger    logging.Logger
}

// Score maps the view's source depth, multiplied by scale, into the target frame,
// crops both signals to the bounding rectangle of the pixels that land in the
// target image, zeroes non-finite samples, normalizes the crops to [0, 255] and returns the metric weighted
// by the fraction of the source image the rectangle covers.
func (e *ScaleEstimator) Score(ctx context.Context, view *View, scale float64) (float64, error) {
	if err := view.Validate(); err != nil {
		return WorstScore, err
	}
	table, err := transform.BuildRemap(ctx, e.Operator, view.SourceDepth, scale,
		view.TargetSignal.Width(), view.TargetSignal.Height(), e.Remap)
	if err != nil {
		return WorstScore, err
	}
	rect := table.ValidBounds()
	if rect.Empty() {
		return WorstScore, nil
	}
	mapped := table.Sample(view.TargetSignal).Crop(rect).ZeroNonFinite().NormalizeMinMax(0, 255)
	depth := view.SourceDepth.Crop(rect).ZeroNonFinite().NormalizeMinMax(0, 255)

	raw := e.metric().Similarity(depth, mapped)
	if math.IsNaN(raw) || raw < 0 {
		raw = WorstScore
	}
	overlap := float64(rect.Dx()*rect.Dy()) / float64(table.Width*table.Height)
	return raw * overlap, nil
}

func (e *ScaleEstimator) metric() SimilarityMetric {
	if e.Metric == nil {
		return MutualInformation{Bins: 256}
	}
	return e.Metric
}

// ScaleCurve is the outcome of scoring a set of candidates.
type ScaleCurve struct {
	Scales   []float64
	Raw      []float64
	Smoothed []float64
	Best     int
}

// BestScale is the candidate with the highest smoothed score.
func (c *ScaleCurve) BestScale() float64 {
	return c.Scales[c.Best]
}

// BestScore is the smoothed score at BestScale.
func (c *ScaleCurve) BestScore() float64 {
	return c.Smoothed[c.Best]
}

// Search scores every candidate concurrently and picks the maximum of the
// smoothed curve; the first candidate wins ties.
func (e *ScaleEstimator) Search(ctx context.Context, view *View, candidates []float64) (*ScaleCurve, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate scales")
	}
	if err := view.Validate(); err != nil {
		return nil, err
	}
	raw := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for i, s := range candidates {
		g.Go(func() error {
			score, err := e.Score(gctx, view, s)
			if err != nil {
				return errors.Wrapf(err, "scale %v", s)
			}
			raw[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	curve := &ScaleCurve{
		Scales:   append([]float64(nil), candidates...),
		Raw:      raw,
		Smoothed: rimage.SmoothSeries(raw, e.Smoothing),
	}
	for i, v := range curve.Smoothed {
		if v > curve.Smoothed[curve.Best] {
			curve.Best = i
		}
	}
	e.logger().Debugw("scale search done", "view", view.Name,
		"candidates", len(candidates), "best_scale", curve.BestScale(), "best_score", curve.BestScore())
	return curve, nil
}

// Optimize searches for the best scale at or above lower with the configured
// Minimizer, starting from initial.
func (e *ScaleEstimator) Optimize(ctx context.Context, view *View, lower, initial float64) (ScaleObservation, error) {
	if err := view.Validate(); err != nil {
		return ScaleObservation{}, err
	}
	minimizer := e.Minimizer
	if minimizer == nil {
		minimizer = &NelderMeadSearch{}
	}
	var scoreErr error
	objective := func(s float64) float64 {
		score, err := e.Score(ctx, view, s)
		if err != nil {
			scoreErr = err
			return math.Inf(1)
		}
		return -score
	}
	scale, value, err := minimizer.Minimize(ctx, objective, lower, initial)
	if scoreErr != nil {
		return ScaleObservation{}, scoreErr
	}
	if err != nil {
		return ScaleObservation{}, err
	}
	e.logger().Debugw("scale optimization done", "view", view.Name, "scale", scale, "score", -value)
	return ScaleObservation{View: view.Name, Scale: scale, Score: -value}, nil
}

func (e *ScaleEstimator) logger() logging.Logger {
	if e.Logger == nil {
		return logging.Global()
	}
	return e.Logger
}

// Candidates returns start, start+step, ... up to but excluding stop.
func Candidates(start, stop, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, errors.Errorf("candidate step must be positive, got %v", step)
	}
	if stop <= start {
		return nil, errors.Errorf("empty candidate range [%v, %v)", start, stop)
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		s := start + float64(i)*step
		if s >= stop {
			break
		}
		out = append(out, s)
	}
	return out, nil
}
