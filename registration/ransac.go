package registration

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"go.viam.com/thermalign/logging"
)

// BandIteration describes one RANSAC hypothesis.
type BandIteration struct {
	Iteration int
	Centre    float64
	Ratio     float64
	Distance  float64
	Picked    []ScaleObservation
	Inliers   []ScaleObservation
}

// BandModel is the best vertical band found: every inlier lies within the
// threshold of Scale.
type BandModel struct {
	Scale         float64
	InlierRatio   float64
	TotalDistance float64
	Inliers       []ScaleObservation
	// MetGoal reports whether InlierRatio reached the configured goal. It does not
	// affect the fit.
	MetGoal    bool
	Iterations int
}

// BandRansac fits a single consensus scale to noisy observations. Every iteration
// draws Picked observations, takes their score-weighted mean scale as the band
// centre and counts the remaining observations closer than Threshold to it. The
// hypothesis with the highest inlier ratio wins; ties go to the lower total
// inlier distance. All iterations always run.
type BandRansac struct {
	Iterations int
	Threshold  float64
	RatioGoal  float64
	Picked     int
	Rand       *rand.Rand
	// OnIteration, when set, is called after every hypothesis.
	OnIteration func(BandIteration)
	Logger      logging.Logger
}

// NewBandRansac returns a fitter with the given budget and a seeded source.
func NewBandRansac(iterations int, threshold, ratioGoal float64, picked int, seed int64, logger logging.Logger) *BandRansac {
	return &BandRansac{
		Iterations: iterations,
		Threshold:  threshold,
		RatioGoal:  ratioGoal,
		Picked:     picked,
		Rand:       rand.New(rand.NewSource(seed)), //nolint:gosec
		Logger:     logger,
	}
}

// Fit runs the full iteration budget over obs.
func (b *BandRansac) Fit(obs []ScaleObservation) (*BandModel, error) {
	if len(obs) == 0 {
		return nil, ErrNoObservations
	}
	if b.Iterations <= 0 {
		return nil, errors.Errorf("ransac needs a positive iteration count, got %d", b.Iterations)
	}
	if b.Threshold <= 0 {
		return nil, errors.Errorf("ransac needs a positive threshold, got %v", b.Threshold)
	}
	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1)) //nolint:gosec
	}
	picked := max(1, min(b.Picked, len(obs)))
	total := float64(len(obs))

	var best *BandIteration
	for it := 0; it < b.Iterations; it++ {
		order := rng.Perm(len(obs))
		hyp := BandIteration{Iteration: it, Picked: make([]ScaleObservation, 0, picked)}
		for _, k := range order[:picked] {
			hyp.Picked = append(hyp.Picked, obs[k])
		}
		hyp.Centre = bandCentre(hyp.Picked)
		for _, k := range order[picked:] {
			if dist := math.Abs(obs[k].Scale - hyp.Centre); dist < b.Threshold {
				hyp.Inliers = append(hyp.Inliers, obs[k])
				hyp.Distance += dist
			}
		}
		hyp.Ratio = float64(len(hyp.Inliers)) / total

		if best == nil || hyp.Ratio > best.Ratio || (hyp.Ratio == best.Ratio && hyp.Distance < best.Distance) {
			h := hyp
			best = &h
		}
		if b.Logger != nil {
			b.Logger.Debugw("ransac iteration", "iteration", it, "centre", hyp.Centre,
				"inlier_ratio", hyp.Ratio, "distance", hyp.Distance)
		}
		if b.OnIteration != nil {
			b.OnIteration(hyp)
		}
	}

	model := &BandModel{
		Scale:         best.Centre,
		InlierRatio:   best.Ratio,
		TotalDistance: best.Distance,
		Inliers:       best.Inliers,
		MetGoal:       best.Ratio >= b.RatioGoal,
		Iterations:    b.Iterations,
	}
	if b.Logger != nil {
		b.Logger.Infow("ransac done", "scale", model.Scale, "inlier_ratio", model.InlierRatio, "met_goal", model.MetGoal)
	}
	return model, nil
}

// bandCentre is the score-weighted mean scale, or the plain mean when every
// score is zero.
func bandCentre(obs []ScaleObservation) float64 {
	var sumScore, weighted, plain float64
	for _, o := range obs {
		sumScore += o.Score
		weighted += o.Score * o.Scale
		plain += o.Scale
	}
	if sumScore == 0 {
		return plain / float64(len(obs))
	}
	return weighted / sumScore
}
