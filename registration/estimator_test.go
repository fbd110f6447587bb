package registration

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
)

const (
	testWidth    = 40
	testHeight   = 20
	testBaseline = 100.0
)

// shiftOperator moves every pixel right by baseline / depth.
func shiftOperator(t *testing.T, baseline float64) *transform.TransferOperator {
	t.Helper()
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	m.Set(0, 3, baseline)
	op, err := transform.NewTransferOperator(m)
	test.That(t, err, test.ShouldBeNil)
	return op
}

// rowView has depth 1+v on row v and a target signal that only varies by row,
// so the mapped signal matches the depth whenever the whole image overlaps.
func rowView() *View {
	depth := rimage.NewFloatImage(testWidth, testHeight)
	signal := rimage.NewFloatImage(testWidth, testHeight)
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			depth.Set(x, y, float64(1+y))
			signal.Set(x, y, float64(3*y))
		}
	}
	return &View{Name: "rows", SourceDepth: depth, TargetSignal: signal}
}

func newTestEstimator(t *testing.T) *ScaleEstimator {
	return &ScaleEstimator{
		Operator: shiftOperator(t, testBaseline),
		Metric:   MutualInformation{Bins: 256},
		Remap:    transform.RemapOptions{MinDepth: 1},
		Workers:  4,
		Logger:   logging.NewTestLogger(t),
	}
}

func TestScoreFullOverlap(t *testing.T) {
	est := newTestEstimator(t)
	score, err := est.Score(context.Background(), rowView(), 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, score, test.ShouldAlmostEqual, math.Log(testHeight), 1e-9)
}

func TestScoreOverlapWeighting(t *testing.T) {
	est := newTestEstimator(t)
	view := rowView()

	full, err := est.Score(context.Background(), view, 1000)
	test.That(t, err, test.ShouldBeNil)
	partial, err := est.Score(context.Background(), view, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, partial, test.ShouldBeGreaterThan, 0)
	test.That(t, partial, test.ShouldBeLessThan, full)

	none, err := est.Score(context.Background(), view, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, none, test.ShouldEqual, WorstScore)
}

func TestScoreDepthGuard(t *testing.T) {
	est := newTestEstimator(t)
	view := rowView()
	// everything below the minimum depth is masked out
	est.Remap = transform.RemapOptions{MinDepth: 1e9}
	score, err := est.Score(context.Background(), view, 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, score, test.ShouldEqual, WorstScore)

	est.Remap = transform.RemapOptions{MinDepth: 0, ClampDepth: true}
	_, err = est.Score(context.Background(), view, 1000)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestScoreNonFiniteDepth(t *testing.T) {
	est := newTestEstimator(t)
	view := rowView()
	// row 0 maps onto the zero level of the target, so zeroed samples there keep
	// the depth levels a function of the target levels
	view.SourceDepth.Set(5, 0, math.Inf(1))
	view.SourceDepth.Set(7, 0, math.NaN())

	score, err := est.Score(context.Background(), view, 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, score, test.ShouldAlmostEqual, math.Log(testHeight), 1e-9)
}

func TestScoreInvalidView(t *testing.T) {
	est := newTestEstimator(t)
	_, err := est.Score(context.Background(), &View{Name: "empty"}, 1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = est.Score(context.Background(), nil, 1)
	test.That(t, err, test.ShouldNotBeNil)

	view := rowView()
	view.TargetSignal = rimage.NewFloatImage(0, 0)
	test.That(t, view.Validate(), test.ShouldNotBeNil)
}

func TestSearch(t *testing.T) {
	est := newTestEstimator(t)
	curve, err := est.Search(context.Background(), rowView(), []float64{0.01, 1, 1000})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, curve.Raw[0], test.ShouldEqual, WorstScore)
	test.That(t, curve.Raw[1], test.ShouldBeLessThan, curve.Raw[2])
	test.That(t, curve.Best, test.ShouldEqual, 2)
	test.That(t, curve.BestScale(), test.ShouldEqual, 1000.0)
	test.That(t, curve.BestScore(), test.ShouldAlmostEqual, math.Log(testHeight), 1e-9)
	test.That(t, curve.Smoothed, test.ShouldResemble, curve.Raw)

	est.Smoothing = 1
	smoothed, err := est.Search(context.Background(), rowView(), []float64{0.01, 1, 1000})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smoothed.Raw, test.ShouldResemble, curve.Raw)
	test.That(t, smoothed.Smoothed, test.ShouldNotResemble, smoothed.Raw)

	// equal scores keep the first candidate
	est.Smoothing = 0
	tied, err := est.Search(context.Background(), rowView(), []float64{1000, 1000})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tied.Best, test.ShouldEqual, 0)

	_, err = est.Search(context.Background(), rowView(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSearchCancelled(t *testing.T) {
	est := newTestEstimator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := est.Search(ctx, rowView(), []float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
}

type gridMinimizer struct {
	points []float64
}

func (g *gridMinimizer) Minimize(_ context.Context, f func(float64) float64, lower, _ float64) (float64, float64, error) {
	bestX, bestF := lower, f(lower)
	for _, x := range g.points {
		if v := f(x); v < bestF {
			bestX, bestF = x, v
		}
	}
	return bestX, bestF, nil
}

func TestOptimize(t *testing.T) {
	est := newTestEstimator(t)
	est.Minimizer = &gridMinimizer{points: []float64{2, 1000}}
	obs, err := est.Optimize(context.Background(), rowView(), 0.01, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obs.View, test.ShouldEqual, "rows")
	test.That(t, obs.Scale, test.ShouldEqual, 1000.0)
	test.That(t, obs.Score, test.ShouldAlmostEqual, math.Log(testHeight), 1e-9)

	_, err = est.Optimize(context.Background(), &View{}, 1, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCandidates(t *testing.T) {
	c, err := Candidates(10, 300, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(c), test.ShouldEqual, 58)
	test.That(t, c[0], test.ShouldEqual, 10.0)
	test.That(t, c[57], test.ShouldEqual, 295.0)

	c, err = Candidates(0, 1, 0.3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(c), test.ShouldEqual, 4)

	_, err = Candidates(10, 300, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Candidates(300, 10, 5)
	test.That(t, err, test.ShouldNotBeNil)
}
