package registration

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestWeightedAverage(t *testing.T) {
	avg, err := WeightedAverage([]ScaleObservation{
		{View: "a", Scale: 10, Score: 1},
		{View: "b", Scale: 20, Score: 3},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, avg, test.ShouldAlmostEqual, 17.5, 1e-12)

	_, err = WeightedAverage([]ScaleObservation{{Scale: 10}, {Scale: 20}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = WeightedAverage(nil)
	test.That(t, errors.Is(err, ErrNoObservations), test.ShouldBeTrue)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]ScaleObservation{{Scale: 1}, {Scale: 4}, {Scale: 2}, {Scale: 3}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Count, test.ShouldEqual, 4)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 2.5, 1e-12)
	test.That(t, s.Median, test.ShouldAlmostEqual, 2.5, 1e-12)
	test.That(t, s.StdDev, test.ShouldAlmostEqual, math.Sqrt(1.25), 1e-12)
	test.That(t, s.Min, test.ShouldEqual, 1.0)
	test.That(t, s.Max, test.ShouldEqual, 4.0)

	_, err = Summarize(nil)
	test.That(t, errors.Is(err, ErrNoObservations), test.ShouldBeTrue)
}
