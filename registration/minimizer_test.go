package registration

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNelderMeadSearchInterior(t *testing.T) {
	n := &NelderMeadSearch{MaxEvaluations: 200}
	calls := 0
	x, fx, err := n.Minimize(context.Background(), func(x float64) float64 {
		calls++
		return (x - 7) * (x - 7)
	}, 1, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x, test.ShouldAlmostEqual, 7, 1e-2)
	test.That(t, fx, test.ShouldBeLessThan, 1e-3)
	test.That(t, calls, test.ShouldBeLessThanOrEqualTo, 201)
}

func TestNelderMeadSearchRespectsLowerBound(t *testing.T) {
	n := &NelderMeadSearch{MaxEvaluations: 200}
	x, _, err := n.Minimize(context.Background(), func(x float64) float64 {
		test.That(t, x, test.ShouldBeGreaterThanOrEqualTo, 1.0)
		return (x + 5) * (x + 5)
	}, 1, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x, test.ShouldAlmostEqual, 1, 1e-2)
}

func TestNelderMeadSearchBudget(t *testing.T) {
	n := &NelderMeadSearch{MaxEvaluations: 5}
	calls := 0
	x, _, err := n.Minimize(context.Background(), func(x float64) float64 {
		calls++
		return math.Abs(x - 100)
	}, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x, test.ShouldBeGreaterThanOrEqualTo, 0.0)
	test.That(t, calls, test.ShouldBeLessThanOrEqualTo, 8)
}

func TestNelderMeadSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := (&NelderMeadSearch{}).Minimize(ctx, func(x float64) float64 { return x }, 0, 1)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
