package registration

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
)

// Minimizer finds a minimum of a scalar function over [lower, +inf).
type Minimizer interface {
	Minimize(ctx context.Context, f func(x float64) float64, lower, initial float64) (x, fx float64, err error)
}

// NelderMeadSearch minimizes a bounded 1-D function with a Nelder-Mead simplex
// over the unconstrained parameter p, where x = lower + p².
type NelderMeadSearch struct {
	// MaxEvaluations bounds the number of function evaluations; zero means 60.
	MaxEvaluations int
}

// Minimize implements Minimizer.
func (n *NelderMeadSearch) Minimize(
	ctx context.Context,
	f func(x float64) float64,
	lower, initial float64,
) (float64, float64, error) {
	toX := func(p float64) float64 { return lower + p*p }
	p0 := 1.0
	if initial > lower {
		p0 = math.Sqrt(initial - lower)
	}

	evaluations := n.MaxEvaluations
	if evaluations <= 0 {
		evaluations = 60
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			return f(toX(p[0]))
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: evaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 10,
		},
	}
	method := &optimize.NelderMead{SimplexSize: math.Max(0.5, 0.2*p0)}
	result, err := optimize.Minimize(problem, []float64{p0}, settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, 0, ctxErr
	}
	if result == nil {
		return 0, 0, errors.Wrap(err, "scale optimization failed")
	}
	// running out of evaluations still leaves a usable best point
	if err != nil && result.Status != optimize.FunctionEvaluationLimit {
		return 0, 0, errors.Wrap(err, "scale optimization failed")
	}
	return toX(result.X[0]), result.F, nil
}
