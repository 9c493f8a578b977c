package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// NormalizeT is the x-axis scale the exponential fit operates in: raw
// step indices are divided by this before fitting so that b stays in a
// numerically comfortable range regardless of how many steps a burn
// fragment spans.
const NormalizeT = 1000

// initialB is the starting guess for the decay-rate parameter. The
// curve a*(1-e^(-b*x)) is nearly flat there, so the optimizer has to
// discover curvature from the data rather than from the seed.
const initialB = 1e-5

// Exponential is a fitted model y = A*(1 - exp(-B*x)).
type Exponential struct {
	A, B float64
}

// Eval evaluates the model at x.
func (e Exponential) Eval(x float64) float64 {
	return e.A * (1 - math.Exp(-e.B*x))
}

// Plausible reports whether the fit satisfies the acceptance bounds
// the predictor trusts a model under: a saturation value between 0 and
// 5 Hz and a non-negative decay rate.
func (e Exponential) Plausible() bool {
	return e.A >= 0 && e.A <= 5 && e.B >= 0
}

// FitExponential fits y = A*(1 - exp(-B*x)) to (x, y) by nonlinear
// least squares, x pre-scaled by NormalizeT. It returns an error if the
// optimizer fails to converge or the fitted parameters fall outside the
// plausible range (a saturation model can always be found by pure
// curve-fitting arithmetic; a physically sane one cannot).
func FitExponential(x, y []float64) (Exponential, error) {
	if len(x) != len(y) {
		return Exponential{}, fmt.Errorf("fit: x and y length mismatch (%d vs %d)", len(x), len(y))
	}
	if len(x) < 2 {
		return Exponential{}, fmt.Errorf("fit: need at least 2 points, got %d", len(x))
	}

	xs := make([]float64, len(x))
	for i, v := range x {
		xs[i] = v / NormalizeT
	}

	a0 := y[len(y)-1]
	if a0 <= 0 {
		a0 = maxOf(y)
	}
	if a0 <= 0 {
		a0 = 1e-3
	}

	residual := func(p []float64) float64 {
		a, b := p[0], p[1]
		var sum float64
		for i := range xs {
			d := y[i] - (a * (1 - math.Exp(-b*xs[i])))
			sum += d * d
		}
		return sum
	}

	problem := optimize.Problem{Func: residual}

	result, err := optimize.Minimize(problem, []float64{a0, initialB}, nil, &optimize.NelderMead{})
	if err != nil {
		return Exponential{}, fmt.Errorf("fit: exponential fit did not converge: %w", err)
	}
	switch result.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold, optimize.StepConvergence:
	default:
		return Exponential{}, fmt.Errorf("fit: exponential fit did not converge, status %v", result.Status)
	}

	fitted := Exponential{A: result.X[0], B: result.X[1]}
	if !fitted.Plausible() {
		return Exponential{}, fmt.Errorf("fit: implausible exponential fit a=%g b=%g", fitted.A, fitted.B)
	}
	return fitted, nil
}

func maxOf(series []float64) float64 {
	m := math.Inf(-1)
	for _, v := range series {
		if v > m {
			m = v
		}
	}
	return m
}
