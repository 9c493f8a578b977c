// Package fit turns a noisy per-step frequency-deviation series into a
// smooth curve and a two-parameter exponential model of it, the same
// analysis the precision-stepping controller uses to decide how far a
// burn moved a resonator and where its saturation point lies.
package fit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
)

// Smoothness is the fixed smoothing-spline weight used throughout the
// predictor: close to 1 tracks the raw data closely, close to 0 flattens
// towards a straight-line fit.
const Smoothness = 0.85

// SmoothingSpline fits a cubic smoothing spline through (x, y) and
// returns its value at every x[i]. x must be strictly increasing and
// len(x) == len(y) >= 3; shorter series are returned unchanged since no
// useful spline exists for them.
//
// The fit follows the classic Reinsch formulation (Green & Silverman,
// Nonparametric Regression and Generalized Linear Models): the interior
// second-derivative coefficients gamma solve
//
//	(R + lambda * Q^T Q) gamma = Q^T y
//
// and the fitted values are y - lambda * Q * gamma. p maps to lambda as
// lambda = (1-p)/p, so p -> 1 approaches interpolation and p -> 0
// approaches the ordinary-least-squares line.
func SmoothingSpline(x, y []float64, p float64) ([]float64, error) {
	n := len(x)
	if n != len(y) {
		return nil, fmt.Errorf("fit: x and y length mismatch (%d vs %d)", n, len(y))
	}
	if n < 3 {
		out := make([]float64, n)
		copy(out, y)
		return out, nil
	}
	if p <= 0 {
		return ordinaryLeastSquaresLine(x, y), nil
	}

	m := n - 2
	h := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		h[i] = x[i+1] - x[i]
		if h[i] <= 0 {
			return nil, fmt.Errorf("fit: x must be strictly increasing at index %d", i)
		}
	}

	r := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		r.Set(i, i, (h[i]+h[i+1])/3)
		if i+1 < m {
			r.Set(i, i+1, h[i+1]/6)
			r.Set(i+1, i, h[i+1]/6)
		}
	}

	q := mat.NewDense(n, m, nil)
	for i := 0; i < m; i++ {
		q.Set(i, i, 1/h[i])
		q.Set(i+1, i, -1/h[i]-1/h[i+1])
		q.Set(i+2, i, 1/h[i+1])
	}

	var qt mat.Dense
	qt.CloneFrom(q.T())

	var qtq mat.Dense
	qtq.Mul(&qt, q)

	lambda := (1 - p) / p

	a := mat.NewDense(m, m, nil)
	a.Scale(lambda, &qtq)
	a.Add(a, r)

	yVec := mat.NewVecDense(n, y)
	var qty mat.VecDense
	qty.MulVec(&qt, yVec)

	var gamma mat.VecDense
	if err := gamma.SolveVec(a, &qty); err != nil {
		return nil, fmt.Errorf("fit: spline solve: %w", err)
	}

	var qGamma mat.VecDense
	qGamma.MulVec(q, &gamma)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = y[i] - lambda*qGamma.AtVec(i)
	}
	return out, nil
}

func ordinaryLeastSquaresLine(x, y []float64) []float64 {
	n := float64(len(x))
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	denom := n*sxx - sx*sx
	out := make([]float64, len(x))
	if denom == 0 {
		mean := sy / n
		for i := range out {
			out[i] = mean
		}
		return out
	}
	slope := (n*sxy - sx*sy) / denom
	intercept := (sy - slope*sx) / n
	for i := range x {
		out[i] = intercept + slope*x[i]
	}
	return out
}

// HardFilter clamps outliers of series against its own box-plot fences,
// replacing each out-of-bounds sample with the last known in-bounds
// value (forward fill). A leading run of out-of-bounds samples has no
// in-bounds predecessor and is left as-is. series is modified and
// returned for convenience.
func HardFilter(series []float64) []float64 {
	return forwardFillOutliers(series, boxplot.New(series))
}

// SmoothFilter fits a smoothing spline through series, box-plots the
// residuals, and forward-fills any sample whose residual is itself an
// outlier. This catches points that sit inside the raw-value fences but
// still depart sharply from the series' own trend.
func SmoothFilter(x, series []float64) ([]float64, error) {
	smoothed, err := SmoothingSpline(x, series, Smoothness)
	if err != nil {
		return nil, err
	}

	residuals := make([]float64, len(series))
	for i := range series {
		residuals[i] = series[i] - smoothed[i]
	}

	out := make([]float64, len(series))
	copy(out, series)
	bp := boxplot.New(residuals)
	last := 0.0
	haveLast := false
	for i := range out {
		if bp.InBounds(residuals[i]) {
			last = out[i]
			haveLast = true
			continue
		}
		if haveLast {
			out[i] = last
		}
	}
	return out, nil
}

// forwardFillOutliers replaces each out-of-bounds sample with the most
// recent in-bounds predecessor. Leading out-of-bounds samples, which
// have no predecessor yet, are left as-is — matching hard_filter in
// the original (prev_y starts None and is never written into while
// still None).
func forwardFillOutliers(series []float64, bp boxplot.BoxPlot) []float64 {
	last := 0.0
	haveLast := false
	for i, v := range series {
		if bp.InBounds(v) {
			last = v
			haveLast = true
			continue
		}
		if haveLast {
			series[i] = last
		}
	}
	return series
}

// FindMin returns the index and value of the smallest element of
// series. It panics on an empty slice, mirroring the precondition that
// every predictor fragment has at least one point before this is
// called.
func FindMin(series []float64) (index int, value float64) {
	if len(series) == 0 {
		panic("fit: FindMin on empty series")
	}
	index, value = 0, series[0]
	for i, v := range series {
		if v < value {
			index, value = i, v
		}
	}
	return index, value
}
