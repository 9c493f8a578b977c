// Package boxplot computes robust order-statistics summaries (median,
// quartiles, interquartile range, Tukey fences) over a sample of
// float64 values.
package boxplot

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// BoxPlot is an immutable summary of one numeric sample.
type BoxPlot struct {
	median      float64
	q1          float64
	q3          float64
	iqr         float64
	lowerBound  float64
	upperBound  float64
}

// New computes a BoxPlot over series. NaN values are filtered out
// before sorting. An empty (or all-NaN) series yields a BoxPlot whose
// every field is NaN.
//
// The fences use a factor of 2, not the classical Tukey factor of
// 1.5 — this system runs its channels hotter than a textbook box
// plot expects, and the wider fences avoid rejecting points during
// the resonator's normal cooling wobble.
func New(series []float64) BoxPlot {
	sorted := make([]float64, 0, len(series))
	for _, v := range series {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}

	if len(sorted) == 0 {
		return BoxPlot{
			median:     math.NaN(),
			q1:         math.NaN(),
			q3:         math.NaN(),
			iqr:        math.NaN(),
			lowerBound: math.NaN(),
			upperBound: math.NaN(),
		}
	}

	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	median := stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	iqr := q3 - q1

	const fenceFactor = 2.0

	return BoxPlot{
		median:     median,
		q1:         q1,
		q3:         q3,
		iqr:        iqr,
		lowerBound: q1 - fenceFactor*iqr,
		upperBound: q3 + fenceFactor*iqr,
	}
}

func (b BoxPlot) Median() float64     { return b.median }
func (b BoxPlot) Q1() float64         { return b.q1 }
func (b BoxPlot) Q3() float64         { return b.q3 }
func (b BoxPlot) IQR() float64        { return b.iqr }
func (b BoxPlot) LowerBound() float64 { return b.lowerBound }
func (b BoxPlot) UpperBound() float64 { return b.upperBound }

// InBounds reports whether v falls within [LowerBound, UpperBound].
func (b BoxPlot) InBounds(v float64) bool {
	return v >= b.lowerBound && v <= b.upperBound
}
