package predictor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

func mustStatus(agg *status.Aggregator) status.Status {
	s, _ := agg.Current()
	return s
}

// runCapture drives a full shot-mark-to-full-fragment cycle through
// agg/p, feeding freqAt(i) as the i-th post-burn sample.
func runCapture(p *Predictor, agg *status.Aggregator, channel int, n int, freqAt func(i int) float64) {
	agg.OnChannelSelect(channel)
	p.Ingest(mustStatus(agg))

	agg.OnBurn()
	p.Ingest(mustStatus(agg))

	for i := 0; i < n; i++ {
		agg.OnFixtureReading(hardware.Reading{Frequency: freqAt(i)})
		p.Ingest(mustStatus(agg))
	}
}

func Test_Ingest_ChannelChangeWithoutShot_DiscardsCapture(t *testing.T) {
	agg := status.New(time.Now())
	p := New(10, ForecastConfig{})

	agg.OnChannelSelect(1)
	p.Ingest(mustStatus(agg))
	agg.OnBurn()
	p.Ingest(mustStatus(agg))
	agg.OnFixtureReading(hardware.Reading{Frequency: 1})
	p.Ingest(mustStatus(agg))

	agg.OnChannelSelect(2)
	p.Ingest(mustStatus(agg))

	assert.Empty(t, p.GetFragments(1, 0))
}

func Test_Ingest_FullCapture_BuildsFragment(t *testing.T) {
	agg := status.New(time.Now())
	p := New(30, ForecastConfig{})

	model := func(i int) float64 {
		x := float64(i)
		return 1.0 + 1.5*(1-math.Exp(-0.05*x))
	}
	runCapture(p, agg, 2, 30, model)

	frags := p.GetFragments(2, 0)
	require.Len(t, frags, 1)
	assert.GreaterOrEqual(t, frags[0].A, 0.0)
	assert.GreaterOrEqual(t, frags[0].B, 0.0)
	assert.Len(t, frags[0].Raw, 30)
}

func Test_Ingest_ShotMark_FinalizesShortPendingCapture(t *testing.T) {
	agg := status.New(time.Now())
	p := New(100, ForecastConfig{})

	model := func(i int) float64 {
		x := float64(i)
		return 1.0 + 1.5*(1-math.Exp(-0.05*x))
	}
	// First capture never reaches fragmentLen (100); a second shot
	// mark should finalize it early with whatever it has: the sample
	// taken at the shot mark plus the 30 that followed it.
	runCapture(p, agg, 3, 30, model)
	agg.OnBurn()
	p.Ingest(mustStatus(agg))

	frags := p.GetFragments(3, 0)
	require.Len(t, frags, 1)
	assert.Len(t, frags[0].Raw, 31)
}

func Test_GetPrediction_IsStaticOffsetFromFStart(t *testing.T) {
	p := New(10, ForecastConfig{MinGrow: 1, MaxGrow: 3, MedianGrow: 2})

	pred := p.GetPrediction(7, 100)
	assert.Equal(t, Prediction{Minimal: 101, Maximal: 103, Median: 102}, pred)
}

func Test_Reset_ClearsFragmentsAndCapture(t *testing.T) {
	p := New(10, ForecastConfig{})
	p.fragments[1] = []Fragment{{Raw: []DataPoint{{X: 0, Y: 0}}}}
	p.armed = &capture{channel: 1}

	p.Reset()

	assert.Empty(t, p.GetFragments(1, 0))
	assert.Nil(t, p.armed)
}

func Test_Fragment_Target_IsMinPlusA(t *testing.T) {
	f := Fragment{
		Raw:      []DataPoint{{X: 0, Y: 10}, {X: 1, Y: 5}, {X: 2, Y: 6}},
		MinIndex: 1,
		A:        2,
	}
	require.Equal(t, 7.0, f.Target())
}

// Test_Fragment_Evaluate_MatchesRawPrefixAndMinimum checks the three
// invariants the predictor's fragment model is expected to hold for
// any raw series and any fitted coefficients: the evaluated curve has
// the same length as the raw points, the prefix before MinIndex is
// untouched, and the suffix starts exactly at the raw minimum.
func Test_Fragment_Evaluate_MatchesRawPrefixAndMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		minIndex := rapid.IntRange(0, n-1).Draw(t, "minIndex")
		a := rapid.Float64Range(0, 4).Draw(t, "a")
		b := rapid.Float64Range(0, 2).Draw(t, "b")

		raw := make([]DataPoint, n)
		for i := 0; i < n; i++ {
			raw[i] = DataPoint{
				X: float64(i),
				Y: rapid.Float64Range(-10, 10).Draw(t, "y"),
			}
		}

		f := Fragment{Raw: raw, MinIndex: minIndex, A: a, B: b}
		out := f.Evaluate()

		require.Len(t, out, len(raw))
		for i := 0; i < minIndex; i++ {
			assert.Equal(t, raw[i].Y, out[i])
		}
		assert.Equal(t, raw[minIndex].Y, out[minIndex])
	})
}

func Test_GetFragments_FiltersByStartTimestamp(t *testing.T) {
	p := New(10, ForecastConfig{})
	p.fragments[1] = []Fragment{
		{StartTimestamp: 100},
		{StartTimestamp: 200},
		{StartTimestamp: 300},
	}

	out := p.GetFragments(1, 200)
	require.Len(t, out, 2)
	assert.Equal(t, int64(200), out[0].StartTimestamp)
	assert.Equal(t, int64(300), out[1].StartTimestamp)
}
