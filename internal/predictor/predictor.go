// Package predictor keeps a per-channel history of fitted cooling
// curves ("fragments") and answers how much further a channel's
// frequency is expected to drift once a burn's heat dissipates.
package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/resonatorlab/laser-precision-adjust/internal/fit"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

// DataPoint is one (sample index, frequency) sample within a fragment.
type DataPoint struct {
	X float64
	Y float64
}

// Fragment is one completed capture window: the raw samples plus the
// exponential model fitted to its cooling tail.
type Fragment struct {
	StartTimestamp int64
	Raw            []DataPoint
	A, B           float64
	MinIndex       int
}

// Target returns the fragment's extrapolated asymptote: the minimum
// sample value plus the fitted saturation growth A.
func (f Fragment) Target() float64 {
	return f.Raw[f.MinIndex].Y + f.A
}

// Evaluate reconstructs the fragment's model curve at every raw sample
// index: the prefix before MinIndex passes the raw points through
// unchanged (the model only describes the cooling tail), and the
// suffix from MinIndex onward is the fitted exponential, whose first
// value is by construction the raw minimum.
func (f Fragment) Evaluate() []float64 {
	out := make([]float64, len(f.Raw))
	for i := 0; i < f.MinIndex; i++ {
		out[i] = f.Raw[i].Y
	}

	minX := f.Raw[f.MinIndex].X
	minY := f.Raw[f.MinIndex].Y
	exp := fit.Exponential{A: f.A, B: f.B}
	for i := f.MinIndex; i < len(f.Raw); i++ {
		dx := (f.Raw[i].X - minX) / fit.NormalizeT
		out[i] = minY + exp.Eval(dx)
	}
	return out
}

// ForecastConfig is the static per-deployment growth estimate that
// GetPrediction reports; fragment history does not change it.
type ForecastConfig struct {
	MinGrow    float64
	MaxGrow    float64
	MedianGrow float64
}

// Prediction is an absolute forecast: the channel's expected minimum,
// maximum, and median final frequency starting from fStart.
type Prediction struct {
	Minimal float64
	Maximal float64
	Median  float64
}

const defaultFragmentLen = 100

// capture is an in-progress, not-yet-fitted window for one channel.
// Samples are indexed by arrival order rather than wall-clock time:
// the update interval between samples is effectively constant and the
// exponential fit only cares about relative spacing.
type capture struct {
	channel        int
	startTimestamp int64
	points         []DataPoint
}

// Predictor maintains one ordered fragment list per channel and the
// single in-flight capture the status stream is currently filling.
type Predictor struct {
	mu          sync.Mutex
	fragments   map[int][]Fragment
	armed       *capture
	fragmentLen int
	forecast    ForecastConfig
}

// New creates a Predictor. fragmentLen <= 0 falls back to the default
// capture-window length.
func New(fragmentLen int, forecast ForecastConfig) *Predictor {
	if fragmentLen <= 0 {
		fragmentLen = defaultFragmentLen
	}
	return &Predictor{
		fragments:   make(map[int][]Fragment),
		fragmentLen: fragmentLen,
		forecast:    forecast,
	}
}

// Run subscribes to agg and classifies every Status update until ctx
// is done.
func (p *Predictor) Run(ctx context.Context, agg *status.Aggregator) {
	for {
		s, changed := agg.Current()
		p.Ingest(s)
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// Ingest classifies one Status update: arming a new capture on a shot
// mark, discarding a stale one on an unsignalled channel change,
// appending to the in-flight capture, and finalizing it once full.
func (p *Predictor) Ingest(s status.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case s.ShotMark:
		if p.armed != nil {
			p.finalizeLocked()
		}
		p.armed = &capture{
			channel:        s.CurrentChannel,
			startTimestamp: time.Now().UnixMilli(),
		}
		p.appendLocked(s)

	case p.armed != nil && s.CurrentChannel != p.armed.channel:
		p.armed = nil

	case p.armed != nil && len(p.armed.points) < p.fragmentLen:
		p.appendLocked(s)
		if len(p.armed.points) >= p.fragmentLen {
			p.finalizeLocked()
			p.armed = nil
		}
	}
}

func (p *Predictor) appendLocked(s status.Status) {
	x := float64(len(p.armed.points))
	p.armed.points = append(p.armed.points, DataPoint{X: x, Y: s.CurrentFrequency})
}

func (p *Predictor) finalizeLocked() {
	frag, ok := buildFragment(p.armed)
	if !ok {
		return
	}
	p.fragments[p.armed.channel] = append(p.fragments[p.armed.channel], frag)
}

func buildFragment(c *capture) (Fragment, bool) {
	if c == nil || len(c.points) < 2 {
		return Fragment{}, false
	}

	xs := make([]float64, len(c.points))
	ys := make([]float64, len(c.points))
	for i, pt := range c.points {
		xs[i] = pt.X
		ys[i] = pt.Y
	}

	ys = fit.HardFilter(ys)
	smoothed, err := fit.SmoothFilter(xs, ys)
	if err != nil {
		return Fragment{}, false
	}

	minIdx, minY := fit.FindMin(smoothed)

	tailX := make([]float64, len(xs)-minIdx)
	tailY := make([]float64, len(xs)-minIdx)
	for i := minIdx; i < len(xs); i++ {
		tailX[i-minIdx] = xs[i] - xs[minIdx]
		tailY[i-minIdx] = smoothed[i] - minY
	}

	exp, err := fit.FitExponential(tailX, tailY)
	if err != nil {
		return Fragment{}, false
	}

	raw := make([]DataPoint, len(c.points))
	copy(raw, c.points)

	return Fragment{
		StartTimestamp: c.startTimestamp,
		Raw:            raw,
		A:              exp.A,
		B:              exp.B,
		MinIndex:       minIdx,
	}, true
}

// Snapshot returns a copy of channel's in-flight capture window (the
// frequencies sampled since the last shot mark, before the fragment is
// finalized) and its start timestamp. It returns a nil slice if no
// capture is currently armed for channel.
func (p *Predictor) Snapshot(channel int) ([]float64, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed == nil || p.armed.channel != channel {
		return nil, 0
	}
	out := make([]float64, len(p.armed.points))
	for i, pt := range p.armed.points {
		out[i] = pt.Y
	}
	return out, p.armed.startTimestamp
}

// GetFragments returns a copy of channel's fragment list, optionally
// filtered to fragments whose StartTimestamp is at least tMin
// (tMin == 0 disables filtering), in original order.
func (p *Predictor) GetFragments(channel int, tMin int64) []Fragment {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.fragments[channel]
	out := make([]Fragment, 0, len(src))
	for _, f := range src {
		if tMin != 0 && f.StartTimestamp < tMin {
			continue
		}
		out = append(out, f)
	}
	return out
}

// GetLastFragment returns the most recently appended fragment for
// channel, if any.
func (p *Predictor) GetLastFragment(channel int) (Fragment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.fragments[channel]
	if len(src) == 0 {
		return Fragment{}, false
	}
	return src[len(src)-1], true
}

// GetPrediction returns the static forecast applied to fStart. channel
// is accepted for a future per-channel statistic but is currently
// ignored, matching the upstream contract that only requires
// preserving the three-value shape.
func (p *Predictor) GetPrediction(channel int, fStart float64) Prediction {
	return Prediction{
		Minimal: fStart + p.forecast.MinGrow,
		Maximal: fStart + p.forecast.MaxGrow,
		Median:  fStart + p.forecast.MedianGrow,
	}
}

// Save writes every channel's fragment list as a JSON array-of-arrays
// to a path built by expanding pathTemplate as a strftime pattern and
// appending "-fragments.json".
func (p *Predictor) Save(pathTemplate string) error {
	p.mu.Lock()
	maxChannel := 0
	for ch := range p.fragments {
		if ch > maxChannel {
			maxChannel = ch
		}
	}
	byChannel := make([][]Fragment, maxChannel+1)
	for ch, frags := range p.fragments {
		cp := make([]Fragment, len(frags))
		copy(cp, frags)
		byChannel[ch] = cp
	}
	p.mu.Unlock()

	pattern, err := strftime.New(pathTemplate)
	if err != nil {
		return fmt.Errorf("predictor: invalid path template: %w", err)
	}
	path := pattern.FormatString(time.Now()) + "-fragments.json"

	data, err := json.Marshal(byChannel)
	if err != nil {
		return fmt.Errorf("predictor: marshal fragments: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("predictor: write %s: %w", path, err)
	}
	return nil
}

// Reset empties every channel's fragment list and discards any
// in-flight capture.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fragments = make(map[int][]Fragment)
	p.armed = nil
}
