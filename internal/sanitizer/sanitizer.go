// Package sanitizer classifies a channel's recent frequency samples
// as still settling, actively cooling towards a forecastable value, or
// stable enough to act on.
package sanitizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
	"github.com/resonatorlab/laser-precision-adjust/internal/fit"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

// Len is the sliding-window size the classifier maintains.
const Len = 5

// Kind is which of the four states a Reading reports.
type Kind int

const (
	Waiting Kind = iota
	Unstable
	Cooling
	Stable
)

// CoolingInfo is the forecast extrapolated from a rising window.
type CoolingInfo struct {
	Forecast float64
	Current  float64
}

// Reading is one classifier output.
type Reading struct {
	Kind            Kind
	SinceStart      time.Duration
	Channel         int
	BoxPlot         boxplot.BoxPlot
	Cooling         CoolingInfo
	StableFrequency float64
}

// ErrTimeout is returned by TryGetCorrect when no Stable reading
// arrives within the requested window.
var ErrTimeout = errors.New("sanitizer: timed out waiting for a stable reading")

// Sanitizer watches a Status stream and reports the stability of the
// active channel's last Len samples.
type Sanitizer struct {
	stableVal float64

	mu          sync.Mutex
	current     Reading
	changed     chan struct{}
	window      []float64
	lastChannel int
	haveLast    bool
}

// New creates a Sanitizer. stableVal is the IQR threshold below which
// a window is considered Stable.
func New(stableVal float64) *Sanitizer {
	return &Sanitizer{
		stableVal: stableVal,
		changed:   make(chan struct{}),
	}
}

// Current returns the latest Reading and a channel that closes the
// next time it changes (see status.Aggregator's Current for the same
// close-and-replace idiom).
func (s *Sanitizer) Current() (Reading, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.changed
}

// Run subscribes to agg and classifies every Status update until ctx
// is done.
func (s *Sanitizer) Run(ctx context.Context, agg *status.Aggregator) {
	for {
		st, changed := agg.Current()
		s.Ingest(st)
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// Ingest classifies one Status update against the sliding window.
func (s *Sanitizer) Ingest(st status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ShotMark || !s.haveLast || st.CurrentChannel != s.lastChannel {
		s.lastChannel = st.CurrentChannel
		s.haveLast = true
		s.window = []float64{st.CurrentFrequency}
		s.publishLocked(Reading{Kind: Waiting, SinceStart: st.SinceStart, Channel: st.CurrentChannel})
		return
	}

	s.window = append(s.window, st.CurrentFrequency)
	if len(s.window) > Len {
		s.window = s.window[len(s.window)-Len:]
	}

	bp := boxplot.New(s.window)
	switch {
	case bp.IQR() > s.stableVal:
		if info, ok := detectCooling(s.window); ok {
			s.publishLocked(Reading{Kind: Cooling, SinceStart: st.SinceStart, Channel: st.CurrentChannel, Cooling: info})
			return
		}
		s.publishLocked(Reading{Kind: Unstable, SinceStart: st.SinceStart, Channel: st.CurrentChannel, BoxPlot: bp})
	default:
		s.publishLocked(Reading{Kind: Stable, SinceStart: st.SinceStart, Channel: st.CurrentChannel, StableFrequency: bp.Median()})
	}
}

func (s *Sanitizer) publishLocked(r Reading) {
	s.current = r
	old := s.changed
	s.changed = make(chan struct{})
	close(old)
}

func detectCooling(window []float64) (CoolingInfo, bool) {
	minIdx, minVal := fit.FindMin(window)
	tail := window[minIdx:]
	if len(tail) < 2 {
		return CoolingInfo{}, false
	}

	x := make([]float64, len(tail))
	y := make([]float64, len(tail))
	for i, v := range tail {
		x[i] = float64(i)
		y[i] = v - minVal
	}

	exp, err := fit.FitExponential(x, y)
	if err != nil || exp.A <= 0 {
		return CoolingInfo{}, false
	}

	return CoolingInfo{
		Forecast: exp.A + minVal,
		Current:  window[len(window)-1],
	}, true
}

// TryGetCorrect waits for a Stable reading, re-arming timeout on every
// intervening change, and returns the last reading (with ErrTimeout)
// if none arrives before timeout elapses with no further change.
func (s *Sanitizer) TryGetCorrect(ctx context.Context, timeout time.Duration) (Reading, error) {
	for {
		cur, changed := s.Current()
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cur, ctx.Err()
		case <-timer.C:
			return cur, ErrTimeout
		case <-changed:
			timer.Stop()
			next, _ := s.Current()
			if next.Kind == Stable {
				return next, nil
			}
		}
	}
}
