// Package status owns the authoritative, broadcast Status value the
// rest of the system observes: current channel/step/frequency, camera
// and valve state, and the one-shot shot-mark flag a burn sets for
// whichever Status comes immediately after it.
package status

import (
	"sync"
	"time"

	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
)

// Status is a point-in-time snapshot of the fixture and the control
// loop driving it.
type Status struct {
	CurrentChannel   int
	CurrentStep      uint32
	SinceStart       time.Duration
	CurrentFrequency float64
	Camera           hardware.CameraState
	Valve            hardware.ValveState
	// ShotMark is true only on the first Status published immediately
	// after a burn; the next fixture reading clears it.
	ShotMark bool
}

// Aggregator merges the fixture's reading stream with control events
// (channel select, camera change, step, shot mark) into a single
// Status and broadcasts every change.
//
// Subscribers use the close-and-replace idiom in place of a fan-out
// channel: Current returns the latest Status and a channel that
// closes exactly once, the instant a newer Status is published. A
// subscriber loop re-calls Current after each close to pick up the
// new value and its own fresh "changed" channel — the same
// latest-value-wins semantics as a watch channel, without requiring
// every subscriber to keep pace with every intermediate update.
type Aggregator struct {
	mu        sync.Mutex
	current   Status
	changed   chan struct{}
	startedAt time.Time
}

// New creates an Aggregator. startedAt anchors Status.SinceStart.
func New(startedAt time.Time) *Aggregator {
	return &Aggregator{
		changed:   make(chan struct{}),
		startedAt: startedAt,
		current:   Status{Valve: hardware.ValveAtmosphere},
	}
}

// Current returns the latest Status and a channel that closes the
// next time the Status changes.
func (a *Aggregator) Current() (Status, <-chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.changed
}

func (a *Aggregator) publish(mutate func(*Status)) {
	a.mu.Lock()
	mutate(&a.current)
	a.current.SinceStart = time.Since(a.startedAt)
	old := a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(old)
}

// OnFixtureReading applies one sample from the fixture's polling loop
// and clears any pending shot mark.
func (a *Aggregator) OnFixtureReading(r hardware.Reading) {
	a.publish(func(s *Status) {
		s.CurrentFrequency = r.Frequency
		s.Camera = r.Camera
		s.Valve = r.Valve
		s.ShotMark = false
	})
}

// OnChannelSelect records a new active channel at step 0.
func (a *Aggregator) OnChannelSelect(ch int) {
	a.publish(func(s *Status) {
		s.CurrentChannel = ch
		s.CurrentStep = 0
	})
}

// OnStep advances the recorded step count by count (may be negative on
// an edge-detection retreat, though the controller never issues one).
func (a *Aggregator) OnStep(count int) {
	a.publish(func(s *Status) {
		s.CurrentStep = uint32(int(s.CurrentStep) + count)
	})
}

// OnCameraChange records a camera open/close independent of a fixture
// reading, so UI/log consumers see it immediately.
func (a *Aggregator) OnCameraChange(c hardware.CameraState) {
	a.publish(func(s *Status) {
		s.Camera = c
	})
}

// OnBurn sets the one-shot shot mark after the controller issues a
// burn. The next OnFixtureReading clears it.
func (a *Aggregator) OnBurn() {
	a.publish(func(s *Status) {
		s.ShotMark = true
	})
}
