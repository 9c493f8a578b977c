package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonatorlab/laser-precision-adjust/internal/control"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
	"github.com/resonatorlab/laser-precision-adjust/internal/predictor"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

type fakeMotion struct {
	mu    sync.Mutex
	burns int
}

func (m *fakeMotion) SelectChannel(ctx context.Context, ch int, initialStep uint32, retries int) error {
	return nil
}
func (m *fakeMotion) Step(ctx context.Context, count int, retries int) error { return nil }
func (m *fakeMotion) Burn(ctx context.Context, count int, burnStep uint32, retries int, soft bool) error {
	m.mu.Lock()
	m.burns++
	m.mu.Unlock()
	return nil
}
func (m *fakeMotion) TestConnection(ctx context.Context) error { return nil }

type fakeFixture struct{ readings chan hardware.Reading }

func newFakeFixture() *fakeFixture { return &fakeFixture{readings: make(chan hardware.Reading)} }

func (f *fakeFixture) SelectChannel(ctx context.Context, ch int) error                 { return nil }
func (f *fakeFixture) CameraControl(ctx context.Context, s hardware.CameraState) error { return nil }
func (f *fakeFixture) ValveControl(ctx context.Context, s hardware.ValveState) error   { return nil }
func (f *fakeFixture) SetFreqMeterOffset(ctx context.Context, offset float64) error    { return nil }
func (f *fakeFixture) Reset(ctx context.Context) error                                { return nil }
func (f *fakeFixture) Readings() <-chan hardware.Reading                              { return f.readings }

func startFeeder(ctx context.Context, agg *status.Aggregator, valueAt func() float64) {
	go func() {
		t := time.NewTicker(200 * time.Microsecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			agg.OnFixtureReading(hardware.Reading{Frequency: valueAt(), Camera: hardware.CameraClose, Valve: hardware.ValveAtmosphere})
		}
	}()
}

func newTestController(t *testing.T, motion *fakeMotion, limits control.Limits, channelCount int, ppm float64) (*Controller, *status.Aggregator, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	agg := status.New(time.Now())
	pred := predictor.New(100000, predictor.ForecastConfig{MinGrow: 0.5, MaxGrow: 2.0, MedianGrow: 1.0})
	go pred.Run(ctx, agg)

	c := New(motion, newFakeFixture(), agg, pred, limits, time.Millisecond, ppm, channelCount)
	return c, agg, cancel
}

func Test_Adjust_RejectsWhenBusy(t *testing.T) {
	c, _, cancel := newTestController(t, &fakeMotion{}, control.Limits{}, 4, 100)
	defer cancel()

	c.state = SearchingEdge
	_, err := c.Adjust(100)
	assert.ErrorIs(t, err, ErrAdjustInProgress)
}

func Test_Cancel_RejectsWhenIdle(t *testing.T) {
	c, _, cancel := newTestController(t, &fakeMotion{}, control.Limits{}, 4, 100)
	defer cancel()

	err := c.Cancel()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func Test_Outcome_String(t *testing.T) {
	cases := map[Outcome]string{
		InProcess:    "in_process",
		Ok:           "ok",
		Unstable:     "unstable",
		OutOfRange:   "out_of_range",
		Outcome(99):  "unknown",
	}
	for o, want := range cases {
		assert.Equal(t, want, o.String())
	}
}

// Test_EdgeFindingPass_MarksAlreadyStableChannelsOk feeds a constant,
// in-tolerance frequency for every channel: the edge-finding pass
// should resolve every channel to Ok on its very first measurement,
// without ever burning (no reaction search needed).
func Test_EdgeFindingPass_MarksAlreadyStableChannelsOk(t *testing.T) {
	motion := &fakeMotion{}
	limits := control.Limits{EdgeDetectInterval: 1, MinFreqOffset: 20}
	c, agg, cancel := newTestController(t, motion, limits, 3, 5000)
	defer cancel()

	ctx, cancelFeeder := context.WithCancel(context.Background())
	defer cancelFeeder()
	startFeeder(ctx, agg, func() float64 { return 100.0 })

	channels := make([]*channelRef, 3)
	for i := range channels {
		channels[i] = &channelRef{id: i, total: 3, outcome: InProcess}
	}

	reports := make(chan ProgressReport, 64)
	err := c.edgeFindingPass(context.Background(), 100.0, channels, reports)
	require.NoError(t, err)

	for _, ch := range channels {
		assert.Equal(t, Ok, ch.outcome, "channel %d", ch.id)
	}
	assert.Equal(t, 0, motion.burns, "no burns should be needed for already-stable channels")
}
