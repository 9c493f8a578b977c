package motiondriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonatorlab/laser-precision-adjust/internal/coords"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
)

// alwaysOKLink is a link double that answers every write with "ok\n"
// immediately, for exercising the driver's command sequencing without
// a real serial port (github.com/creack/pty backs the teacher's own
// loopback tests; a plain in-memory double suffices here since the
// driver's framing, not the transport, is what's under test).
type alwaysOKLink struct {
	written []byte
}

func (l *alwaysOKLink) Read(p []byte) (int, error) {
	copy(p, []byte("ok\n"))
	return len("ok\n"), nil
}
func (l *alwaysOKLink) Write(p []byte) (int, error) {
	l.written = append(l.written, p...)
	return len(p), nil
}
func (l *alwaysOKLink) Close() error                      { return nil }
func (l *alwaysOKLink) SetReadTimeout(time.Duration) error { return nil }

func Test_Step_RefusesPastTravelLimit(t *testing.T) {
	d := newDriver(&alwaysOKLink{}, Params{
		Placements:         []coords.Placement{{X: 0, Y: 0, W: 10, H: 100}},
		TotalVerticalSteps: 10,
	})
	d.channel = 0
	d.step = 9

	err := d.Step(context.Background(), 5, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, hardware.ErrLogick)
}

func Test_SelectChannel_SendsResetAndSetup(t *testing.T) {
	link := &alwaysOKLink{}
	d := newDriver(link, Params{
		Placements:         []coords.Placement{{X: 5, Y: 5, W: 10, H: 100}},
		TotalVerticalSteps: 100,
		BurnA:              2.5,
		BurnB:              2000,
	})

	err := d.SelectChannel(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	assert.Contains(t, string(link.written), "M5")
	assert.Contains(t, string(link.written), "G1 A2.5B2000")
}

func Test_Burn_TogglesLaserOnAndOff(t *testing.T) {
	link := &alwaysOKLink{}
	d := newDriver(link, Params{
		Placements:         []coords.Placement{{X: 0, Y: 0, W: 10, H: 100}},
		TotalVerticalSteps: 100,
		BurnS:              3.0,
		BurnF:              50,
	})
	d.channel = 0

	err := d.Burn(context.Background(), 2, 1, 1, false)
	require.NoError(t, err)
	s := string(link.written)
	assert.Contains(t, s, "M3 S3")
	assert.Contains(t, s, "M5")
}
