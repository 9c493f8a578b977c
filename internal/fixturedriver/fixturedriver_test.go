package fixturedriver

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
)

// fakeLink answers every register read with a fixed frequency and
// records every write, standing in for the real I²C bridge link.
type fakeLink struct {
	freq    float32
	written [][]byte
}

func (l *fakeLink) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	l.written = append(l.written, cp)
	return len(p), nil
}
func (l *fakeLink) Read(p []byte) (int, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(l.freq))
	return copy(p, buf), nil
}
func (l *fakeLink) Close() error                      { return nil }
func (l *fakeLink) SetReadTimeout(time.Duration) error { return nil }

func Test_CameraControl_OpenCoercesValveToAtmosphere(t *testing.T) {
	link := &fakeLink{freq: 1000}
	d := newDriver(link, time.Hour, nil)

	require.NoError(t, d.ValveControl(context.Background(), hardware.ValveVacuum))
	assert.Equal(t, hardware.ValveVacuum, d.valve)

	require.NoError(t, d.CameraControl(context.Background(), hardware.CameraOpen))
	assert.Equal(t, hardware.ValveAtmosphere, d.valve)

	found := false
	for _, w := range link.written {
		if len(w) >= 2 && w[0] == regValve && w[1] == byte(hardware.ValveAtmosphere) {
			found = true
		}
	}
	assert.True(t, found, "expected a valve-to-atmosphere write after opening the camera")
}

func Test_ValveControl_RefusedWhileCameraOpen(t *testing.T) {
	link := &fakeLink{freq: 1000}
	d := newDriver(link, time.Hour, nil)

	require.NoError(t, d.CameraControl(context.Background(), hardware.CameraOpen))
	require.NoError(t, d.ValveControl(context.Background(), hardware.ValveVacuum))
	assert.Equal(t, hardware.ValveAtmosphere, d.valve)
}

func Test_Poll_AppliesOffset(t *testing.T) {
	link := &fakeLink{freq: 5}
	d := newDriver(link, time.Hour, nil)
	d.freqOfs = 10

	r, err := d.poll()
	require.NoError(t, err)
	assert.Equal(t, 15.0, r.Frequency)
}

func Test_Poll_FloorsAtZero(t *testing.T) {
	link := &fakeLink{freq: 5}
	d := newDriver(link, time.Hour, nil)
	d.freqOfs = -10

	r, err := d.poll()
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Frequency)
}

func Test_Reset_ReplaysInitSequence(t *testing.T) {
	link := &fakeLink{freq: 1000}
	seq := []InitWrite{
		{Register: 0x10, Value: []byte{1}},
		{Register: 0x11, Value: []byte{2, 3}},
	}
	d := newDriver(link, time.Hour, seq)

	require.NoError(t, d.Reset(context.Background()))
	require.Len(t, link.written, 2)
	assert.Equal(t, byte(0x10), link.written[0][0])
	assert.Equal(t, byte(0x11), link.written[1][0])
}
