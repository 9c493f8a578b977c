// Package fixturedriver implements internal/hardware.Fixture over the
// I²C bridge link: byte-protocol transactions that select a channel,
// control the camera and vacuum valve, and read the frequency counter
// register (§6). A background polling loop turns the link into the
// live hardware.Reading stream the status aggregator subscribes to.
package fixturedriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pkg/term"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
)

// Register addresses on the I²C bridge.
const (
	regChannel   = 0x01
	regCamera    = 0x02
	regValve     = 0x03
	regFreqOfs   = 0x04
	regFreqMeter = 0x08
)

// link is the minimal surface the driver needs from the open serial
// connection to the bridge.
type link interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// InitWrite is one register write replayed by Reset.
type InitWrite struct {
	Register byte
	Value    []byte
}

// Driver drives the I²C bridge over a serial link, polling the
// frequency register at pollInterval and publishing readings.
type Driver struct {
	mu      sync.Mutex
	conn    link
	initSeq []InitWrite

	channel int
	camera  hardware.CameraState
	valve   hardware.ValveState
	freqOfs float64

	pollInterval time.Duration
	readings     chan hardware.Reading
	cancel       context.CancelFunc

	log interface {
		Info(msg interface{}, kv ...interface{})
		Warn(msg interface{}, kv ...interface{})
		Error(msg interface{}, kv ...interface{})
	}
}

// Open opens devicePath at baud and starts the polling loop.
func Open(devicePath string, baud int, pollInterval time.Duration, initSeq []InitWrite) (*Driver, error) {
	t, err := term.Open(devicePath, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("fixturedriver: не удалось открыть %s: %w", devicePath, err)
	}
	if err := t.SetSpeed(baud); err != nil {
		t.Close()
		return nil, fmt.Errorf("fixturedriver: не удалось установить скорость %d: %w", baud, err)
	}
	d := newDriver(t, pollInterval, initSeq)
	d.startPolling()
	return d, nil
}

func newDriver(conn link, pollInterval time.Duration, initSeq []InitWrite) *Driver {
	return &Driver{
		conn:         conn,
		initSeq:      initSeq,
		valve:        hardware.ValveAtmosphere,
		pollInterval: pollInterval,
		readings:     make(chan hardware.Reading, 1),
		log:          applog.New("fixture"),
	}
}

// Close stops polling and releases the connection.
func (d *Driver) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return d.conn.Close()
}

func (d *Driver) write(register byte, value []byte) error {
	frame := append([]byte{register}, value...)
	if _, err := d.conn.Write(frame); err != nil {
		return fmt.Errorf("fixturedriver: ошибка записи регистра 0x%02x: %w", register, err)
	}
	return nil
}

func (d *Driver) read(register byte, n int) ([]byte, error) {
	if err := d.conn.SetReadTimeout(500 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("fixturedriver: не удалось установить таймаут: %w", err)
	}
	if _, err := d.conn.Write([]byte{register}); err != nil {
		return nil, fmt.Errorf("fixturedriver: ошибка запроса регистра 0x%02x: %w", register, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.conn, buf); err != nil {
		return nil, fmt.Errorf("fixturedriver: ошибка чтения регистра 0x%02x: %w", register, err)
	}
	return buf, nil
}

// SelectChannel implements hardware.Fixture.
func (d *Driver) SelectChannel(ctx context.Context, ch int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(regChannel, []byte{byte(ch)}); err != nil {
		return err
	}
	d.channel = ch
	return nil
}

// CameraControl implements hardware.Fixture. Opening the camera
// coerces the valve to Atmosphere: the two are mechanically
// interlocked on the real fixture (§6).
func (d *Driver) CameraControl(ctx context.Context, state hardware.CameraState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(regCamera, []byte{byte(state)}); err != nil {
		return err
	}
	d.camera = state

	if state == hardware.CameraOpen && d.valve != hardware.ValveAtmosphere {
		if err := d.write(regValve, []byte{byte(hardware.ValveAtmosphere)}); err != nil {
			return err
		}
		d.valve = hardware.ValveAtmosphere
	}
	return nil
}

// ValveControl implements hardware.Fixture, refusing to move the
// valve off Atmosphere while the camera is open.
func (d *Driver) ValveControl(ctx context.Context, state hardware.ValveState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.camera == hardware.CameraOpen {
		state = hardware.ValveAtmosphere
	}
	if err := d.write(regValve, []byte{byte(state)}); err != nil {
		return err
	}
	d.valve = state
	return nil
}

// SetFreqMeterOffset implements hardware.Fixture.
func (d *Driver) SetFreqMeterOffset(ctx context.Context, offset float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(offset)))
	if err := d.write(regFreqOfs, buf); err != nil {
		return err
	}
	d.freqOfs = offset
	return nil
}

// Reset implements hardware.Fixture: replays the configured sequence
// of I²C initialization writes.
func (d *Driver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.initSeq {
		if err := d.write(w.Register, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// Readings implements hardware.Fixture.
func (d *Driver) Readings() <-chan hardware.Reading {
	return d.readings
}

func (d *Driver) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	go func() {
		defer close(d.readings)
		t := time.NewTicker(d.pollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			reading, err := d.poll()
			if err != nil {
				d.log.Warn("ошибка опроса частотомера", "err", err)
				continue
			}
			select {
			case d.readings <- reading:
			default:
				// Drop the stale pending reading and push the fresh one —
				// readers want the latest sample, not a backlog.
				select {
				case <-d.readings:
				default:
				}
				d.readings <- reading
			}
		}
	}()
}

func (d *Driver) poll() (hardware.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.read(regFreqMeter, 4)
	if err != nil {
		return hardware.Reading{}, err
	}
	freq := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))) + d.freqOfs
	if freq < 0 {
		freq = 0
	}
	return hardware.Reading{Frequency: freq, Camera: d.camera, Valve: d.valve}, nil
}
