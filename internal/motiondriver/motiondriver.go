// Package motiondriver implements internal/hardware.MotionLaser over a
// G-code-speaking serial link: a motion/laser controller board reached
// at 1,500,000 baud, newline-terminated ASCII, replying "ok" or an
// error line per command (§4.K, §6).
package motiondriver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/term"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/coords"
	"github.com/resonatorlab/laser-precision-adjust/internal/gcode"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
)

const baudRate = 1_500_000

// replyTimeout bounds how long one command waits for its "ok"/error
// line before the link is considered stuck.
const replyTimeout = 2 * time.Second

// Params carries the per-deployment geometry and burn parameters the
// driver needs to turn a logical (channel, step, side) move into
// G-code: the fixture's placement grid, axis mapping, and laser power
// settings (§6 Config file table).
type Params struct {
	Placements         []coords.Placement
	Axis               coords.AxisConfig
	TotalVerticalSteps uint32

	BurnS float32
	BurnA float32
	BurnB uint32
	BurnF float32

	// SoftPowerMultiplier scales BurnS for a soft (precision-phase) burn.
	SoftPowerMultiplier float32
}

// link is the minimal surface the driver needs from an open serial
// connection; *term.Term satisfies it, and tests substitute an
// in-memory double.
type link interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// Driver drives a real serial-connected controller board.
type Driver struct {
	mu   sync.Mutex
	conn link
	dec  *gcode.Decoder
	par  Params

	channel int
	step    uint32
	side    coords.Side

	log interface {
		Info(msg interface{}, kv ...interface{})
		Warn(msg interface{}, kv ...interface{})
		Error(msg interface{}, kv ...interface{})
	}
}

// Open opens devicePath at baudRate and returns a ready Driver.
func Open(devicePath string, params Params) (*Driver, error) {
	t, err := term.Open(devicePath, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("motiondriver: не удалось открыть %s: %w", devicePath, err)
	}
	if err := t.SetSpeed(baudRate); err != nil {
		t.Close()
		return nil, fmt.Errorf("motiondriver: не удалось установить скорость %d: %w", baudRate, err)
	}
	return newDriver(t, params), nil
}

func newDriver(conn link, params Params) *Driver {
	return &Driver{
		conn: conn,
		dec:  gcode.NewDecoder(conn),
		par:  params,
		log:  applog.New("motion"),
	}
}

// Close releases the underlying connection.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}

// send writes cmd and waits for its reply, translating anything other
// than exactly "ok" into an I/O-classified error — the board's text
// protocol carries no structured error taxonomy of its own.
func (d *Driver) send(cmd gcode.Command) error {
	if err := d.conn.SetReadTimeout(replyTimeout); err != nil {
		return fmt.Errorf("motiondriver: не удалось установить таймаут: %w", err)
	}
	if _, err := io.WriteString(d.conn, cmd.Line()); err != nil {
		return fmt.Errorf("motiondriver: ошибка записи: %w", err)
	}
	reply, err := d.dec.ReadReply()
	if err != nil {
		return fmt.Errorf("motiondriver: ошибка чтения ответа: %w", err)
	}
	if reply != gcode.ReplyOK {
		return fmt.Errorf("motiondriver: контроллер вернул ошибку на %q", cmd.Line())
	}
	return nil
}

// moveTo resolves (step, side) against the channel's placement and
// issues the move as either a rapid (G0) or feed-rate (G1, while
// burning) command.
func (d *Driver) moveTo(step uint32, side coords.Side, feed float32) (gcode.Command, error) {
	if d.channel < 0 || d.channel >= len(d.par.Placements) {
		return nil, fmt.Errorf("motiondriver: канал %d вне диапазона размещений", d.channel)
	}
	x, y := d.par.Placements[d.channel].ToAbs(d.par.Axis, step, side, d.par.TotalVerticalSteps)
	if feed > 0 {
		return gcode.G1{X: x, Y: y, F: feed}, nil
	}
	return gcode.G0{X: x, Y: y}, nil
}

// SelectChannel implements hardware.MotionLaser.
func (d *Driver) SelectChannel(ctx context.Context, ch int, initialStep uint32, retries int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channel = ch
	d.step = initialStep
	d.side = coords.Left

	return d.withRetries(retries, func() error {
		if err := d.send(gcode.Reset{}); err != nil {
			return err
		}
		move, err := d.moveTo(d.step, d.side, 0)
		if err != nil {
			return err
		}
		if err := d.send(move); err != nil {
			return err
		}
		power := d.par.BurnA
		return d.send(gcode.Setup{A: power, B: d.par.BurnB})
	})
}

// Step implements hardware.MotionLaser: one rapid move count steps
// from the current position, the side flipping once per step (so it
// changes when count is odd), reporting hardware.ErrLogick instead of
// moving past the travel limits.
func (d *Driver) Step(ctx context.Context, count int, retries int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if count < 0 {
		if uint32(-count) > d.step {
			return fmt.Errorf("%w: отрицательный шаг уводит ниже нуля", hardware.ErrLogick)
		}
	} else if d.step+uint32(count) > d.par.TotalVerticalSteps {
		return fmt.Errorf("%w: шаг превышает предел хода (%d)", hardware.ErrLogick, d.par.TotalVerticalSteps)
	}

	return d.withRetries(retries, func() error {
		step, side := d.step, d.side
		if count < 0 {
			step -= uint32(-count)
		} else {
			step += uint32(count)
		}
		for i := 0; i < abs(count); i++ {
			side = side.Mirrored()
		}
		move, err := d.moveTo(step, side, 0)
		if err != nil {
			return err
		}
		if err := d.send(move); err != nil {
			return err
		}
		d.step, d.side = step, side
		return nil
	})
}

// Burn implements hardware.MotionLaser: count feed-rate moves of
// burnStep each, laser on, zig-zagging side, laser off at the end. It
// reports hardware.ErrLogick without moving if the moves would carry
// the step past TotalVerticalSteps.
func (d *Driver) Burn(ctx context.Context, count int, burnStep uint32, retries int, soft bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if count > 0 && d.step+uint32(count)*burnStep > d.par.TotalVerticalSteps {
		return fmt.Errorf("%w: прожиг выходит за предел хода (%d)", hardware.ErrLogick, d.par.TotalVerticalSteps)
	}

	power := d.par.BurnS
	if soft {
		power *= d.par.SoftPowerMultiplier
	}

	return d.withRetries(retries, func() error {
		if err := d.send(gcode.M3{S: power}); err != nil {
			return err
		}
		step, side := d.step, d.side
		for i := 0; i < count; i++ {
			if side == coords.Left {
				step += burnStep
			} else {
				step += burnStep
			}
			side = side.Mirrored()
			move, err := d.moveTo(step, side, d.par.BurnF)
			if err != nil {
				return err
			}
			if err := d.send(move); err != nil {
				return err
			}
		}
		if err := d.send(gcode.M5{}); err != nil {
			return err
		}
		d.step, d.side = step, side
		return nil
	})
}

// TestConnection implements hardware.MotionLaser.
func (d *Driver) TestConnection(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(gcode.Raw(""))
}

func (d *Driver) withRetries(retries int, fn func() error) error {
	if retries < 1 {
		retries = 1
	}
	var err error
	for i := 0; i < retries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		d.log.Warn("команда не выполнена, повтор", "attempt", i+1, "err", err)
	}
	return err
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
