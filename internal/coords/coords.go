// Package coords converts a (channel, step, side) position into the
// absolute (x, y) coordinates the motion controller moves to.
package coords

// Side is which lateral edge of the resonator the laser is currently
// trimming. It alternates with every burn.
type Side bool

const (
	Left  Side = false
	Right Side = true
)

// Mirrored returns the opposite side.
func (s Side) Mirrored() Side {
	return !s
}

// AxisConfig carries the fixture's axis-mapping quirks: whether X and
// Y are swapped on the controller, and whether either axis runs
// backwards relative to the fixture's logical layout.
type AxisConfig struct {
	SwapXY    bool
	ReverseX  bool
	ReverseY  bool
}

// Placement is the physical position and footprint of one resonator
// channel on the fixture, in controller units.
type Placement struct {
	X float32
	Y float32
	W float32
	H float32
}

// ToAbs converts a (step, side) position for this placement into
// absolute motion-controller coordinates.
//
// X is offset by half the resonator's width, left or right of
// center, depending on side and ReverseX (the two XOR, so reversing
// the X axis swaps which physical side "Left" refers to). Y advances
// linearly from the center by step/totalSteps of the resonator's
// height, direction controlled by ReverseY. SwapXY, applied last,
// exchanges the two computed axes wholesale — it composes with the
// other two flags rather than interacting with them.
func (p Placement) ToAbs(axis AxisConfig, step uint32, side Side, totalSteps uint32) (x, y float32) {
	if (side == Left) != axis.ReverseX {
		x = p.X - p.W/2
	} else {
		x = p.X + p.W/2
	}

	frac := float32(step) / float32(totalSteps)
	if axis.ReverseY {
		y = p.Y - frac*p.H
	} else {
		y = p.Y + frac*p.H
	}

	if axis.SwapXY {
		return y, x
	}
	return x, y
}
