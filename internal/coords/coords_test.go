package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_ToAbs_Basic(t *testing.T) {
	p := Placement{X: 100, Y: 200, W: 10, H: 40}
	axis := AxisConfig{}

	x, y := p.ToAbs(axis, 0, Left, 4)
	assert.Equal(t, float32(95), x)
	assert.Equal(t, float32(200), y)

	x, y = p.ToAbs(axis, 2, Right, 4)
	assert.Equal(t, float32(105), x)
	assert.Equal(t, float32(220), y)
}

func Test_ToAbs_ReverseX_NegatesXComponent(t *testing.T) {
	p := Placement{X: 100, Y: 200, W: 10, H: 40}

	xPlain, _ := p.ToAbs(AxisConfig{}, 0, Left, 4)
	xRev, _ := p.ToAbs(AxisConfig{ReverseX: true}, 0, Left, 4)

	// Reversing X swaps which side "Left" resolves to, so the
	// component flips sign relative to center.
	assert.Equal(t, p.X-(xPlain-p.X), xRev)
}

func Test_ToAbs_ReverseY_NegatesYComponent(t *testing.T) {
	p := Placement{X: 100, Y: 200, W: 10, H: 40}

	_, yPlain := p.ToAbs(AxisConfig{}, 3, Left, 4)
	_, yRev := p.ToAbs(AxisConfig{ReverseY: true}, 3, Left, 4)

	assert.Equal(t, p.Y-(yPlain-p.Y), yRev)
}

func Test_ToAbs_SwapXY_CommutesWithOtherFlags(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Placement{
			X: float32(rapid.Float64Range(-1000, 1000).Draw(t, "x")),
			Y: float32(rapid.Float64Range(-1000, 1000).Draw(t, "y")),
			W: float32(rapid.Float64Range(0, 100).Draw(t, "w")),
			H: float32(rapid.Float64Range(0, 100).Draw(t, "h")),
		}
		step := uint32(rapid.IntRange(0, 100).Draw(t, "step"))
		total := uint32(rapid.IntRange(int(step)+1, 200).Draw(t, "total"))
		side := Side(rapid.Bool().Draw(t, "side"))
		reverseX := rapid.Bool().Draw(t, "reverseX")
		reverseY := rapid.Bool().Draw(t, "reverseY")

		axis := AxisConfig{ReverseX: reverseX, ReverseY: reverseY}
		axisSwapped := AxisConfig{ReverseX: reverseX, ReverseY: reverseY, SwapXY: true}

		x, y := p.ToAbs(axis, step, side, total)
		ySwapped, xSwapped := p.ToAbs(axisSwapped, step, side, total)

		assert.Equal(t, x, xSwapped)
		assert.Equal(t, y, ySwapped)
	})
}

func Test_Side_Mirrored(t *testing.T) {
	assert.Equal(t, Right, Left.Mirrored())
	assert.Equal(t, Left, Right.Mirrored())
}
