package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
)

// detectEdge selects channel, then repeatedly burns and steps forward
// until the resonator shows a clear reaction (a jump of at least
// edgeDetectPeak Hz within the capture window), bracketing the search
// against the channel's min/max plausible frequency. It returns the
// step count consumed, the frequency observed at the very first burn,
// and the box-plot of the window the reaction was detected in.
func (c *Controller) detectEdge(ctx context.Context, channel int, target, ppm float64) (uint32, float64, boxplot.BoxPlot, error) {
	minFrequency := target - c.limits.MinFreqOffset
	maxFrequency := target

	if err := c.motion.SelectChannel(ctx, channel, 0, 3); err != nil {
		return 0, 0, boxplot.BoxPlot{}, fmt.Errorf("%w: не удалось переключить канал: %v", ErrHardware, err)
	}
	if err := c.fixture.SelectChannel(ctx, channel); err != nil {
		return 0, 0, boxplot.BoxPlot{}, fmt.Errorf("%w: не удалось переключить канал: %v", ErrHardware, err)
	}
	c.agg.OnChannelSelect(channel)

	if err := sleepCtx(ctx, minDuration(5*c.update, 500*time.Millisecond)); err != nil {
		return 0, 0, boxplot.BoxPlot{}, err
	}

	var startFreq float64
	haveStart := false
	currentStep := uint32(0)

	for {
		if err := c.burn(ctx, false); err != nil {
			return 0, 0, boxplot.BoxPlot{}, err
		}
		if err := sleepCtx(ctx, 10*c.update); err != nil {
			return 0, 0, boxplot.BoxPlot{}, err
		}

		window, _ := c.pred.Snapshot(channel)
		bp := boxplot.New(window)

		if !haveStart {
			startFreq = bp.Median()
			haveStart = true
		}

		switch {
		case bp.Q1() < minFrequency && currentStep == 0:
			return 0, 0, boxplot.BoxPlot{}, fmt.Errorf("%w: частота ниже минимально-допустимой (%.2f < %.2f)", ErrLogick, bp.Q1(), minFrequency)
		case bp.Q3() > maxFrequency:
			return 0, 0, boxplot.BoxPlot{}, fmt.Errorf("%w: частота выше максимально-допустимой (%.2f > %.2f)", ErrLogick, bp.Q3(), maxFrequency)
		case bp.Q3()-bp.Q1() > edgeDetectPeak && len(window) > 0 && math.Abs(window[0]-window[len(window)-1]) > edgeDetectPeak:
			return currentStep, startFreq, bp, nil
		}

		if err := c.step(ctx, int(c.limits.EdgeDetectInterval)); err != nil {
			if errors.Is(err, ErrLogick) {
				return 0, 0, boxplot.BoxPlot{}, fmt.Errorf("%w: край не найден, достигнут лимит перемещения (%d)", ErrLogick, currentStep)
			}
			return 0, 0, boxplot.BoxPlot{}, err
		}
		currentStep += c.limits.EdgeDetectInterval
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
