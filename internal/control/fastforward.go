package control

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
)

// fastForward repeatedly burns a forecast-sized batch of steps,
// waiting for each batch to fully cool before re-forecasting, until
// the predicted asymptote clears the channel's lower tolerance bound
// (or the step budget runs out). It returns the state to move to next
// (always Precision, kept as a return value for symmetry with the
// original three-stage pipeline), the frequency reached, and the step
// count spent.
func (c *Controller) fastForward(ctx context.Context, channel int, target, ppm float64, edgeBP boxplot.BoxPlot) (State, float64, uint32, error) {
	lowerBound := target * (1.0 - ppm/1_000_000.0)

	var totalSteps uint32
	stepLimitOver := false
	forecast := edgeBP.UpperBound()

	maxForwardSteps := c.limits.MaxForwardSteps
	if maxForwardSteps > precisionAdjZapas {
		maxForwardSteps -= precisionAdjZapas
	} else {
		maxForwardSteps = 0
	}

	for {
		prediction := c.pred.GetPrediction(channel, 0.0)
		stepsForecast := int(math.Floor((target - forecast) / prediction.Maximal))

		if stepsForecast < 1 {
			if err := sleepCtx(ctx, 5*c.update); err != nil {
				return Precision, 0, totalSteps, err
			}
			currentFreq, err := c.rereadFreq(ctx)
			if err != nil {
				return Precision, 0, totalSteps, err
			}

			medianForecast := c.pred.GetPrediction(channel, currentFreq).Median
			if medianForecast < lowerBound {
				forecast = currentFreq
				continue
			}

			return Precision, currentFreq, totalSteps, nil
		}

		if stepsForecast > int(c.limits.FastForwardStepLimit) {
			stepsForecast = int(c.limits.FastForwardStepLimit)
		}

		totalSteps += uint32(stepsForecast)
		if totalSteps > maxForwardSteps {
			stepsForecast -= int(totalSteps - maxForwardSteps)
			totalSteps = maxForwardSteps
			stepLimitOver = true
		}

		var lastTimestamp int64
		haveTimestamp := false
		for i := 0; i < stepsForecast; i++ {
			if err := c.burn(ctx, false); err != nil {
				return Precision, 0, totalSteps, err
			}
			if err := sleepCtx(ctx, 4*c.update); err != nil {
				return Precision, 0, totalSteps, err
			}
			if err := c.step(ctx, 1); err != nil {
				if errors.Is(err, ErrLogick) {
					return Precision, 0, totalSteps, fmt.Errorf("%w: достигнут лимит перемещения, невозможно продолжить", ErrLogick)
				}
				return Precision, 0, totalSteps, err
			}
			if _, ts := c.pred.Snapshot(channel); ts != 0 {
				lastTimestamp = ts
				haveTimestamp = true
			}
		}

		if !haveTimestamp {
			return Precision, 0, totalSteps, fmt.Errorf("%w: не удалось получить данные с частотмера, аварийный останов", ErrLogick)
		}

		fragment, err := c.waitForFragmentSince(ctx, channel, lastTimestamp)
		if err != nil {
			return Precision, 0, totalSteps, err
		}
		forecast = fragment.Target()

		switch {
		case stepLimitOver:
			return Precision, forecast, totalSteps, nil
		case forecast > target:
			freq, err := c.rereadFreq(ctx)
			if err != nil {
				return Precision, 0, totalSteps, err
			}
			return Precision, freq, totalSteps, nil
		case forecast > lowerBound:
			freq, err := c.rereadFreq(ctx)
			if err != nil {
				return Precision, 0, totalSteps, err
			}
			return Precision, freq, totalSteps, nil
		}
	}
}
