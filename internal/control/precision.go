package control

import (
	"context"
	"errors"
	"fmt"
)

// precisionAdjust burns one soft step at a time, waiting for each to
// cool, until the current frequency clears the lower stop bound (the
// target less two thirds of the ppm tolerance) or maxSteps is
// exhausted. It returns End (the run's terminal state), the final
// reread frequency, and the step count spent.
func (c *Controller) precisionAdjust(ctx context.Context, channel int, target, ppm, currentFreq float64, maxSteps uint32) (State, float64, uint32, error) {
	lowerStopBound := target * (1.0 - (ppm*2.0/3.0)/1_000_000.0)
	upperBound := target * (1.0 + ppm/1_000_000.0)
	lower := target * (1.0 - ppm/1_000_000.0)

	var totalSteps uint32
	freq := currentFreq

	for {
		if freq > lowerStopBound {
			break
		}

		prediction := c.pred.GetPrediction(channel, freq)
		if prediction.Maximal >= upperBound {
			reread, err := c.rereadFreq(ctx)
			if err != nil {
				return End, 0, totalSteps, err
			}
			freq = reread
			if freq > lower {
				break
			}
		}

		if totalSteps >= maxSteps {
			break
		}

		if err := c.burn(ctx, true); err != nil {
			return End, 0, totalSteps, err
		}
		totalSteps++

		if err := sleepCtx(ctx, 4*c.update); err != nil {
			return End, 0, totalSteps, err
		}
		if err := c.step(ctx, 1); err != nil {
			if errors.Is(err, ErrLogick) {
				return End, 0, totalSteps, fmt.Errorf("%w: достигнут лимит перемещения, невозможно продолжить", ErrLogick)
			}
			return End, 0, totalSteps, err
		}

		_, ts := c.pred.Snapshot(channel)
		if ts == 0 {
			return End, 0, totalSteps, fmt.Errorf("%w: не удалось получить данные с частотмера, аварийный останов", ErrLogick)
		}

		fragment, err := c.waitForFragmentSince(ctx, channel, ts)
		if err != nil {
			return End, 0, totalSteps, err
		}
		freq = fragment.Target()

		if freq > lowerStopBound {
			if err := sleepCtx(ctx, 5*c.update); err != nil {
				return End, 0, totalSteps, err
			}
			reread, err := c.rereadFreq(ctx)
			if err != nil {
				return End, 0, totalSteps, err
			}
			freq = reread
		}
	}

	if err := sleepCtx(ctx, 5*c.update); err != nil {
		return End, 0, totalSteps, err
	}
	final, err := c.rereadFreq(ctx)
	if err != nil {
		return End, 0, totalSteps, err
	}
	return End, final, totalSteps, nil
}
