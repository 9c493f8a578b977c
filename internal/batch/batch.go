// Package batch drives every channel on a fixture through adjustment
// in one run: first an ascending edge-finding pass that screens out
// channels already in tolerance or already broken, then a far-long
// ordered adjustment pass that hands each remaining channel to
// internal/control one at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
	"github.com/resonatorlab/laser-precision-adjust/internal/control"
	"github.com/resonatorlab/laser-precision-adjust/internal/farlong"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
	"github.com/resonatorlab/laser-precision-adjust/internal/predictor"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

// Outcome is why a channel stopped taking part in the run.
type Outcome int

const (
	// InProcess channels are still eligible for the adjusting pass.
	InProcess Outcome = iota
	Ok
	Unstable
	OutOfRange
)

func (o Outcome) String() string {
	switch o {
	case InProcess:
		return "in_process"
	case Ok:
		return "ok"
	case Unstable:
		return "unstable"
	case OutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// channelRef is one fixture channel's scheduling state: the
// farlong.Item the adjusting pass iterates over.
type channelRef struct {
	id           int
	total        int
	lastSelected time.Time
	outcome      Outcome
	value        float64
	// edgeBP is the box-plot of the reaction window edgeFindingPass
	// found this channel's edge in. The adjusting pass hands it
	// straight to control.TryStartFrom so it doesn't re-detect an edge
	// this pass already found.
	edgeBP boxplot.BoxPlot
}

func (c *channelRef) Distance(other farlong.Item) uint64 {
	return farlong.CircularDistance(uint64(c.id), uint64(other.(*channelRef).id), uint64(c.total))
}
func (c *channelRef) LastSelected() time.Time { return c.lastSelected }
func (c *channelRef) Valid() bool             { return c.outcome == InProcess }

// State is the run's current phase.
type State int

const (
	Idle State = iota
	SearchingEdge
	Adjusting
	Done
	Errored
)

// ProgressReport is one message on a run's progress channel.
type ProgressReport struct {
	State   State
	Channel int
	Message string
}

// Controller drives every channel on the fixture through adjustment,
// one run at a time.
type Controller struct {
	motion       hardware.MotionLaser
	fixture      hardware.Fixture
	agg          *status.Aggregator
	pred         *predictor.Predictor
	limits       control.Limits
	update       time.Duration
	ppm          float64
	channelCount int
	log          interface {
		Info(msg interface{}, kv ...interface{})
		Warn(msg interface{}, kv ...interface{})
		Error(msg interface{}, kv ...interface{})
	}

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// New builds a batch Controller over channelCount fixture channels.
func New(motion hardware.MotionLaser, fixture hardware.Fixture, agg *status.Aggregator, pred *predictor.Predictor, limits control.Limits, update time.Duration, ppm float64, channelCount int) *Controller {
	return &Controller{
		motion:       motion,
		fixture:      fixture,
		agg:          agg,
		pred:         pred,
		limits:       limits,
		update:       update,
		ppm:          ppm,
		channelCount: channelCount,
		log:          applog.New("batch"),
		state:        Idle,
	}
}

var (
	// ErrAdjustInProgress is returned by Adjust when a run is already
	// active.
	ErrAdjustInProgress = errors.New("batch: adjustment already in progress")
	// ErrNotRunning is returned by Cancel when no run is active.
	ErrNotRunning = errors.New("batch: not running")
)

// Adjust starts a full-fixture run towards target, returning a channel
// of progress reports.
func (c *Controller) Adjust(target float64) (<-chan ProgressReport, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrAdjustInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = SearchingEdge
	c.mu.Unlock()

	reports := make(chan ProgressReport, 16)
	go c.run(ctx, target, reports)
	return reports, nil
}

// Cancel aborts the active run, if any, forcing state back to Idle.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	time.Sleep(time.Second)

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
	return nil
}

// State returns the run's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, target float64, reports chan<- ProgressReport) {
	defer close(reports)
	defer c.setState(Idle)

	channels := make([]*channelRef, c.channelCount)
	items := make([]farlong.Item, c.channelCount)
	for i := range channels {
		channels[i] = &channelRef{id: i, total: c.channelCount, outcome: InProcess}
		items[i] = channels[i]
	}

	if err := c.edgeFindingPass(ctx, target, channels, reports); err != nil {
		c.setState(Errored)
		reports <- ProgressReport{State: Errored, Message: err.Error()}
		return
	}

	c.setState(Adjusting)
	reports <- ProgressReport{State: Adjusting, Message: "Настройка"}

	if err := c.adjustingPass(ctx, target, items, channels, reports); err != nil {
		c.setState(Errored)
		reports <- ProgressReport{State: Errored, Message: err.Error()}
		return
	}

	c.setState(Done)
	reports <- ProgressReport{State: Done, Message: "Настройка всех каналов завершена"}
}

// edgeFindingPass visits every channel in ascending order, screening
// out channels that are already in tolerance (Ok) or broken (Unstable,
// OutOfRange) before the adjusting pass begins.
func (c *Controller) edgeFindingPass(ctx context.Context, target float64, channels []*channelRef, reports chan<- ProgressReport) error {
	upper := target * (1.0 + c.ppm/1_000_000.0)
	lower := target * (1.0 - c.ppm/1_000_000.0)
	minFrequency := target - c.limits.MinFreqOffset

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}

		reports <- ProgressReport{State: SearchingEdge, Channel: ch.id, Message: "Поиск края"}

		if err := c.motion.SelectChannel(ctx, ch.id, 0, 3); err != nil {
			return fmt.Errorf("канал %d: не удалось переключить канал лазера: %w", ch.id, err)
		}
		if err := c.fixture.SelectChannel(ctx, ch.id); err != nil {
			return fmt.Errorf("канал %d: не удалось переключить частотомер: %w", ch.id, err)
		}
		c.agg.OnChannelSelect(ch.id)

		result, err := c.measure(ctx, 10*c.update, 0.2, upper, minFrequency)
		if err != nil {
			return err
		}

		switch result.outcome {
		case Ok:
			if result.value > lower && result.value < upper {
				ch.outcome = Ok
				ch.value = result.value
				continue
			}
		case Unstable:
			ch.outcome = Unstable
			continue
		case OutOfRange:
			ch.outcome = OutOfRange
			ch.value = result.value
			continue
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.motion.Burn(ctx, 1, c.limits.EdgeDetectInterval, 3, false); err != nil {
				return fmt.Errorf("канал %d: не удалось сделать шаг: %w", ch.id, err)
			}

			reaction, err := c.measure(ctx, 5*c.update, 0.2, upper, 0)
			if err != nil {
				return err
			}
			switch reaction.outcome {
			case Ok:
				if reaction.value > lower && reaction.value < upper {
					ch.outcome = Ok
					ch.value = reaction.value
					goto next
				}
				continue
			case Unstable:
				ch.edgeBP = reaction.bp
				goto next // край найден, канал остаётся InProcess
			case OutOfRange:
				ch.outcome = OutOfRange
				ch.value = reaction.value
				goto next
			}
		}
	next:
		ch.lastSelected = time.Now()
	}
	return nil
}

type measureResult struct {
	outcome Outcome
	value   float64
	bp      boxplot.BoxPlot
}

// measure samples the status aggregator for timeout and classifies the
// window the same way §4.I's stable/unstable/out-of-range helper does:
// a tight-enough IQR within the workLow/workHigh bounds is Ok, a tight IQR
// outside them is OutOfRange, a wide IQR is Unstable.
func (c *Controller) measure(ctx context.Context, timeout time.Duration, stableRange, workHigh, workLow float64) (measureResult, error) {
	deadline := time.Now().Add(timeout)
	var samples []float64

	for time.Now().Before(deadline) {
		_, changed := c.agg.Current()
		select {
		case <-ctx.Done():
			return measureResult{}, ctx.Err()
		case <-time.After(time.Until(deadline)):
			goto done
		case <-changed:
		}
		s, _ := c.agg.Current()
		samples = append(samples, s.CurrentFrequency)
	}
done:
	bp := boxplot.New(samples)
	if bp.Q3()-bp.Q1() < stableRange {
		if bp.Median() > workHigh || (workLow != 0 && bp.Median() < workLow) {
			return measureResult{outcome: OutOfRange, value: bp.Median(), bp: bp}, nil
		}
		return measureResult{outcome: Ok, value: bp.Median(), bp: bp}, nil
	}
	return measureResult{outcome: Unstable, bp: bp}, nil
}

// adjustingPass drives internal/control across every channel still
// InProcess, in far-long order, until none remain.
func (c *Controller) adjustingPass(ctx context.Context, target float64, items []farlong.Item, channels []*channelRef, reports chan<- ProgressReport) error {
	it := farlong.New(items, 2*c.update)
	single := control.New(c.motion, c.fixture, c.agg, c.pred, c.limits, c.update)

	for {
		idx, ok := it.Next()
		if !ok {
			return nil
		}
		ch := channels[idx]

		if err := ctx.Err(); err != nil {
			return err
		}

		reports <- ProgressReport{State: Adjusting, Channel: ch.id, Message: "Настройка канала"}

		singleReports, err := single.TryStartFrom(ch.id, target, c.ppm, ch.edgeBP)
		if err != nil {
			return fmt.Errorf("канал %d: %w", ch.id, err)
		}

		var lastErr error
		for r := range singleReports {
			reports <- ProgressReport{State: Adjusting, Channel: ch.id, Message: r.Message}
			if r.Kind == control.ErrorReport {
				lastErr = errors.New(r.Message)
			}
		}

		ch.lastSelected = time.Now()
		if lastErr != nil {
			c.log.Warn("channel adjustment failed", "channel", ch.id, "err", lastErr)
			ch.outcome = Unstable
			continue
		}
		ch.outcome = Ok
	}
}
