// Package control drives one resonator channel through the
// edge-detection, fast-forward, and precision-stepping state machine
// that trims it onto its target frequency.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resonatorlab/laser-precision-adjust/internal/applog"
	"github.com/resonatorlab/laser-precision-adjust/internal/boxplot"
	"github.com/resonatorlab/laser-precision-adjust/internal/hardware"
	"github.com/resonatorlab/laser-precision-adjust/internal/predictor"
	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

// State is the controller's current phase.
type State int

const (
	Idle State = iota
	DetectingEdge
	FastForward
	Precision
	End
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DetectingEdge:
		return "detecting_edge"
	case FastForward:
		return "fast_forward"
	case Precision:
		return "precision"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Sentinel errors, matching the taxonomy SPEC_FULL's error-handling
// section maps onto Go: Logick is an operator-visible channel failure,
// Hardware is an I/O fault from the motion or fixture link, ModelFit
// is a failed exponential/spline fit, and AdjustInProgress/NotRunning
// guard the controller's single-run invariant.
var (
	ErrLogick          = errors.New("control: logick error")
	ErrHardware        = errors.New("control: hardware error")
	ErrModelFit        = errors.New("control: model fit failed")
	ErrAdjustInProgress = errors.New("control: adjustment already in progress")
	ErrNotRunning      = errors.New("control: not running")
)

// edgeDetectPeak is the frequency jump (Hz) that counts as the
// resonator first reacting to burns during edge detection.
const edgeDetectPeak = 0.35

// precisionAdjZapas is the step reservation FastForward must leave for
// Precision.
const precisionAdjZapas = 3

// Limits bounds one channel's adjustment run.
type Limits struct {
	EdgeDetectInterval   uint32
	FastForwardStepLimit uint32
	MaxForwardSteps      uint32
	MaxPrecisionSteps    uint32
	MinFreqOffset        float64
}

// ProgressKind classifies one ProgressReport.
type ProgressKind int

const (
	Progress ProgressKind = iota
	ErrorReport
	Finished
)

// ProgressReport is one message on a run's progress channel.
type ProgressReport struct {
	Kind    ProgressKind
	Message string
}

// Result is a completed run's final numbers.
type Result struct {
	InitialFreq     float64
	EdgeFreq        float64
	FastForwardFreq float64
	FinalFreq       float64
	StepsUsed       uint32
	State           State
}

// Controller runs the state machine for a single channel at a time.
type Controller struct {
	motion  hardware.MotionLaser
	fixture hardware.Fixture
	agg     *status.Aggregator
	pred    *predictor.Predictor
	limits  Limits
	update  time.Duration
	log     interface {
		Info(msg interface{}, kv ...interface{})
		Warn(msg interface{}, kv ...interface{})
		Error(msg interface{}, kv ...interface{})
	}

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// New builds a Controller around the given hardware/status/predictor
// handles. update is the fixture's nominal sample interval, used to
// derive every wait in the state machine.
func New(motion hardware.MotionLaser, fixture hardware.Fixture, agg *status.Aggregator, pred *predictor.Predictor, limits Limits, update time.Duration) *Controller {
	return &Controller{
		motion:  motion,
		fixture: fixture,
		agg:     agg,
		pred:    pred,
		limits:  limits,
		update:  update,
		log:     applog.New("control"),
		state:   Idle,
	}
}

// State returns the controller's current phase.
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

// TryStart begins an adjustment run for channel towards
// targetFrequency (ppm is the working tolerance), returning a channel
// of progress reports. It fails with ErrAdjustInProgress if a run is
// already active.
func (c *Controller) TryStart(channel int, targetFrequency, ppm float64) (<-chan ProgressReport, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrAdjustInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = DetectingEdge
	c.mu.Unlock()

	reports := make(chan ProgressReport, 8)
	go c.run(ctx, channel, targetFrequency, ppm, reports)
	return reports, nil
}

// TryStartFrom begins an adjustment run for channel starting directly
// at FastForward, skipping edge detection. edgeBP is the edge box-plot
// the caller already computed for this channel (typically the batch
// controller's own edge-finding pass), reused here exactly as
// detectEdge would have produced it. It fails with
// ErrAdjustInProgress if a run is already active.
func (c *Controller) TryStartFrom(channel int, targetFrequency, ppm float64, edgeBP boxplot.BoxPlot) (<-chan ProgressReport, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrAdjustInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = FastForward
	c.mu.Unlock()

	reports := make(chan ProgressReport, 8)
	go c.runFrom(ctx, channel, targetFrequency, ppm, edgeBP, reports)
	return reports, nil
}

// Cancel aborts the active run, if any, and forces the state back to
// Idle. Hardware is left however it happened to be; callers should
// reset if needed.
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

func (c *Controller) run(ctx context.Context, channel int, target, ppm float64, reports chan<- ProgressReport) {
	defer close(reports)
	defer c.setState(Idle)

	reports <- ProgressReport{Kind: Progress, Message: "Поиск края"}

	edgeSteps, initialFreq, edgeBP, err := c.detectEdge(ctx, channel, target, ppm)
	if err != nil {
		c.log.Error("edge not found", "channel", channel, "err", err)
		reports <- ProgressReport{Kind: ErrorReport, Message: err.Error()}
		return
	}
	edgeFreq := edgeBP.Median()
	reports <- ProgressReport{Kind: Progress, Message: fmt.Sprintf("Поиск края: %.2f -> %.2f Гц (%d шагов)", initialFreq, edgeFreq, edgeSteps)}

	c.runFastForwardAndPrecision(ctx, channel, target, ppm, initialFreq, edgeFreq, edgeBP, reports)
}

// runFrom drives a run that starts directly at FastForward, for a
// channel whose edge box-plot was already computed by the caller. It
// is the entry point TryStartFrom launches.
func (c *Controller) runFrom(ctx context.Context, channel int, target, ppm float64, edgeBP boxplot.BoxPlot, reports chan<- ProgressReport) {
	defer close(reports)
	defer c.setState(Idle)

	edgeFreq := edgeBP.Median()
	c.runFastForwardAndPrecision(ctx, channel, target, ppm, edgeFreq, edgeFreq, edgeBP, reports)
}

// runFastForwardAndPrecision drives FastForward and, if reached,
// Precision to completion, reporting progress along the way. It is
// the shared tail of both a full run (after edge detection finishes)
// and a resumed run that already knows its edge box-plot.
func (c *Controller) runFastForwardAndPrecision(ctx context.Context, channel int, target, ppm, initialFreq, edgeFreq float64, edgeBP boxplot.BoxPlot, reports chan<- ProgressReport) {
	c.setState(FastForward)
	nextState, ffFreq, ffSteps, err := c.fastForward(ctx, channel, target, ppm, edgeBP)
	if err != nil {
		c.log.Error("fast-forward failed", "channel", channel, "err", err)
		reports <- ProgressReport{Kind: ErrorReport, Message: err.Error()}
		return
	}
	reports <- ProgressReport{Kind: Progress, Message: fmt.Sprintf("Грубая настройка: -> %.2f Гц (%d шагов)", ffFreq, ffSteps)}

	c.setState(nextState)

	finalFreq := ffFreq
	precisionSteps := uint32(0)
	if nextState == Precision {
		var pErr error
		_, finalFreq, precisionSteps, pErr = c.precisionAdjust(ctx, channel, target, ppm, ffFreq, c.limits.MaxForwardSteps-ffSteps)
		if pErr != nil {
			c.log.Error("precision adjust failed", "channel", channel, "err", pErr)
			reports <- ProgressReport{Kind: ErrorReport, Message: pErr.Error()}
			return
		}
		reports <- ProgressReport{Kind: Progress, Message: fmt.Sprintf("Точная настройка: -> %.2f Гц (%d шагов)", finalFreq, precisionSteps)}
	} else {
		reports <- ProgressReport{Kind: Progress, Message: "Точная настройка пропущена"}
	}

	total := ffSteps + precisionSteps
	offsetPPM := (finalFreq - target) / target * 1_000_000.0
	reports <- ProgressReport{
		Kind: Finished,
		Message: fmt.Sprintf(
			"Настройка завершена: %.2f -> %.2f -> %.2f -> %.2f Гц (%+.1f ppm) за %d шагов",
			initialFreq, edgeFreq, ffFreq, finalFreq, offsetPPM, total,
		),
	}
}

// sleepCtx sleeps for d or returns ctx.Err() if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rereadFreq waits for the next Status update and returns its
// frequency, the Go analogue of the original's "capture next point".
func (c *Controller) rereadFreq(ctx context.Context) (float64, error) {
	_, changed := c.agg.Current()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-changed:
	}
	s, _ := c.agg.Current()
	return s.CurrentFrequency, nil
}

func (c *Controller) burn(ctx context.Context, soft bool) error {
	if err := c.motion.Burn(ctx, 1, 0, 3, soft); err != nil {
		if errors.Is(err, hardware.ErrLogick) {
			return fmt.Errorf("%w: не удалось включить лазер: %v", ErrLogick, err)
		}
		return fmt.Errorf("%w: не удалось включить лазер: %v", ErrHardware, err)
	}
	c.agg.OnBurn()
	return nil
}

// step makes count rapid moves, translating a travel-limit fault from
// the motion link into ErrLogick (an expected "end of travel" signal,
// not a hardware fault) and anything else into ErrHardware.
func (c *Controller) step(ctx context.Context, count int) error {
	if err := c.motion.Step(ctx, count, 3); err != nil {
		if errors.Is(err, hardware.ErrLogick) {
			return fmt.Errorf("%w: %v", ErrLogick, err)
		}
		return fmt.Errorf("%w: не удалось сделать шаг: %v", ErrHardware, err)
	}
	c.agg.OnStep(count)
	return nil
}

func (c *Controller) waitForFragmentSince(ctx context.Context, channel int, sinceTimestamp int64) (predictor.Fragment, error) {
	for {
		if f, ok := c.pred.GetLastFragment(channel); ok && f.StartTimestamp >= sinceTimestamp {
			return f, nil
		}
		if err := sleepCtx(ctx, c.update); err != nil {
			return predictor.Fragment{}, err
		}
	}
}
