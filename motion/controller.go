package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/internal/pool"
	"github.com/arloliu/go-monochromator/internal/task"
	"github.com/arloliu/go-monochromator/logger"
)

// Controller plans and runs device moves. At most one move is outstanding at a time.
type Controller struct {
	ex        Exchanger
	validator *device.Validator
	tracker   *device.Tracker
	opts      *options
	logger    logger.Logger
	taskMgr   *task.Manager

	seq atomic.Uint64

	mu          sync.Mutex
	offset      float64
	offsetKnown bool
	current     *Move
}

// New creates a Controller driving moves through ex. Confirmed values are recorded in tracker.
func New(ctx context.Context, ex Exchanger, validator *device.Validator, tracker *device.Tracker, opts ...Option) (*Controller, error) {
	if ex == nil || validator == nil || tracker == nil {
		return nil, errors.New("motion: exchanger, validator and tracker are required")
	}

	o := &options{
		pollInterval:   500 * time.Millisecond,
		moveTimeout:    60 * time.Second,
		gratingTimeout: 300 * time.Second,
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	l := logger.Component(o.logger, "motion")

	return &Controller{
		ex:          ex,
		validator:   validator,
		tracker:     tracker,
		opts:        o,
		logger:      l,
		taskMgr:     task.NewManager(ctx, l),
		offsetKnown: true,
	}, nil
}

// Close cancels the outstanding move, if any, and waits for it to end.
func (mc *Controller) Close() {
	mc.taskMgr.Stop()
	mc.taskMgr.Wait()
}

// Current returns the outstanding move, or nil.
func (mc *Controller) Current() *Move {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.current == nil {
		return nil
	}

	select {
	case <-mc.current.Done():
		return nil
	default:
		return mc.current
	}
}

// Offset returns the wavelength calibration offset last confirmed, or 0 when unknown.
func (mc *Controller) Offset() float64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return mc.offset
}

// OffsetKnown reports whether the controller offset is known, i.e. set by a confirmed
// calibration or reset since the offset was last forgotten.
func (mc *Controller) OffsetKnown() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return mc.offsetKnown
}

// ResetOffset records that the controller offset is 0, as it is after a reset.
func (mc *Controller) ResetOffset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.offset = 0
	mc.offsetKnown = true
}

// ForgetOffset marks the controller offset unknown. A controller reached over a new
// connection may hold any offset, and the protocol has no query for it.
func (mc *Controller) ForgetOffset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.offset = 0
	mc.offsetKnown = false
}

// MoveWavelength moves to nm. When nm is served by a grating other than the selected one,
// that grating is selected first.
func (mc *Controller) MoveWavelength(nm float64) (*Move, error) {
	nm = codec.Quantize(nm)

	required, err := mc.validator.Wavelength(nm)
	if err != nil {
		return nil, err
	}

	cur := mc.tracker.CurrentPosition()
	target := cur
	target.Wavelength = nm
	target.Grating = required

	var steps []step
	if cur.Grating != required {
		withGrating := cur
		withGrating.Grating = required
		steps = append(steps, step{
			name:    "select grating",
			cmd:     codec.SelectGrating(int(required)),
			target:  withGrating,
			verbs:   []codec.Verb{codec.VerbGrating},
			timeout: mc.opts.gratingTimeout,
		})
	}

	steps = append(steps, step{
		name:    "set wavelength",
		cmd:     codec.SetWavelength(nm),
		target:  target,
		verbs:   []codec.Verb{codec.VerbWavelength},
		timeout: mc.opts.moveTimeout,
	})

	return mc.start("wavelength", target, steps)
}

// MoveGrating selects grating g.
func (mc *Controller) MoveGrating(g device.Grating) (*Move, error) {
	if err := mc.validator.Grating(g); err != nil {
		return nil, err
	}

	target := mc.tracker.CurrentPosition()
	target.Grating = g

	return mc.start("grating", target, []step{{
		name:    "select grating",
		cmd:     codec.SelectGrating(int(g)),
		target:  target,
		verbs:   []codec.Verb{codec.VerbGrating},
		timeout: mc.opts.gratingTimeout,
	}})
}

// MoveSlit sets the width of slit to mm.
func (mc *Controller) MoveSlit(slit device.Slit, mm float64) (*Move, error) {
	if !slit.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSlit, slit)
	}

	mm = codec.Quantize(mm)
	if err := mc.validator.SlitWidth(mm); err != nil {
		return nil, err
	}

	cmd, verb := codec.SetEntranceSlit(mm), codec.VerbEntranceSlit
	if slit == device.SlitExit {
		cmd, verb = codec.SetExitSlit(mm), codec.VerbExitSlit
	}

	target := mc.tracker.CurrentPosition().WithSlitWidth(slit, mm)

	return mc.start("slit", target, []step{{
		name:    "set " + slit.String() + " slit",
		cmd:     cmd,
		target:  target,
		verbs:   []codec.Verb{verb},
		timeout: mc.opts.moveTimeout,
	}})
}

// Calibrate replaces the wavelength calibration offset. The reported wavelength shifts by
// the difference between the new and the current offset. While the current offset is known
// the request is validated before any I/O; otherwise the controller is the only judge of
// range. The step confirms whatever wavelength the controller reports once READY.
func (mc *Controller) Calibrate(offset float64) (*Move, error) {
	offset = codec.Quantize(offset)

	cur := mc.tracker.CurrentPosition()
	target := cur

	mc.mu.Lock()
	known, prev := mc.offsetKnown, mc.offset
	mc.mu.Unlock()

	if known {
		uncorrected := cur.Wavelength - prev
		if err := mc.validator.Calibration(uncorrected, offset); err != nil {
			return nil, err
		}
		target.Wavelength = codec.Quantize(uncorrected + offset)
	}

	return mc.start("calibration", target, []step{{
		name:     "calibrate wavelength",
		cmd:      codec.CalibrateWavelength(offset),
		target:   target,
		verbs:    []codec.Verb{codec.VerbWavelength},
		timeout:  mc.opts.moveTimeout,
		readBack: true,
		onConfirm: func() {
			mc.mu.Lock()
			mc.offset = offset
			mc.offsetKnown = true
			mc.mu.Unlock()
		},
	}})
}

// Setup sets wavelength, grating and both slits with one command. The grating must be the
// one serving the wavelength, or the mirror.
func (mc *Controller) Setup(p device.Position) (*Move, error) {
	p = device.Position{
		Wavelength: codec.Quantize(p.Wavelength),
		Grating:    p.Grating,
		EntrySlit:  codec.Quantize(p.EntrySlit),
		ExitSlit:   codec.Quantize(p.ExitSlit),
	}
	if err := mc.validator.Setup(p); err != nil {
		return nil, err
	}

	timeout := mc.opts.moveTimeout
	if p.Grating != mc.tracker.CurrentPosition().Grating {
		timeout = mc.opts.gratingTimeout
	}

	return mc.start("setup", p, []step{{
		name:    "update setup",
		cmd:     codec.SetAll(p.Wavelength, int(p.Grating), p.EntrySlit, p.ExitSlit),
		target:  p,
		verbs:   allVerbs,
		timeout: timeout,
	}})
}

// Reset resets the controller, which returns to the minimum wavelength on the first grating
// with both slits at the minimum width and clears the calibration offset.
func (mc *Controller) Reset() (*Move, error) {
	l := mc.validator.Limits()
	target := device.Position{
		Wavelength: codec.Quantize(l.MinWavelength),
		Grating:    device.Grating1,
		EntrySlit:  codec.Quantize(l.MinSlitWidth),
		ExitSlit:   codec.Quantize(l.MinSlitWidth),
	}

	return mc.start("reset", target, []step{{
		name:    "reset controller",
		cmd:     codec.ResetController(),
		target:  target,
		verbs:   allVerbs,
		timeout: mc.opts.gratingTimeout,
		onConfirm: func() {
			mc.ResetOffset()
		},
	}})
}

var allVerbs = []codec.Verb{
	codec.VerbWavelength,
	codec.VerbGrating,
	codec.VerbEntranceSlit,
	codec.VerbExitSlit,
}

func (mc *Controller) start(kind string, target device.Position, steps []step) (*Move, error) {
	if !mc.tracker.BeginMotion(target) {
		return nil, ErrMotionInProgress
	}

	ctx, cancel := context.WithCancel(mc.taskMgr.Context())
	m := newMove(mc.seq.Add(1), kind, target, cancel)

	mc.mu.Lock()
	mc.current = m
	mc.mu.Unlock()

	mc.logger.Info("move started", "id", m.id, "kind", kind, "target", target.String(), "steps", len(steps))

	err := mc.taskMgr.StartWithCancel("move", func() bool {
		mc.run(ctx, m, steps)
		return false
	}, func() {
		// the manager stopped before the move ran
		mc.finish(m, Result{Kind: Failed, Err: ErrMoveCanceled})
	})
	if err != nil {
		mc.finish(m, Result{Kind: Failed, Err: err})
		return nil, err
	}

	return m, nil
}

func (mc *Controller) run(ctx context.Context, m *Move, steps []step) {
	for _, st := range steps {
		m.setStep(st.name)

		if err := mc.runStep(ctx, m, st); err != nil {
			mc.finish(m, Result{Kind: Failed, Err: err})
			return
		}
	}

	mc.finish(m, Result{Kind: Done, Position: mc.tracker.CurrentPosition()})
}

func (mc *Controller) finish(m *Move, r Result) {
	ended := m.finish(r, mc.tracker.EndMotion)
	if !ended {
		return
	}

	final := m.Poll()
	if final.IsFailed() {
		mc.logger.Warn("move failed", "id", m.id, "kind", m.kind, "step", final.Step,
			"elapsed", final.Elapsed, "error", final.Err)
		return
	}

	mc.logger.Info("move done", "id", m.id, "kind", m.kind, "position", final.Position.String(),
		"elapsed", final.Elapsed, "polls", final.Progress)
}

// runStep sends the command of st and polls until the controller is READY and the read back
// matches the target. A readBack step takes the first read back once READY as confirmed.
func (mc *Controller) runStep(ctx context.Context, m *Move, st step) error {
	stepCtx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	if err := Send(stepCtx, mc.ex, st.cmd); err != nil {
		if errors.Is(err, codec.ErrReplyOutOfRange) {
			return fmt.Errorf("%s: %w: %w", st.name, device.ErrOutOfRange, err)
		}

		return stepErr(ctx, stepCtx, st, err)
	}

	for {
		status, err := ReadStatus(stepCtx, mc.ex)
		if err != nil {
			return stepErr(ctx, stepCtx, st, err)
		}
		mc.tracker.ConfirmStatus(status)

		switch status {
		case device.StatusFault, device.StatusOffline:
			return fmt.Errorf("%w: status %s during %s", ErrControllerFault, status, st.name)

		case device.StatusReady:
			p, err := readBack(stepCtx, mc.ex, mc.tracker.CurrentPosition(), st.verbs)
			if err != nil {
				return stepErr(ctx, stepCtx, st, err)
			}
			matched := matches(p, st.target, st.verbs)
			if matched || st.readBack {
				if !matched {
					mc.logger.Info("recorded reported values", "step", st.name,
						"read_back", p.String(), "expected", st.target.String())
				}
				mc.confirm(p, st.verbs)
				if st.onConfirm != nil {
					st.onConfirm()
				}

				return nil
			}
			mc.logger.Debug("read back does not match target yet", "step", st.name,
				"read_back", p.String(), "target", st.target.String())
		}

		m.progress.Add(1)

		if err := pool.Sleep(stepCtx, mc.opts.pollInterval); err != nil {
			return stepErr(ctx, stepCtx, st, err)
		}
	}
}

func (mc *Controller) confirm(p device.Position, verbs []codec.Verb) {
	for _, verb := range verbs {
		switch verb {
		case codec.VerbWavelength:
			mc.tracker.ConfirmWavelength(p.Wavelength)
		case codec.VerbGrating:
			mc.tracker.ConfirmGrating(p.Grating)
		case codec.VerbEntranceSlit:
			mc.tracker.ConfirmSlitWidth(device.SlitEntry, p.EntrySlit)
		case codec.VerbExitSlit:
			mc.tracker.ConfirmSlitWidth(device.SlitExit, p.ExitSlit)
		}
	}
}

func stepErr(ctx context.Context, stepCtx context.Context, st step, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w during %s", ErrMoveCanceled, st.name)
	}

	if stepCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not confirmed within %s", ErrMoveTimeout, st.name, st.timeout)
	}

	return fmt.Errorf("%s: %w", st.name, err)
}
