package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/config"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/heartbeat"
	"github.com/arloliu/go-monochromator/internal/task"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/monochromator"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/arloliu/go-monochromator/transport"
)

type sessionLoss struct {
	gen  uint64
	loss heartbeat.Loss
}

// Component is the monochromator state machine. It is safe for concurrent use.
type Component struct {
	ctx     context.Context
	cfg     *config.Config
	opts    *options
	logger  logger.Logger
	taskMgr *task.Manager

	// transMu serializes summary state transitions.
	transMu sync.Mutex

	mu        sync.Mutex // protects the fields below
	summary   State
	detailed  DetailedState
	errorCode ErrorCode
	report    string
	ctrl      *monochromator.Controller
	sim       *mock.Controller

	gen    atomic.Uint64
	lossCh chan sessionLoss
}

// New creates a Component in STANDBY.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Component, error) {
	if cfg == nil {
		return nil, errors.New("component: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		progressInterval: cfg.PollIntervalDuration(),
		logger:           logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	l := logger.Component(o.logger, "component")
	c := &Component{
		ctx:      ctx,
		cfg:      cfg,
		opts:     o,
		logger:   l,
		taskMgr:  task.NewManager(ctx, l),
		summary:  Standby,
		detailed: NotEnabled,
		lossCh:   make(chan sessionLoss, 1),
	}

	if err := c.taskMgr.Start("lossWatchTask", c.lossWatchTask); err != nil {
		return nil, err
	}

	return c, nil
}

// Close disconnects and stops the component goroutines. The component is OFFLINE afterwards.
func (c *Component) Close() {
	c.transMu.Lock()
	c.disconnect()
	c.setState(Offline, NotEnabled)
	c.transMu.Unlock()

	c.taskMgr.Stop()
	c.taskMgr.Wait()
}

// State returns the summary and detailed state.
func (c *Component) State() (State, DetailedState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.summary, c.detailed
}

// ErrorCode returns the code and report of the last fault, NoError outside FAULT.
func (c *Component) ErrorCode() (ErrorCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.errorCode, c.report
}

// Controller returns the connected controller, nil when disconnected.
func (c *Component) Controller() *monochromator.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ctrl
}

// Simulator returns the running simulated controller, nil outside simulation mode or when
// disconnected.
func (c *Component) Simulator() *mock.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sim
}

// DeviceStatus returns the tracked device state. ok is false when disconnected.
func (c *Component) DeviceStatus() (status monochromator.Status, ok bool) {
	ctrl := c.Controller()
	if ctrl == nil {
		return monochromator.Status{}, false
	}

	return ctrl.GetStatus(), true
}

// Start goes from STANDBY to DISABLED and connects to the controller.
func (c *Component) Start(ctx context.Context) error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("start", Standby); err != nil {
		return err
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	c.setState(Disabled, Ready)

	return nil
}

// Enable goes from DISABLED to ENABLED.
func (c *Component) Enable(ctx context.Context) error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("enable", Disabled); err != nil {
		return err
	}

	if c.Controller() == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.setState(Enabled, Ready)

	return nil
}

// Disable goes from ENABLED to DISABLED. A running device command is not interrupted.
func (c *Component) Disable() error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("disable", Enabled); err != nil {
		return err
	}

	c.mu.Lock()
	detailed := c.detailed
	c.mu.Unlock()

	c.setState(Disabled, detailed)

	return nil
}

// Standby goes from DISABLED or FAULT to STANDBY and disconnects. Leaving FAULT clears the
// error code.
func (c *Component) Standby() error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("standby", Disabled, Fault); err != nil {
		return err
	}

	c.toStandby()

	return nil
}

// ClearFault goes from FAULT to STANDBY.
func (c *Component) ClearFault() error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("clear fault", Fault); err != nil {
		return err
	}

	c.toStandby()

	return nil
}

// ExitControl goes from STANDBY to OFFLINE.
func (c *Component) ExitControl() error {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	if err := c.expect("exit control", Standby); err != nil {
		return err
	}

	c.setState(Offline, NotEnabled)

	return nil
}

// Fault goes to FAULT with code and disconnects. It is a no-op in FAULT and OFFLINE, so a
// failure is reported once.
func (c *Component) Fault(code ErrorCode, report string) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.fault(code, report)
}

func (c *Component) expect(cmd string, allowed ...State) error {
	c.mu.Lock()
	cur := c.summary
	c.mu.Unlock()

	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}

	return fmt.Errorf("%w: %s in %s", ErrInvalidCommand, cmd, cur)
}

func (c *Component) toStandby() {
	c.disconnect()

	c.mu.Lock()
	c.errorCode, c.report = NoError, ""
	c.mu.Unlock()

	c.setState(Standby, NotEnabled)
}

// fault must be called with transMu held.
func (c *Component) fault(code ErrorCode, report string) {
	c.mu.Lock()
	if c.summary == Fault || c.summary == Offline {
		c.mu.Unlock()
		return
	}
	c.errorCode, c.report = code, report
	c.mu.Unlock()

	c.logger.Error("component faulted", "code", code.String(), "report", report)

	c.disconnect()
	c.setState(Fault, NotEnabled)

	for _, h := range c.opts.faultHandlers {
		h(code, report)
	}
}

func (c *Component) setState(summary State, detailed DetailedState) {
	c.mu.Lock()
	changed := c.summary != summary || c.detailed != detailed
	prev := c.summary
	c.summary, c.detailed = summary, detailed
	c.mu.Unlock()

	if !changed {
		return
	}

	if prev != summary {
		c.logger.Info("summary state changed", "from", prev.String(), "to", summary.String(),
			"detailed", detailed.String())
	}

	for _, h := range c.opts.stateHandlers {
		h(summary, detailed)
	}
}

func (c *Component) setDetailed(detailed DetailedState) {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()

	c.setState(summary, detailed)
}

// connect must be called with transMu held. On failure the component is in FAULT.
func (c *Component) connect(ctx context.Context) error {
	cfg := *c.cfg

	var sim *mock.Controller
	if c.opts.simulation {
		mockOpts := append([]mock.Option{
			mock.WithAddress(cfg.Host, cfg.Port),
			mock.WithLimits(cfg.Limits()),
			mock.WithLogger(c.opts.logger),
		}, c.opts.mockOpts...)

		var err error
		if sim, err = mock.New(mockOpts...); err == nil {
			err = sim.Start(c.ctx)
		}
		if err != nil {
			c.fault(ConnectionFailed, "start simulated controller: "+err.Error())
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		cfg.Host, cfg.Port = sim.Host(), sim.Port()
		c.logger.Warn("simulation mode, connecting to the simulated controller", "address", sim.Addr().String())
	}

	ctrl, err := c.newController(&cfg)
	if err != nil {
		if sim != nil {
			sim.Stop()
		}
		c.fault(ConnectionFailed, err.Error())

		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.ctrl, c.sim = ctrl, sim
	c.mu.Unlock()

	status, err := ctrl.Connect(ctx)
	if err != nil {
		c.fault(ConnectionFailed, "connect: "+err.Error())
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if status != device.StatusReady {
		report := "controller is not ready, status " + status.String()
		c.fault(HardwareNotReady, report)

		return fmt.Errorf("%w: status %s", ErrHardwareNotReady, status)
	}

	if err := ctrl.StartHeartbeat(); err != nil {
		c.fault(ConnectionLost, "start heartbeat: "+err.Error())
		return err
	}

	return nil
}

func (c *Component) newController(cfg *config.Config) (*monochromator.Controller, error) {
	connCfg, err := cfg.TransportConfig(c.opts.logger)
	if err != nil {
		return nil, err
	}

	gen := c.gen.Add(1)
	onLoss := func(loss heartbeat.Loss) {
		select {
		case c.lossCh <- sessionLoss{gen: gen, loss: loss}:
		default:
		}
	}

	opts := append(cfg.MonochromatorOptions(),
		monochromator.WithLogger(c.opts.logger),
		monochromator.WithHeartbeatOptions(heartbeat.WithLossHandler(onLoss)),
	)

	return monochromator.New(c.ctx, connCfg, cfg.Limits(), opts...)
}

// disconnect must be called with transMu held.
func (c *Component) disconnect() {
	c.mu.Lock()
	ctrl, sim := c.ctrl, c.sim
	c.ctrl, c.sim = nil, nil
	c.mu.Unlock()

	// losses of the closed session are stale from here on
	c.gen.Add(1)

	if ctrl != nil {
		ctrl.Close()
	}
	if sim != nil {
		sim.Stop()
	}
}

func (c *Component) lossWatchTask() bool {
	select {
	case <-c.taskMgr.Context().Done():
		return false

	case sl := <-c.lossCh:
		if sl.gen != c.gen.Load() {
			return true
		}

		code := ConnectionLost
		if errors.Is(sl.loss.Cause, heartbeat.ErrControllerFault) {
			code = HardwareError
		}
		c.Fault(code, "heartbeat: "+sl.loss.Cause.Error())

		return true
	}
}

// ChangeWavelength moves to nm and waits for the move to end.
func (c *Component) ChangeWavelength(ctx context.Context, nm float64) (motion.Result, error) {
	return c.run(ctx, ChangingWavelength, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.SetWavelength(nm)
	})
}

// SelectGrating selects grating g and waits for the move to end.
func (c *Component) SelectGrating(ctx context.Context, g device.Grating) (motion.Result, error) {
	return c.run(ctx, SelectingGrating, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.SetGrating(g)
	})
}

// ChangeSlitWidth sets the width of slit and waits for the move to end.
func (c *Component) ChangeSlitWidth(ctx context.Context, slit device.Slit, mm float64) (motion.Result, error) {
	return c.run(ctx, ChangingSlitWidth, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.SetSlitWidth(slit, mm)
	})
}

// CalibrateWavelength replaces the wavelength calibration offset.
func (c *Component) CalibrateWavelength(ctx context.Context, offset float64) (motion.Result, error) {
	return c.run(ctx, CalibratingWavelength, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.CalibrateWavelength(offset)
	})
}

// UpdateSetup sets wavelength, grating and both slits together.
func (c *Component) UpdateSetup(ctx context.Context, p device.Position) (motion.Result, error) {
	return c.run(ctx, UpdatingSetup, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.UpdateSetup(p)
	})
}

// ResetController resets the controller to its initial position.
func (c *Component) ResetController(ctx context.Context) (motion.Result, error) {
	return c.run(ctx, ResettingController, func(ctrl *monochromator.Controller) (*motion.Move, error) {
		return ctrl.ResetController()
	})
}

// beginCommand claims the READY detailed state for a device command.
func (c *Component) beginCommand(detailed DetailedState) (*monochromator.Controller, error) {
	c.mu.Lock()
	if c.summary != Enabled || c.ctrl == nil {
		summary := c.summary
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: summary state %s", ErrNotEnabled, summary)
	}
	if c.detailed != Ready {
		cur := c.detailed
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrNotReady, cur)
	}
	ctrl := c.ctrl
	c.mu.Unlock()

	c.setDetailed(detailed)

	return ctrl, nil
}

func (c *Component) endCommand(detailed DetailedState) {
	c.mu.Lock()
	still := c.detailed == detailed
	c.mu.Unlock()

	if still {
		c.setDetailed(Ready)
	}
}

func (c *Component) run(ctx context.Context, detailed DetailedState,
	start func(*monochromator.Controller) (*motion.Move, error),
) (motion.Result, error) {
	ctrl, err := c.beginCommand(detailed)
	if err != nil {
		return motion.Result{}, err
	}
	defer c.endCommand(detailed)

	m, err := start(ctrl)
	if err != nil {
		c.commandFailed(detailed, err)
		return motion.Result{Kind: motion.Failed, Err: err}, err
	}

	r := c.await(ctx, detailed.String(), m)
	if r.IsFailed() {
		c.commandFailed(detailed, r.Err)
		return r, r.Err
	}

	return r, nil
}

func (c *Component) await(ctx context.Context, name string, m *motion.Move) motion.Result {
	ticker := time.NewTicker(c.opts.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.Done():
			return m.Poll()

		case <-ticker.C:
			r := m.Poll()
			if !r.IsInProgress() {
				continue
			}
			for _, h := range c.opts.progressHandlers {
				h(name, r)
			}

		case <-ctx.Done():
			m.Cancel()
			<-m.Done()

			return m.Poll()
		}
	}
}

// commandFailed faults the component when err means the controller or the connection can
// no longer be trusted. Rejected requests, timeouts and cancellation only fail the command.
func (c *Component) commandFailed(detailed DetailedState, err error) {
	switch {
	case errors.Is(err, motion.ErrControllerFault):
		c.Fault(HardwareError, detailed.String()+": "+err.Error())

	case errors.Is(err, device.ErrOutOfRange),
		errors.Is(err, motion.ErrInvalidSlit),
		errors.Is(err, motion.ErrMotionInProgress),
		errors.Is(err, motion.ErrMoveCanceled),
		errors.Is(err, motion.ErrMoveTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("command failed", "command", detailed.String(), "error", err)

	case errors.Is(err, transport.ErrConnectionLost),
		errors.Is(err, transport.ErrReadTimeout),
		errors.Is(err, transport.ErrWriteTimeout),
		errors.Is(err, transport.ErrSessionFaulted),
		errors.Is(err, transport.ErrNotConnected):
		c.Fault(ConnectionLost, detailed.String()+": "+err.Error())

	default:
		// rejected by the controller or a protocol error, the latter faulted the session
		ctrl := c.Controller()
		if ctrl != nil && ctrl.Session().State() == transport.FaultedState {
			c.Fault(ConnectionLost, detailed.String()+": "+err.Error())
			return
		}
		c.logger.Warn("command failed", "command", detailed.String(), "error", err)
	}
}
