package monochromator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/heartbeat"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/arloliu/go-monochromator/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrMotionInProgress is returned when a move is requested while another is outstanding.
var ErrMotionInProgress = motion.ErrMotionInProgress

// Status is a snapshot of the device state as last confirmed by the controller.
type Status struct {
	device.Snapshot

	// Session is the state of the controller connection.
	Session transport.State
	// InBounds reports whether Position lies within the configured limits.
	InBounds bool
	// Offset is the wavelength calibration offset last confirmed.
	Offset float64
	// OffsetKnown is false from connecting until a calibration or reset is confirmed.
	OffsetKnown bool

	HeartbeatRunning     bool
	HeartbeatLastSuccess time.Time
	HeartbeatFailures    int
}

// Controller is the upward interface of the monochromator core.
type Controller struct {
	session   *transport.Session
	validator *device.Validator
	tracker   *device.Tracker
	motion    *motion.Controller
	monitor   *heartbeat.Monitor
	logger    logger.Logger

	subSeq   atomic.Uint64
	lossSubs *xsync.MapOf[uint64, chan heartbeat.Loss]
}

// New creates a disconnected Controller for the controller reachable through connCfg.
func New(ctx context.Context, connCfg *transport.Config, limits device.Limits, opts ...Option) (*Controller, error) {
	if connCfg == nil {
		return nil, transport.ErrConfigNil
	}

	o := &options{logger: connCfg.Logger()}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	validator, err := device.NewValidator(limits)
	if err != nil {
		return nil, err
	}

	session, err := transport.NewSession(connCfg)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		session:   session,
		validator: validator,
		tracker:   device.NewTracker(device.Position{}),
		logger:    logger.Component(o.logger, "monochromator"),
		lossSubs:  xsync.NewMapOf[uint64, chan heartbeat.Loss](),
	}

	motionOpts := append([]motion.Option{motion.WithLogger(o.logger)}, o.motionOpts...)
	c.motion, err = motion.New(ctx, session, validator, c.tracker, motionOpts...)
	if err != nil {
		return nil, err
	}

	hbOpts := append([]heartbeat.Option{heartbeat.WithLogger(o.logger)}, o.heartbeatOpts...)
	hbOpts = append(hbOpts, heartbeat.WithLossHandler(c.onLoss))
	c.monitor, err = heartbeat.New(ctx, session, hbOpts...)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Session returns the transport session.
func (c *Controller) Session() *transport.Session { return c.session }

// Heartbeat returns the heartbeat monitor.
func (c *Controller) Heartbeat() *heartbeat.Monitor { return c.monitor }

// Validator returns the bounds validator.
func (c *Controller) Validator() *device.Validator { return c.validator }

// Connect connects to the controller and seeds the tracked state from its read back.
// The returned status is the controller software status; callers decide what a status
// other than READY means to them.
func (c *Controller) Connect(ctx context.Context) (device.Status, error) {
	if err := c.session.Connect(ctx); err != nil {
		return device.StatusOffline, err
	}

	status, err := motion.ReadStatus(ctx, c.session)
	if err != nil {
		return device.StatusOffline, err
	}

	pos, err := motion.ReadPosition(ctx, c.session)
	if err != nil {
		return status, err
	}

	// a reconnect cannot tell whether the controller kept its calibration
	c.motion.ForgetOffset()
	c.tracker.Seed(pos, status)

	c.logger.Info("connected to controller", "address", c.session.Config().Address(),
		"status", status.String(), "position", pos.String())

	return status, nil
}

// Disconnect stops the heartbeat, cancels the outstanding move and closes the connection.
// A FAULTED session stays FAULTED.
func (c *Controller) Disconnect() {
	c.monitor.Stop()
	c.motion.Close()
	c.session.Disconnect()
	c.tracker.ConfirmStatus(device.StatusOffline)
}

// Reset is Disconnect that also clears the fault and heartbeat state, so Connect may be
// called again.
func (c *Controller) Reset() {
	c.monitor.Stop()
	c.monitor.Reset()
	c.motion.Close()
	c.session.Reset()
	c.tracker.ConfirmStatus(device.StatusOffline)
}

// Close releases the controller. It is Disconnect followed by dropping every loss subscription.
func (c *Controller) Close() {
	c.Disconnect()
	c.lossSubs.Range(func(id uint64, _ chan heartbeat.Loss) bool {
		c.lossSubs.Delete(id)
		return true
	})
}

func (c *Controller) checkSession() error {
	switch c.session.State() {
	case transport.ConnectedState:
		return nil
	case transport.FaultedState:
		return transport.ErrSessionFaulted
	default:
		return transport.ErrNotConnected
	}
}

// SetWavelength moves to nm, selecting the grating that serves it first when needed.
func (c *Controller) SetWavelength(nm float64) (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.MoveWavelength(nm)
}

// SetGrating selects grating g.
func (c *Controller) SetGrating(g device.Grating) (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.MoveGrating(g)
}

// SetSlitWidth sets the width of slit to mm.
func (c *Controller) SetSlitWidth(slit device.Slit, mm float64) (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.MoveSlit(slit, mm)
}

// CalibrateWavelength replaces the wavelength calibration offset.
func (c *Controller) CalibrateWavelength(offset float64) (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.Calibrate(offset)
}

// UpdateSetup sets wavelength, grating and both slits together.
func (c *Controller) UpdateSetup(p device.Position) (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.Setup(p)
}

// ResetController resets the controller to its initial position.
func (c *Controller) ResetController() (*motion.Move, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}

	return c.motion.Reset()
}

// CurrentMove returns the outstanding move, or nil.
func (c *Controller) CurrentMove() *motion.Move { return c.motion.Current() }

// GetStatus returns the tracked state. It performs no I/O.
func (c *Controller) GetStatus() Status {
	snap := c.tracker.Snapshot()

	return Status{
		Snapshot:             snap,
		Session:              c.session.State(),
		InBounds:             c.validator.InBounds(snap.Position),
		Offset:               c.motion.Offset(),
		OffsetKnown:          c.motion.OffsetKnown(),
		HeartbeatRunning:     c.monitor.Running(),
		HeartbeatLastSuccess: c.monitor.LastSuccess(),
		HeartbeatFailures:    c.monitor.Failures(),
	}
}

// RefreshStatus reads the controller status and position back and records them.
// It fails with ErrMotionInProgress while a move is outstanding.
func (c *Controller) RefreshStatus(ctx context.Context) (Status, error) {
	if err := c.checkSession(); err != nil {
		return c.GetStatus(), err
	}
	if c.tracker.IsInMotion() {
		return c.GetStatus(), ErrMotionInProgress
	}

	status, err := motion.ReadStatus(ctx, c.session)
	if err != nil {
		return c.GetStatus(), err
	}
	pos, err := motion.ReadPosition(ctx, c.session)
	if err != nil {
		return c.GetStatus(), err
	}

	c.tracker.ConfirmStatus(status)
	c.tracker.ConfirmPosition(pos)

	return c.GetStatus(), nil
}

// StartHeartbeat starts the heartbeat monitor. The session must be connected.
func (c *Controller) StartHeartbeat() error {
	if err := c.checkSession(); err != nil {
		return err
	}

	err := c.monitor.Start()
	if errors.Is(err, heartbeat.ErrAlreadyRunning) {
		return nil
	}

	return err
}

// StopHeartbeat stops the heartbeat monitor.
func (c *Controller) StopHeartbeat() { c.monitor.Stop() }

// SubscribeLoss returns a channel receiving heartbeat losses and a func ending the
// subscription. A subscriber that does not drain its channel misses later losses.
func (c *Controller) SubscribeLoss() (<-chan heartbeat.Loss, func()) {
	id := c.subSeq.Add(1)
	ch := make(chan heartbeat.Loss, 1)
	c.lossSubs.Store(id, ch)

	return ch, func() { c.lossSubs.Delete(id) }
}

// onLoss faults the session, so further commands fail until Reset, and notifies subscribers.
func (c *Controller) onLoss(loss heartbeat.Loss) {
	c.session.Fault(loss.Cause)

	status := device.StatusOffline
	if s, ok := c.monitor.LastStatus(); ok && errors.Is(loss.Cause, heartbeat.ErrControllerFault) {
		status = s
	}
	c.tracker.ConfirmStatus(status)

	c.lossSubs.Range(func(_ uint64, ch chan heartbeat.Loss) bool {
		select {
		case ch <- loss:
		default:
		}

		return true
	})
}
