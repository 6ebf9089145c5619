package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/internal/task"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/transport"
)

const pollTaskName = "heartbeatPollTask"

// Prober performs liveness round trips whose read timeout does not fault the session.
// *transport.Session implements it.
type Prober interface {
	Probe(ctx context.Context, line string, timeout time.Duration) (string, error)
	Fault(cause error)
}

// Loss describes a detected connection loss.
type Loss struct {
	// Cause is ErrNoResponse, ErrControllerFault, or the I/O or protocol error observed.
	Cause error
	// Failures is the number of consecutive failed polls, the last one included.
	Failures int
	// LastSuccess is the time of the last successful poll, zero if none succeeded.
	LastSuccess time.Time
	At          time.Time
}

// LossHandler is invoked once per reported loss.
type LossHandler func(Loss)

// Monitor polls the controller status periodically.
type Monitor struct {
	prober  Prober
	opts    *options
	logger  logger.Logger
	taskMgr *task.Manager
	metrics Metrics

	startMu sync.Mutex

	failures    atomic.Int32
	lastSuccess atomic.Int64
	lastStatus  atomic.Int32
	lost        atomic.Bool
	lostCh      chan Loss
}

// New creates a stopped Monitor polling through prober.
func New(ctx context.Context, prober Prober, opts ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("heartbeat: prober is nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	l := logger.Component(o.logger, "heartbeat")
	m := &Monitor{
		prober:  prober,
		opts:    o,
		logger:  l,
		taskMgr: task.NewManager(ctx, l),
		lostCh:  make(chan Loss, 1),
	}
	m.lastStatus.Store(-1)

	return m, nil
}

// Period returns the time between polls.
func (m *Monitor) Period() time.Duration { return m.opts.period }

// Timeout returns the read timeout of a poll.
func (m *Monitor) Timeout() time.Duration { return m.opts.timeout }

// Threshold returns the number of consecutive timeouts reported as a loss.
func (m *Monitor) Threshold() int { return m.opts.threshold }

// Metrics returns the monitor counters.
func (m *Monitor) Metrics() *Metrics { return &m.metrics }

// Start starts polling. The first poll happens one period after Start.
//
// Starting a monitor that reported a loss resets it first.
func (m *Monitor) Start() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.lost.Load() {
		// the poll task ends itself after reporting
		m.taskMgr.Wait()
		m.Reset()
	}

	if m.taskMgr.TaskCount() > 0 {
		return ErrAlreadyRunning
	}

	if _, err := m.taskMgr.StartInterval(pollTaskName, m.pollTask, m.opts.period, false); err != nil {
		return err
	}

	m.logger.Info("heartbeat started", "period", m.opts.period, "timeout", m.opts.timeout,
		"threshold", m.opts.threshold)

	return nil
}

// Stop stops polling and waits for an outstanding poll to return. It does not reset the
// loss state.
func (m *Monitor) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	running := m.taskMgr.TaskCount() > 0
	m.taskMgr.Stop()
	m.taskMgr.Wait()

	if running {
		m.logger.Info("heartbeat stopped")
	}
}

// Running reports whether the monitor is polling.
func (m *Monitor) Running() bool { return m.taskMgr.TaskCount() > 0 }

// Reset clears the failure counter and re-arms loss reporting. A pending loss is discarded.
func (m *Monitor) Reset() {
	m.failures.Store(0)
	select {
	case <-m.lostCh:
	default:
	}
	m.lost.Store(false)
}

// Lost returns a channel receiving the reported loss. At most one loss is delivered until
// Reset.
func (m *Monitor) Lost() <-chan Loss { return m.lostCh }

// IsLost reports whether a loss was reported since the last Reset.
func (m *Monitor) IsLost() bool { return m.lost.Load() }

// Failures returns the number of consecutive failed polls.
func (m *Monitor) Failures() int { return int(m.failures.Load()) }

// LastSuccess returns the time of the last successful poll, zero if none succeeded.
func (m *Monitor) LastSuccess() time.Time {
	ns := m.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

// LastStatus returns the status reported by the last successful poll.
func (m *Monitor) LastStatus() (device.Status, bool) {
	v := m.lastStatus.Load()
	if v < 0 {
		return 0, false
	}

	return device.Status(v), true
}

// pollTask runs one poll; it returns false to end polling.
func (m *Monitor) pollTask() bool {
	if m.lost.Load() {
		return false
	}

	ctx := m.taskMgr.Context()
	m.metrics.incPollCount()

	line, err := m.prober.Probe(ctx, codec.Query(codec.VerbStatus).String(), m.opts.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}

		return m.pollFailed(err)
	}

	v, err := codec.DecodeInt(codec.VerbStatus, line)
	if err == nil && !device.Status(v).Valid() {
		err = &codec.ProtocolError{Line: line, Reason: fmt.Sprintf("unknown status %d", v)}
	}
	if err != nil {
		if errors.Is(err, codec.ErrProtocol) {
			m.prober.Fault(err)
		}

		return m.pollFailed(err)
	}

	status := device.Status(v)
	m.lastStatus.Store(int32(status))

	if status == device.StatusFault || status == device.StatusOffline {
		m.metrics.incPollErrCount()
		m.report(fmt.Errorf("%w: status %s", ErrControllerFault, status), int(m.failures.Add(1)))

		return false
	}

	if n := m.failures.Swap(0); n > 0 {
		m.logger.Info("heartbeat recovered", "failures", n)
	}
	m.lastSuccess.Store(time.Now().UnixNano())

	return true
}

func (m *Monitor) pollFailed(err error) bool {
	m.metrics.incPollErrCount()
	n := int(m.failures.Add(1))

	// a rejected query still proves the link is alive, count it like a timeout
	recoverable := errors.Is(err, transport.ErrReadTimeout) || errors.Is(err, codec.ErrRejected)
	if !recoverable {
		m.report(err, n)
		return false
	}

	if errors.Is(err, transport.ErrReadTimeout) {
		m.metrics.incTimeoutCount()
	}

	m.logger.Warn("heartbeat poll failed", "failures", n, "threshold", m.opts.threshold, "error", err)
	if n >= m.opts.threshold {
		m.report(fmt.Errorf("%w: %d consecutive failed polls: %w", ErrNoResponse, n, err), n)
		return false
	}

	return true
}

func (m *Monitor) report(cause error, failures int) {
	if !m.lost.CompareAndSwap(false, true) {
		return
	}

	m.metrics.incLossCount()
	loss := Loss{
		Cause:       cause,
		Failures:    failures,
		LastSuccess: m.LastSuccess(),
		At:          time.Now(),
	}

	m.logger.Error("controller connection lost", "failures", failures, "error", cause)

	select {
	case m.lostCh <- loss:
	default:
	}

	for _, h := range m.opts.handlers {
		h(loss)
	}
}
