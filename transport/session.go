package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/logger"
)

var aLongTimeAgo = time.Unix(1, 0)

var errPartialWrite = errors.New("request partially written")

// Session is the client side of the controller connection.
//
// It is safe for concurrent use. Round trips are serialized; Disconnect and Reset may be
// called at any time and release the socket even while a round trip is outstanding.
type Session struct {
	cfg      *Config
	logger   logger.Logger
	stateMgr *StateMgr
	metrics  Metrics

	// ioMu serializes request/response exchanges.
	ioMu sync.Mutex

	connMu sync.Mutex // protects conn and reader
	conn   net.Conn
	reader *bufio.Reader

	// owed counts replies still due for requests whose exchange was abandoned after the
	// request was written. They are read and discarded before the next exchange.
	owed atomic.Int32
}

// NewSession creates a disconnected session. The optional handlers are invoked on every
// session state change.
func NewSession(cfg *Config, handlers ...StateChangeHandler) (*Session, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	l := logger.Component(cfg.Logger(), "transport")
	s := &Session{
		cfg:    cfg,
		logger: l,
	}
	s.stateMgr = NewStateMgr(l, handlers...)

	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.cfg }

// State returns the current session state.
func (s *Session) State() State { return s.stateMgr.State() }

// AddStateHandler adds handlers invoked on every session state change.
func (s *Session) AddStateHandler(handlers ...StateChangeHandler) {
	s.stateMgr.AddHandler(handlers...)
}

// WaitState waits until the session reaches state or ctx is done.
func (s *Session) WaitState(ctx context.Context, state State) error {
	return s.stateMgr.WaitState(ctx, state)
}

// Metrics returns the session counters.
func (s *Session) Metrics() *Metrics { return &s.metrics }

// Connect opens the TCP connection within the connect timeout.
//
// It is a no-op when already connected and fails with ErrSessionFaulted when faulted.
// A refused or timed out dial fails with ErrConnection and leaves the session DISCONNECTED.
func (s *Session) Connect(ctx context.Context) error {
	switch s.State() {
	case ConnectedState:
		return nil
	case FaultedState:
		return ErrSessionFaulted
	}

	if err := s.stateMgr.ToConnecting(); err != nil {
		switch s.State() {
		case ConnectedState:
			return nil
		case FaultedState:
			return ErrSessionFaulted
		default:
			return fmt.Errorf("%w: connect already in progress", ErrConnection)
		}
	}

	address := s.cfg.Address()
	dialer := &net.Dialer{KeepAlive: s.cfg.KeepAlive()}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout())
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		s.metrics.incConnectErrCount()
		_ = s.stateMgr.ToDisconnected()
		s.logger.Warn("failed to connect to controller", "address", address, "error", err)

		return fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connMu.Unlock()
	s.owed.Store(0)

	if err := s.stateMgr.ToConnected(); err != nil {
		s.closeConn()
		return fmt.Errorf("%w: session closed while connecting", ErrConnection)
	}

	s.metrics.incConnectCount()
	s.logger.Info("connected to controller",
		"address", address,
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	return nil
}

// Disconnect closes the connection. It is safe to call from any state and always succeeds.
// A faulted session stays FAULTED; only Reset leaves that state.
func (s *Session) Disconnect() {
	_ = s.stateMgr.ToDisconnected()
	if s.closeConn() {
		s.logger.Info("disconnected from controller")
	}
}

// Reset closes the connection and returns the session to DISCONNECTED from any state,
// FAULTED included.
func (s *Session) Reset() {
	s.closeConn()
	s.owed.Store(0)
	s.stateMgr.Reset()
	s.logger.Info("session reset")
}

// Send writes one request line within the write timeout. The line terminator is appended.
func (s *Session) Send(ctx context.Context, line string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, reader, err := s.acquire()
	if err != nil {
		return err
	}

	release := watchContext(ctx, conn)
	defer release()

	if err := s.settle(conn, reader, s.cfg.ReadTimeout()); err != nil {
		return s.handleErr(ctx, err, false, false)
	}

	return s.handleErr(ctx, s.write(conn, line, time.Now().Add(s.cfg.WriteTimeout())), false, false)
}

// ReadReply reads one reply line within the read timeout. The line terminator is stripped.
func (s *Session) ReadReply(ctx context.Context) (string, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, reader, err := s.acquire()
	if err != nil {
		return "", err
	}

	release := watchContext(ctx, conn)
	defer release()

	if err := s.settle(conn, reader, s.cfg.ReadTimeout()); err != nil {
		return "", s.handleErr(ctx, err, false, false)
	}

	reply, err := s.read(conn, reader, time.Now().Add(s.cfg.ReadTimeout()))
	if err != nil {
		return "", s.handleErr(ctx, err, false, true)
	}

	return reply, nil
}

// SendAndReceive writes one request line and reads its reply. The whole exchange has a
// single deadline of one read timeout; the write alone is also bounded by the write timeout.
// Every failure but a canceled ctx faults the session.
func (s *Session) SendAndReceive(ctx context.Context, line string) (string, error) {
	return s.roundTrip(ctx, line, s.cfg.ReadTimeout(), false)
}

// Probe is a round trip for liveness polls with its own read timeout.
//
// Unlike SendAndReceive, a read timeout does not fault the session: the late reply is owed
// and discarded before the next exchange. Write timeouts and connection loss still fault it.
func (s *Session) Probe(ctx context.Context, line string, timeout time.Duration) (string, error) {
	return s.roundTrip(ctx, line, timeout, true)
}

func (s *Session) roundTrip(ctx context.Context, line string, timeout time.Duration, tolerateTimeout bool) (string, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, reader, err := s.acquire()
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	release := watchContext(ctx, conn)
	defer release()

	// a liveness poll waits for owed replies no longer than its own timeout and does not fault
	// when they are missing; it then fails without sending
	settleTimeout := s.cfg.ReadTimeout()
	if tolerateTimeout {
		settleTimeout = timeout
	}
	if err := s.settle(conn, reader, settleTimeout); err != nil {
		return "", s.handleErr(ctx, err, tolerateTimeout, false)
	}

	deadline := time.Now().Add(timeout)
	writeDeadline := time.Now().Add(s.cfg.WriteTimeout())
	if writeDeadline.After(deadline) {
		writeDeadline = deadline
	}

	if err := s.write(conn, line, writeDeadline); err != nil {
		return "", s.handleErr(ctx, err, false, false)
	}

	reply, err := s.read(conn, reader, deadline)
	if err != nil {
		return "", s.handleErr(ctx, err, tolerateTimeout, true)
	}

	return reply, nil
}

func (s *Session) acquire() (net.Conn, *bufio.Reader, error) {
	switch s.State() {
	case ConnectedState:
	case FaultedState:
		return nil, nil, ErrSessionFaulted
	default:
		return nil, nil, ErrNotConnected
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil, nil, ErrNotConnected
	}

	return s.conn, s.reader, nil
}

func (s *Session) write(conn net.Conn, line string, deadline time.Time) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classify(err, ErrWriteTimeout)
	}

	line = strings.TrimRight(line, "\r\n")
	if n, err := conn.Write([]byte(line + codec.Terminator)); err != nil {
		if n > 0 {
			// the controller holds a fragment that would prefix the next request
			return fmt.Errorf("%w: %w: %w", ErrConnectionLost, errPartialWrite, err)
		}

		return classify(err, ErrWriteTimeout)
	}

	s.metrics.incCommandSendCount()
	s.logger.Debug("send", "line", line)

	return nil
}

func (s *Session) read(conn net.Conn, reader *bufio.Reader, deadline time.Time) (string, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", classify(err, ErrReadTimeout)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", classify(err, ErrReadTimeout)
	}

	line = strings.TrimRight(line, "\r\n")
	s.metrics.incReplyRecvCount()
	s.logger.Debug("recv", "line", line)

	return line, nil
}

// settle reads and discards the replies owed by abandoned exchanges, each within timeout.
// An owed reply that does not arrive leaves request/reply pairing unknown, so the next
// request is not sent.
func (s *Session) settle(conn net.Conn, reader *bufio.Reader, timeout time.Duration) error {
	for s.owed.Load() > 0 {
		line, err := s.read(conn, reader, time.Now().Add(timeout))
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				return fmt.Errorf("%w: owed reply not received", err)
			}

			return err
		}

		s.owed.Add(-1)
		s.metrics.incDrainedLineCount()
		s.logger.Debug("discarded stale reply", "line", line)
	}

	return nil
}

// handleErr decides the fate of the session after a failed exchange. written reports
// whether the request of the exchange reached the controller, so its reply is still due.
func (s *Session) handleErr(ctx context.Context, err error, tolerateTimeout bool, written bool) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, errPartialWrite) {
		if written {
			s.owed.Add(1)
		}
		s.logger.Debug("exchange abandoned", "error", ctxErr, "owed", s.owed.Load())

		return ctxErr
	}

	s.metrics.incIOErrCount()
	isTimeout := errors.Is(err, ErrReadTimeout) || errors.Is(err, ErrWriteTimeout)
	if isTimeout {
		s.metrics.incTimeoutCount()
	}

	if tolerateTimeout && errors.Is(err, ErrReadTimeout) {
		if written {
			s.owed.Add(1)
		}
		s.logger.Warn("liveness poll timeout", "error", err, "owed", s.owed.Load())

		return err
	}

	s.Fault(err)

	return err
}

// Fault marks a connected session FAULTED and closes its socket. Higher layers call it when
// a reply cannot be interpreted; the session calls it on every I/O failure.
func (s *Session) Fault(cause error) {
	if !s.stateMgr.ToFaulted() {
		return
	}

	s.metrics.incFaultCount()
	s.closeConn()
	s.logger.Error("session faulted", "error", cause)
}

func (s *Session) closeConn() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return false
	}

	_ = s.conn.Close()
	s.conn = nil
	s.reader = nil

	return true
}

// watchContext interrupts blocking I/O on conn when ctx is done. The returned release func
// must be called once the I/O finished; it waits for an interrupt already in progress so
// it cannot clobber the deadlines of a later exchange.
func watchContext(ctx context.Context, conn net.Conn) (release func()) {
	if ctx.Done() == nil {
		return func() {}
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
		close(fired)
	})

	return func() {
		if !stop() {
			<-fired
		}
	}
}

func classify(err error, timeoutErr error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", timeoutErr, err)
	}

	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}
