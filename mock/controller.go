package mock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/internal/pool"
	"github.com/arloliu/go-monochromator/internal/queue"
	"github.com/arloliu/go-monochromator/internal/task"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Handler answers one request. It returns the reply line without terminator.
type Handler func(cmd codec.Command) string

// ErrAlreadyStarted is returned by Start when the controller is already listening.
var ErrAlreadyStarted = errors.New("mock: controller already started")

// Controller is a simulated monochromator controller serving one TCP client at a time.
type Controller struct {
	opts   *options
	logger logger.Logger
	dev    *simDevice

	// handlers maps a request key such as "!WL" or "?SWST" to its handler.
	handlers *xsync.MapOf[string, Handler]
	// delays holds the reply delay per verb.
	delays *xsync.MapOf[codec.Verb, time.Duration]

	journalMu sync.Mutex
	journal   queue.Queue[codec.Command]

	unresponsive atomic.Bool
	connCount    atomic.Int32

	mu       sync.Mutex // protects listener and conn
	listener net.Listener
	conn     net.Conn
	taskMgr  *task.Manager

	connected     chan struct{}
	connectedOnce sync.Once
}

// New creates a stopped Controller.
func New(opts ...Option) (*Controller, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	c := &Controller{
		opts:      o,
		logger:    logger.Component(o.logger, "mock"),
		dev:       newSimDevice(o),
		handlers:  xsync.NewMapOf[string, Handler](),
		delays:    xsync.NewMapOf[codec.Verb, time.Duration](),
		journal:   queue.NewSliceQueue[codec.Command](64),
		connected: make(chan struct{}),
	}
	c.registerDefaultHandlers()

	return c, nil
}

func (c *Controller) registerDefaultHandlers() {
	set := func(verb codec.Verb) string { return string(codec.KindSet) + string(verb) }
	query := func(verb codec.Verb) string { return string(codec.KindQuery) + string(verb) }

	c.handlers.Store(set(codec.VerbWavelength), c.handleSetWavelength)
	c.handlers.Store(set(codec.VerbGrating), c.handleSetGrating)
	c.handlers.Store(set(codec.VerbEntranceSlit), c.handleSetSlit(device.SlitEntry))
	c.handlers.Store(set(codec.VerbExitSlit), c.handleSetSlit(device.SlitExit))
	c.handlers.Store(set(codec.VerbCalibrate), c.handleCalibrate)
	c.handlers.Store(set(codec.VerbReset), c.handleReset)
	c.handlers.Store(set(codec.VerbSetAll), c.handleSetAll)

	c.handlers.Store(query(codec.VerbWavelength), func(codec.Command) string {
		return codec.EncodeFloat(codec.VerbWavelength, c.dev.position().Wavelength)
	})
	c.handlers.Store(query(codec.VerbGrating), func(codec.Command) string {
		return codec.EncodeInt(codec.VerbGrating, int(c.dev.position().Grating))
	})
	c.handlers.Store(query(codec.VerbEntranceSlit), func(codec.Command) string {
		return codec.EncodeFloat(codec.VerbEntranceSlit, c.dev.position().EntrySlit)
	})
	c.handlers.Store(query(codec.VerbExitSlit), func(codec.Command) string {
		return codec.EncodeFloat(codec.VerbExitSlit, c.dev.position().ExitSlit)
	})
	c.handlers.Store(query(codec.VerbStatus), func(codec.Command) string {
		return codec.EncodeInt(codec.VerbStatus, int(c.dev.getStatus()))
	})
}

// Start listens on the configured address and starts serving clients.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		return ErrAlreadyStarted
	}

	address := net.JoinHostPort(c.opts.host, strconv.Itoa(c.opts.port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		c.logger.Error("failed to listen", "address", address, "error", err)
		return err
	}

	c.listener = listener
	c.taskMgr = task.NewManager(ctx, c.logger)

	if err := c.taskMgr.Start("acceptConn", c.acceptConnTask); err != nil {
		_ = listener.Close()
		c.listener = nil

		return err
	}

	c.logger.Info("mock controller listening", "address", listener.Addr().String())

	return nil
}

// Stop closes the listener and the client connection and waits for the serving goroutines.
func (c *Controller) Stop() {
	c.mu.Lock()
	listener, conn, taskMgr := c.listener, c.conn, c.taskMgr
	c.listener, c.conn = nil, nil
	c.mu.Unlock()

	if listener == nil {
		return
	}

	taskMgr.Stop()
	_ = listener.Close()
	if conn != nil {
		_ = conn.Close()
	}
	taskMgr.Wait()

	c.logger.Info("mock controller stopped")
}

// Addr returns the listen address, or nil when stopped.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return nil
	}

	return c.listener.Addr()
}

// Host returns the host clients should connect to.
func (c *Controller) Host() string { return c.opts.host }

// Port returns the listen port, which differs from the configured one when that was 0.
func (c *Controller) Port() int {
	if tcpAddr, ok := c.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}

	return c.opts.port
}

// Limits returns the physical limits the simulated device enforces.
func (c *Controller) Limits() device.Limits { return c.opts.limits }

// WaitConnected blocks until a client connected for the first time or ctx is done.
func (c *Controller) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a client is currently connected.
func (c *Controller) Connected() bool { return c.connCount.Load() > 0 }

// Position returns the simulated device position as the controller reports it.
func (c *Controller) Position() device.Position { return c.dev.position() }

// SetPosition replaces the simulated position and cancels any pending move.
func (c *Controller) SetPosition(p device.Position) { c.dev.setPosition(p) }

// Status returns the controller software status.
func (c *Controller) Status() device.Status { return c.dev.getStatus() }

// SetStatus forces the controller software status, e.g. to simulate a hardware fault.
func (c *Controller) SetStatus(s device.Status) { c.dev.setStatus(s) }

// Offset returns the wavelength calibration offset.
func (c *Controller) Offset() float64 { return c.dev.getOffset() }

// Moving reports whether a move is still settling.
func (c *Controller) Moving() bool { return c.dev.moving() }

// SetReplyDelay delays every reply to requests for verb by d. Zero removes the delay.
func (c *Controller) SetReplyDelay(verb codec.Verb, d time.Duration) {
	if d <= 0 {
		c.delays.Delete(verb)
		return
	}
	c.delays.Store(verb, d)
}

// SetUnresponsive makes the controller keep reading requests without ever replying.
func (c *Controller) SetUnresponsive(val bool) { c.unresponsive.Store(val) }

// Handle overrides the handler for a request key such as "?SWST".
func (c *Controller) Handle(key string, h Handler) { c.handlers.Store(key, h) }

// DropConnection closes the client connection, if any.
func (c *Controller) DropConnection() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.logger.Info("dropping client connection")
		_ = conn.Close()
	}
}

// Journal returns the commands received so far, oldest first.
func (c *Controller) Journal() []codec.Command {
	c.journalMu.Lock()
	defer c.journalMu.Unlock()

	items := c.journal.Items()
	out := make([]codec.Command, len(items))
	copy(out, items)

	return out
}

// ResetJournal clears the journal.
func (c *Controller) ResetJournal() {
	c.journalMu.Lock()
	defer c.journalMu.Unlock()

	c.journal.Reset()
}

// SetCommands returns the set requests of the journal, oldest first.
func (c *Controller) SetCommands() []codec.Command {
	var out []codec.Command
	for _, cmd := range c.Journal() {
		if !cmd.IsQuery() {
			out = append(out, cmd)
		}
	}

	return out
}

// CommandCount returns how many requests of kind and verb were received.
func (c *Controller) CommandCount(kind codec.Kind, verb codec.Verb) int {
	n := 0
	for _, cmd := range c.Journal() {
		if cmd.Kind == kind && cmd.Verb == verb {
			n++
		}
	}

	return n
}

func (c *Controller) record(cmd codec.Command) {
	c.journalMu.Lock()
	defer c.journalMu.Unlock()

	c.journal.Enqueue(cmd)
}

// acceptConnTask accepts one client and serves it until it leaves.
func (c *Controller) acceptConnTask() bool {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return false
	}

	conn, err := listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return false
		}
		c.logger.Warn("accept failed", "error", err)

		return c.taskMgr.Context().Err() == nil
	}

	c.mu.Lock()
	if c.listener == nil {
		c.mu.Unlock()
		_ = conn.Close()

		return false
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("client connected", "remote_addr", conn.RemoteAddr().String())
	c.dev.online(true)
	c.connCount.Add(1)
	c.connectedOnce.Do(func() { close(c.connected) })

	c.serve(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.dev.online(false)
	c.connCount.Store(0)
	c.logger.Debug("client disconnected", "remote_addr", conn.RemoteAddr().String())

	return true
}

func (c *Controller) serve(conn net.Conn) {
	ctx := c.taskMgr.Context()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		c.logger.Debug("recv", "line", line)

		reply, verb := c.dispatch(line)
		if c.unresponsive.Load() {
			continue
		}

		if delay, ok := c.delays.Load(verb); ok {
			if pool.Sleep(ctx, delay) != nil {
				return
			}
		}

		c.logger.Debug("send", "line", reply)
		if _, err := fmt.Fprintf(conn, "%s%s", reply, codec.Terminator); err != nil {
			return
		}
	}
}

func (c *Controller) dispatch(line string) (reply string, verb codec.Verb) {
	cmd, err := codec.ParseCommand(line)
	if err != nil {
		return codec.EncodeAck(codec.CodeInvalid), ""
	}

	c.record(cmd)

	handler, ok := c.handlers.Load(string(cmd.Kind) + string(cmd.Verb))
	if !ok {
		return codec.EncodeAck(codec.CodeInvalid), cmd.Verb
	}

	return handler(cmd), cmd.Verb
}

func (c *Controller) handleSetWavelength(cmd codec.Command) string {
	if len(cmd.Args) != 1 {
		return codec.EncodeAck(codec.CodeRejected)
	}
	nm, err := cmd.FloatArg(0)
	if err != nil {
		return codec.EncodeAck(codec.CodeRejected)
	}

	return codec.EncodeAck(c.dev.setWavelength(nm))
}

func (c *Controller) handleSetGrating(cmd codec.Command) string {
	if len(cmd.Args) != 1 {
		return codec.EncodeAck(codec.CodeRejected)
	}
	id, err := cmd.IntArg(0)
	if err != nil {
		return codec.EncodeAck(codec.CodeRejected)
	}

	return codec.EncodeAck(c.dev.setGrating(id))
}

func (c *Controller) handleSetSlit(slit device.Slit) Handler {
	return func(cmd codec.Command) string {
		if len(cmd.Args) != 1 {
			return codec.EncodeAck(codec.CodeRejected)
		}
		mm, err := cmd.FloatArg(0)
		if err != nil {
			return codec.EncodeAck(codec.CodeRejected)
		}

		return codec.EncodeAck(c.dev.setSlit(slit, mm))
	}
}

func (c *Controller) handleCalibrate(cmd codec.Command) string {
	if len(cmd.Args) != 1 {
		return codec.EncodeAck(codec.CodeRejected)
	}
	offset, err := cmd.FloatArg(0)
	if err != nil {
		return codec.EncodeAck(codec.CodeRejected)
	}

	return codec.EncodeAck(c.dev.calibrate(offset))
}

func (c *Controller) handleReset(cmd codec.Command) string {
	if len(cmd.Args) != 1 {
		return codec.EncodeAck(codec.CodeRejected)
	}
	if val, err := cmd.IntArg(0); err != nil || val != 1 {
		return codec.EncodeAck(codec.CodeRejected)
	}

	return codec.EncodeAck(c.dev.reset())
}

func (c *Controller) handleSetAll(cmd codec.Command) string {
	if len(cmd.Args) != 4 {
		return codec.EncodeAck(codec.CodeRejected)
	}

	nm, err1 := cmd.FloatArg(0)
	grating, err2 := cmd.IntArg(1)
	entry, err3 := cmd.FloatArg(2)
	exit, err4 := cmd.FloatArg(3)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return codec.EncodeAck(codec.CodeRejected)
	}

	return codec.EncodeAck(c.dev.setAll(device.Position{
		Wavelength: nm,
		Grating:    device.Grating(grating),
		EntrySlit:  entry,
		ExitSlit:   exit,
	}))
}
