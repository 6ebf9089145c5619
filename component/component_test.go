package component

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-monochromator/config"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, _ := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := config.Simulation()
	cfg.ReadTimeout = 2
	cfg.PollInterval = 0.01
	cfg.Period = 0.02
	cfg.Timeout = 0.05
	cfg.MoveTimeout = 5
	cfg.MoveGratingTimeout = 5

	return cfg
}

func newSimComponent(t *testing.T, opts ...Option) *Component {
	t.Helper()

	opts = append([]Option{
		WithSimulation(true),
		WithMockOptions(mock.WithSettleTime(10*time.Millisecond), mock.WithGratingSettleTime(10*time.Millisecond)),
	}, opts...)

	c, err := New(context.Background(), testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

func enable(t *testing.T, c *Component) {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	require.NoError(c.Start(ctx))
	require.NoError(c.Enable(ctx))

	summary, detailed := c.State()
	require.Equal(Enabled, summary)
	require.Equal(Ready, detailed)
}

func requireState(t *testing.T, c *Component, summary State, detailed DetailedState) {
	t.Helper()

	s, d := c.State()
	require.Equal(t, summary, s, "summary state")
	require.Equal(t, detailed, d, "detailed state")
}

func TestNew_Errors(t *testing.T) {
	require := require.New(t)

	_, err := New(context.Background(), nil)
	require.Error(err)

	cfg := testConfig()
	cfg.Period = 0
	_, err = New(context.Background(), cfg)
	require.ErrorIs(err, config.ErrInvalid)

	_, err = New(context.Background(), testConfig(), WithStateHandler(nil))
	require.Error(err)
	_, err = New(context.Background(), testConfig(), WithProgressInterval(0))
	require.Error(err)
}

func TestComponent_Lifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []State
	c := newSimComponent(t, WithStateHandler(func(summary State, _ DetailedState) {
		mu.Lock()
		defer mu.Unlock()
		if len(transitions) == 0 || transitions[len(transitions)-1] != summary {
			transitions = append(transitions, summary)
		}
	}))
	requireState(t, c, Standby, NotEnabled)

	require.ErrorIs(c.Enable(ctx), ErrInvalidCommand)
	require.ErrorIs(c.Disable(), ErrInvalidCommand)
	require.ErrorIs(c.ClearFault(), ErrInvalidCommand)

	require.NoError(c.Start(ctx))
	requireState(t, c, Disabled, Ready)
	require.NotNil(c.Simulator())
	require.NotNil(c.Controller())
	require.True(c.Simulator().Connected())
	require.ErrorIs(c.Start(ctx), ErrInvalidCommand)

	status, ok := c.DeviceStatus()
	require.True(ok)
	require.Equal(device.StatusReady, status.Status)
	require.True(status.HeartbeatRunning)

	_, err := c.ChangeWavelength(ctx, 500)
	require.ErrorIs(err, ErrNotEnabled)

	require.NoError(c.Enable(ctx))
	requireState(t, c, Enabled, Ready)

	r, err := c.ChangeWavelength(ctx, 500)
	require.NoError(err)
	require.True(r.IsDone())
	requireState(t, c, Enabled, Ready)

	status, _ = c.DeviceStatus()
	require.Equal(500.0, status.Position.Wavelength)

	require.NoError(c.Disable())
	requireState(t, c, Disabled, Ready)
	require.NoError(c.Standby())
	requireState(t, c, Standby, NotEnabled)
	require.Nil(c.Controller())
	require.Nil(c.Simulator())
	_, ok = c.DeviceStatus()
	require.False(ok)

	require.NoError(c.ExitControl())
	requireState(t, c, Offline, NotEnabled)

	mu.Lock()
	defer mu.Unlock()
	require.Equal([]State{Disabled, Enabled, Disabled, Standby, Offline}, transitions)
}

func TestComponent_DeviceCommands(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	c := newSimComponent(t)
	enable(t, c)

	_, err := c.SelectGrating(ctx, device.Grating2)
	require.NoError(err)
	_, err = c.ChangeWavelength(ctx, 950)
	require.NoError(err)
	_, err = c.ChangeSlitWidth(ctx, device.SlitEntry, 1.25)
	require.NoError(err)
	_, err = c.ChangeSlitWidth(ctx, device.SlitExit, 2.5)
	require.NoError(err)
	_, err = c.CalibrateWavelength(ctx, 1)
	require.NoError(err)

	status, _ := c.DeviceStatus()
	require.Equal(device.Position{Wavelength: 951, Grating: device.Grating2, EntrySlit: 1.25, ExitSlit: 2.5}, status.Position)
	require.Equal(1.0, status.Offset)

	setup := device.Position{Wavelength: 400, Grating: device.Grating1, EntrySlit: 3, ExitSlit: 4}
	r, err := c.UpdateSetup(ctx, setup)
	require.NoError(err)
	require.Equal(setup, r.Position)

	r, err = c.ResetController(ctx)
	require.NoError(err)
	require.Equal(device.Position{Wavelength: 320, Grating: device.Grating1}, r.Position)

	requireState(t, c, Enabled, Ready)
}

func TestComponent_OutOfRangeDoesNotFault(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	c := newSimComponent(t)
	enable(t, c)

	r, err := c.ChangeWavelength(ctx, 2000)
	require.ErrorIs(err, device.ErrOutOfRange)
	require.True(r.IsFailed())

	_, err = c.ChangeSlitWidth(ctx, device.Slit(7), 1)
	require.ErrorIs(err, motion.ErrInvalidSlit)

	requireState(t, c, Enabled, Ready)
	code, _ := c.ErrorCode()
	require.Equal(NoError, code)
}

func TestComponent_OneCommandAtATime(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	var progress atomic.Int32
	c := newSimComponent(t,
		WithMockOptions(mock.WithSettleTime(300*time.Millisecond)),
		WithProgressInterval(20*time.Millisecond),
		WithProgressHandler(func(command string, r motion.Result) {
			if command == ChangingWavelength.String() && r.IsInProgress() {
				progress.Add(1)
			}
		}),
	)
	enable(t, c)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ChangeWavelength(ctx, 600)
		errCh <- err
	}()

	require.Eventually(func() bool {
		_, d := c.State()
		return d == ChangingWavelength
	}, time.Second, 2*time.Millisecond)

	_, err := c.SelectGrating(ctx, device.Grating2)
	require.ErrorIs(err, ErrNotReady)

	require.NoError(<-errCh)
	require.Greater(progress.Load(), int32(0))
	requireState(t, c, Enabled, Ready)
}

func TestComponent_CommandCanceled(t *testing.T) {
	require := require.New(t)

	c := newSimComponent(t, WithMockOptions(mock.WithSettleTime(2*time.Second)))
	enable(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r, err := c.ChangeWavelength(ctx, 600)
	require.ErrorIs(err, motion.ErrMoveCanceled)
	require.True(r.IsFailed())
	requireState(t, c, Enabled, Ready)
}

func TestComponent_HeartbeatLossFaultsOnce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	var faults atomic.Int32
	c := newSimComponent(t, WithFaultHandler(func(ErrorCode, string) { faults.Add(1) }))
	enable(t, c)

	c.Simulator().SetUnresponsive(true)

	require.Eventually(func() bool {
		s, _ := c.State()
		return s == Fault
	}, 3*time.Second, 5*time.Millisecond)

	code, report := c.ErrorCode()
	require.Equal(ConnectionLost, code)
	require.Contains(report, "heartbeat")
	require.Nil(c.Controller())
	require.Nil(c.Simulator())

	time.Sleep(200 * time.Millisecond)
	require.Equal(int32(1), faults.Load())

	_, err := c.ChangeWavelength(ctx, 500)
	require.ErrorIs(err, ErrNotEnabled)

	require.NoError(c.ClearFault())
	requireState(t, c, Standby, NotEnabled)
	code, _ = c.ErrorCode()
	require.Equal(NoError, code)

	enable(t, c)
}

func TestComponent_ControllerFault(t *testing.T) {
	c := newSimComponent(t)
	enable(t, c)

	c.Simulator().SetStatus(device.StatusFault)

	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == Fault
	}, 3*time.Second, 5*time.Millisecond)

	code, _ := c.ErrorCode()
	require.Equal(t, HardwareError, code)
	require.NoError(t, c.Standby())
}

func TestComponent_HardwareNotReady(t *testing.T) {
	require := require.New(t)

	c := newSimComponent(t, WithMockOptions(mock.WithConnectStatus(device.StatusFault)))

	err := c.Start(context.Background())
	require.ErrorIs(err, ErrHardwareNotReady)
	requireState(t, c, Fault, NotEnabled)

	code, _ := c.ErrorCode()
	require.Equal(HardwareNotReady, code)
	require.Nil(c.Simulator())
}

func TestComponent_ConnectionFailed(t *testing.T) {
	require := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(l.Close())

	cfg := testConfig()
	cfg.Port = port
	cfg.ConnectionTimeout = 0.5

	c, err := New(context.Background(), cfg)
	require.NoError(err)
	t.Cleanup(c.Close)

	err = c.Start(context.Background())
	require.ErrorIs(err, ErrConnectionFailed)
	requireState(t, c, Fault, NotEnabled)

	code, _ := c.ErrorCode()
	require.Equal(ConnectionFailed, code)

	// faulting again is a no-op
	c.Fault(HardwareError, "again")
	code, _ = c.ErrorCode()
	require.Equal(ConnectionFailed, code)
}

func TestComponent_Close(t *testing.T) {
	c := newSimComponent(t)
	enable(t, c)

	c.Close()
	requireState(t, c, Offline, NotEnabled)
	require.Nil(t, c.Controller())
}

func TestStrings(t *testing.T) {
	require := require.New(t)

	require.Equal("ENABLED", Enabled.String())
	require.Equal("FAULT", Fault.String())
	require.Equal("CHANGING_SLIT_WIDTH", ChangingSlitWidth.String())
	require.Equal("HARDWARE_NOT_READY", HardwareNotReady.String())
	require.Equal("State(9)", State(9).String())
}
