package motion

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/transport"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, _ := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger.SetLevel(level)

	os.Exit(m.Run())
}

type fixture struct {
	mock    *mock.Controller
	session *transport.Session
	tracker *device.Tracker
	mc      *Controller
}

func newFixture(t *testing.T, mockOpts []mock.Option, opts ...Option) *fixture {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	ctrl, err := mock.New(mockOpts...)
	require.NoError(err)
	require.NoError(ctrl.Start(ctx))
	t.Cleanup(ctrl.Stop)

	cfg, err := transport.NewConfig(ctrl.Host(), ctrl.Port(), transport.WithReadTimeout(2*time.Second))
	require.NoError(err)
	session, err := transport.NewSession(cfg)
	require.NoError(err)
	require.NoError(session.Connect(ctx))
	t.Cleanup(session.Disconnect)

	validator, err := device.NewValidator(ctrl.Limits())
	require.NoError(err)

	status, err := ReadStatus(ctx, session)
	require.NoError(err)
	pos, err := ReadPosition(ctx, session)
	require.NoError(err)

	tracker := device.NewTracker(device.Position{})
	tracker.Seed(pos, status)

	opts = append([]Option{WithPollInterval(20 * time.Millisecond)}, opts...)
	mc, err := New(ctx, session, validator, tracker, opts...)
	require.NoError(err)
	t.Cleanup(mc.Close)

	ctrl.ResetJournal()

	return &fixture{mock: ctrl, session: session, tracker: tracker, mc: mc}
}

func waitMove(t *testing.T, m *Move) Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := m.Wait(ctx)
	require.False(t, r.IsInProgress(), "move did not end: %s", r)

	return r
}

func setLines(cmds []codec.Command) []string {
	lines := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		lines = append(lines, cmd.String())
	}

	return lines
}

func TestMoveWavelength_CrossoverOrder(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{
		mock.WithSettleTime(100 * time.Millisecond),
		mock.WithGratingSettleTime(150 * time.Millisecond),
	})
	require.Equal(device.Grating1, f.tracker.CurrentPosition().Grating)

	m, err := f.mc.MoveWavelength(900)
	require.NoError(err)
	require.True(f.tracker.IsInMotion())
	require.Equal(InProgress, m.Poll().Kind)

	r := waitMove(t, m)
	require.True(r.IsDone(), r.String())
	require.Equal(900.0, r.Position.Wavelength)
	require.Equal(device.Grating2, r.Position.Grating)
	require.Greater(r.Progress, uint64(0))

	require.Equal([]string{"!GR 1", "!WL 900.000"}, setLines(f.mock.SetCommands()))
	require.False(f.tracker.IsInMotion())
	require.Equal(f.mock.Position(), f.tracker.CurrentPosition())
}

func TestMoveWavelength_500WhileOnGrating2(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{
		mock.WithInitialPosition(device.Position{Wavelength: 900, Grating: device.Grating2}),
		mock.WithSettleTime(20 * time.Millisecond),
		mock.WithGratingSettleTime(20 * time.Millisecond),
	})
	require.Equal(device.Grating2, f.tracker.CurrentPosition().Grating)

	m, err := f.mc.MoveWavelength(500)
	require.NoError(err)

	r := waitMove(t, m)
	require.True(r.IsDone(), r.String())

	require.Equal([]string{"!GR 0", "!WL 500.000"}, setLines(f.mock.SetCommands()))

	pos := f.tracker.CurrentPosition()
	require.Equal(500.0, pos.Wavelength)
	require.Equal(device.Grating1, pos.Grating)
}

func TestMoveWavelength_SameGrating(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(10 * time.Millisecond)})

	m, err := f.mc.MoveWavelength(500.0004)
	require.NoError(err)
	r := waitMove(t, m)
	require.True(r.IsDone(), r.String())

	require.Equal([]string{"!WL 500.000"}, setLines(f.mock.SetCommands()))
	require.Equal(500.0, f.tracker.CurrentPosition().Wavelength)
}

func TestOutOfRange_NoIO(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, nil)
	sent := f.session.Metrics().CommandSendCount.Load()
	before := f.tracker.CurrentPosition()

	for _, nm := range []float64{319.999, 1130.001, -5, 2000, math.NaN(), math.Inf(1)} {
		_, err := f.mc.MoveWavelength(nm)
		require.ErrorIs(err, device.ErrOutOfRange, "wavelength %v", nm)
	}

	for _, mm := range []float64{-0.001, 7.001, 100} {
		_, err := f.mc.MoveSlit(device.SlitEntry, mm)
		require.ErrorIs(err, device.ErrOutOfRange, "slit %v", mm)
	}

	_, err := f.mc.MoveSlit(device.Slit(9), 1)
	require.ErrorIs(err, ErrInvalidSlit)

	_, err = f.mc.MoveGrating(device.Grating(5))
	require.ErrorIs(err, device.ErrOutOfRange)

	_, err = f.mc.Setup(device.Position{Wavelength: 500, Grating: device.Grating2, EntrySlit: 1, ExitSlit: 1})
	require.ErrorIs(err, device.ErrOutOfRange)

	_, err = f.mc.Calibrate(-10)
	require.ErrorIs(err, device.ErrOutOfRange)

	require.Equal(sent, f.session.Metrics().CommandSendCount.Load())
	require.Empty(f.mock.Journal())
	require.Equal(before, f.tracker.CurrentPosition())
	require.False(f.tracker.IsInMotion())
}

func TestMove_InProgressBeforeDone(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(300 * time.Millisecond)},
		WithPollInterval(50*time.Millisecond))

	m, err := f.mc.MoveWavelength(600)
	require.NoError(err)

	var notifications []Result
	var final Result
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r := m.Poll()
		if !r.IsInProgress() {
			final = r
			break
		}
		if r.Progress > 0 {
			notifications = append(notifications, r)
		}
		time.Sleep(25 * time.Millisecond)
	}

	require.True(final.IsDone(), final.String())
	require.NotEmpty(notifications)
	for i := 1; i < len(notifications); i++ {
		require.GreaterOrEqual(notifications[i].Progress, notifications[i-1].Progress)
	}
	require.Equal("set wavelength", notifications[0].Step)
	require.GreaterOrEqual(final.Progress, notifications[len(notifications)-1].Progress)
	require.GreaterOrEqual(final.Elapsed, 300*time.Millisecond)

	// one command sent, the rest are polls
	require.Equal(1, f.mock.CommandCount(codec.KindSet, codec.VerbWavelength))
}

func TestMove_OneAtATime(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(200 * time.Millisecond)})

	m, err := f.mc.MoveWavelength(600)
	require.NoError(err)
	require.Equal(m, f.mc.Current())

	_, err = f.mc.MoveSlit(device.SlitEntry, 1)
	require.ErrorIs(err, ErrMotionInProgress)

	require.True(waitMove(t, m).IsDone())
	require.Nil(f.mc.Current())

	m, err = f.mc.MoveSlit(device.SlitEntry, 1)
	require.NoError(err)
	require.True(waitMove(t, m).IsDone())
}

func TestMove_Cancel(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(2 * time.Second)})
	before := f.tracker.CurrentPosition()

	m, err := f.mc.MoveWavelength(700)
	require.NoError(err)
	require.Eventually(func() bool {
		return f.mock.CommandCount(codec.KindSet, codec.VerbWavelength) == 1
	}, time.Second, 5*time.Millisecond)

	m.Cancel()
	r := waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, ErrMoveCanceled)

	// the command is not retracted, only the polling stops
	require.True(f.mock.Moving())
	require.Equal(before, f.tracker.CurrentPosition())
	require.False(f.tracker.IsInMotion())
	require.Equal(transport.ConnectedState, f.session.State())
}

func TestMove_Timeout(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(2 * time.Second)},
		WithMoveTimeout(150*time.Millisecond))

	m, err := f.mc.MoveSlit(device.SlitExit, 3)
	require.NoError(err)

	r := waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, ErrMoveTimeout)
	require.Equal(0.0, f.tracker.CurrentPosition().ExitSlit)
}

func TestMove_ControllerFault(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(time.Second)})

	m, err := f.mc.MoveWavelength(700)
	require.NoError(err)
	require.Eventually(func() bool { return f.mock.Moving() }, time.Second, 5*time.Millisecond)

	f.mock.SetStatus(device.StatusFault)

	r := waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, ErrControllerFault)
	require.Equal(device.StatusFault, f.tracker.Snapshot().Status)
}

func TestMove_RejectedDoesNotFault(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, nil)
	f.mock.SetStatus(device.StatusFault)

	m, err := f.mc.MoveWavelength(700)
	require.NoError(err)

	r := waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, codec.ErrRejected)
	require.ErrorIs(r.Err, codec.ErrCommandRejected)
	require.Equal(transport.ConnectedState, f.session.State())
}

func TestMove_ProtocolErrorFaults(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, nil)
	f.mock.Handle("?SWST", func(codec.Command) string { return "#SWST banana" })

	m, err := f.mc.MoveGrating(device.Grating2)
	require.NoError(err)

	r := waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, codec.ErrProtocol)
	require.Equal(transport.FaultedState, f.session.State())
}

func TestMove_SlitCalibrationSetupReset(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{
		mock.WithSettleTime(10 * time.Millisecond),
		mock.WithGratingSettleTime(10 * time.Millisecond),
	})

	run := func(m *Move, err error) Result {
		t.Helper()
		require.NoError(err)
		r := waitMove(t, m)
		require.True(r.IsDone(), r.String())

		return r
	}

	run(f.mc.MoveSlit(device.SlitEntry, 1.5))
	run(f.mc.MoveSlit(device.SlitExit, 2.25))
	require.Equal(1.5, f.tracker.CurrentPosition().EntrySlit)
	require.Equal(2.25, f.tracker.CurrentPosition().ExitSlit)

	run(f.mc.MoveWavelength(500))
	run(f.mc.Calibrate(2))
	require.Equal(2.0, f.mc.Offset())
	require.Equal(502.0, f.tracker.CurrentPosition().Wavelength)

	run(f.mc.Calibrate(-1))
	require.Equal(499.0, f.tracker.CurrentPosition().Wavelength)
	require.Equal(-1.0, f.mock.Offset())

	setup := device.Position{Wavelength: 900, Grating: device.Grating2, EntrySlit: 1, ExitSlit: 2}
	r := run(f.mc.Setup(setup))
	require.Equal(setup, r.Position)
	require.Equal(setup, f.mock.Position())

	mirror := device.Position{Wavelength: 450, Grating: device.Mirror, EntrySlit: 3, ExitSlit: 3}
	run(f.mc.Setup(mirror))
	require.Equal(mirror, f.tracker.CurrentPosition())

	r = run(f.mc.Reset())
	require.Equal(device.Position{Wavelength: 320, Grating: device.Grating1}, r.Position)
	require.Equal(0.0, f.mc.Offset())
	require.Equal(0.0, f.mock.Offset())
}

func TestMove_CalibrateUnknownOffset(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(10 * time.Millisecond)})

	m, err := f.mc.Calibrate(5)
	require.NoError(err)
	require.True(waitMove(t, m).IsDone())
	require.Equal(325.0, f.tracker.CurrentPosition().Wavelength)

	// the controller keeps 5 while the client no longer knows it
	f.mc.ForgetOffset()
	require.False(f.mc.OffsetKnown())

	m, err = f.mc.Calibrate(10)
	require.NoError(err)
	r := waitMove(t, m)
	require.True(r.IsDone(), r.String())
	require.Equal(330.0, r.Position.Wavelength)
	require.Equal(f.mock.Position().Wavelength, f.tracker.CurrentPosition().Wavelength)
	require.Equal(10.0, f.mc.Offset())
	require.True(f.mc.OffsetKnown())

	// unknown offset leaves range checking to the controller
	f.mc.ForgetOffset()
	m, err = f.mc.Calibrate(-50)
	require.NoError(err)
	r = waitMove(t, m)
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, device.ErrOutOfRange)
	require.ErrorIs(r.Err, codec.ErrReplyOutOfRange)
	require.Equal(transport.ConnectedState, f.session.State())
	require.Equal(330.0, f.tracker.CurrentPosition().Wavelength)
	require.False(f.mc.OffsetKnown())
}

func TestMove_CloseCancelsOutstanding(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, []mock.Option{mock.WithSettleTime(2 * time.Second)})

	m, err := f.mc.MoveWavelength(700)
	require.NoError(err)

	f.mc.Close()

	r := m.Poll()
	require.True(r.IsFailed())
	require.ErrorIs(r.Err, ErrMoveCanceled)
	require.False(f.tracker.IsInMotion())
}

func TestResultString(t *testing.T) {
	require := require.New(t)

	require.Equal("IN_PROGRESS", InProgress.String())
	require.Equal("DONE", Done.String())
	require.Equal("FAILED", Failed.String())
	require.Contains(Result{Kind: InProgress, Step: "set wavelength", Progress: 2}.String(), "poll 2")
	require.Contains(Result{Kind: Failed, Err: ErrMoveTimeout}.String(), "timeout")
}
