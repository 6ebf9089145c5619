package heartbeat

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-monochromator/codec"
	"github.com/arloliu/go-monochromator/device"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/transport"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, _ := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newSession(t *testing.T) (*mock.Controller, *transport.Session) {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	ctrl, err := mock.New()
	require.NoError(err)
	require.NoError(ctrl.Start(ctx))
	t.Cleanup(ctrl.Stop)

	cfg, err := transport.NewConfig(ctrl.Host(), ctrl.Port())
	require.NoError(err)
	session, err := transport.NewSession(cfg)
	require.NoError(err)
	require.NoError(session.Connect(ctx))
	t.Cleanup(session.Disconnect)

	return ctrl, session
}

func newMonitor(t *testing.T, session *transport.Session, opts ...Option) *Monitor {
	t.Helper()

	opts = append([]Option{WithPeriod(20 * time.Millisecond), WithTimeout(30 * time.Millisecond)}, opts...)
	m, err := New(context.Background(), session, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	return m
}

func waitLoss(t *testing.T, m *Monitor) Loss {
	t.Helper()

	select {
	case loss := <-m.Lost():
		return loss
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no loss reported")
	}

	return Loss{}
}

func TestMonitor_Options(t *testing.T) {
	require := require.New(t)

	_, err := New(context.Background(), nil)
	require.Error(err)

	_, session := newSession(t)
	for _, opt := range []Option{
		WithPeriod(0),
		WithPeriod(2 * time.Hour),
		WithTimeout(0),
		WithFailureThreshold(0),
		WithLossHandler(nil),
		WithLogger(nil),
	} {
		_, err := New(context.Background(), session, opt)
		require.Error(err)
	}

	m, err := New(context.Background(), session)
	require.NoError(err)
	require.Equal(DefaultPeriod, m.Period())
	require.Equal(DefaultTimeout, m.Timeout())
	require.Equal(DefaultFailureThreshold, m.Threshold())
	require.False(m.Running())
	require.True(m.LastSuccess().IsZero())
	_, ok := m.LastStatus()
	require.False(ok)
}

func TestMonitor_Healthy(t *testing.T) {
	require := require.New(t)

	_, session := newSession(t)
	m := newMonitor(t, session)

	require.NoError(m.Start())
	require.ErrorIs(m.Start(), ErrAlreadyRunning)
	require.True(m.Running())

	require.Eventually(func() bool {
		return m.Metrics().PollCount.Load() >= 5
	}, 2*time.Second, 5*time.Millisecond)

	require.False(m.IsLost())
	require.Zero(m.Failures())
	require.False(m.LastSuccess().IsZero())
	require.WithinDuration(time.Now(), m.LastSuccess(), time.Second)
	status, ok := m.LastStatus()
	require.True(ok)
	require.Equal(device.StatusReady, status)

	m.Stop()
	require.False(m.Running())
	require.Empty(m.Lost())
}

func TestMonitor_ThreeTimeoutsReportedOnce(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)

	var handled atomic.Int32
	m := newMonitor(t, session, WithLossHandler(func(Loss) { handled.Add(1) }))
	require.NoError(m.Start())

	require.Eventually(func() bool { return !m.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)
	ctrl.SetUnresponsive(true)

	loss := waitLoss(t, m)
	require.ErrorIs(loss.Cause, ErrNoResponse)
	require.ErrorIs(loss.Cause, transport.ErrReadTimeout)
	require.Equal(DefaultFailureThreshold, loss.Failures)
	require.False(loss.LastSuccess.IsZero())

	// poll timeouts do not fault the session
	require.Equal(transport.ConnectedState, session.State())

	// the poll task ends after the report
	require.Eventually(func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.Empty(m.Lost())
	require.Equal(uint64(1), m.Metrics().LossCount.Load())
	require.Equal(int32(1), handled.Load())
	require.GreaterOrEqual(m.Metrics().TimeoutCount.Load(), uint64(DefaultFailureThreshold))
	require.True(m.IsLost())
}

func TestMonitor_LossLoggedAsError(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)

	l := logger.NewMockLogger()
	l.On("Debug", tmock.Anything, tmock.Anything).Maybe()
	l.On("Info", tmock.Anything, tmock.Anything).Maybe()
	l.On("Warn", "heartbeat poll failed", tmock.Anything)
	l.On("Error", "controller connection lost", tmock.MatchedBy(func(kv []any) bool {
		return len(kv) == 4 && kv[0] == "failures" && kv[1] == DefaultFailureThreshold
	})).Once()

	m := newMonitor(t, session, WithLogger(l))
	require.NoError(m.Start())
	require.Eventually(func() bool { return !m.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)
	ctrl.SetUnresponsive(true)

	waitLoss(t, m)
	l.AssertExpectations(t)
	l.AssertNumberOfCalls(t, "Error", 1)
}

func TestMonitor_RecoversBeforeThreshold(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session, WithPeriod(50*time.Millisecond), WithTimeout(20*time.Millisecond),
		WithFailureThreshold(10))
	require.NoError(m.Start())

	// late replies are skipped by the following polls, so they recover once the controller
	// answers in time again
	ctrl.SetReplyDelay(codec.VerbStatus, 60*time.Millisecond)
	require.Eventually(func() bool { return m.Failures() >= 2 }, 2*time.Second, 2*time.Millisecond)
	ctrl.SetReplyDelay(codec.VerbStatus, 0)

	require.Eventually(func() bool { return m.Failures() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.False(m.IsLost())
	require.True(m.Running())
	require.Zero(m.Metrics().LossCount.Load())
	require.Positive(session.Metrics().DrainedLineCount.Load())
	require.Equal(transport.ConnectedState, session.State())
}

func TestMonitor_SwallowedPollIsNotSuccess(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session, WithPeriod(30*time.Millisecond), WithTimeout(20*time.Millisecond),
		WithFailureThreshold(5))
	require.NoError(m.Start())
	require.Eventually(func() bool { return !m.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)

	// the first swallowed poll leaves a reply owed that never comes; later answers
	// cannot be paired and must not count as live
	ctrl.SetUnresponsive(true)
	require.Eventually(func() bool { return m.Failures() >= 1 }, 2*time.Second, 2*time.Millisecond)
	ctrl.SetUnresponsive(false)

	loss := waitLoss(t, m)
	require.ErrorIs(loss.Cause, transport.ErrReadTimeout)
	require.Equal(5, loss.Failures)
	require.Equal(transport.ConnectedState, session.State())
}

func TestMonitor_ConnectionDropReportedImmediately(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session)
	require.NoError(m.Start())

	require.Eventually(func() bool { return !m.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)
	ctrl.DropConnection()

	loss := waitLoss(t, m)
	require.Equal(1, loss.Failures)
	require.NotErrorIs(loss.Cause, ErrNoResponse)
	require.Equal(transport.FaultedState, session.State())

	time.Sleep(100 * time.Millisecond)
	require.Equal(uint64(1), m.Metrics().LossCount.Load())
}

func TestMonitor_ControllerFault(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session)
	require.NoError(m.Start())

	ctrl.SetStatus(device.StatusFault)

	loss := waitLoss(t, m)
	require.ErrorIs(loss.Cause, ErrControllerFault)
	status, ok := m.LastStatus()
	require.True(ok)
	require.Equal(device.StatusFault, status)
	require.Equal(transport.ConnectedState, session.State())
}

func TestMonitor_RestartAfterLoss(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session)
	require.NoError(m.Start())

	ctrl.SetStatus(device.StatusFault)
	waitLoss(t, m)

	ctrl.SetStatus(device.StatusReady)
	require.NoError(m.Start())
	require.False(m.IsLost())

	require.Eventually(func() bool {
		s, ok := m.LastStatus()
		return ok && s == device.StatusReady
	}, 2*time.Second, 5*time.Millisecond)

	ctrl.SetStatus(device.StatusOffline)
	loss := waitLoss(t, m)
	require.ErrorIs(loss.Cause, ErrControllerFault)
	require.Equal(uint64(2), m.Metrics().LossCount.Load())
}

func TestMonitor_ResetDiscardsPendingLoss(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session)
	require.NoError(m.Start())

	ctrl.SetStatus(device.StatusFault)
	require.Eventually(m.IsLost, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	m.Reset()
	require.False(m.IsLost())
	require.Zero(m.Failures())
	require.Empty(m.Lost())
}

func TestMonitor_StopDuringPoll(t *testing.T) {
	require := require.New(t)

	ctrl, session := newSession(t)
	m := newMonitor(t, session, WithTimeout(time.Second))
	ctrl.SetUnresponsive(true)
	require.NoError(m.Start())

	require.Eventually(func() bool { return m.Metrics().PollCount.Load() >= 1 }, 2*time.Second, 2*time.Millisecond)
	m.Stop()

	require.False(m.Running())
	require.False(m.IsLost())
	require.Equal(transport.ConnectedState, session.State())
}
