package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-monochromator/logger"
	"github.com/stretchr/testify/require"
)

func TestManager_Start(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.GetLogger())

	var runs atomic.Int32
	var canceled atomic.Bool
	err := mgr.StartWithCancel("loop", func() bool {
		runs.Add(1)
		time.Sleep(time.Millisecond)
		return runs.Load() < 5
	}, func() { canceled.Store(true) })
	require.NoError(err)

	require.Eventually(func() bool { return canceled.Load() }, time.Second, 5*time.Millisecond)
	require.EqualValues(5, runs.Load())
	require.Zero(mgr.TaskCount())
}

func TestManager_StartInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), nil)

	var ticks atomic.Int32
	_, err := mgr.StartInterval("tick", func() bool {
		ticks.Add(1)
		return true
	}, 10*time.Millisecond, true)
	require.NoError(err)
	require.GreaterOrEqual(ticks.Load(), int32(1)) // runNow executes synchronously

	_, err = mgr.StartInterval("tick", func() bool { return true }, 10*time.Millisecond, false)
	require.Error(err)

	_, err = mgr.StartInterval("bad", func() bool { return true }, 0, false)
	require.Error(err)

	require.Eventually(func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	require.Zero(mgr.TaskCount())
	require.Error(mgr.StopInterval("tick"))
}

func TestManager_StopAndRestart(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), nil)

	require.NoError(mgr.Start("block", func() bool {
		<-mgr.Context().Done()
		return false
	}))
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	require.Zero(mgr.TaskCount())

	// Wait re-arms the manager
	var ran atomic.Bool
	require.NoError(mgr.Start("again", func() bool {
		ran.Store(true)
		return false
	}))
	require.Eventually(ran.Load, time.Second, 5*time.Millisecond)
}

func TestManager_RecoversPanic(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), nil)
	require.NoError(mgr.Start("panic", func() bool {
		panic("boom")
	}))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}
