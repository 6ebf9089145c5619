package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	t.Run("Reuse Fires After New Duration", func(t *testing.T) {
		require := require.New(t)

		timer1 := GetTimer(100 * time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(200 * time.Millisecond)
		defer PutTimer(timer2)

		select {
		case fired := <-timer2.C:
			require.GreaterOrEqual(fired.Sub(begin), 180*time.Millisecond)
		case <-time.After(500 * time.Millisecond):
			t.Fatal("pooled timer did not fire")
		}
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(5 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestSleep(t *testing.T) {
	require := require.New(t)

	begin := time.Now()
	require.NoError(Sleep(context.Background(), 30*time.Millisecond))
	require.GreaterOrEqual(time.Since(begin), 25*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(Sleep(ctx, time.Second), context.DeadlineExceeded)

	require.NoError(Sleep(context.Background(), 0))
}
