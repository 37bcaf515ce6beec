package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestPostRunsInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestCallWaits(t *testing.T) {
	l, _ := startLoop(t)

	ran := false
	err := l.Call(context.Background(), func() {
		time.Sleep(20 * time.Millisecond)
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCallAfterStop(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()
	<-l.Done()

	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
	assert.False(t, l.Post(func() {}))
}

func TestCallContextCanceled(t *testing.T) {
	l, _ := startLoop(t)

	block := make(chan struct{})
	require.True(t, l.Post(func() { <-block }))
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Call(ctx, func() {}), context.DeadlineExceeded)
}

func TestRunTwice(t *testing.T) {
	l, _ := startLoop(t)
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Error(t, l.Run(context.Background()))
}

func TestEveryStopsOnFalse(t *testing.T) {
	l, _ := startLoop(t)

	var runs atomic.Int32
	tm := l.Every(5*time.Millisecond, func() bool {
		return runs.Add(1) < 3
	})

	assert.Eventually(t, tm.Stopped, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())
}

func TestEveryStop(t *testing.T) {
	l, _ := startLoop(t)

	var runs atomic.Int32
	tm := l.Every(5*time.Millisecond, func() bool {
		runs.Add(1)
		return true
	})
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Call(context.Background(), tm.Stop))
	n := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
	assert.True(t, tm.Stopped())
}

func TestEveryNeverOverlaps(t *testing.T) {
	l, _ := startLoop(t)

	var active, maxActive, runs atomic.Int32
	tm := l.Every(time.Millisecond, func() bool {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		return runs.Add(1) < 5
	})
	assert.Eventually(t, tm.Stopped, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
}
