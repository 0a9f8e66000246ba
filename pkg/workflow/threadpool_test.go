package workflow

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadPoolRunsSubmittedTask(t *testing.T) {
	p := NewThreadPool(2)

	done := make(chan error, 1)
	p.Submit(func() error { return nil }, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("done callback never invoked")
	}
}

func TestThreadPoolPropagatesError(t *testing.T) {
	p := NewThreadPool(1)
	boom := require.New(t)

	done := make(chan error, 1)
	p.Submit(func() error { return errBoom }, func(err error) { done <- err })

	select {
	case err := <-done:
		boom.ErrorIs(err, errBoom)
	case <-time.After(time.Second):
		t.Fatal("done callback never invoked")
	}
}

func TestThreadPoolBoundsConcurrency(t *testing.T) {
	p := NewThreadPool(2)

	var running int32
	var maxRunning int32
	release := make(chan struct{})
	const tasks = 6

	doneCh := make(chan struct{}, tasks)
	for i := 0; i < tasks; i++ {
		p.Submit(func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		}, func(error) { doneCh <- struct{}{} })
	}

	// Give the first wave time to claim both pool slots before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < tasks; i++ {
		<-doneCh
	}
	p.Wait()

	require.LessOrEqual(t, int(atomic.LoadInt32(&maxRunning)), 2)
}

func TestThreadPoolWaitBlocksUntilAllSubmittedTasksFinish(t *testing.T) {
	p := NewThreadPool(1)

	var finished int32
	for i := 0; i < 3; i++ {
		p.Submit(func() error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return nil
		}, func(error) {})
	}

	p.Wait()
	require.Equal(t, int32(3), atomic.LoadInt32(&finished))
}

var errBoom = &sentinelError{"boom"}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }
