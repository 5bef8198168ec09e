package workpool_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/workpool"
)

func TestPoolRunsAllSubmittedTasks(t *testing.T) {
	p := workpool.New(4)
	defer p.Shutdown()

	const n = 200
	var count int64
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			done <- struct{}{}
		})
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for submitted tasks")
		}
	}

	require.EqualValues(t, n, atomic.LoadInt64(&count))
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	p := workpool.New(2)
	p.Shutdown()
	require.NotPanics(t, func() { p.Shutdown() })
}

func TestNewClampsNonPositiveSize(t *testing.T) {
	p := workpool.New(0)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool with clamped size never ran the task")
	}
}
