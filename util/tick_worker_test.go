package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickWorker(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test ticks invoke fn until stopped":        testTicksInvokeFn,
		"test is running is safe across goroutines": testIsRunningAcrossGoroutines,
	} {
		t.Run(scenario, fn)
	}
}

func testTicksInvokeFn(t *testing.T) {
	var wg sync.WaitGroup
	var ticks atomic.Int32
	tw := NewTickWorker("counter", time.Millisecond, make(chan struct{}), func() {
		ticks.Add(1)
	}, &wg)
	tw.Start()
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)

	tw.Stop()
	wg.Wait()
	settled := ticks.Load()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, settled, ticks.Load())
}

// IsRunning is read from other goroutines while the worker shuts down,
// the way BufferedLog.Close observes its flusher.
func testIsRunningAcrossGoroutines(t *testing.T) {
	var wg sync.WaitGroup
	tw := NewTickWorker("flusher", time.Millisecond, make(chan struct{}), func() {}, &wg)
	tw.Start()
	require.True(t, tw.IsRunning())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			tw.IsRunning()
		}
	}()
	tw.Stop()
	wg.Wait()
	<-done
	require.False(t, tw.IsRunning())
}
