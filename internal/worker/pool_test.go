package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcrm/zapcrm/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewNop()
}

func TestPoolSameKeyRunsInOrder(t *testing.T) {
	p := New(4, 100, testLogger())
	p.Start(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 1; i <= 5; i++ {
		v := i
		ok := p.TryDispatch(Job{Key: "PN1", Handler: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
			return nil
		}})
		require.True(t, ok)
	}

	p.Stop()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestPoolDifferentKeysRunInParallel(t *testing.T) {
	p := New(8, 10, testLogger())
	p.Start(context.Background())

	release := make(chan struct{})
	var running int32
	var peak int32

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	shardsUsed := map[int]bool{}
	for _, k := range keys {
		shardsUsed[p.shardFor(k)] = true
		p.TryDispatch(Job{Key: k, Handler: func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		}})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&peak) == int32(len(shardsUsed))
	}, time.Second, 5*time.Millisecond)

	close(release)
	p.Stop()
	assert.Greater(t, len(shardsUsed), 1)
}

func TestPoolFullShardRejects(t *testing.T) {
	p := New(1, 1, testLogger())
	p.Start(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	require.True(t, p.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error { return nil }}))
	assert.False(t, p.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error { return nil }}))

	close(block)
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.TotalDispatched)
	assert.Equal(t, int64(1), stats.TotalDropped)
	assert.Equal(t, int64(2), stats.TotalProcessed)
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(1, 4, testLogger())
	var panicked atomic.Value
	p.OnPanic = func(key string, r any) { panicked.Store(key) }
	p.Start(context.Background())

	var ran int32
	p.TryDispatch(Job{Key: "boom", Handler: func(ctx context.Context) error { panic("bad") }})
	p.TryDispatch(Job{Key: "boom", Handler: func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return errors.New("failed")
	}})
	p.Stop()

	assert.Equal(t, "boom", panicked.Load())
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalPanics)
	assert.Equal(t, int64(1), stats.TotalErrors)
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p := New(2, 4, testLogger())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.False(t, p.TryDispatch(Job{Key: "k", Handler: func(ctx context.Context) error { return nil }}))
}
