package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCoordinatorTryAcquire(t *testing.T) {
	c := NewSyncCoordinator()

	release, err := c.TryAcquire("sync")
	require.NoError(t, err)

	// 持锁期间其他操作立即失败
	_, err = c.TryAcquire("commit")
	require.Error(t, err)
	var concurrent *GitConcurrentOperationError
	require.ErrorAs(t, err, &concurrent)
	assert.Equal(t, "commit", concurrent.Operation)

	release()

	release2, err := c.TryAcquire("commit")
	require.NoError(t, err)
	release2()
}

func TestSyncCoordinatorReleaseIdempotent(t *testing.T) {
	c := NewSyncCoordinator()

	release, err := c.TryAcquire("sync")
	require.NoError(t, err)

	// 多次调用release不会把别人的锁解开
	release()
	release()

	release2, err := c.TryAcquire("checkout")
	require.NoError(t, err)
	defer release2()

	_, err = c.TryAcquire("sync")
	assert.Error(t, err)
}

func TestSyncCoordinatorConcurrentAcquire(t *testing.T) {
	c := NewSyncCoordinator()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := c.TryAcquire("sync")
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			mu.Unlock()
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	// 至少一个成功，且没有panic或死锁
	assert.Greater(t, acquired, 0)

	release, err := c.TryAcquire("sync")
	require.NoError(t, err)
	release()
}

func TestSyncCoordinatorAheadFlag(t *testing.T) {
	c := NewSyncCoordinator()

	assert.False(t, c.IsAhead())
	c.SetAhead(true)
	assert.True(t, c.IsAhead())
	c.SetAhead(false)
	assert.False(t, c.IsAhead())
}

func TestSyncCoordinatorLastSynchronized(t *testing.T) {
	c := NewSyncCoordinator()

	assert.Nil(t, c.LastSynchronizedAt())

	now := time.Now()
	c.MarkSynchronized(now)

	got := c.LastSynchronizedAt()
	require.NotNil(t, got)
	assert.WithinDuration(t, now, *got, time.Microsecond)
}

func TestSyncCoordinatorPendingChangeWindow(t *testing.T) {
	c := NewSyncCoordinator()

	oldest, latest := c.PendingChangeWindow()
	assert.Nil(t, oldest)
	assert.Nil(t, latest)

	first := time.Now().Add(-time.Minute)
	second := time.Now()
	c.RecordPendingChange(first)
	c.RecordPendingChange(second)

	oldest, latest = c.PendingChangeWindow()
	require.NotNil(t, oldest)
	require.NotNil(t, latest)
	// 最早的时间戳保持第一次变更，最新的跟随最后一次
	assert.WithinDuration(t, first, *oldest, time.Microsecond)
	assert.WithinDuration(t, second, *latest, time.Microsecond)

	c.ClearPendingChanges()
	oldest, latest = c.PendingChangeWindow()
	assert.Nil(t, oldest)
	assert.Nil(t, latest)
}
