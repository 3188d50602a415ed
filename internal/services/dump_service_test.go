package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExporter 记录写盘调用
type recordingExporter struct {
	mu         sync.Mutex
	dumpAll    int
	categories []string
	files      [][]string
}

func (e *recordingExporter) DumpAll(ctx context.Context, projectID, root string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dumpAll++
	return nil
}

func (e *recordingExporter) DumpCategory(ctx context.Context, projectID, root, category string, files []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.categories = append(e.categories, category)
	e.files = append(e.files, files)
	return nil
}

func (e *recordingExporter) categoryCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.categories...)
}

func (e *recordingExporter) dumpAllCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dumpAll
}

func newTestDumpService(t *testing.T, maxDelay time.Duration) (*DumpService, *recordingExporter, *SyncCoordinator) {
	t.Helper()
	scheduler := NewJobScheduler(NewMemoryControlQueue())
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	coordinator := NewSyncCoordinator()
	exporter := &recordingExporter{}
	svc := NewDumpService(scheduler, coordinator, exporter, "default", t.TempDir(), maxDelay)
	return svc, exporter, coordinator
}

func TestDumpServiceDebouncesChanges(t *testing.T) {
	svc, exporter, _ := newTestDumpService(t, 100*time.Millisecond)
	ctx := context.Background()

	// 快速连续的变更合并成一次写盘
	require.NoError(t, svc.AddChange(ctx, "domain"))
	require.NoError(t, svc.AddChange(ctx, "nlu", "data/nlu.yml"))
	require.NoError(t, svc.AddChange(ctx, "domain"))

	waitFor(t, 3*time.Second, func() bool {
		return len(exporter.categoryCalls()) > 0
	})
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, []string{"domain", "nlu"}, exporter.categoryCalls())
	assert.Equal(t, 0, exporter.dumpAllCalls())
}

func TestDumpServiceClearsPendingAfterDump(t *testing.T) {
	svc, _, coordinator := newTestDumpService(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.AddChange(ctx, "domain"))
	oldest, _ := coordinator.PendingChangeWindow()
	require.NotNil(t, oldest)

	waitFor(t, 3*time.Second, func() bool {
		o, _ := coordinator.PendingChangeWindow()
		return o == nil
	})
}

func TestDumpServiceFullDump(t *testing.T) {
	svc, exporter, _ := newTestDumpService(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, svc.RequestFullDump(ctx))

	waitFor(t, 3*time.Second, func() bool {
		return exporter.dumpAllCalls() == 1
	})
	assert.Empty(t, exporter.categoryCalls())
}

func TestDumpServiceDumpNowWithoutChangesIsNoop(t *testing.T) {
	svc, exporter, _ := newTestDumpService(t, time.Hour)
	ctx := context.Background()

	// DumpNow带dump_all标志，立即全量写盘
	require.NoError(t, svc.DumpNow(ctx))
	waitFor(t, 3*time.Second, func() bool {
		return exporter.dumpAllCalls() == 1
	})
}

func TestDumpServiceRetriesOnLockContention(t *testing.T) {
	svc, exporter, coordinator := newTestDumpService(t, 30*time.Millisecond)
	ctx := context.Background()

	release, err := coordinator.TryAcquire("sync")
	require.NoError(t, err)

	require.NoError(t, svc.AddChange(ctx, "domain"))

	// 锁被占用时写盘推迟，不会丢失
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, exporter.categoryCalls())

	release()
	waitFor(t, 10*time.Second, func() bool {
		return len(exporter.categoryCalls()) == 1
	})
	assert.Equal(t, []string{"domain"}, exporter.categoryCalls())
}
