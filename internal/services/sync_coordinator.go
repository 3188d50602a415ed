package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// SyncCoordinator 全局同步协调器
//
// 服务实例内所有组件共享的协调状态：一把全局互斥锁、
// "远端领先"标志、最近同步时间，以及待落盘变更的时间窗口。
// 在main中构造一次，按引用注入到所有需要的组件。
//
// 锁语义：任何多步Git操作（checkout+注入、commit+push、后台轮询）
// 必须在整个逻辑操作期间持有该锁；这是防止两个操作同时改写
// 工作副本的唯一安全机制。获取是非阻塞的，冲突立即报错。
type SyncCoordinator struct {
	mu sync.Mutex

	ahead        atomic.Bool
	lastSyncUnix atomic.Int64 // 纳秒；0表示从未同步

	oldestPendingUnix atomic.Int64 // 纳秒；0表示无待落盘变更
	latestPendingUnix atomic.Int64
}

// NewSyncCoordinator 创建协调器
func NewSyncCoordinator() *SyncCoordinator {
	return &SyncCoordinator{}
}

// TryAcquire 非阻塞获取全局锁
//
// 成功返回释放函数（所有退出路径都必须调用，通常defer release()）；
// 锁被占用时立即返回*GitConcurrentOperationError。
func (c *SyncCoordinator) TryAcquire(operation string) (func(), error) {
	if !c.mu.TryLock() {
		return nil, &GitConcurrentOperationError{Operation: operation}
	}

	var once sync.Once
	release := func() {
		once.Do(c.mu.Unlock)
	}
	return release, nil
}

// SetAhead 更新"远端领先"标志（由后台轮询写入）
func (c *SyncCoordinator) SetAhead(ahead bool) {
	c.ahead.Store(ahead)
}

// IsAhead 读取"远端领先"标志（状态接口读取，允许短暂陈旧）
func (c *SyncCoordinator) IsAhead() bool {
	return c.ahead.Load()
}

// MarkSynchronized 记录一次成功同步的完成时间
func (c *SyncCoordinator) MarkSynchronized(t time.Time) {
	c.lastSyncUnix.Store(t.UnixNano())
}

// LastSynchronizedAt 最近一次成功同步时间，从未同步时返回nil
func (c *SyncCoordinator) LastSynchronizedAt() *time.Time {
	nanos := c.lastSyncUnix.Load()
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos)
	return &t
}

// RecordPendingChange 记录一次待落盘变更，维护oldest/latest时间戳
func (c *SyncCoordinator) RecordPendingChange(t time.Time) {
	nanos := t.UnixNano()
	c.oldestPendingUnix.CompareAndSwap(0, nanos)
	// latest单调推进
	for {
		current := c.latestPendingUnix.Load()
		if current >= nanos {
			return
		}
		if c.latestPendingUnix.CompareAndSwap(current, nanos) {
			return
		}
	}
}

// ClearPendingChanges 落盘成功后原子清空待变更窗口
func (c *SyncCoordinator) ClearPendingChanges() {
	c.oldestPendingUnix.Store(0)
	c.latestPendingUnix.Store(0)
}

// PendingChangeWindow 返回待落盘变更的时间窗口，无变更时返回(nil, nil)
func (c *SyncCoordinator) PendingChangeWindow() (oldest, latest *time.Time) {
	if nanos := c.oldestPendingUnix.Load(); nanos != 0 {
		t := time.Unix(0, nanos)
		oldest = &t
	}
	if nanos := c.latestPendingUnix.Load(); nanos != 0 {
		t := time.Unix(0, nanos)
		latest = &t
	}
	return oldest, latest
}
