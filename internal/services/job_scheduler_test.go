package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectJob 记录每次触发收到的参数
type collectJob struct {
	mu   sync.Mutex
	runs []JobArgs
}

func (j *collectJob) fn(ctx context.Context, args JobArgs) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, args)
}

func (j *collectJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.runs)
}

func (j *collectJob) lastArgs() JobArgs {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.runs) == 0 {
		return nil
	}
	return j.runs[len(j.runs)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("条件在超时前未满足")
}

func newTestScheduler(t *testing.T) *JobScheduler {
	t.Helper()
	s := NewJobScheduler(NewMemoryControlQueue())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerModifyCreatesJob(t *testing.T) {
	s := newTestScheduler(t)
	job := &collectJob{}
	s.RegisterDeferred("test_job", job.fn)

	err := s.ModifyJob(context.Background(), "test_job", 20*time.Millisecond,
		JobArgs{"categories": SetValue("domain")})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return job.count() == 1 })
	assert.Equal(t, []string{"domain"}, job.lastArgs()["categories"].Set)
}

func TestSchedulerModifyMergesWithoutPostponing(t *testing.T) {
	s := newTestScheduler(t)
	job := &collectJob{}
	s.RegisterDeferred("test_job", job.fn)

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, s.ModifyJob(ctx, "test_job", 500*time.Millisecond,
		JobArgs{"categories": SetValue("domain")}))

	// 等任务就绪后再追加变更，延迟故意传一个很大的值
	waitFor(t, 2*time.Second, func() bool {
		_, ok := s.PendingArgs("test_job")
		return ok
	})
	require.NoError(t, s.ModifyJob(ctx, "test_job", time.Hour,
		JobArgs{"categories": SetValue("nlu")}))

	waitFor(t, 3*time.Second, func() bool { return job.count() == 1 })

	// 触发时间跟随第一次调度，不被第二次推迟
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"domain", "nlu"}, job.lastArgs()["categories"].Set)
}

func TestSchedulerRunImmediately(t *testing.T) {
	s := newTestScheduler(t)
	job := &collectJob{}
	s.RegisterDeferred("test_job", job.fn)

	ctx := context.Background()
	require.NoError(t, s.ModifyJob(ctx, "test_job", time.Hour,
		JobArgs{"categories": SetValue("domain")}))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := s.PendingArgs("test_job")
		return ok
	})

	require.NoError(t, s.RunJobImmediately(ctx, "test_job",
		JobArgs{"dump_all": FlagValue(true)}))

	waitFor(t, 2*time.Second, func() bool { return job.count() == 1 })

	args := job.lastArgs()
	assert.Equal(t, []string{"domain"}, args["categories"].Set)
	assert.True(t, args["dump_all"].Flag)

	// 原定时器已取消，不会再触发第二次
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, job.count())
}

func TestSchedulerCancelJob(t *testing.T) {
	s := newTestScheduler(t)
	job := &collectJob{}
	s.RegisterDeferred("test_job", job.fn)

	ctx := context.Background()
	require.NoError(t, s.ModifyJob(ctx, "test_job", 50*time.Millisecond, nil))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := s.PendingArgs("test_job")
		return ok
	})

	require.NoError(t, s.CancelJob(ctx, "test_job"))
	waitFor(t, 2*time.Second, func() bool {
		_, ok := s.PendingArgs("test_job")
		return !ok
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, job.count())
}

func TestSchedulerUnregisteredJobIgnored(t *testing.T) {
	s := newTestScheduler(t)

	// 不应panic，只记录警告
	require.NoError(t, s.ModifyJob(context.Background(), "unknown", time.Millisecond, nil))
	time.Sleep(50 * time.Millisecond)
}

func TestMemoryControlQueueTimeout(t *testing.T) {
	q := NewMemoryControlQueue()

	msg, err := q.Pop(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemoryControlQueueRoundTrip(t *testing.T) {
	q := NewMemoryControlQueue()
	ctx := context.Background()

	in := &ControlMessage{
		Action: ControlActionModify,
		JobID:  "test_job",
		Args:   JobArgs{"categories": SetValue("domain")},
	}
	require.NoError(t, q.Push(ctx, in))

	out, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.JobID, out.JobID)
	assert.Equal(t, []string{"domain"}, out.Args["categories"].Set)
}
