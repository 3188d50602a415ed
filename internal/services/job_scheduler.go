package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ivc/pkg/logger"
	"ivc/pkg/queue"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// 控制消息动作
const (
	ControlActionModify = "modify_job"
	ControlActionRun    = "run_job"
	ControlActionCancel = "cancel_job"
)

// ControlMessage 调度器控制消息
//
// 其他组件通过控制队列调整后台任务，而不是直接操作调度器，
// 保证所有调度变更在同一个消费循环里串行处理。
type ControlMessage struct {
	Action string  `json:"action"`
	JobID  string  `json:"job_id"`
	Delay  int64   `json:"delay_ms,omitempty"`
	Args   JobArgs `json:"args,omitempty"`
}

// ControlQueue 调度器控制通道
type ControlQueue interface {
	Push(ctx context.Context, msg *ControlMessage) error
	// Pop 阻塞等待下一条消息，超时返回(nil, nil)
	Pop(ctx context.Context, timeout time.Duration) (*ControlMessage, error)
}

// RedisControlQueue 基于Redis列表的控制通道，多实例部署时共享
type RedisControlQueue struct {
	q *queue.RedisQueue
}

func NewRedisControlQueue(q *queue.RedisQueue) *RedisControlQueue {
	return &RedisControlQueue{q: q}
}

func (r *RedisControlQueue) Push(ctx context.Context, msg *ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.q.PushControl(ctx, payload)
}

func (r *RedisControlQueue) Pop(ctx context.Context, timeout time.Duration) (*ControlMessage, error) {
	payload, err := r.q.PopControl(ctx, timeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MemoryControlQueue 进程内控制通道，用于单实例部署和测试
type MemoryControlQueue struct {
	ch chan *ControlMessage
}

func NewMemoryControlQueue() *MemoryControlQueue {
	return &MemoryControlQueue{ch: make(chan *ControlMessage, 256)}
}

func (m *MemoryControlQueue) Push(ctx context.Context, msg *ControlMessage) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryControlQueue) Pop(ctx context.Context, timeout time.Duration) (*ControlMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// JobFunc 后台任务处理函数
type JobFunc func(ctx context.Context, args JobArgs)

type scheduledJob struct {
	id     string
	fn     JobFunc
	args   JobArgs
	timer  *time.Timer
	cronID cron.EntryID
	runAt  time.Time
}

// JobScheduler 后台任务调度器
//
// 支持两种任务：cron表达式驱动的周期任务，和延迟触发的一次性
// 任务。一次性任务重复调度时只合并参数，不推迟触发时间，
// 保证防抖写盘的最大延迟上限。
type JobScheduler struct {
	mu     sync.Mutex
	jobs   map[string]*scheduledJob
	fns    map[string]JobFunc
	cron   *cron.Cron
	queue  ControlQueue
	log    *logrus.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobScheduler 创建调度器
func NewJobScheduler(controlQueue ControlQueue) *JobScheduler {
	return &JobScheduler{
		jobs:  make(map[string]*scheduledJob),
		fns:   make(map[string]JobFunc),
		cron:  cron.New(),
		queue: controlQueue,
		log:   logger.GetLogger(),
	}
}

// Start 启动cron调度和控制队列消费循环
func (s *JobScheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron.Start()

	s.wg.Add(1)
	go s.consumeControlLoop(ctx)
	s.log.Info("后台任务调度器已启动")
}

// Stop 停止调度器，等待消费循环退出
func (s *JobScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	for _, job := range s.jobs {
		if job.timer != nil {
			job.timer.Stop()
		}
	}
	s.mu.Unlock()
	s.log.Info("后台任务调度器已停止")
}

func (s *JobScheduler) consumeControlLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		msg, err := s.queue.Pop(ctx, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("读取调度控制消息失败: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		s.apply(ctx, msg)
	}
}

func (s *JobScheduler) apply(ctx context.Context, msg *ControlMessage) {
	switch msg.Action {
	case ControlActionModify:
		s.applyModify(msg.JobID, time.Duration(msg.Delay)*time.Millisecond, msg.Args)
	case ControlActionRun:
		s.runNow(ctx, msg.JobID, msg.Args)
	case ControlActionCancel:
		s.applyCancel(msg.JobID)
	default:
		s.log.Warnf("未知的调度控制动作: %s", msg.Action)
	}
}

// RegisterDeferred 注册延迟任务的处理函数，不立即调度
func (s *JobScheduler) RegisterDeferred(jobID string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[jobID] = fn
}

// ScheduleRecurring 按cron表达式注册周期任务
func (s *JobScheduler) ScheduleRecurring(jobID, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, func() {
		fn(context.Background(), nil)
	})
	if err != nil {
		return err
	}
	s.jobs[jobID] = &scheduledJob{id: jobID, fn: fn, cronID: entryID}
	s.log.Infof("已注册周期任务: %s (%s)", jobID, spec)
	return nil
}

// ModifyJob 调度或更新一次性任务（经由控制队列）
//
// 任务不存在时按delay创建；已存在时只合并参数，触发时间不变。
func (s *JobScheduler) ModifyJob(ctx context.Context, jobID string, delay time.Duration, args JobArgs) error {
	return s.queue.Push(ctx, &ControlMessage{
		Action: ControlActionModify,
		JobID:  jobID,
		Delay:  delay.Milliseconds(),
		Args:   args,
	})
}

// RunJobImmediately 立即触发任务（经由控制队列）
func (s *JobScheduler) RunJobImmediately(ctx context.Context, jobID string, args JobArgs) error {
	return s.queue.Push(ctx, &ControlMessage{
		Action: ControlActionRun,
		JobID:  jobID,
		Args:   args,
	})
}

// CancelJob 取消尚未触发的一次性任务（经由控制队列）
func (s *JobScheduler) CancelJob(ctx context.Context, jobID string) error {
	return s.queue.Push(ctx, &ControlMessage{
		Action: ControlActionCancel,
		JobID:  jobID,
	})
}

func (s *JobScheduler) applyModify(jobID string, delay time.Duration, args JobArgs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok && job.timer != nil {
		job.args = MergeArgs(job.args, args, s.log)
		return
	}

	fn, ok := s.fns[jobID]
	if !ok {
		s.log.Warnf("修改未注册的任务: %s", jobID)
		return
	}

	job := &scheduledJob{
		id:    jobID,
		fn:    fn,
		args:  args,
		runAt: time.Now().Add(delay),
	}
	job.timer = time.AfterFunc(delay, func() { s.fire(jobID) })
	s.jobs[jobID] = job
}

func (s *JobScheduler) fire(jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, jobID)
	args := job.args
	fn := job.fn
	s.mu.Unlock()

	fn(context.Background(), args)
}

func (s *JobScheduler) runNow(ctx context.Context, jobID string, args JobArgs) {
	s.mu.Lock()
	var merged JobArgs
	fn, registered := s.fns[jobID]
	if job, ok := s.jobs[jobID]; ok {
		if job.timer != nil {
			job.timer.Stop()
		}
		delete(s.jobs, jobID)
		merged = MergeArgs(job.args, args, s.log)
		fn = job.fn
		registered = true
	} else {
		merged = args
	}
	s.mu.Unlock()

	if !registered {
		s.log.Warnf("触发未注册的任务: %s", jobID)
		return
	}
	fn(ctx, merged)
}

func (s *JobScheduler) applyCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		if job.timer != nil {
			job.timer.Stop()
		}
		delete(s.jobs, jobID)
	}
}

// PendingArgs 返回任务当前积累的参数快照，用于测试和状态查询
func (s *JobScheduler) PendingArgs(jobID string) (JobArgs, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.timer == nil {
		return nil, false
	}
	return MergeArgs(nil, job.args, nil), true
}
