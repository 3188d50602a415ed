package services

import (
	"context"
	"errors"
	"time"

	"ivc/pkg/logger"

	"github.com/sirupsen/logrus"
)

// BackgroundDumpJobID 防抖写盘任务的固定ID
const BackgroundDumpJobID = "background_dump"

// 写盘任务的参数键
const (
	argCategories = "categories"
	argFiles      = "files"
	argDumpAll    = "dump_all"
)

// DumpService 把数据库变更防抖写回工作副本
//
// 每次数据变更只登记一条写盘请求；同一窗口内的多次变更合并到
// 同一个后台任务（类别取并集、文件取并集），任务在第一次变更
// 后最多MaxDumpingDelay内执行一次，写盘频率与变更频率解耦。
type DumpService struct {
	scheduler   *JobScheduler
	coordinator *SyncCoordinator
	exporter    DataExporter
	projectID   string
	root        string
	maxDelay    time.Duration
	log         *logrus.Logger
}

// NewDumpService 创建写盘服务并注册后台任务
func NewDumpService(scheduler *JobScheduler, coordinator *SyncCoordinator, exporter DataExporter, projectID, root string, maxDelay time.Duration) *DumpService {
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	s := &DumpService{
		scheduler:   scheduler,
		coordinator: coordinator,
		exporter:    exporter,
		projectID:   projectID,
		root:        root,
		maxDelay:    maxDelay,
		log:         logger.GetLogger(),
	}
	scheduler.RegisterDeferred(BackgroundDumpJobID, s.runDump)
	return s
}

// AddChange 登记一次数据变更
//
// category是变更的数据类别（如domain、stories、nlu），files是
// 受影响的相对路径。任务已排队时只合并参数，不推迟触发时间。
func (s *DumpService) AddChange(ctx context.Context, category string, files ...string) error {
	s.coordinator.RecordPendingChange(time.Now())

	args := JobArgs{argCategories: SetValue(category)}
	if len(files) > 0 {
		args[argFiles] = SetValue(files...)
	}
	return s.scheduler.ModifyJob(ctx, BackgroundDumpJobID, s.maxDelay, args)
}

// RequestFullDump 登记一次全量写盘
func (s *DumpService) RequestFullDump(ctx context.Context) error {
	s.coordinator.RecordPendingChange(time.Now())
	return s.scheduler.ModifyJob(ctx, BackgroundDumpJobID, s.maxDelay, JobArgs{
		argDumpAll: FlagValue(true),
	})
}

// DumpNow 立即执行写盘，同步提交前调用以保证工作树是最新状态
func (s *DumpService) DumpNow(ctx context.Context) error {
	return s.scheduler.RunJobImmediately(ctx, BackgroundDumpJobID, JobArgs{
		argDumpAll: FlagValue(true),
	})
}

// runDump 后台任务入口
//
// 参数为空说明没有积累任何变更，直接返回。写盘需要持有全局锁，
// 与Git同步互斥；拿不到锁时把参数原样重新排队稍后重试。
func (s *DumpService) runDump(ctx context.Context, args JobArgs) {
	if len(args) == 0 {
		return
	}

	release, err := s.coordinator.TryAcquire("dump")
	if err != nil {
		var concurrent *GitConcurrentOperationError
		if errors.As(err, &concurrent) {
			s.log.Debugf("写盘遇到并发操作（%s），稍后重试", concurrent.Operation)
			if err := s.scheduler.ModifyJob(ctx, BackgroundDumpJobID, 5*time.Second, args); err != nil {
				s.log.Errorf("重新排队写盘任务失败: %v", err)
			}
			return
		}
		s.log.Errorf("获取全局锁失败: %v", err)
		return
	}
	defer release()

	if err := s.dump(ctx, args); err != nil {
		s.log.Errorf("写盘失败: %v", err)
		return
	}
	s.coordinator.ClearPendingChanges()
}

func (s *DumpService) dump(ctx context.Context, args JobArgs) error {
	if v, ok := args[argDumpAll]; ok && v.Kind == KindFlag && v.Flag {
		s.log.Info("执行全量写盘")
		return s.exporter.DumpAll(ctx, s.projectID, s.root)
	}

	var files []string
	if v, ok := args[argFiles]; ok && v.Kind == KindSet {
		files = v.Set
	}

	categories, ok := args[argCategories]
	if !ok || categories.Kind != KindSet {
		return nil
	}
	for _, category := range categories.Set {
		if err := s.exporter.DumpCategory(ctx, s.projectID, s.root, category, files); err != nil {
			return err
		}
	}
	return nil
}
