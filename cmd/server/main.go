package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ivc/internal/database"
	"ivc/internal/router"
	"ivc/internal/services"
	"ivc/pkg/config"
	"ivc/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.GetConfig()

	if err := logger.Initialize(cfg); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	gin.SetMode(cfg.Server.Mode)

	if err := database.Initialize(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	redisQueue := database.GetRedisQueue()
	if err := redisQueue.Ping(); err != nil {
		log.Fatalf("连接Redis失败: %v", err)
	}
	defer database.CloseRedisQueue()

	projectID := os.Getenv("IVC_PROJECT_ID")
	if projectID == "" {
		projectID = "default"
	}
	workingRoot := filepath.Join(cfg.Git.BaseDir, projectID)

	// 核心组件装配
	coordinator := services.NewSyncCoordinator()
	store := services.NewRepositoryStore(database.GetDB(), cfg.Git.EncryptionKey)
	keys := services.NewSSHKeyProvider(cfg.Git.SSHKeyDir)
	validator := services.NewLayoutValidator(cfg.Git.DomainFile, cfg.Git.ConfigFile, cfg.Git.DataDir)
	factory := func(dir string) services.WorkingCopy {
		return services.NewGitWorkingCopy(dir, cfg.Git.OperationTimeout, cfg.Git.CloneTimeout,
			cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	}

	notifier := services.NewRedisNotificationSink(redisQueue)
	telemetry := services.NewRedisTelemetryRecorder(redisQueue)

	// 训练数据子系统尚未接入时用占位实现
	var injector services.DataInjector = services.NoopInjector{}
	var exporter services.DataExporter = services.NoopExporter{}

	gitService := services.NewGitService(store, coordinator, validator, keys, factory,
		injector, exporter, notifier, telemetry, cfg.Git.BaseDir, cfg.Git.DefaultBranch)

	scheduler := services.NewJobScheduler(services.NewRedisControlQueue(redisQueue))
	services.NewDumpService(scheduler, coordinator, exporter, projectID, workingRoot, cfg.Sync.MaxDumpingDelay)

	if err := scheduler.ScheduleRecurring("background_sync", cfg.Sync.PollCron, func(ctx context.Context, _ services.JobArgs) {
		gitService.RunBackgroundSynchronization(ctx)
	}); err != nil {
		log.Fatalf("注册后台同步任务失败: %v", err)
	}
	telemetrySpec := fmt.Sprintf("@every %s", cfg.Sync.TelemetryStatusInterval)
	if err := scheduler.ScheduleRecurring("status_telemetry", telemetrySpec, func(ctx context.Context, _ services.JobArgs) {
		gitService.ReportStatusTelemetry(ctx)
	}); err != nil {
		log.Fatalf("注册遥测任务失败: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	r := router.Setup(gitService, redisQueue)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("版本控制服务启动,监听端口: %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号,开始优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("服务关闭异常: %v", err)
	}
	log.Info("服务已退出")
}
