package router

import (
	"strings"

	"ivc/internal/handlers"
	"ivc/internal/middleware"
	"ivc/internal/services"
	"ivc/pkg/queue"
	"ivc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// registerValidations 注册自定义参数校验规则
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// git_url: SSH或HTTP(S)形式的仓库地址
		v.RegisterValidation("git_url", func(fl validator.FieldLevel) bool {
			url := fl.Field().String()
			return strings.HasPrefix(url, "http://") ||
				strings.HasPrefix(url, "https://") ||
				strings.HasPrefix(url, "ssh://") ||
				strings.HasPrefix(url, "git@")
		})
	}
}

// Setup 装配路由
func Setup(gitService *services.GitService, redisQueue *queue.RedisQueue) *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())

	repoHandler := handlers.NewGitRepositoryHandler(gitService)
	wsHandler := handlers.NewWebSocketHandler(redisQueue)

	api := r.Group("/api/v1")

	// 健康检查，无需认证
	api.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	api.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	// WebSocket通知（令牌经query传递，认证在升级前校验）
	api.GET("/ws/notifications", middleware.JWTAuth(), wsHandler.Notifications)

	repos := api.Group("/git_repositories")
	repos.Use(middleware.JWTAuth())
	{
		repos.GET("", middleware.RequireScope("repositories.list"), repoHandler.List)
		repos.POST("", middleware.RequireScope("repositories.create"), repoHandler.Create)
		repos.GET("/public_ssh_key", middleware.RequireScope("public_ssh_key.get"), repoHandler.PublicSSHKey)
		repos.GET("/:id", middleware.RequireScope("repositories.get"), repoHandler.Get)
		repos.PUT("/:id", middleware.RequireScope("repositories.update"), repoHandler.Update)
		repos.DELETE("/:id", middleware.RequireScope("repositories.delete"), repoHandler.Delete)
		repos.GET("/:id/status", middleware.RequireScope("repository_status.get"), repoHandler.Status)
		repos.POST("/:id/sync", middleware.RequireScope("branch.update"), repoHandler.Synchronize)
		repos.PUT("/:id/branches/:branch", middleware.RequireScope("branch.update"), repoHandler.CheckoutBranch)
		repos.POST("/:id/branches/:branch/commits", middleware.RequireScope("commit.create"), repoHandler.CreateCommit)
		repos.GET("/:id/sync_logs", middleware.RequireScope("repositories.get"), repoHandler.ListSyncLogs)
	}

	return r
}
