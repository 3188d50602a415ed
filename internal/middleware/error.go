package middleware

import (
	"ivc/pkg/logger"
	"ivc/pkg/response"

	"github.com/gin-gonic/gin"
)

// Recovery panic恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.GetLogger().Errorf("请求处理panic: %v, path: %s", err, c.Request.URL.Path)
				response.ServerError(c, "服务器内部错误")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status >= 500 {
			logger.GetLogger().Errorf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		} else {
			logger.GetLogger().Debugf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, status)
		}
	}
}
