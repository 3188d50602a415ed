package response

import (
	"net/http"

	"ivc/pkg/errors"
	"ivc/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// Response 统一返回格式
//
// Error字段是机器可读的错误标识（如 AnotherIVCOperationInProgress），
// Message是面向用户的说明。
type Response struct {
	Code    int         `json:"code"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ========== 成功返回 ==========

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 成功返回（自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Created 资源创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

// NoContent 操作成功且无返回内容
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// SuccessWithPage 分页成功返回
func SuccessWithPage(c *gin.Context, data interface{}, pageInfo *pagination.PageInfo) {
	c.JSON(http.StatusOK, gin.H{
		"code":      errors.CodeSuccess,
		"message":   "success",
		"data":      data,
		"page_info": pageInfo,
	})
}

// ========== 错误返回 ==========

// Fail 通用错误返回，HTTP状态码与业务码一致
func Fail(c *gin.Context, status int, errorCode string, message string) {
	c.JSON(status, Response{
		Code:    status,
		Error:   errorCode,
		Message: message,
	})
}

// ========== HTTP错误快捷方法 ==========

func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, "", message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, "", message)
}

func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, "", message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, "", message)
}

func Conflict(c *gin.Context, errorCode string, message string) {
	Fail(c, http.StatusConflict, errorCode, message)
}

func Unprocessable(c *gin.Context, errorCode string, message string) {
	Fail(c, http.StatusUnprocessableEntity, errorCode, message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, "", message)
}
