package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"ivc/internal/middleware"
	"ivc/internal/services"
	"ivc/pkg/pagination"
	"ivc/pkg/response"

	"github.com/gin-gonic/gin"
)

// GitRepositoryHandler 仓库管理接口
type GitRepositoryHandler struct {
	service *services.GitService
}

// NewGitRepositoryHandler 创建处理器
func NewGitRepositoryHandler(service *services.GitService) *GitRepositoryHandler {
	return &GitRepositoryHandler{service: service}
}

// List 列出仓库
// GET /api/v1/git_repositories
func (h *GitRepositoryHandler) List(c *gin.Context) {
	projectID := c.GetString("project_id")

	repos, err := h.service.ListRepositories(projectID)
	if err != nil {
		translateError(c, err)
		return
	}

	c.Header("X-Total-Count", strconv.Itoa(len(repos)))
	response.Success(c, repos)
}

// Create 绑定仓库
// POST /api/v1/git_repositories
func (h *GitRepositoryHandler) Create(c *gin.Context) {
	var req services.SaveRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		req.ProjectID = c.GetString("project_id")
	}

	info, err := h.service.SaveRepository(c.Request.Context(), &req)
	if err != nil {
		translateError(c, err)
		return
	}
	response.Created(c, info)
}

// Get 查询单个仓库
// GET /api/v1/git_repositories/:id
func (h *GitRepositoryHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	info, err := h.service.GetRepository(id)
	if err != nil {
		translateError(c, err)
		return
	}
	response.Success(c, info)
}

// Update 更新仓库绑定
// PUT /api/v1/git_repositories/:id
func (h *GitRepositoryHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req services.UpdateRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	info, err := h.service.UpdateRepository(c.Request.Context(), id, &req)
	if err != nil {
		translateError(c, err)
		return
	}
	response.Success(c, info)
}

// Delete 解绑仓库
// DELETE /api/v1/git_repositories/:id
func (h *GitRepositoryHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteRepository(c.Request.Context(), id); err != nil {
		translateError(c, err)
		return
	}
	response.NoContent(c)
}

// Status 仓库同步状态
// GET /api/v1/git_repositories/:id/status
func (h *GitRepositoryHandler) Status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.service.GetRepositoryStatus(id)
	if err != nil {
		translateError(c, err)
		return
	}
	response.Success(c, status)
}

// CheckoutBranch 切换分支
// PUT /api/v1/git_repositories/:id/branches/:branch
func (h *GitRepositoryHandler) CheckoutBranch(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	branch := c.Param("branch")
	force := c.Query("force") == "true"
	injectChanges := c.DefaultQuery("inject_changes", "true") == "true"

	err := h.service.CheckoutBranch(c.Request.Context(), id, branch, force, injectChanges, middleware.GetUserID(c))
	if err != nil {
		translateError(c, err)
		return
	}
	response.NoContent(c)
}

// CreateCommitRequest 提交请求体
type CreateCommitRequest struct {
	Message string `json:"message"`
}

// CreateCommit 提交并推送当前数据状态
// POST /api/v1/git_repositories/:id/branches/:branch/commits
func (h *GitRepositoryHandler) CreateCommit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	branch := c.Param("branch")

	var req CreateCommitRequest
	// 请求体可为空
	_ = c.ShouldBindJSON(&req)

	info, err := h.service.CommitAndPushChanges(c.Request.Context(), id, branch, req.Message, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, services.ErrNothingToCommit) {
			response.SuccessWithMessage(c, "没有需要提交的更改", nil)
			return
		}
		translateError(c, err)
		return
	}
	response.Created(c, info)
}

// Synchronize 手动触发同步
// POST /api/v1/git_repositories/:id/sync
func (h *GitRepositoryHandler) Synchronize(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	force := c.Query("force") == "true"

	err := h.service.SynchronizeProject(c.Request.Context(), id, force, middleware.GetUserID(c))
	if err != nil {
		translateError(c, err)
		return
	}
	response.SuccessWithMessage(c, "同步完成", nil)
}

// PublicSSHKey 部署级公钥
// GET /api/v1/git_repositories/public_ssh_key
func (h *GitRepositoryHandler) PublicSSHKey(c *gin.Context) {
	key, err := h.service.PublicSSHKey()
	if err != nil {
		translateError(c, err)
		return
	}
	response.Success(c, gin.H{"public_ssh_key": key})
}

// ListSyncLogs 同步流水
// GET /api/v1/git_repositories/:id/sync_logs
func (h *GitRepositoryHandler) ListSyncLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	logs, total, err := h.service.ListSyncLogs(id, params.GetOffset(), params.GetLimit())
	if err != nil {
		translateError(c, err)
		return
	}
	response.SuccessWithPage(c, logs, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的仓库ID")
		return 0, false
	}
	return uint(id), true
}

// translateError 把服务层错误映射为HTTP状态和机器可读错误码
func translateError(c *gin.Context, err error) {
	var (
		layoutErr     *services.ProjectLayoutError
		httpsCredErr  *services.GitHTTPSCredentialsError
		credErr       *services.CredentialsError
		commitErr     *services.GitCommitError
		concurrentErr *services.GitConcurrentOperationError
		branchErr     *services.BranchNotFoundError
		dirtyErr      *services.DirtyWorkingTreeError
		remoteErr     *services.RemoteMismatchError
		keyErr        *services.KeyUnavailableError
		transportErr  *services.GitTransportError
	)

	switch {
	case errors.As(err, &layoutErr):
		response.Fail(c, 400, "InvalidProjectLayout",
			fmt.Sprintf("仓库缺少必需的项目文件: %v", layoutErr.Missing))
	case errors.As(err, &httpsCredErr):
		response.Fail(c, 403, "GitHTTPSCredentialsError", httpsCredErr.Error())
	case errors.As(err, &credErr):
		response.Unprocessable(c, "CredentialsError", credErr.Error())
	case errors.As(err, &commitErr):
		response.Fail(c, 403, "BranchIsProtected", commitErr.Error())
	case errors.As(err, &concurrentErr):
		response.Conflict(c, "AnotherIVCOperationInProgress", concurrentErr.Error())
	case errors.As(err, &branchErr):
		response.Fail(c, 404, "BranchNotFound", branchErr.Error())
	case errors.As(err, &dirtyErr):
		response.Conflict(c, "UncommittedLocalChanges", dirtyErr.Error())
	case errors.As(err, &remoteErr):
		response.Conflict(c, "RemoteRepositoryMismatch", remoteErr.Error())
	case errors.As(err, &keyErr):
		response.Fail(c, 500, "SSHKeyUnavailable", keyErr.Error())
	case errors.Is(err, services.ErrRepositoryNotFound):
		response.Fail(c, 404, "RepositoryNotFound", "仓库不存在")
	case errors.Is(err, services.ErrDuplicateRepository):
		response.Conflict(c, "RepositoryAlreadyExists", "该项目已绑定仓库")
	case errors.As(err, &transportErr):
		response.ServerError(c, transportErr.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
