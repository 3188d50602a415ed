package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ivc/internal/services"
	"ivc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func mapError(t *testing.T, err error) (int, response.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	translateError(c, err)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestTranslateErrorTaxonomy(t *testing.T) {
	httpsErr := &services.GitHTTPSCredentialsError{}
	httpsErr.RepositoryURL = "https://example.com/bot.git"
	httpsErr.Detail = "凭证无效"

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "项目布局不合法",
			err:        &services.ProjectLayoutError{Path: "/tmp/x", Missing: []string{"domain.yml"}},
			wantStatus: http.StatusBadRequest,
			wantError:  "InvalidProjectLayout",
		},
		{
			name:       "创建时凭证错误",
			err:        &services.CredentialsError{RepositoryURL: "git@example.com:bot.git"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "CredentialsError",
		},
		{
			name:       "更新时HTTPS凭证错误",
			err:        httpsErr,
			wantStatus: http.StatusForbidden,
			wantError:  "GitHTTPSCredentialsError",
		},
		{
			name:       "受保护分支",
			err:        &services.GitCommitError{Branch: "main", Reason: "受保护"},
			wantStatus: http.StatusForbidden,
			wantError:  "BranchIsProtected",
		},
		{
			name:       "并发操作冲突",
			err:        &services.GitConcurrentOperationError{Operation: "sync"},
			wantStatus: http.StatusConflict,
			wantError:  "AnotherIVCOperationInProgress",
		},
		{
			name:       "分支不存在",
			err:        &services.BranchNotFoundError{Branch: "dev"},
			wantStatus: http.StatusNotFound,
			wantError:  "BranchNotFound",
		},
		{
			name:       "仓库不存在",
			err:        services.ErrRepositoryNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "RepositoryNotFound",
		},
		{
			name:       "重复绑定",
			err:        services.ErrDuplicateRepository,
			wantStatus: http.StatusConflict,
			wantError:  "RepositoryAlreadyExists",
		},
		{
			name:       "本地未提交更改",
			err:        &services.DirtyWorkingTreeError{Branch: "main"},
			wantStatus: http.StatusConflict,
			wantError:  "UncommittedLocalChanges",
		},
		{
			name:       "远端地址不一致",
			err:        &services.RemoteMismatchError{Expected: "a", Actual: "b"},
			wantStatus: http.StatusConflict,
			wantError:  "RemoteRepositoryMismatch",
		},
		{
			name:       "SSH密钥不可用",
			err:        &services.KeyUnavailableError{Err: errors.New("磁盘只读")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "SSHKeyUnavailable",
		},
		{
			name:       "未知错误",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := mapError(t, tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantError, body.Error)
		})
	}
}

// 传输层错误归为服务器内部错误，不向客户端泄露git输出之外的细节
func TestTranslateErrorTransport(t *testing.T) {
	status, body := mapError(t, &services.GitTransportError{Operation: "fetch", Err: errors.New("timeout")})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, body.Error)
}
