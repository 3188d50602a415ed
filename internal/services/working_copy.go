package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ivc/internal/models"
	"ivc/pkg/logger"

	"github.com/sirupsen/logrus"
)

// RepositoryCredentials 解密后的仓库认证信息，仅存在于内存
type RepositoryCredentials struct {
	Method      string // models.AuthMethodSSH / models.AuthMethodHTTPS
	Username    string
	Password    string
	AccessToken string
	PrivateKey  string // PEM格式SSH私钥
}

// CommitInfo 一次提交推送的结果
type CommitInfo struct {
	Commit   string    `json:"commit"`
	Branch   string    `json:"branch"`
	Message  string    `json:"message"`
	PushedAt time.Time `json:"pushed_at"`
}

// WorkingCopy 本地工作副本
//
// 每个服务实例只有一个克隆。所有变更工作树的方法都要求调用方
// 已持有SyncCoordinator的全局锁。
type WorkingCopy interface {
	Root() string
	EnsureCloned(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials) error
	ProbeClone(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, targetDir, branch string) error
	Fetch(ctx context.Context, creds *RepositoryCredentials) error
	Checkout(ctx context.Context, branch string, force bool) error
	UpdateToRemote(ctx context.Context, branch string) error
	CommitAndPush(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, branch, message string) (*CommitInfo, error)
	IsRemoteAhead(ctx context.Context, branch string) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	IsDirty(ctx context.Context) (bool, error)
	HeadCommit(ctx context.Context) (string, error)
}

// GitWorkingCopy 基于git命令行的工作副本实现
//
// 每次传输操作通过exec.CommandContext限定超时，避免挂起的
// 网络调用长期占用全局锁。
type GitWorkingCopy struct {
	dir          string
	opTimeout    time.Duration
	cloneTimeout time.Duration
	authorName   string
	authorEmail  string
	log          *logrus.Logger
}

// NewGitWorkingCopy 创建工作副本管理器
func NewGitWorkingCopy(dir string, opTimeout, cloneTimeout time.Duration, authorName, authorEmail string) *GitWorkingCopy {
	if opTimeout <= 0 {
		opTimeout = 60 * time.Second
	}
	if cloneTimeout <= 0 {
		cloneTimeout = 5 * time.Minute
	}
	return &GitWorkingCopy{
		dir:          dir,
		opTimeout:    opTimeout,
		cloneTimeout: cloneTimeout,
		authorName:   authorName,
		authorEmail:  authorEmail,
		log:          logger.GetLogger(),
	}
}

// Root 工作副本根目录
func (w *GitWorkingCopy) Root() string {
	return w.dir
}

// EnsureCloned 确保本地克隆存在
//
// 不存在时克隆；已存在时校验remote地址，与仓库记录不一致返回
// *RemoteMismatchError，需要人工处理（防止把数据推到错误的仓库）。
func (w *GitWorkingCopy) EnsureCloned(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials) error {
	gitDir := filepath.Join(w.dir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		actual, err := w.remoteURL(ctx)
		if err != nil {
			return err
		}
		if actual != repo.RepositoryURL {
			return &RemoteMismatchError{Expected: repo.RepositoryURL, Actual: actual}
		}
		return nil
	}

	// 目录存在但不是Git仓库时删除重建
	if _, err := os.Stat(w.dir); err == nil {
		w.log.Warnf("目录存在但不是Git仓库，将删除: %s", w.dir)
		if err := os.RemoveAll(w.dir); err != nil {
			return fmt.Errorf("删除非Git目录失败: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(w.dir), 0755); err != nil {
		return fmt.Errorf("创建基础目录失败: %v", err)
	}

	return w.clone(ctx, repo, creds, w.dir, "", false)
}

// ProbeClone 克隆到临时目录用于入库前校验，浅克隆即可
func (w *GitWorkingCopy) ProbeClone(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, targetDir, branch string) error {
	return w.clone(ctx, repo, creds, targetDir, branch, true)
}

func (w *GitWorkingCopy) clone(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, targetDir, branch string, shallow bool) error {
	env, cleanup, err := w.authEnv(creds)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{"clone"}
	if shallow {
		args = append(args, "--depth", "1")
	}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, repo.RepositoryURL, targetDir)

	output, err := w.runGit(ctx, w.cloneTimeout, "", env, args...)
	if err != nil {
		// 清理失败的目录
		os.RemoveAll(targetDir)
		if branch != "" && strings.Contains(output, "Remote branch") && strings.Contains(output, "not found") {
			return &BranchNotFoundError{Branch: branch}
		}
		return w.classify("clone", repo.RepositoryURL, creds, output, err)
	}

	w.log.Infof("成功克隆仓库到: %s", targetDir)
	return nil
}

// Fetch 拉取远端引用，不改动工作树
func (w *GitWorkingCopy) Fetch(ctx context.Context, creds *RepositoryCredentials) error {
	env, cleanup, err := w.authEnv(creds)
	if err != nil {
		return err
	}
	defer cleanup()

	output, err := w.runGit(ctx, w.opTimeout, w.dir, env, "fetch", "origin", "--prune")
	if err != nil {
		return w.classify("fetch", "", creds, output, err)
	}
	return nil
}

// Checkout 切换工作树到指定分支
//
// 存在未提交更改且force为false时返回*DirtyWorkingTreeError；
// force为true时丢弃本地更改。
func (w *GitWorkingCopy) Checkout(ctx context.Context, branch string, force bool) error {
	hasLocal := w.refExists(ctx, "refs/heads/"+branch)
	hasRemote := w.refExists(ctx, "refs/remotes/origin/"+branch)
	if !hasLocal && !hasRemote {
		return &BranchNotFoundError{Branch: branch}
	}

	dirty, err := w.IsDirty(ctx)
	if err != nil {
		return err
	}
	if dirty && !force {
		current, _ := w.CurrentBranch(ctx)
		return &DirtyWorkingTreeError{Branch: current}
	}

	args := []string{"checkout"}
	if force {
		args = append(args, "--force")
	}
	if !hasLocal {
		args = append(args, "-B", branch, "origin/"+branch)
	} else {
		args = append(args, branch)
	}

	if output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, args...); err != nil {
		return &GitTransportError{Operation: "checkout", Output: output, Err: err}
	}

	if force {
		// 丢弃未跟踪文件，保证同步边界上工作树干净
		if output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "clean", "-fd"); err != nil {
			return &GitTransportError{Operation: "clean", Output: output, Err: err}
		}
	}
	return nil
}

// UpdateToRemote 将当前分支快进到远端状态
//
// 只允许fast-forward；本地与远端分叉时报错，由用户决定处理方式。
func (w *GitWorkingCopy) UpdateToRemote(ctx context.Context, branch string) error {
	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "merge", "--ff-only", "origin/"+branch)
	if err != nil {
		return &GitTransportError{Operation: "merge", Output: output, Err: err}
	}
	return nil
}

// CommitAndPush 暂存全部更改、提交并推送到branch
//
// 工作树干净时返回ErrNothingToCommit（调用方按无操作处理）。
func (w *GitWorkingCopy) CommitAndPush(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, branch, message string) (*CommitInfo, error) {
	dirty, err := w.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if !dirty {
		return nil, ErrNothingToCommit
	}

	if output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "add", "--all"); err != nil {
		return nil, &GitTransportError{Operation: "add", Output: output, Err: err}
	}

	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil,
		"-c", "user.name="+w.authorName,
		"-c", "user.email="+w.authorEmail,
		"commit", "-m", message)
	if err != nil {
		if strings.Contains(output, "nothing to commit") {
			return nil, ErrNothingToCommit
		}
		return nil, &GitTransportError{Operation: "commit", Output: output, Err: err}
	}

	env, cleanup, err := w.authEnv(creds)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output, err = w.runGit(ctx, w.opTimeout, w.dir, env, "push", "origin", "HEAD:refs/heads/"+branch)
	if err != nil {
		if isRemoteRejected(output) {
			return nil, &GitCommitError{Branch: branch, Reason: "远端拒绝了推送（分支受保护或非快进）"}
		}
		return nil, w.classify("push", repo.RepositoryURL, creds, output, err)
	}

	commit, err := w.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}

	return &CommitInfo{
		Commit:   commit,
		Branch:   branch,
		Message:  message,
		PushedAt: time.Now(),
	}, nil
}

// IsRemoteAhead 比较远端分支与本地HEAD，不改动任何状态
func (w *GitWorkingCopy) IsRemoteAhead(ctx context.Context, branch string) (bool, error) {
	if !w.refExists(ctx, "refs/remotes/origin/"+branch) {
		return false, &BranchNotFoundError{Branch: branch}
	}

	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "rev-list", "--count", "HEAD..origin/"+branch)
	if err != nil {
		return false, &GitTransportError{Operation: "rev-list", Output: output, Err: err}
	}

	count, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return false, fmt.Errorf("解析rev-list输出失败: %v", err)
	}
	return count > 0, nil
}

// CurrentBranch 当前检出的分支名
func (w *GitWorkingCopy) CurrentBranch(ctx context.Context) (string, error) {
	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", &GitTransportError{Operation: "rev-parse", Output: output, Err: err}
	}
	return strings.TrimSpace(output), nil
}

// IsDirty 工作树是否存在未提交更改
func (w *GitWorkingCopy) IsDirty(ctx context.Context) (bool, error) {
	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "status", "--porcelain")
	if err != nil {
		return false, &GitTransportError{Operation: "status", Output: output, Err: err}
	}
	return strings.TrimSpace(output) != "", nil
}

// HeadCommit 当前HEAD的commit hash
func (w *GitWorkingCopy) HeadCommit(ctx context.Context) (string, error) {
	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", &GitTransportError{Operation: "rev-parse", Output: output, Err: err}
	}
	return strings.TrimSpace(output), nil
}

func (w *GitWorkingCopy) remoteURL(ctx context.Context) (string, error) {
	output, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "config", "--get", "remote.origin.url")
	if err != nil {
		return "", &GitTransportError{Operation: "config", Output: output, Err: err}
	}
	return strings.TrimSpace(output), nil
}

func (w *GitWorkingCopy) refExists(ctx context.Context, ref string) bool {
	_, err := w.runGit(ctx, w.opTimeout, w.dir, nil, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// runGit 执行一条git命令，所有命令都有超时上限
func (w *GitWorkingCopy) runGit(ctx context.Context, timeout time.Duration, dir string, env []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return string(output), fmt.Errorf("git %s 超时（%s）", args[0], timeout)
		}
		return string(output), err
	}
	return string(output), nil
}

// authEnv 构建认证环境变量
//
// SSH认证把私钥写入临时文件并通过GIT_SSH_COMMAND引用；
// HTTPS认证通过GIT_ASKPASS脚本提供用户名/密码，避免把凭证
// 写进remote地址。返回的cleanup负责删除临时文件。
func (w *GitWorkingCopy) authEnv(creds *RepositoryCredentials) ([]string, func(), error) {
	noop := func() {}
	if creds == nil {
		return nil, noop, nil
	}

	switch creds.Method {
	case models.AuthMethodSSH:
		if creds.PrivateKey == "" {
			return nil, noop, nil
		}
		tempDir, err := os.MkdirTemp("", "ivc-ssh-*")
		if err != nil {
			return nil, noop, fmt.Errorf("创建临时目录失败: %v", err)
		}
		keyPath := filepath.Join(tempDir, "id_key")
		if err := os.WriteFile(keyPath, []byte(creds.PrivateKey), 0600); err != nil {
			os.RemoveAll(tempDir)
			return nil, noop, fmt.Errorf("写入私钥文件失败: %v", err)
		}
		sshCommand := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null", keyPath)
		cleanup := func() { os.RemoveAll(tempDir) }
		return []string{"GIT_SSH_COMMAND=" + sshCommand}, cleanup, nil

	case models.AuthMethodHTTPS:
		username := creds.Username
		password := creds.Password
		if creds.AccessToken != "" {
			username = "oauth2"
			password = creds.AccessToken
		}
		if username == "" && password == "" {
			return nil, noop, nil
		}
		tempDir, err := os.MkdirTemp("", "ivc-askpass-*")
		if err != nil {
			return nil, noop, fmt.Errorf("创建临时目录失败: %v", err)
		}
		script := "#!/bin/sh\ncase \"$1\" in\nUsername*) echo \"$IVC_GIT_USER\" ;;\nPassword*) echo \"$IVC_GIT_PASS\" ;;\nesac\n"
		scriptPath := filepath.Join(tempDir, "askpass.sh")
		if err := os.WriteFile(scriptPath, []byte(script), 0700); err != nil {
			os.RemoveAll(tempDir)
			return nil, noop, fmt.Errorf("创建认证脚本失败: %v", err)
		}
		cleanup := func() { os.RemoveAll(tempDir) }
		return []string{
			"GIT_ASKPASS=" + scriptPath,
			"IVC_GIT_USER=" + username,
			"IVC_GIT_PASS=" + password,
		}, cleanup, nil
	}

	return nil, noop, nil
}

// classify 把git输出翻译为IVC错误分类
func (w *GitWorkingCopy) classify(operation, url string, creds *RepositoryCredentials, output string, err error) error {
	lower := strings.ToLower(output)

	httpsAuth := strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "could not read username") ||
		strings.Contains(lower, "invalid username or password") ||
		strings.Contains(lower, "http basic: access denied") ||
		strings.Contains(lower, "the requested url returned error: 403")
	sshAuth := strings.Contains(lower, "permission denied (publickey") ||
		strings.Contains(lower, "host key verification failed") ||
		strings.Contains(lower, "could not read from remote repository")

	method := ""
	if creds != nil {
		method = creds.Method
	}

	if httpsAuth && method == models.AuthMethodHTTPS {
		e := &GitHTTPSCredentialsError{}
		e.RepositoryURL = url
		e.Detail = "HTTPS凭证被远端拒绝"
		return e
	}
	if httpsAuth || sshAuth {
		return &CredentialsError{RepositoryURL: url, Detail: "远端拒绝了认证"}
	}

	return &GitTransportError{Operation: operation, Output: output, Err: err}
}

// isRemoteRejected 推送被远端拒绝（受保护分支或非快进）
func isRemoteRejected(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "protected branch") ||
		strings.Contains(lower, "pre-receive hook declined") ||
		strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "[rejected]") ||
		strings.Contains(lower, "gh006")
}
