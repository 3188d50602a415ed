package services

import (
	"errors"
	"fmt"
	"strings"
)

// IVC失败分类。所有Git传输/校验错误在GitService边界被翻译成
// 这里的类型，HTTP层据此决定状态码，不向外暴露底层细节。

// ErrNothingToCommit 工作树干净，无需提交。内部状态，不作为用户错误。
var ErrNothingToCommit = errors.New("没有需要提交的更改")

// ErrRepositoryNotFound 仓库不存在
var ErrRepositoryNotFound = errors.New("仓库不存在")

// ErrDuplicateRepository 项目已关联仓库（每个项目最多一个）
var ErrDuplicateRepository = errors.New("该项目已关联Git仓库")

// ProjectLayoutError 目录结构不是合法的机器人项目布局
type ProjectLayoutError struct {
	Path    string
	Missing []string
}

func (e *ProjectLayoutError) Error() string {
	return fmt.Sprintf("目录 %s 缺少必需的项目文件: %s", e.Path, strings.Join(e.Missing, ", "))
}

// CredentialsError 远端仓库拒绝了认证（SSH密钥被拒等）
type CredentialsError struct {
	RepositoryURL string
	Detail        string
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("仓库 %s 认证失败: %s", e.RepositoryURL, e.Detail)
}

// GitHTTPSCredentialsError HTTPS用户名/密码或令牌被拒绝
//
// 与SSH认证失败区分开，HTTP层对两者返回不同状态码。
type GitHTTPSCredentialsError struct {
	CredentialsError
}

// GitCommitError 提交/推送失败（受保护分支或远端拒绝）
type GitCommitError struct {
	Branch string
	Reason string
}

func (e *GitCommitError) Error() string {
	return fmt.Sprintf("无法推送到分支 %s: %s", e.Branch, e.Reason)
}

// GitConcurrentOperationError 另一个IVC操作正在进行
//
// 调用方应稍后重试，而不是当作永久失败。
type GitConcurrentOperationError struct {
	Operation string
}

func (e *GitConcurrentOperationError) Error() string {
	return fmt.Sprintf("另一个版本控制操作（%s）正在进行", e.Operation)
}

// RemoteMismatchError 本地克隆的remote与仓库记录不一致，需要人工处理
type RemoteMismatchError struct {
	Expected string
	Actual   string
}

func (e *RemoteMismatchError) Error() string {
	return fmt.Sprintf("本地克隆的远端地址 %s 与仓库配置 %s 不一致", e.Actual, e.Expected)
}

// DirtyWorkingTreeError 工作树存在未提交的更改，且未指定force
type DirtyWorkingTreeError struct {
	Branch string
}

func (e *DirtyWorkingTreeError) Error() string {
	return fmt.Sprintf("分支 %s 存在未提交的本地更改", e.Branch)
}

// BranchNotFoundError 目标分支不存在
type BranchNotFoundError struct {
	Branch string
}

func (e *BranchNotFoundError) Error() string {
	return fmt.Sprintf("分支 %s 不存在", e.Branch)
}

// KeyUnavailableError SSH密钥生成或读取失败（如只读文件系统）
type KeyUnavailableError struct {
	Err error
}

func (e *KeyUnavailableError) Error() string {
	return fmt.Sprintf("SSH密钥不可用: %v", e.Err)
}

func (e *KeyUnavailableError) Unwrap() error {
	return e.Err
}

// GitTransportError 未归类的传输层错误（网络中断、超时等）
type GitTransportError struct {
	Operation string
	Output    string
	Err       error
}

func (e *GitTransportError) Error() string {
	return fmt.Sprintf("git %s 失败: %v", e.Operation, e.Err)
}

func (e *GitTransportError) Unwrap() error {
	return e.Err
}
