package models

import (
	"strings"
	"time"
)

// 认证方式
const (
	AuthMethodSSH   = "ssh"
	AuthMethodHTTPS = "https"
)

// GitRepository Git仓库
//
// 每个项目最多关联一个仓库。SSHKey/Password/AccessToken落库前
// 由RepositoryStore加密，任何JSON序列化都不包含明文。
type GitRepository struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	ProjectID string `gorm:"size:50;not null;uniqueIndex" json:"project_id"`

	// 基本信息
	Name string `gorm:"size:100" json:"name"`

	// Git配置
	RepositoryURL           string `gorm:"size:500;not null" json:"repository_url"`
	TargetBranch            string `gorm:"size:100;default:'main'" json:"target_branch"`
	IsTargetBranchProtected bool   `gorm:"default:false" json:"is_target_branch_protected"`

	// 认证信息（加密存储）
	UseGeneratedSSHKeys bool   `gorm:"default:false" json:"use_generated_ssh_keys"`
	SSHKey              string `gorm:"type:text" json:"-"`
	Username            string `gorm:"size:100" json:"-"`
	Password            string `gorm:"size:500" json:"-"`
	AccessToken         string `gorm:"size:500" json:"-"`

	// 同步状态
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncCommit string     `gorm:"size:40" json:"last_sync_commit,omitempty"`

	// 时间戳
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (GitRepository) TableName() string {
	return "git_repositories"
}

// AuthMethod 根据仓库URL推断认证方式
func (r *GitRepository) AuthMethod() string {
	url := strings.ToLower(r.RepositoryURL)
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return AuthMethodHTTPS
	}
	return AuthMethodSSH
}

// HasCredentials 是否已配置认证信息
func (r *GitRepository) HasCredentials() bool {
	if r.UseGeneratedSSHKeys {
		return true
	}
	return r.SSHKey != "" || r.AccessToken != "" || (r.Username != "" && r.Password != "")
}

// GitRepositoryInfo 对外展示的仓库信息（脱敏）
type GitRepositoryInfo struct {
	ID                      uint       `json:"id"`
	ProjectID               string     `json:"project_id"`
	Name                    string     `json:"name"`
	RepositoryURL           string     `json:"repository_url"`
	TargetBranch            string     `json:"target_branch"`
	IsTargetBranchProtected bool       `json:"is_target_branch_protected"`
	UseGeneratedSSHKeys     bool       `json:"use_generated_ssh_keys"`
	AuthMethod              string     `json:"auth_method"`
	CredentialsPresent      bool       `json:"credentials_present"`
	LastSyncAt              *time.Time `json:"last_sync_at,omitempty"`
	LastSyncCommit          string     `json:"last_sync_commit,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// ToInfo 生成脱敏视图，绝不携带密钥明文或密文
func (r *GitRepository) ToInfo() *GitRepositoryInfo {
	return &GitRepositoryInfo{
		ID:                      r.ID,
		ProjectID:               r.ProjectID,
		Name:                    r.Name,
		RepositoryURL:           r.RepositoryURL,
		TargetBranch:            r.TargetBranch,
		IsTargetBranchProtected: r.IsTargetBranchProtected,
		UseGeneratedSSHKeys:     r.UseGeneratedSSHKeys,
		AuthMethod:              r.AuthMethod(),
		CredentialsPresent:      r.HasCredentials(),
		LastSyncAt:              r.LastSyncAt,
		LastSyncCommit:          r.LastSyncCommit,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}
