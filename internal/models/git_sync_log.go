package models

import (
	"time"

	"gorm.io/datatypes"
)

// 同步日志状态
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// 同步触发方式
const (
	SyncTriggerManual    = "manual"
	SyncTriggerScheduled = "scheduled"
	SyncTriggerCheckout  = "checkout"
	SyncTriggerConnect   = "connect"
)

// GitSyncLog Git同步日志
type GitSyncLog struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	RepositoryID uint   `gorm:"not null;index" json:"repository_id"`
	ProjectID    string `gorm:"size:50;not null;index" json:"project_id"`
	TaskID       string `gorm:"size:36;index" json:"task_id"`
	Trigger      string `gorm:"size:20;not null" json:"trigger"`
	OperatorID   *uint  `gorm:"index" json:"operator_id,omitempty"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   int        `json:"duration"` // 毫秒

	Status       string `gorm:"size:20;not null;default:'pending'" json:"status"`
	FromCommit   string `gorm:"size:40" json:"from_commit,omitempty"`
	ToCommit     string `gorm:"size:40" json:"to_commit,omitempty"`
	Branch       string `gorm:"size:100" json:"branch,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// 附加信息（是否注入数据、是否检测到远端领先等）
	Details datatypes.JSON `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// 关联
	Repository GitRepository `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`
}

// TableName 指定表名
func (GitSyncLog) TableName() string {
	return "git_sync_logs"
}
