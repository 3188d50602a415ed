package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"ivc/internal/models"

	"gorm.io/gorm"
)

// RepositoryStore 仓库配置的持久化层
//
// 凭证字段（SSH私钥、密码、访问令牌）落库前用AES-256-GCM加密，
// 读取时按需解密。每个项目最多绑定一个仓库。
type RepositoryStore struct {
	db            *gorm.DB
	encryptionKey []byte
}

// NewRepositoryStore 创建仓库存储
func NewRepositoryStore(db *gorm.DB, encryptionKey string) *RepositoryStore {
	return &RepositoryStore{
		db:            db,
		encryptionKey: []byte(encryptionKey),
	}
}

// Create 创建仓库记录，凭证加密后入库
func (s *RepositoryStore) Create(repo *models.GitRepository) error {
	var count int64
	if err := s.db.Model(&models.GitRepository{}).
		Where("project_id = ?", repo.ProjectID).Count(&count).Error; err != nil {
		return fmt.Errorf("查询仓库失败: %v", err)
	}
	if count > 0 {
		return ErrDuplicateRepository
	}

	if err := s.encryptCredentials(repo); err != nil {
		return err
	}
	if err := s.db.Create(repo).Error; err != nil {
		return fmt.Errorf("创建仓库记录失败: %v", err)
	}
	return nil
}

// Update 更新仓库元数据，凭证列保持原样
//
// repo里的凭证字段是GetByID带出的密文，重走加密会叠加一层
// 导致解密得到乱码，所以这里明确跳过凭证列。
func (s *RepositoryStore) Update(repo *models.GitRepository) error {
	if err := s.db.Omit("ssh_key", "password", "access_token").Save(repo).Error; err != nil {
		return fmt.Errorf("更新仓库记录失败: %v", err)
	}
	return nil
}

// UpdateWithCredentials 更新仓库记录并替换凭证
//
// 只能在凭证字段是明文时调用（调用方刚从请求里填入新凭证）。
func (s *RepositoryStore) UpdateWithCredentials(repo *models.GitRepository) error {
	if err := s.encryptCredentials(repo); err != nil {
		return err
	}
	if err := s.db.Save(repo).Error; err != nil {
		return fmt.Errorf("更新仓库记录失败: %v", err)
	}
	return nil
}

// GetByID 按ID查询，凭证保持密文
func (s *RepositoryStore) GetByID(id uint) (*models.GitRepository, error) {
	var repo models.GitRepository
	if err := s.db.First(&repo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("查询仓库失败: %v", err)
	}
	return &repo, nil
}

// GetByProject 按项目查询绑定的仓库
func (s *RepositoryStore) GetByProject(projectID string) (*models.GitRepository, error) {
	var repo models.GitRepository
	if err := s.db.Where("project_id = ?", projectID).First(&repo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("查询仓库失败: %v", err)
	}
	return &repo, nil
}

// List 按项目列出仓库信息（脱敏视图）
func (s *RepositoryStore) List(projectID string) ([]models.GitRepositoryInfo, error) {
	var repos []models.GitRepository
	query := s.db.Order("id")
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if err := query.Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("查询仓库列表失败: %v", err)
	}

	infos := make([]models.GitRepositoryInfo, 0, len(repos))
	for i := range repos {
		infos = append(infos, *repos[i].ToInfo())
	}
	return infos, nil
}

// Delete 删除仓库记录
func (s *RepositoryStore) Delete(id uint) error {
	result := s.db.Delete(&models.GitRepository{}, id)
	if result.Error != nil {
		return fmt.Errorf("删除仓库记录失败: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRepositoryNotFound
	}
	return nil
}

// MarkSynchronized 记录最近一次成功同步的时间和commit
func (s *RepositoryStore) MarkSynchronized(id uint, commit string) error {
	now := time.Now()
	return s.db.Model(&models.GitRepository{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_at":     &now,
			"last_sync_commit": commit,
		}).Error
}

// SetTargetBranch 更新目标分支
func (s *RepositoryStore) SetTargetBranch(id uint, branch string) error {
	return s.db.Model(&models.GitRepository{}).Where("id = ?", id).
		Update("target_branch", branch).Error
}

// Credentials 解密仓库凭证，只在发起Git操作时调用
func (s *RepositoryStore) Credentials(repo *models.GitRepository) (*RepositoryCredentials, error) {
	creds := &RepositoryCredentials{
		Method:   repo.AuthMethod(),
		Username: repo.Username,
	}

	var err error
	if repo.SSHKey != "" {
		if creds.PrivateKey, err = s.decrypt(repo.SSHKey); err != nil {
			return nil, fmt.Errorf("解密SSH私钥失败: %v", err)
		}
	}
	if repo.Password != "" {
		if creds.Password, err = s.decrypt(repo.Password); err != nil {
			return nil, fmt.Errorf("解密密码失败: %v", err)
		}
	}
	if repo.AccessToken != "" {
		if creds.AccessToken, err = s.decrypt(repo.AccessToken); err != nil {
			return nil, fmt.Errorf("解密访问令牌失败: %v", err)
		}
	}
	return creds, nil
}

func (s *RepositoryStore) encryptCredentials(repo *models.GitRepository) error {
	var err error
	if repo.SSHKey != "" {
		if repo.SSHKey, err = s.encrypt(repo.SSHKey); err != nil {
			return fmt.Errorf("加密SSH私钥失败: %v", err)
		}
	}
	if repo.Password != "" {
		if repo.Password, err = s.encrypt(repo.Password); err != nil {
			return fmt.Errorf("加密密码失败: %v", err)
		}
	}
	if repo.AccessToken != "" {
		if repo.AccessToken, err = s.encrypt(repo.AccessToken); err != nil {
			return fmt.Errorf("加密访问令牌失败: %v", err)
		}
	}
	return nil
}

// encrypt AES-256-GCM加密，nonce随密文一起存储
func (s *RepositoryStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt AES-256-GCM解密
func (s *RepositoryStore) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("密文长度不足")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// CreateSyncLog 写入一条同步流水
func (s *RepositoryStore) CreateSyncLog(log *models.GitSyncLog) error {
	return s.db.Create(log).Error
}

// FinishSyncLog 回填同步流水的结束状态
func (s *RepositoryStore) FinishSyncLog(log *models.GitSyncLog) error {
	now := time.Now()
	log.FinishedAt = &now
	log.Duration = int(now.Sub(log.StartedAt).Milliseconds())
	return s.db.Save(log).Error
}

// ListSyncLogs 分页查询同步流水
func (s *RepositoryStore) ListSyncLogs(repositoryID uint, offset, limit int) ([]models.GitSyncLog, int64, error) {
	var logs []models.GitSyncLog
	var total int64

	query := s.db.Model(&models.GitSyncLog{}).Where("repository_id = ?", repositoryID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计同步记录失败: %v", err)
	}
	if err := query.Order("started_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询同步记录失败: %v", err)
	}
	return logs, total, nil
}
