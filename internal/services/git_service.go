package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ivc/internal/models"
	"ivc/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// repositoryStore 仓库持久化依赖，测试时用内存实现替换
type repositoryStore interface {
	Create(repo *models.GitRepository) error
	Update(repo *models.GitRepository) error
	UpdateWithCredentials(repo *models.GitRepository) error
	SetTargetBranch(id uint, branch string) error
	GetByID(id uint) (*models.GitRepository, error)
	GetByProject(projectID string) (*models.GitRepository, error)
	List(projectID string) ([]models.GitRepositoryInfo, error)
	Delete(id uint) error
	MarkSynchronized(id uint, commit string) error
	Credentials(repo *models.GitRepository) (*RepositoryCredentials, error)
	CreateSyncLog(log *models.GitSyncLog) error
	FinishSyncLog(log *models.GitSyncLog) error
	ListSyncLogs(repositoryID uint, offset, limit int) ([]models.GitSyncLog, int64, error)
}

// layoutValidator 项目结构校验依赖
type layoutValidator interface {
	Validate(root string) error
}

// sshKeyProvider 部署级SSH密钥依赖
type sshKeyProvider interface {
	GetOrCreateKeypair() (privateKey, publicKey string, err error)
	PublicKey() (string, error)
}

// WorkingCopyFactory 按目录创建工作副本，测试时注入假实现
type WorkingCopyFactory func(dir string) WorkingCopy

// SaveRepositoryRequest 创建/更新仓库绑定的请求
type SaveRepositoryRequest struct {
	ProjectID               string `json:"project_id" binding:"required"`
	Name                    string `json:"name"`
	RepositoryURL           string `json:"repository_url" binding:"required,git_url"`
	TargetBranch            string `json:"target_branch"`
	IsTargetBranchProtected bool   `json:"is_target_branch_protected"`
	UseGeneratedSSHKeys     bool   `json:"use_generated_ssh_keys"`
	SSHKey                  string `json:"ssh_key"`
	Username                string `json:"username"`
	Password                string `json:"password"`
	AccessToken             string `json:"access_token"`
}

// UpdateRepositoryRequest 更新仓库绑定的请求，未提供的字段保持不变
//
// 布尔字段用指针区分"没传"和"传了false"，避免一次改名把
// 分支保护等开关悄悄重置。
type UpdateRepositoryRequest struct {
	Name                    string `json:"name"`
	RepositoryURL           string `json:"repository_url" binding:"omitempty,git_url"`
	TargetBranch            string `json:"target_branch"`
	IsTargetBranchProtected *bool  `json:"is_target_branch_protected"`
	UseGeneratedSSHKeys     *bool  `json:"use_generated_ssh_keys"`
	SSHKey                  string `json:"ssh_key"`
	Username                string `json:"username"`
	Password                string `json:"password"`
	AccessToken             string `json:"access_token"`
}

// RepositoryStatus 仓库同步状态快照，读取无需全局锁
type RepositoryStatus struct {
	IsRemoteAhead         bool       `json:"is_remote_ahead"`
	AreChangesPending     bool       `json:"are_changes_pending"`
	FirstPendingChangeAt  *time.Time `json:"first_pending_change_at,omitempty"`
	LatestPendingChangeAt *time.Time `json:"latest_pending_change_at,omitempty"`
	LastSynchronizedAt    *time.Time `json:"last_synchronized_at,omitempty"`
	LastSyncCommit        string     `json:"last_sync_commit,omitempty"`
	TargetBranch          string     `json:"target_branch"`
}

// GitService 版本控制门面
//
// 对外暴露仓库绑定、分支切换、提交推送和同步操作；内部协调
// 工作副本、凭证存储、全局锁和数据导入导出。
type GitService struct {
	store       repositoryStore
	coordinator *SyncCoordinator
	validator   layoutValidator
	keys        sshKeyProvider
	factory     WorkingCopyFactory
	injector    DataInjector
	exporter    DataExporter
	notifier      NotificationSink
	telemetry     TelemetryRecorder
	baseDir       string
	defaultBranch string

	copyMu sync.Mutex
	copies map[uint]WorkingCopy

	log *logrus.Logger
}

// NewGitService 创建版本控制服务
func NewGitService(
	store repositoryStore,
	coordinator *SyncCoordinator,
	validator layoutValidator,
	keys sshKeyProvider,
	factory WorkingCopyFactory,
	injector DataInjector,
	exporter DataExporter,
	notifier NotificationSink,
	telemetry TelemetryRecorder,
	baseDir string,
	defaultBranch string,
) *GitService {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &GitService{
		store:         store,
		coordinator:   coordinator,
		validator:     validator,
		keys:          keys,
		factory:       factory,
		injector:      injector,
		exporter:      exporter,
		notifier:      notifier,
		telemetry:     telemetry,
		baseDir:       baseDir,
		defaultBranch: defaultBranch,
		copies:        make(map[uint]WorkingCopy),
		log:           logger.GetLogger(),
	}
}

// SaveRepository 绑定项目到Git仓库
//
// 入库前先用临时克隆验证凭证和项目结构，任何一步失败都不会
// 留下半完成的绑定。绑定成功后立即做一次初始同步。
func (s *GitService) SaveRepository(ctx context.Context, req *SaveRepositoryRequest) (*models.GitRepositoryInfo, error) {
	repo := &models.GitRepository{
		ProjectID:               req.ProjectID,
		Name:                    req.Name,
		RepositoryURL:           req.RepositoryURL,
		TargetBranch:            req.TargetBranch,
		IsTargetBranchProtected: req.IsTargetBranchProtected,
		UseGeneratedSSHKeys:     req.UseGeneratedSSHKeys,
		SSHKey:                  req.SSHKey,
		Username:                req.Username,
		Password:                req.Password,
		AccessToken:             req.AccessToken,
	}
	if repo.TargetBranch == "" {
		repo.TargetBranch = s.defaultBranch
	}

	if err := s.checkCredentialCoherence(repo, false); err != nil {
		return nil, err
	}
	if repo.UseGeneratedSSHKeys {
		privateKey, _, err := s.keys.GetOrCreateKeypair()
		if err != nil {
			return nil, &KeyUnavailableError{Err: err}
		}
		repo.SSHKey = privateKey
	}

	creds := credentialsFromPlain(repo)
	if err := s.probeAndValidate(ctx, repo, creds); err != nil {
		return nil, err
	}

	// 凭证在Create里加密，之后repo里只有密文
	if err := s.store.Create(repo); err != nil {
		return nil, err
	}

	if err := s.initialSync(ctx, repo, creds); err != nil {
		return nil, err
	}

	s.notify(ctx, "repository_connected", map[string]interface{}{
		"repository_id": repo.ID,
		"project_id":    repo.ProjectID,
	})
	s.telemetry.Record(ctx, "git_repository_created", map[string]interface{}{
		"auth_method": repo.AuthMethod(),
	})

	return repo.ToInfo(), nil
}

// probeAndValidate 临时克隆验证凭证有效性和项目结构
func (s *GitService) probeAndValidate(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials) error {
	probeDir := filepath.Join(os.TempDir(), "ivc-probe-"+uuid.NewString())
	defer os.RemoveAll(probeDir)

	wc := s.factory(probeDir)
	if err := wc.ProbeClone(ctx, repo, creds, probeDir, repo.TargetBranch); err != nil {
		return err
	}
	return s.validator.Validate(probeDir)
}

// initialSync 绑定后的首次同步：克隆、检出目标分支、导入数据
func (s *GitService) initialSync(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials) error {
	release, err := s.coordinator.TryAcquire("connect")
	if err != nil {
		return err
	}
	defer release()

	syncLog := s.newSyncLog(repo, models.SyncTriggerConnect, 0)
	return s.runSync(ctx, repo, creds, repo.TargetBranch, true, true, syncLog)
}

// UpdateRepository 更新仓库绑定
//
// 未提供的字段保持原值。仓库地址或凭证变化时重新验证；HTTPS
// 凭证缺失或无效在更新场景下是独立的错误类型，前端据此提示
// 重新授权。GetByID带出的凭证是密文，只有凭证被替换时才重新
// 加密入库，否则密文原样保留。
func (s *GitService) UpdateRepository(ctx context.Context, id uint, req *UpdateRepositoryRequest) (*models.GitRepositoryInfo, error) {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	credentialsChanged := req.SSHKey != "" || req.Password != "" || req.AccessToken != "" ||
		(req.UseGeneratedSSHKeys != nil && *req.UseGeneratedSSHKeys != repo.UseGeneratedSSHKeys)
	urlChanged := req.RepositoryURL != "" && req.RepositoryURL != repo.RepositoryURL
	oldMethod := repo.AuthMethod()

	if req.Name != "" {
		repo.Name = req.Name
	}
	if req.RepositoryURL != "" {
		repo.RepositoryURL = req.RepositoryURL
	}
	// 认证方式随地址变了，旧凭证必然不再适用
	if repo.AuthMethod() != oldMethod {
		credentialsChanged = true
	}
	if req.TargetBranch != "" {
		repo.TargetBranch = req.TargetBranch
	}
	if req.IsTargetBranchProtected != nil {
		repo.IsTargetBranchProtected = *req.IsTargetBranchProtected
	}
	if req.UseGeneratedSSHKeys != nil {
		repo.UseGeneratedSSHKeys = *req.UseGeneratedSSHKeys
	}
	if req.Username != "" {
		repo.Username = req.Username
	}

	if credentialsChanged {
		// 凭证整体替换：repo里的密文换成请求里的明文
		repo.SSHKey = req.SSHKey
		repo.Password = req.Password
		repo.AccessToken = req.AccessToken

		if err := s.checkCredentialCoherence(repo, true); err != nil {
			return nil, err
		}
		if repo.UseGeneratedSSHKeys && req.SSHKey == "" {
			privateKey, _, err := s.keys.GetOrCreateKeypair()
			if err != nil {
				return nil, &KeyUnavailableError{Err: err}
			}
			repo.SSHKey = privateKey
		}
		if err := s.probeAndValidate(ctx, repo, credentialsFromPlain(repo)); err != nil {
			return nil, wrapUpdateCredentialsError(repo, err)
		}
		if err := s.store.UpdateWithCredentials(repo); err != nil {
			return nil, err
		}
		return repo.ToInfo(), nil
	}

	if urlChanged {
		// 新地址配旧凭证，用解密后的凭证做探测
		if err := s.checkCredentialCoherence(repo, true); err != nil {
			return nil, err
		}
		creds, err := s.store.Credentials(repo)
		if err != nil {
			return nil, err
		}
		if err := s.probeAndValidate(ctx, repo, creds); err != nil {
			return nil, wrapUpdateCredentialsError(repo, err)
		}
	}

	if err := s.store.Update(repo); err != nil {
		return nil, err
	}
	return repo.ToInfo(), nil
}

// ListRepositories 列出项目绑定的仓库
func (s *GitService) ListRepositories(projectID string) ([]models.GitRepositoryInfo, error) {
	return s.store.List(projectID)
}

// GetRepository 查询单个仓库
func (s *GitService) GetRepository(id uint) (*models.GitRepositoryInfo, error) {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	return repo.ToInfo(), nil
}

// DeleteRepository 解绑仓库并删除本地克隆
func (s *GitService) DeleteRepository(ctx context.Context, id uint) error {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return err
	}

	release, err := s.coordinator.TryAcquire("disconnect")
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.Delete(id); err != nil {
		return err
	}

	s.copyMu.Lock()
	delete(s.copies, id)
	s.copyMu.Unlock()

	dir := s.workingDir(repo)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warnf("删除工作副本目录失败: %v", err)
	}
	return nil
}

// GetRepositoryStatus 读取同步状态，不触碰全局锁
func (s *GitService) GetRepositoryStatus(id uint) (*RepositoryStatus, error) {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}

	oldest, latest := s.coordinator.PendingChangeWindow()
	return &RepositoryStatus{
		IsRemoteAhead:         s.coordinator.IsAhead(),
		AreChangesPending:     oldest != nil,
		FirstPendingChangeAt:  oldest,
		LatestPendingChangeAt: latest,
		LastSynchronizedAt:    s.coordinator.LastSynchronizedAt(),
		LastSyncCommit:        repo.LastSyncCommit,
		TargetBranch:          repo.TargetBranch,
	}, nil
}

// PublicSSHKey 部署级公钥，用户将其配置为仓库的deploy key
func (s *GitService) PublicSSHKey() (string, error) {
	if _, _, err := s.keys.GetOrCreateKeypair(); err != nil {
		return "", &KeyUnavailableError{Err: err}
	}
	return s.keys.PublicKey()
}

// CheckoutBranch 切换工作副本到指定分支
//
// 存在未提交更改时需要force显式确认丢弃；injectChanges控制切换后
// 是否把工作树的数据重新导入数据库。布局校验失败时仓库记录保持不变。
func (s *GitService) CheckoutBranch(ctx context.Context, id uint, branch string, force, injectChanges bool, operatorID uint) error {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return err
	}

	release, err := s.coordinator.TryAcquire("checkout")
	if err != nil {
		return err
	}
	defer release()

	creds, err := s.store.Credentials(repo)
	if err != nil {
		return err
	}

	syncLog := s.newSyncLog(repo, models.SyncTriggerCheckout, operatorID)
	syncLog.Branch = branch
	if err := s.runSync(ctx, repo, creds, branch, force, injectChanges, syncLog); err != nil {
		return err
	}

	// 检出成功后目标分支跟着切换，否则下一轮后台同步会切回旧分支
	if err := s.store.SetTargetBranch(repo.ID, branch); err != nil {
		s.log.Warnf("更新目标分支失败: %v", err)
	}
	repo.TargetBranch = branch

	s.notify(ctx, "branch_checked_out", map[string]interface{}{
		"repository_id": repo.ID,
		"branch":        branch,
	})
	s.telemetry.Record(ctx, "git_branch_checkout", nil)
	return nil
}

// SynchronizeProject 手动触发一次同步
//
// 远端没有新提交且不要求强制导入时是纯粹的no-op（只刷新状态）。
// 调用方在本方法返回后观察到的一定是同步完成之后的状态。
func (s *GitService) SynchronizeProject(ctx context.Context, id uint, forceInjection bool, operatorID uint) error {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return err
	}

	release, err := s.coordinator.TryAcquire("sync")
	if err != nil {
		return err
	}
	defer release()

	creds, err := s.store.Credentials(repo)
	if err != nil {
		return err
	}

	wc := s.workingCopy(repo)
	syncLog := s.newSyncLog(repo, models.SyncTriggerManual, operatorID)

	if err := wc.EnsureCloned(ctx, repo, creds); err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}
	if err := wc.Fetch(ctx, creds); err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}
	ahead, err := wc.IsRemoteAhead(ctx, repo.TargetBranch)
	if err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}

	if !ahead && !forceInjection {
		commit, _ := wc.HeadCommit(ctx)
		s.finishSyncLog(syncLog, commit, nil)
		s.coordinator.MarkSynchronized(time.Now())
		s.coordinator.SetAhead(false)
		return nil
	}

	return s.applySync(ctx, repo, wc, repo.TargetBranch, true, ahead || forceInjection, syncLog)
}

// runSync 同步的公共路径，调用方必须已持有全局锁
//
// 步骤：确保克隆存在、拉取远端、检出分支、快进、布局校验、
// 导入数据、记录同步位置。每一步失败都会回填同步流水的失败状态。
func (s *GitService) runSync(ctx context.Context, repo *models.GitRepository, creds *RepositoryCredentials, branch string, force, inject bool, syncLog *models.GitSyncLog) error {
	wc := s.workingCopy(repo)

	if err := wc.EnsureCloned(ctx, repo, creds); err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}
	if commit, err := wc.HeadCommit(ctx); err == nil {
		syncLog.FromCommit = commit
	}
	if err := wc.Fetch(ctx, creds); err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}

	return s.applySync(ctx, repo, wc, branch, force, inject, syncLog)
}

// applySync 拉取之后的收尾：检出、校验、导入、记账
func (s *GitService) applySync(ctx context.Context, repo *models.GitRepository, wc WorkingCopy, branch string, force, inject bool, syncLog *models.GitSyncLog) error {
	err := func() error {
		if err := wc.Checkout(ctx, branch, force); err != nil {
			return err
		}
		if err := wc.UpdateToRemote(ctx, branch); err != nil {
			return err
		}
		// 每次检出之后都要重新校验项目布局
		if err := s.validator.Validate(wc.Root()); err != nil {
			return err
		}
		if inject {
			return s.injector.InjectAll(ctx, repo.ProjectID, wc.Root())
		}
		return nil
	}()
	if err != nil {
		s.finishSyncLog(syncLog, "", err)
		return err
	}

	commit, cerr := wc.HeadCommit(ctx)
	if cerr != nil {
		s.log.Warnf("读取HEAD失败: %v", cerr)
	}
	s.finishSyncLog(syncLog, commit, nil)

	s.coordinator.MarkSynchronized(time.Now())
	s.coordinator.SetAhead(false)
	s.coordinator.ClearPendingChanges()
	if err := s.store.MarkSynchronized(repo.ID, commit); err != nil {
		s.log.Warnf("更新同步位置失败: %v", err)
	}
	return nil
}

// CommitAndPushChanges 把当前数据状态提交并推送到指定分支
//
// 目标分支受保护时直接拒绝，不获取锁也不做任何Git调用。
func (s *GitService) CommitAndPushChanges(ctx context.Context, id uint, branch, message string, operatorID uint) (*CommitInfo, error) {
	repo, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = repo.TargetBranch
	}
	if branch == repo.TargetBranch && repo.IsTargetBranchProtected {
		return nil, &GitCommitError{Branch: branch, Reason: "目标分支受保护，不允许直接推送"}
	}
	if message == "" {
		message = fmt.Sprintf("IVC: 更新于 %s", time.Now().Format("2006-01-02 15:04:05"))
	}

	release, err := s.coordinator.TryAcquire("commit")
	if err != nil {
		return nil, err
	}
	defer release()

	creds, err := s.store.Credentials(repo)
	if err != nil {
		return nil, err
	}

	wc := s.workingCopy(repo)
	if err := wc.EnsureCloned(ctx, repo, creds); err != nil {
		return nil, err
	}

	// 先把数据库里的最新状态写进工作树，保证提交的是完整快照
	if err := s.exporter.DumpAll(ctx, repo.ProjectID, wc.Root()); err != nil {
		return nil, fmt.Errorf("写盘失败: %v", err)
	}

	syncLog := s.newSyncLog(repo, models.SyncTriggerManual, operatorID)
	syncLog.Branch = branch

	info, err := wc.CommitAndPush(ctx, repo, creds, branch, message)
	if err != nil {
		if err != ErrNothingToCommit {
			s.finishSyncLog(syncLog, "", err)
		}
		return nil, err
	}

	s.finishSyncLog(syncLog, info.Commit, nil)
	s.coordinator.MarkSynchronized(info.PushedAt)
	s.coordinator.ClearPendingChanges()
	if err := s.store.MarkSynchronized(repo.ID, info.Commit); err != nil {
		s.log.Warnf("更新同步位置失败: %v", err)
	}

	s.notify(ctx, "changes_pushed", map[string]interface{}{
		"repository_id": repo.ID,
		"branch":        branch,
		"commit":        info.Commit,
	})
	s.telemetry.Record(ctx, "git_changes_pushed", map[string]interface{}{
		"target_branch": branch == repo.TargetBranch,
	})
	return info, nil
}

// RunBackgroundSynchronization 后台轮询入口
//
// 锁被占用说明有操作正在进行，本轮直接跳过，下一分钟再试。
// 远端领先时立即同步，并通知前端刷新。
func (s *GitService) RunBackgroundSynchronization(ctx context.Context) {
	repos, err := s.store.List("")
	if err != nil {
		s.log.Errorf("读取仓库列表失败: %v", err)
		return
	}
	if len(repos) == 0 {
		return
	}

	release, err := s.coordinator.TryAcquire("scheduled_sync")
	if err != nil {
		s.log.Debug("后台同步跳过：全局锁被占用")
		return
	}
	defer release()

	for i := range repos {
		s.pollRepository(ctx, repos[i].ID)
	}
}

func (s *GitService) pollRepository(ctx context.Context, id uint) {
	repo, err := s.store.GetByID(id)
	if err != nil {
		s.log.Errorf("读取仓库失败: %v", err)
		return
	}

	creds, err := s.store.Credentials(repo)
	if err != nil {
		s.log.Errorf("解密仓库凭证失败: %v", err)
		return
	}

	wc := s.workingCopy(repo)
	if err := wc.EnsureCloned(ctx, repo, creds); err != nil {
		s.log.Errorf("后台同步克隆检查失败: %v", err)
		return
	}
	if err := wc.Fetch(ctx, creds); err != nil {
		s.log.Errorf("后台同步拉取失败: %v", err)
		return
	}

	ahead, err := wc.IsRemoteAhead(ctx, repo.TargetBranch)
	if err != nil {
		s.log.Errorf("比较远端状态失败: %v", err)
		return
	}
	if !ahead {
		s.coordinator.SetAhead(false)
		return
	}

	s.coordinator.SetAhead(true)
	s.notify(ctx, "remote_ahead", map[string]interface{}{
		"repository_id": repo.ID,
		"branch":        repo.TargetBranch,
	})

	syncLog := s.newSyncLog(repo, models.SyncTriggerScheduled, 0)
	if err := s.applySync(ctx, repo, wc, repo.TargetBranch, true, true, syncLog); err != nil {
		s.log.Errorf("后台同步失败: %v", err)
	}
}

// ListSyncLogs 分页查询同步流水
func (s *GitService) ListSyncLogs(id uint, offset, limit int) ([]models.GitSyncLog, int64, error) {
	if _, err := s.store.GetByID(id); err != nil {
		return nil, 0, err
	}
	return s.store.ListSyncLogs(id, offset, limit)
}

// ReportStatusTelemetry 周期性上报仓库状态遥测
func (s *GitService) ReportStatusTelemetry(ctx context.Context) {
	repos, err := s.store.List("")
	if err != nil {
		return
	}
	s.telemetry.Record(ctx, "git_repository_status", map[string]interface{}{
		"repository_count": len(repos),
		"is_remote_ahead":  s.coordinator.IsAhead(),
	})
}

// checkCredentialCoherence 校验认证方式与仓库地址匹配
func (s *GitService) checkCredentialCoherence(repo *models.GitRepository, isUpdate bool) error {
	switch repo.AuthMethod() {
	case models.AuthMethodSSH:
		if repo.Password != "" || repo.AccessToken != "" {
			return &CredentialsError{
				RepositoryURL: repo.RepositoryURL,
				Detail:        "SSH地址不能使用HTTPS凭证",
			}
		}
	case models.AuthMethodHTTPS:
		if repo.UseGeneratedSSHKeys || repo.SSHKey != "" {
			return &CredentialsError{
				RepositoryURL: repo.RepositoryURL,
				Detail:        "HTTPS地址不能使用SSH密钥",
			}
		}
		if repo.AccessToken == "" && (repo.Username == "" || repo.Password == "") {
			err := &CredentialsError{
				RepositoryURL: repo.RepositoryURL,
				Detail:        "HTTPS地址需要用户名密码或访问令牌",
			}
			if isUpdate {
				return &GitHTTPSCredentialsError{CredentialsError: *err}
			}
			return err
		}
	}
	return nil
}

// workingCopy 返回仓库的工作副本，按仓库ID缓存
func (s *GitService) workingCopy(repo *models.GitRepository) WorkingCopy {
	s.copyMu.Lock()
	defer s.copyMu.Unlock()
	if wc, ok := s.copies[repo.ID]; ok {
		return wc
	}
	wc := s.factory(s.workingDir(repo))
	s.copies[repo.ID] = wc
	return wc
}

func (s *GitService) workingDir(repo *models.GitRepository) string {
	return filepath.Join(s.baseDir, repo.ProjectID)
}

func (s *GitService) newSyncLog(repo *models.GitRepository, trigger string, operatorID uint) *models.GitSyncLog {
	syncLog := &models.GitSyncLog{
		RepositoryID: repo.ID,
		ProjectID:    repo.ProjectID,
		TaskID:       uuid.NewString(),
		Trigger:      trigger,
		StartedAt:    time.Now(),
		Status:       models.SyncStatusPending,
		Branch:       repo.TargetBranch,
	}
	if operatorID != 0 {
		syncLog.OperatorID = &operatorID
	}
	if err := s.store.CreateSyncLog(syncLog); err != nil {
		s.log.Warnf("创建同步记录失败: %v", err)
	}
	return syncLog
}

func (s *GitService) finishSyncLog(syncLog *models.GitSyncLog, toCommit string, opErr error) {
	if opErr != nil {
		syncLog.Status = models.SyncStatusFailed
		syncLog.ErrorMessage = opErr.Error()
	} else {
		syncLog.Status = models.SyncStatusSuccess
		syncLog.ToCommit = toCommit
	}
	if details, err := json.Marshal(map[string]interface{}{
		"from_commit": syncLog.FromCommit,
		"to_commit":   syncLog.ToCommit,
		"branch":      syncLog.Branch,
	}); err == nil {
		syncLog.Details = datatypes.JSON(details)
	}
	if err := s.store.FinishSyncLog(syncLog); err != nil {
		s.log.Warnf("回填同步记录失败: %v", err)
	}
}

func (s *GitService) notify(ctx context.Context, event string, data map[string]interface{}) {
	if err := s.notifier.Publish(ctx, "version_control", event, data); err != nil {
		s.log.Debugf("发布通知失败: %v", err)
	}
}

// credentialsFromPlain 从尚未加密的仓库记录构建内存凭证
func credentialsFromPlain(repo *models.GitRepository) *RepositoryCredentials {
	return &RepositoryCredentials{
		Method:      repo.AuthMethod(),
		Username:    repo.Username,
		Password:    repo.Password,
		AccessToken: repo.AccessToken,
		PrivateKey:  repo.SSHKey,
	}
}

// wrapUpdateCredentialsError 更新场景下HTTPS认证失败转为专用错误
func wrapUpdateCredentialsError(repo *models.GitRepository, err error) error {
	if repo.AuthMethod() != models.AuthMethodHTTPS {
		return err
	}
	if credErr, ok := err.(*CredentialsError); ok {
		return &GitHTTPSCredentialsError{CredentialsError: *credErr}
	}
	return err
}
