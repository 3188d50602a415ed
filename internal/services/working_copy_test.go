package services

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"ivc/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("环境中没有git，跳过")
	}
}

func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	base := []string{
		"-c", "user.name=test",
		"-c", "user.email=test@example.com",
		"-c", "init.defaultBranch=main",
	}
	cmd := exec.Command("git", append(base, args...)...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, output)
	return string(output)
}

// setupRemote 创建一个带初始提交的裸仓库
func setupRemote(t *testing.T) string {
	t.Helper()
	remote := filepath.Join(t.TempDir(), "remote.git")
	runTestGit(t, "", "init", "--bare", remote)

	seed := t.TempDir()
	runTestGit(t, "", "clone", remote, filepath.Join(seed, "seed"))
	seedDir := filepath.Join(seed, "seed")
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "domain.yml"), []byte("intents: []\n"), 0644))
	runTestGit(t, seedDir, "checkout", "-b", "main")
	runTestGit(t, seedDir, "add", "--all")
	runTestGit(t, seedDir, "commit", "-m", "init")
	runTestGit(t, seedDir, "push", "origin", "main")
	return remote
}

func newTestWorkingCopy(t *testing.T, remote string) (*GitWorkingCopy, *models.GitRepository) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	wc := NewGitWorkingCopy(dir, 30*time.Second, time.Minute, "IVC", "ivc@example.com")
	repo := &models.GitRepository{ProjectID: "default", RepositoryURL: remote, TargetBranch: "main"}
	return wc, repo
}

func TestWorkingCopyCloneAndHead(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	// 再次调用是幂等的
	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	commit, err := wc.HeadCommit(ctx)
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	branch, err := wc.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestWorkingCopyRemoteMismatch(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	other := &models.GitRepository{ProjectID: "default", RepositoryURL: "git@example.com:other/repo.git"}
	err := wc.EnsureCloned(ctx, other, nil)

	var mismatch *RemoteMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, remote, mismatch.Actual)
}

func TestWorkingCopyCheckoutUnknownBranch(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	err := wc.Checkout(ctx, "no-such-branch", false)
	var notFound *BranchNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-branch", notFound.Branch)
}

func TestWorkingCopyCheckoutDirtyTree(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))
	runTestGit(t, wc.Root(), "branch", "dev")

	require.NoError(t, os.WriteFile(filepath.Join(wc.Root(), "domain.yml"), []byte("changed\n"), 0644))

	dirty, err := wc.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	// 不带force拒绝切换
	err = wc.Checkout(ctx, "dev", false)
	var dirtyErr *DirtyWorkingTreeError
	require.ErrorAs(t, err, &dirtyErr)

	// force丢弃本地更改
	require.NoError(t, wc.Checkout(ctx, "dev", true))
	dirty, err = wc.IsDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestWorkingCopyCommitAndPush(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	// 干净的工作树没有可提交内容
	_, err := wc.CommitAndPush(ctx, repo, nil, "main", "msg")
	assert.ErrorIs(t, err, ErrNothingToCommit)

	require.NoError(t, os.WriteFile(filepath.Join(wc.Root(), "config.yml"), []byte("language: zh\n"), 0644))

	info, err := wc.CommitAndPush(ctx, repo, nil, "main", "测试提交")
	require.NoError(t, err)
	assert.Len(t, info.Commit, 40)
	assert.Equal(t, "main", info.Branch)

	// 推送后远端与本地一致
	require.NoError(t, wc.Fetch(ctx, nil))
	ahead, err := wc.IsRemoteAhead(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ahead)
}

func TestWorkingCopyDetectsRemoteAhead(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	require.NoError(t, wc.EnsureCloned(ctx, repo, nil))

	// 另一个克隆推送新提交
	otherDir := filepath.Join(t.TempDir(), "other")
	runTestGit(t, "", "clone", remote, otherDir)
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "new.yml"), []byte("x\n"), 0644))
	runTestGit(t, otherDir, "add", "--all")
	runTestGit(t, otherDir, "commit", "-m", "remote change")
	runTestGit(t, otherDir, "push", "origin", "main")

	require.NoError(t, wc.Fetch(ctx, nil))
	ahead, err := wc.IsRemoteAhead(ctx, "main")
	require.NoError(t, err)
	assert.True(t, ahead)

	// 快进后追平远端
	require.NoError(t, wc.UpdateToRemote(ctx, "main"))
	ahead, err = wc.IsRemoteAhead(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ahead)
}

func TestWorkingCopyProbeCloneMissingBranch(t *testing.T) {
	requireGit(t)
	remote := setupRemote(t)
	wc, repo := newTestWorkingCopy(t, remote)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "probe")
	err := wc.ProbeClone(ctx, repo, nil, target, "does-not-exist")
	var notFound *BranchNotFoundError
	require.ErrorAs(t, err, &notFound)

	// 失败的克隆不留残留目录
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}
