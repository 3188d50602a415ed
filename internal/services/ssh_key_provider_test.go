package services

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSHKeyProviderGeneratesKeypair(t *testing.T) {
	p := NewSSHKeyProvider(t.TempDir())

	private, public, err := p.GetOrCreateKeypair()
	require.NoError(t, err)

	assert.Contains(t, private, "OPENSSH PRIVATE KEY")
	assert.True(t, strings.HasPrefix(public, "ssh-ed25519 "))
}

func TestSSHKeyProviderIdempotent(t *testing.T) {
	p := NewSSHKeyProvider(t.TempDir())

	private1, public1, err := p.GetOrCreateKeypair()
	require.NoError(t, err)
	private2, public2, err := p.GetOrCreateKeypair()
	require.NoError(t, err)

	assert.Equal(t, private1, private2)
	assert.Equal(t, public1, public2)
}

func TestSSHKeyProviderLoadsExistingKeys(t *testing.T) {
	dir := t.TempDir()

	p1 := NewSSHKeyProvider(dir)
	private1, public1, err := p1.GetOrCreateKeypair()
	require.NoError(t, err)

	// 新实例从磁盘加载同一对密钥
	p2 := NewSSHKeyProvider(dir)
	private2, public2, err := p2.GetOrCreateKeypair()
	require.NoError(t, err)

	assert.Equal(t, private1, private2)
	assert.Equal(t, public1, public2)
}

func TestSSHKeyProviderFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Windows不支持POSIX权限位")
	}
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")

	p := NewSSHKeyProvider(keyDir)
	_, _, err := p.GetOrCreateKeypair()
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(keyDir, "id_ed25519"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(keyDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}
