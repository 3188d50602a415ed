package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectLayout(t *testing.T, root string, domain, config, data bool) {
	t.Helper()
	if domain {
		require.NoError(t, os.WriteFile(filepath.Join(root, "domain.yml"), []byte("intents: []\n"), 0644))
	}
	if config {
		require.NoError(t, os.WriteFile(filepath.Join(root, "config.yml"), []byte("language: zh\n"), 0644))
	}
	if data {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0755))
	}
}

func TestLayoutValidatorCompleteLayout(t *testing.T) {
	root := t.TempDir()
	writeProjectLayout(t, root, true, true, true)

	v := NewLayoutValidator("domain.yml", "config.yml", "data")
	assert.NoError(t, v.Validate(root))
}

func TestLayoutValidatorMissingFiles(t *testing.T) {
	root := t.TempDir()
	writeProjectLayout(t, root, true, false, false)

	v := NewLayoutValidator("domain.yml", "config.yml", "data")
	err := v.Validate(root)
	require.Error(t, err)

	var layoutErr *ProjectLayoutError
	require.ErrorAs(t, err, &layoutErr)
	assert.Equal(t, root, layoutErr.Path)
	assert.ElementsMatch(t, []string{"config.yml", "data/"}, layoutErr.Missing)
}

func TestLayoutValidatorDataMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	writeProjectLayout(t, root, true, true, false)
	// data是普通文件而不是目录
	require.NoError(t, os.WriteFile(filepath.Join(root, "data"), []byte("x"), 0644))

	v := NewLayoutValidator("domain.yml", "config.yml", "data")
	err := v.Validate(root)
	require.Error(t, err)

	var layoutErr *ProjectLayoutError
	require.ErrorAs(t, err, &layoutErr)
	assert.Contains(t, layoutErr.Missing, "data/")
}

func TestLayoutValidatorEmptyDirectory(t *testing.T) {
	v := NewLayoutValidator("domain.yml", "config.yml", "data")
	err := v.Validate(t.TempDir())
	require.Error(t, err)

	var layoutErr *ProjectLayoutError
	require.ErrorAs(t, err, &layoutErr)
	assert.Len(t, layoutErr.Missing, 3)
}
