package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".tapestry.yaml")
	content := `
output: json
parallel: true
concurrency: 8
rate: 2.5
watchDirs:
  - ./internal
  - ./pkg
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.GetOutput())
	assert.True(t, cfg.GetParallel())
	assert.Equal(t, 8, cfg.GetConcurrency())
	assert.Equal(t, 2.5, cfg.Rate)
	assert.Equal(t, []string{"./internal", "./pkg"}, cfg.WatchDirs)
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "console", cfg.GetOutput())
	assert.Equal(t, 5, cfg.GetConcurrency())
	assert.False(t, cfg.GetParallel())
	assert.False(t, cfg.GetBail())
	assert.False(t, cfg.GetNoColor())
}

func TestValidateRejectsBadTypes(t *testing.T) {
	err := Validate([]byte("concurrency: lots\n"))
	assert.Error(t, err)

	err = Validate([]byte("output: csv\n"))
	assert.Error(t, err)

	err = Validate([]byte("unknownKey: true\n"))
	assert.Error(t, err)
}

func TestValidateAcceptsEmpty(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]byte("")))
}

func TestFindWalksUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	path := filepath.Join(root, "tapestry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: tap\n"), 0o644))

	found := Find(nested)
	assert.Equal(t, path, found)
}

func TestFindPrefersDottedName(t *testing.T) {
	dir := t.TempDir()
	dotted := filepath.Join(dir, ".tapestry.yaml")
	plain := filepath.Join(dir, "tapestry.yaml")
	require.NoError(t, os.WriteFile(dotted, []byte(""), 0o644))
	require.NoError(t, os.WriteFile(plain, []byte(""), 0o644))

	assert.Equal(t, dotted, Find(dir))
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.GetOutput())
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".tapestry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: -3\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
