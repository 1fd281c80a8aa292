package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecretsFile(t *testing.T, root, environment, content string) string {
	t.Helper()
	dir := filepath.Join(root, "secrets", environment)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, secretsFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFindSecretsFiles(t *testing.T) {
	root := t.TempDir()
	dev := writeSecretsFile(t, root, "dev", "a: b\n")
	prod := writeSecretsFile(t, root, "production", "a: b\n")

	// Other files in the tree are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "secrets", "dev", "notes.txt"), []byte("x"), 0o600))

	files, err := findSecretsFiles(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{dev, prod}, files)
}

func TestFindSecretsFilesExplicitPaths(t *testing.T) {
	root := t.TempDir()
	dev := writeSecretsFile(t, root, "dev", "a: b\n")

	files, err := findSecretsFiles(root, []string{dev})
	require.NoError(t, err)
	assert.Equal(t, []string{dev}, files)

	_, err = findSecretsFiles(root, []string{filepath.Join(root, "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIsEncrypted(t *testing.T) {
	root := t.TempDir()
	plain := writeSecretsFile(t, root, "dev", "application:\n  secret_key: x\n")

	encrypted, err := isEncrypted(plain)
	require.NoError(t, err)
	assert.False(t, encrypted)

	withMetadata := writeSecretsFile(t, root, "production", "application:\n  secret_key: ENC[AES256_GCM,data:x]\nsops:\n  version: 3.8.1\n")
	encrypted, err = isEncrypted(withMetadata)
	require.NoError(t, err)
	assert.True(t, encrypted)

	garbage := filepath.Join(root, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("{not yaml"), 0o600))
	_, err = isEncrypted(garbage)
	require.Error(t, err)
}

func TestHashStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := writeSecretsFile(t, root, "dev", "a: b\n")

	state, err := loadState(root)
	require.NoError(t, err)
	assert.Empty(t, state)

	changed, sum, err := state.changed(path)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEmpty(t, sum)

	state[path] = sum
	require.NoError(t, state.save(root))

	reloaded, err := loadState(root)
	require.NoError(t, err)
	changed, _, err = reloaded.changed(path)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("a: c\n"), 0o600))
	changed, _, err = reloaded.changed(path)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestLoadStateToleratesCorruptFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, stateFileName), []byte("not json"), 0o644))

	state, err := loadState(root)
	require.NoError(t, err)
	assert.Empty(t, state)
}
