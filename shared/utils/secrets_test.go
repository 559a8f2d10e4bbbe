package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSecretsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := secretsDir
	secretsDir = dir
	t.Cleanup(func() { secretsDir = prev })
	return dir
}

func TestReadSecret(t *testing.T) {
	dir := withSecretsDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_api_key"), []byte(" sk-test \n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("  "), 0o600))

	secret, err := ReadSecret("ai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", secret)

	_, err = ReadSecret("empty")
	assert.Error(t, err)

	_, err = ReadSecret("missing")
	assert.Error(t, err)
}

func TestReadOptionalSecret(t *testing.T) {
	dir := withSecretsDir(t)
	secret, err := ReadOptionalSecret("missing")
	require.NoError(t, err)
	assert.Empty(t, secret)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis_password"), []byte("pw"), 0o600))
	secret, err = ReadOptionalSecret("redis_password")
	require.NoError(t, err)
	assert.Equal(t, "pw", secret)
}
