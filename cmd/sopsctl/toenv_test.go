package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plaintextSecrets = `application:
  secret_key: super-secret
  jwt_secret: jwt-value
external_services:
  api_key: has spaces here
  webhook_secret: "with\"quote"
`

func TestRunToEnvWritesSortedDotenv(t *testing.T) {
	root := t.TempDir()
	writeSecretsFile(t, root, "dev", plaintextSecrets)
	out := filepath.Join(root, ".env")

	require.NoError(t, runToEnv(root, "dev", "", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "APPLICATION_JWT_SECRET=jwt-value\n"+
		"APPLICATION_SECRET_KEY=super-secret\n"+
		"EXTERNAL_SERVICES_API_KEY=\"has spaces here\"\n"+
		"EXTERNAL_SERVICES_WEBHOOK_SECRET=\"with\\\"quote\"\n", string(data))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRunToEnvSection(t *testing.T) {
	root := t.TempDir()
	writeSecretsFile(t, root, "dev", plaintextSecrets)
	out := filepath.Join(root, ".env")

	require.NoError(t, runToEnv(root, "dev", "application", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "APPLICATION_JWT_SECRET=jwt-value\nAPPLICATION_SECRET_KEY=super-secret\n", string(data))
}

func TestRunToEnvMissingSection(t *testing.T) {
	root := t.TempDir()
	writeSecretsFile(t, root, "dev", plaintextSecrets)

	err := runToEnv(root, "dev", "does.not.exist", filepath.Join(root, ".env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "section not found")
}

func TestRunToEnvMissingEnvironment(t *testing.T) {
	root := t.TempDir()
	err := runToEnv(root, "staging", "", filepath.Join(root, ".env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets file not found")
}

func TestQuoteEnvValue(t *testing.T) {
	assert.Equal(t, "plain", quoteEnvValue("plain"))
	assert.Equal(t, `""`, quoteEnvValue(""))
	assert.Equal(t, `"two words"`, quoteEnvValue("two words"))
	assert.Equal(t, `"a\"b"`, quoteEnvValue(`a"b`))
	assert.Equal(t, `"a\\b"`, quoteEnvValue(`a\b`))
	assert.Equal(t, `"line\n"`, quoteEnvValue("line\n"))
	assert.Equal(t, `"$HOME"`, quoteEnvValue("$HOME"))
}
