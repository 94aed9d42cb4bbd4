package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Sessions.Backend)
	assert.Equal(t, 100, cfg.Runtime.MaxSteps)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
auth:
  tokens:
    - token: abc
      user_id: u1
sessions:
  backend: redis
redis:
  addr: "redis:6379"
  lock_ttl: 5s
runtime:
  timezone: America/Sao_Paulo
`), 0o600))

	secretPath := filepath.Join(dir, "redis-password")
	require.NoError(t, os.WriteFile(secretPath, []byte("s3cret\n"), 0o600))

	t.Setenv("FLOWBOT_MAX_STEPS", "25")
	t.Setenv("FLOWBOT_REDIS_PASSWORD_FILE", secretPath)
	t.Setenv("FLOWBOT_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, BackendRedis, cfg.Sessions.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 25, cfg.Runtime.MaxSteps)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, map[string]string{"abc": "u1"}, cfg.TokenOwners())
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())
}

func TestLoad_EnvTokens(t *testing.T) {
	t.Setenv("FLOWBOT_AUTH_TOKENS", "t1=alice, t2=bob")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []Token{{Token: "t1", UserID: "alice"}, {Token: "t2", UserID: "bob"}}, cfg.Auth.Tokens)
}

func TestLoad_EncryptionKeysFromFile(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("active-key\n"), 0o600))
	t.Setenv("FLOWBOT_SESSION_ENCRYPTION_KEY_FILE", keyFile)
	t.Setenv("FLOWBOT_SESSION_ENCRYPTION_FALLBACK_KEYS", "old-1, ,old-2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "active-key", cfg.Sessions.EncryptionKey)
	assert.Equal(t, []string{"old-1", "old-2"}, cfg.Sessions.FallbackKeys)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("FLOWBOT_REDIS_DB", "zero")
	_, err := Load("")
	assert.ErrorContains(t, err, "FLOWBOT_REDIS_DB")
}

func TestValidate_AggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.Sessions.Backend = "postgres"
	cfg.Graphs.Backend = "sqlite"
	cfg.Runtime.Timezone = "Mars/Olympus"
	cfg.Runtime.MaxSteps = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "postgres.url")
	assert.ErrorContains(t, err, "graphs.backend")
	assert.ErrorContains(t, err, "runtime.timezone")
	assert.ErrorContains(t, err, "runtime.max_steps")
}
