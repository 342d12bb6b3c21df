package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: memory
  query_batch_size: 10
jwt:
  secret: session
identity:
  secret: idp
  issuer: https://id.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Storage.QueryBatchSize)
	assert.True(t, cfg.Storage.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Storage.Cache.TTL)
	assert.Equal(t, 10, cfg.Partnership.InviteMaxAttempts)
	assert.Equal(t, "10-M", cfg.RateLimit.Join)
	assert.Equal(t, "https://id.example.com", cfg.Identity.Issuer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
jwt:
  secret: from-file
identity:
  secret: idp
`)
	t.Setenv("COUPLECOOK_JWT_SECRET", "from-env")
	t.Setenv("COUPLECOOK_DATABASE_PORT", "6543")
	t.Setenv("COUPLECOOK_STORAGE_CACHE_ENABLED", "false")
	t.Setenv("COUPLECOOK_STORAGE_CACHE_TTL", "30s")
	t.Setenv("COUPLECOOK_APNS_PRODUCTION", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.False(t, cfg.Storage.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Storage.Cache.TTL)
	assert.True(t, cfg.APNs.Production)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal port=6543")
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("COUPLECOOK_JWT_SECRET", "s")
	t.Setenv("COUPLECOOK_IDENTITY_SECRET", "i")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

func TestLoad_Rejects(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "identity:\n  secret: i\n"))
	assert.ErrorContains(t, err, "jwt.secret")

	_, err = Load(writeConfig(t, "jwt:\n  secret: s\nidentity:\n  secret: i\nstorage:\n  driver: sqlite\n"))
	assert.ErrorContains(t, err, "unknown storage driver")
}
