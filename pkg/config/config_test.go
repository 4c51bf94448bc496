package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "9000"
store_driver: sqlite
database_dsn: "file:from-yaml.db"
identity_provider: jwt
typing_expiry: 2s
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "file:from-yaml.db", cfg.DatabaseDSN)
	assert.Equal(t, "jwt", cfg.IdentityProvider)
	assert.Equal(t, 2*time.Second, cfg.TypingExpiry)
	assert.Equal(t, 60, cfg.SendRatePerMinute)
}

func TestLoad_RejectsIncompleteStore(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("IDENTITY_PROVIDER", "jwt")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_DSN")
}

func TestLoad_RejectsUnknownIdentityProvider(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "file::memory:")
	t.Setenv("IDENTITY_PROVIDER", "ldap")

	_, err := Load()
	assert.ErrorContains(t, err, "IDENTITY_PROVIDER")
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", "file::memory:")
	t.Setenv("IDENTITY_PROVIDER", "jwt")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.com, https://staff.example.com,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://portal.example.com", "https://staff.example.com"}, cfg.AllowedOrigins)
}
