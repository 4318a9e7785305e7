package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 25, cfg.Engine.DefaultPageSize)
	assert.Equal(t, 100, cfg.Engine.MaxPageSize)
	assert.Equal(t, 3, cfg.Engine.MaxIncludeDepth)
	assert.Equal(t, ":8080", cfg.Server.Address())
}

func TestLoadFromFile(t *testing.T) {
	dir := chtemp(t)
	yml := `
server:
  host: 127.0.0.1
  port: 3000
  api_prefix: /api
database:
  url: postgres://localhost/strata_test
redis:
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(yml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Address())
	assert.Equal(t, "/api", cfg.Server.APIPrefix)
	assert.Equal(t, "postgres://localhost/strata_test", cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	chtemp(t)
	t.Setenv("STRATA_SERVER_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadRejectsBadPrefix(t *testing.T) {
	dir := chtemp(t)

	for _, prefix := range []string{"api", "/api/"} {
		yml := "server:\n  api_prefix: " + prefix + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(yml), 0o644))
		_, err := Load()
		assert.Error(t, err, "prefix %q", prefix)
	}
}

func TestLoadRejectsPageSizeInversion(t *testing.T) {
	dir := chtemp(t)
	yml := "engine:\n  default_page_size: 50\n  max_page_size: 10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(yml), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseURLPrefersEnvironment(t *testing.T) {
	cfg := &Config{}
	cfg.Database.URL = "postgres://config/db"

	t.Setenv("DATABASE_URL", "postgres://env/db")
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL())

	t.Setenv("DATABASE_URL", "")
	assert.Equal(t, "postgres://config/db", cfg.DatabaseURL())
}
