package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without a config file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 3, cfg.Database.TxRetries)
		assert.Equal(t, "PC", cfg.Workflow.ClosureDepartment)
		assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
		assert.Equal(t, "default_super_secret_key", cfg.Auth.JWTSecret)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		yaml := []byte(`
server:
  port: 9090
database:
  driver: sqlite
  dsn: file:kanban.db
workflow:
  closure_department: PRODCTL
`)
		require.NoError(t, os.WriteFile(path, yaml, 0644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "file:kanban.db", cfg.Database.DSN)
		assert.Equal(t, "PRODCTL", cfg.Workflow.ClosureDepartment)
		assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		t.Setenv("REDIS_ADDR", "localhost:6379")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	})

	t.Run("release mode requires a secret", func(t *testing.T) {
		t.Setenv("GIN_MODE", "release")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "mysql", DSN: "x"},
		Workflow: WorkflowConfig{ClosureDepartment: "PC"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}
