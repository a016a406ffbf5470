package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StorageMemory, cfg.Storage.Sessions)
	assert.False(t, cfg.NeedsDatabase())
	assert.Equal(t, 2, cfg.Engine.MaxRevisions)
	assert.Equal(t, 20*time.Second, cfg.Engine.NarrationTimeout)
	assert.Equal(t, "fiction", cfg.Database.DBName)
	assert.Equal(t, 5*time.Minute, cfg.Database.IdleTimeout)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SESSION_STORE", " Postgres ")
	t.Setenv("ENGINE_MAX_REVISIONS", "1")
	t.Setenv("IMAGES_ENABLED", "false")
	t.Setenv("IMAGES_HQ_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://play.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Sessions)
	assert.True(t, cfg.NeedsDatabase())
	assert.Equal(t, []string{"https://play.example.com"}, cfg.Server.AllowedOrigins)

	svc := cfg.ServiceConfig()
	assert.Equal(t, 1, svc.MaxRevisions)
	assert.False(t, svc.ImagesEnabled)
	assert.Equal(t, 45*time.Second, cfg.PipelineConfig().HQTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("TRACE_STORE", "redis")
	_, err := Load()
	assert.ErrorContains(t, err, "журналов")

	t.Setenv("TRACE_STORE", "memory")
	t.Setenv("SESSION_STORE", "sqlite")
	_, err = Load()
	assert.ErrorContains(t, err, "сессий")
}
