package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, 2, cfg.RenderWorkers)
	assert.True(t, cfg.IsDevelopment())
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("RENDER_WORKERS", "8")
	t.Setenv("ENVIRONMENT", "production")

	cfg := New()

	assert.Equal(t, "9191", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 8, cfg.RenderWorkers)
	assert.False(t, cfg.IsDevelopment())
}

func TestNew_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("RENDER_WORKERS", "lots")
	t.Setenv("LOCK_TTL", "soon")

	cfg := New()

	assert.Equal(t, 2, cfg.RenderWorkers)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
}
