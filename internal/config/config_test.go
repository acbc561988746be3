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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 168*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 100.0, cfg.RateLimit.RPS)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, 5*time.Second, cfg.SideEffectTimeout)
	assert.Equal(t, defaultSecret, cfg.AppSecret)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "from-jwt-secret")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_PATH", "/tmp/reviews.db")
	t.Setenv("RECONCILE_INTERVAL", "0")
	t.Setenv("SIDE_EFFECT_TIMEOUT", "2s")
	t.Setenv("ADMIN_EMAIL", "root@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "from-jwt-secret", cfg.AppSecret)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/reviews.db", cfg.Database.Path)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.Equal(t, 2*time.Second, cfg.SideEffectTimeout)
	assert.Equal(t, "root@example.com", cfg.BootstrapAdmin.Email)
}

func TestLoad_AppSecretWins(t *testing.T) {
	t.Setenv("APP_SECRET", "app")
	t.Setenv("JWT_SECRET", "jwt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.AppSecret)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PORT: \"9090\"\nRATE_LIMIT_BURST: 50\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RATE_LIMIT_BURST", "70")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	// 环境变量优先于配置文件
	assert.Equal(t, 70, cfg.RateLimit.Burst)
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTExpiry:         time.Hour,
			Database:          DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			RateLimit:         RateLimitConfig{Enabled: true, RPS: 1, Burst: 1},
			SideEffectTimeout: time.Second,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without host", func(c *Config) { c.Database = DatabaseConfig{Driver: "postgres", Name: "db"} }},
		{"zero expiry", func(c *Config) { c.JWTExpiry = 0 }},
		{"rate limit without burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"zero side effect timeout", func(c *Config) { c.SideEffectTimeout = 0 }},
		{"negative reconcile interval", func(c *Config) { c.ReconcileInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	disabled := valid()
	disabled.RateLimit = RateLimitConfig{Enabled: false}
	assert.NoError(t, disabled.Validate())
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", c.DSN())
}
