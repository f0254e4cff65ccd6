package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("CREDENTIAL_ENCRYPTION_MASTER_KEY", "test-master-key")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(os.DevNull)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "infrallm", cfg.JWTIssuer)
	assert.Equal(t, 4, cfg.SSHPoolMaxPerHost)
	assert.False(t, cfg.IsProduction())
}

func TestLoadMissingRequiredFails(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CREDENTIAL_ENCRYPTION_MASTER_KEY", "")

	_, err := Load(os.DevNull)
	assert.Error(t, err)
}

func TestLoadParsesCSVOrigins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(os.DevNull)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
}

func TestIsProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")

	cfg, err := Load(os.DevNull)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
