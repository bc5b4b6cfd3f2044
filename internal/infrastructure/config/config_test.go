package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, "local-ecdsa", cfg.Signing.DefaultKeyID)
	assert.Equal(t, 72*time.Hour, cfg.Inspector.DefaultTTL())
}

func TestLoadFrom_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
environment: staging
storage:
  provider: s3
  bucket: evidence-staging
signing:
  provider: aws_kms
  default_key_id: alias/manifest
  keys:
    - id: alias/manifest
      algorithm: RSA_PSS_SHA256
packs:
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("EVV_PACKS__WORKERS", "8")
	t.Setenv("EVV_STORAGE__PRESIGN_GET_TTL", "30m")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "evidence-staging", cfg.Storage.Bucket)
	assert.Equal(t, 8, cfg.Packs.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Storage.PresignGetTTL)

	alg, ok := cfg.Signing.Algorithm("alias/manifest")
	require.True(t, ok)
	assert.Equal(t, "RSA_PSS_SHA256", alg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"presign ttl above one hour", func(c *Config) { c.Storage.PresignGetTTL = 2 * time.Hour }},
		{"s3 without bucket", func(c *Config) { c.Storage.Provider = "s3" }},
		{"unknown default key", func(c *Config) { c.Signing.DefaultKeyID = "nope" }},
		{"unknown algorithm", func(c *Config) { c.Signing.Keys[0].Algorithm = "HS256" }},
		{"local signer in production", func(c *Config) {
			c.Environment = "production"
			c.Storage.Provider = "s3"
			c.Storage.Bucket = "b"
			c.Security.JWTSecret = "s"
		}},
		{"max ttl below default", func(c *Config) { c.Inspector.MaxTTLHours = 1 }},
		{"unknown inspector limiter", func(c *Config) { c.Inspector.Limiter = "memcached" }},
	}

	require.NoError(t, Defaults().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
