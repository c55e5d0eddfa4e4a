package cmd

import (
	"testing"

	"github.com/javi11/docvault/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestRedactConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.Users = []config.UserConfig{{Username: "cgeds", Password: "pass"}}
	cfg.Remote.S3.SecretKey = "s3-secret"

	red := redactConfig(cfg)

	assert.Equal(t, masked, red.Auth.JWTSecret)
	assert.Equal(t, masked, red.Auth.Users[0].Password)
	assert.Equal(t, "cgeds", red.Auth.Users[0].Username)
	assert.Equal(t, masked, red.Remote.S3.SecretKey)
	assert.Empty(t, red.Database.DSN)

	// The original is untouched
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "pass", cfg.Auth.Users[0].Password)
}

func TestNewRemoteStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Remote.Local.Path = t.TempDir()

	store, err := newRemoteStore(t.Context(), cfg)
	assert.NoError(t, err)
	assert.NotNil(t, store)

	cfg.Remote.Backend = "ftp"
	_, err = newRemoteStore(t.Context(), cfg)
	assert.ErrorContains(t, err, "unknown remote backend")

	cfg.Remote.Backend = config.BackendS3
	cfg.Remote.S3.Bucket = ""
	_, err = newRemoteStore(t.Context(), cfg)
	assert.ErrorContains(t, err, "bucket is required")
}
