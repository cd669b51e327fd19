package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.Recipients)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.Messages)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Mailings)
	assert.Equal(t, 3*time.Minute, cfg.Cache.TTL.Statistics)
	assert.Equal(t, 30*time.Second, cfg.Mail.SendTimeout)
	assert.Equal(t, 1, cfg.Dispatch.Workers)
	assert.False(t, cfg.Dispatch.Exclusive)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
database:
  driver: memory
dispatch:
  workers: 4
mail:
  driver: log
  from: file@example.com
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), body, 0o600))
	t.Setenv("MAILER_MAIL_FROM", "env@example.com")
	t.Setenv("MAILER_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.Equal(t, "env@example.com", cfg.Mail.From)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	dir := t.TempDir()
	body := []byte("cache:\n  driver: memcached\ndispatch:\n  workers: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), body, 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cache.driver "memcached"`)
	assert.Contains(t, err.Error(), "dispatch.workers must be at least 1")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "mail", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=mail sslmode=disable", c.DSN())
}
