package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadFromFileWithDefaults(t *testing.T) {
	dir := writeConfig(t, `
database_url: postgres://localhost/uxlens
jwt_secret: secret
jobs:
  max_workers: 4
email:
  alert_recipients: [ops@example.com]
`)
	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/uxlens", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, JobBackendPool, cfg.Jobs.Backend)
	assert.Equal(t, 4, cfg.Jobs.MaxWorkers)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.AnalysisTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Reports.Retention)
	assert.Equal(t, "@hourly", cfg.Reports.PurgeSchedule)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Email.AlertRecipients)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := writeConfig(t, "database_url: postgres://file\njwt_secret: secret\n")
	t.Setenv("UXLENS_DATABASE_URL", "postgres://env")
	t.Setenv("UXLENS_JOBS_BACKEND", "temporal")
	t.Setenv("UXLENS_STORAGE_BUCKET", "audit-reports")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, JobBackendTemporal, cfg.Jobs.Backend)
	assert.Equal(t, "audit-reports", cfg.Storage.Bucket)
}

func TestMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("UXLENS_DATABASE_URL", "postgres://env")
	t.Setenv("UXLENS_JWT_SECRET", "s")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"missing jwt secret": "database_url: x\n",
		"missing database":   "jwt_secret: s\n",
		"unknown backend":    "database_url: x\njwt_secret: s\njobs:\n  backend: redis\n",
		"negative workers":   "database_url: x\njwt_secret: s\njobs:\n  max_workers: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
