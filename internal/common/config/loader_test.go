package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: compliance-workflow
  instance_id: node-a
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    port: 5432
    database: compliance
    user: ${TEST_DB_USER}
  redis:
    address: localhost:6379
workers:
  sweep-overdue-observations:
    enabled: true
workflow:
  link_base_url: https://portal.example.com
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_ExpandsAndDefaults(t *testing.T) {
	t.Setenv("TEST_DB_USER", "svc_compliance")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "svc_compliance", cfg.Database.Postgres.User)
	assert.Equal(t, "node-a", cfg.App.InstanceID)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, 3, cfg.Database.Postgres.TxMaxRetries)
	assert.Equal(t, "compliance-activity", cfg.Database.Elasticsearch.ActivityIndex)
	assert.False(t, cfg.Database.Elasticsearch.Enabled())

	assert.True(t, cfg.Workflow.SweepEnabled)
	assert.Equal(t, 500, cfg.Workflow.SweepBatchSize)
	assert.Equal(t, 5*time.Minute, GetDuration(cfg.Workflow.SweepInterval))
	assert.Equal(t, 4, cfg.Workflow.NotificationConcurrency)
	assert.Equal(t, 168, cfg.Workflow.ResponseWindowHours)
	assert.Equal(t, ":8080", cfg.Server.Address)

	w := GetWorkerConfig(cfg, "sweep-overdue-observations")
	assert.True(t, w.Enabled)
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFile_EnvOverride(t *testing.T) {
	t.Setenv("TEST_DB_USER", "svc_compliance")
	t.Setenv("WORKFLOW_SWEEP_BATCH_SIZE", "25")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Workflow.SweepBatchSize)
}

func TestLoadFromFile_Validation(t *testing.T) {
	t.Setenv("TEST_DB_USER", "svc_compliance")

	t.Run("missing broker", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, `
database:
  postgres:
    host: localhost
    database: compliance
    user: u
  redis:
    address: localhost:6379
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "camunda.broker_address")
	})

	t.Run("ses without sender", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, baseYAML+`
integrations:
  aws:
    region: ap-south-1
    ses:
      enabled: true
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "from_email")
	})
}

func TestIsWorkerEnabled(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"issue-show-cause-notices": {Enabled: false},
	}}
	assert.False(t, IsWorkerEnabled(cfg, "issue-show-cause-notices"))
	assert.True(t, IsWorkerEnabled(cfg, "unknown"))
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "c", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=c sslmode=require", p.GetDSN())
}
