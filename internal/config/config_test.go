package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://en.wikipedia.org", cfg.Wiki.BaseURL)
	assert.Equal(t, "/wiki/", cfg.Wiki.Prefix)
	assert.Equal(t, "https://en.wikipedia.org/wiki/List_of_composers_by_name", cfg.ComposersURL())
	assert.Equal(t, "raw-info-", cfg.Output.RawPrefix)
	assert.Equal(t, "compositions.json", cfg.Output.CompositionsFile)
	assert.Equal(t, "composers.json", cfg.Output.ComposersFile)
	assert.Equal(t, 100, cfg.Output.QueueCapacity)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout())
	assert.InDelta(t, 1.0, cfg.HTTP.RequestsPerSecond, 1e-9)
	assert.Equal(t, 2, cfg.HTTP.Burst)
	assert.False(t, cfg.Headless.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 60
auth:
  enabled: true
  api_key: secret
wiki:
  base_url: https://de.wikipedia.org
  composers_path: /wiki/Liste_der_Komponisten
http:
  user_agent: test-agent
  timeout_seconds: 45
  respect_robots: true
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
output:
  dir: out
  queue_capacity: 8
storage:
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/harvests
  max_conns: 4
pubsub:
  project_id: proj
  topic_name: harvest-runs
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.RequestTimeout())
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, "https://de.wikipedia.org/wiki/Liste_der_Komponisten", cfg.ComposersURL())
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.True(t, cfg.HTTP.RespectRobots)
	assert.Equal(t, 45*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 30*time.Second, cfg.NavTimeout())
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, 8, cfg.Output.QueueCapacity)
	assert.Equal(t, "bucket", cfg.Storage.GCSBucket)
	assert.Equal(t, int32(4), cfg.DB.MaxConns)
	assert.Equal(t, "harvest_runs", cfg.DB.Table)
	assert.Equal(t, "harvest-runs", cfg.PubSub.TopicName)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_OUTPUT_DIR", "/tmp/harvest")
	t.Setenv("HARVESTER_SERVER_PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/harvest", cfg.Output.Dir)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Wiki:   WikiConfig{BaseURL: "https://en.wikipedia.org", Prefix: "/wiki/"},
		HTTP:   HTTPConfig{TimeoutSeconds: 10},
		Output: OutputConfig{
			Dir:              "data",
			CompositionsFile: "compositions.json",
			ComposersFile:    "composers.json",
			QueueCapacity:    10,
		},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"relative base url", func(c *Config) { c.Wiki.BaseURL = "en.wikipedia.org" }, "wiki.base_url"},
		{"bad prefix", func(c *Config) { c.Wiki.Prefix = "wiki/" }, "wiki.prefix"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"negative rate", func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, "http.requests_per_second"},
		{"headless without slots", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"missing output dir", func(c *Config) { c.Output.Dir = " " }, "output.dir"},
		{"missing file names", func(c *Config) { c.Output.ComposersFile = "" }, "output.compositions_file"},
		{"queue capacity", func(c *Config) { c.Output.QueueCapacity = 0 }, "output.queue_capacity"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
