package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "gemini", cfg.AI.Provider)
	require.Equal(t, 3, cfg.Pipeline.Concurrency)
	require.Equal(t, 85, cfg.Pipeline.AutoPublishThreshold)
	require.Equal(t, "smart_middle", cfg.Pipeline.Strategy)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, "none", cfg.Archive.Backend)
	require.Equal(t, "monetizer.decisions", cfg.PubSub.TopicName)
	require.Equal(t, 2*time.Second, cfg.WindowPause())
	require.Equal(t, 30*time.Second, cfg.RelayTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
cms:
  base_url: https://blog.example
  username: ops
  app_password: abcd efgh
ai:
  provider: anthropic
  api_key: sk-test
  model: claude-sonnet-4-5
pipeline:
  concurrency: 5
  autonomous: true
  auto_publish_threshold: 90
  strategy: context_match
  affiliate_tag: blogexample-20
cache:
  backend: file
  dir: /tmp/monetizer-cache
relay:
  endpoints:
    - https://relay-a.example/fetch?target=
    - https://relay-b.example/fetch?target=
headless:
  enabled: true
  max_parallel: 2
archive:
  backend: gcs
  gcs_bucket: monetizer-archive
db:
  dsn: postgres://monetizer@localhost:5432/monetizer
pubsub:
  enabled: true
  project_id: monetizer-prod
  topic_name: monetizer.decisions
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "https://blog.example", cfg.CMS.BaseURL)
	require.Equal(t, "abcd efgh", cfg.CMS.AppPassword)
	require.Equal(t, "anthropic", cfg.AI.Provider)
	require.True(t, cfg.Pipeline.Autonomous)
	require.Equal(t, 90, cfg.Pipeline.AutoPublishThreshold)
	require.Equal(t, "file", cfg.Cache.Backend)
	require.Len(t, cfg.Relay.Endpoints, 2)
	require.Equal(t, "gcs", cfg.Archive.Backend)
	require.Equal(t, "monetizer-archive", cfg.Archive.GCSBucket)
	require.Equal(t, "postgres://monetizer@localhost:5432/monetizer", cfg.DB.DSN)
	require.True(t, cfg.PubSub.Enabled)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.ErrorContains(t, cfg.Validate(), "server.port")

	cfg = base()
	cfg.Auth.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "auth.api_key")

	cfg = base()
	cfg.Cache.Backend = "redis"
	require.ErrorContains(t, cfg.Validate(), "cache.backend")

	cfg = base()
	cfg.Cache.Backend = "file"
	require.ErrorContains(t, cfg.Validate(), "cache.dir")

	cfg = base()
	cfg.Archive.Backend = "gcs"
	require.ErrorContains(t, cfg.Validate(), "archive.gcs_bucket")

	cfg = base()
	cfg.Pipeline.AutoPublishThreshold = 120
	require.ErrorContains(t, cfg.Validate(), "auto_publish_threshold")

	cfg = base()
	cfg.PubSub.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "pubsub.project_id")
}
