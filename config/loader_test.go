package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknet-io/tasknet/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 100, cfg.Governor.RateLimit)
	assert.Equal(t, time.Second, cfg.Governor.RateWindow)
	assert.Equal(t, 5, cfg.Governor.FailureThreshold)
	assert.Equal(t, 8, cfg.Locks.MaxSharedHolders)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasknet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
governor:
  rate_limit: 10
  rate_window: 2s
  failure_threshold: 3
coordinator:
  default_agent_type: research
  routing:
    review: review
locks:
  transition_lock_ttl: 500ms
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 10, cfg.Governor.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.Governor.RateWindow)
	assert.Equal(t, 3, cfg.Governor.FailureThreshold)
	assert.Equal(t, "research", cfg.Coordinator.DefaultAgentType)
	assert.Equal(t, "review", cfg.Coordinator.Routing["review"])
	assert.Equal(t, 500*time.Millisecond, cfg.Locks.TransitionLockTTL)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Governor.SuccessThreshold)
	assert.Equal(t, 64, cfg.Registry.MailboxSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/tasknet.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKNET_SERVER_HTTP_PORT", "7070")
	t.Setenv("TASKNET_GOVERNOR_RATE_WINDOW", "250ms")
	t.Setenv("TASKNET_LOG_LEVEL", "warn")
	t.Setenv("TASKNET_LOG_OUTPUT_PATHS", "stdout, /var/log/tasknet.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Governor.RateWindow)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/tasknet.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasknet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))
	t.Setenv("TASKNET_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad shared holders", func(c *Config) { c.Locks.MaxSharedHolders = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Server.HTTPPort == 8080 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()

	gov := cfg.Governor.GovernorConfig()
	require.NotNil(t, gov.RateLimit)
	assert.Equal(t, 100, *gov.RateLimit)
	assert.Equal(t, 5, gov.Breaker.FailureThreshold)

	cfg.Governor.RateLimit = 0
	assert.Nil(t, cfg.Governor.GovernorConfig().RateLimit)

	cfg.Coordinator.Routing = map[string]string{"review": "review"}
	coord := cfg.Coordinator.CoordinatorConfig()
	assert.Equal(t, types.TypeAnalysis, coord.DefaultAgentType)
	assert.Equal(t, types.TypeReview, coord.Routing[types.TaskReview])

	locks := cfg.Locks.LockManagerConfig()
	assert.Equal(t, 8, locks.MaxSharedHolders)
	assert.Equal(t, 5*time.Second, locks.DefaultTTL)
}
