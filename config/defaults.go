package config

import (
	"time"

	"github.com/tasknet-io/tasknet/coordinator"
	"github.com/tasknet-io/tasknet/governor"
	"github.com/tasknet-io/tasknet/statemachine"
	"github.com/tasknet-io/tasknet/types"
)

// Default returns the configuration tasknetd starts from before any file
// or environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       100,
			RateBurst:       200,
		},
		Registry: RegistryConfig{
			MailboxSize: 64,
		},
		Governor: GovernorConfig{
			RateLimit:        100,
			RateWindow:       time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			BreakerTimeout:   30 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			DefaultAgentType: string(types.TypeAnalysis),
		},
		Locks: LockConfig{
			MaxSharedHolders:  8,
			DefaultTTL:        5 * time.Second,
			TransitionLockTTL: 2 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// GovernorConfig converts the section into the governor package's config.
func (g GovernorConfig) GovernorConfig() governor.Config {
	cfg := governor.Config{
		RateWindow: g.RateWindow,
		Breaker: governor.BreakerConfig{
			FailureThreshold: g.FailureThreshold,
			SuccessThreshold: g.SuccessThreshold,
			Timeout:          g.BreakerTimeout,
		},
	}
	if g.RateLimit > 0 {
		limit := g.RateLimit
		cfg.RateLimit = &limit
	}
	return cfg
}

// CoordinatorConfig converts the section into the coordinator's config.
func (c CoordinatorConfig) CoordinatorConfig() coordinator.Config {
	cfg := coordinator.Config{
		DefaultAgentType: types.AgentType(c.DefaultAgentType),
	}
	if len(c.Routing) > 0 {
		cfg.Routing = make(map[types.TaskType]types.AgentType, len(c.Routing))
		for tt, at := range c.Routing {
			cfg.Routing[types.TaskType(tt)] = types.AgentType(at)
		}
	}
	return cfg
}

// LockManagerConfig converts the section into the lock manager's config.
func (l LockConfig) LockManagerConfig() statemachine.LockManagerConfig {
	return statemachine.LockManagerConfig{
		MaxSharedHolders: l.MaxSharedHolders,
		DefaultTTL:       l.DefaultTTL,
	}
}
