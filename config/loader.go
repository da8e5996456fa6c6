package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tasknet configuration.
type Config struct {
	// Server configures the HTTP surface of tasknetd.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Registry configures the agent registry.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Governor sets the default reliability envelope new agents start with.
	Governor GovernorConfig `yaml:"governor" env:"GOVERNOR"`

	// Coordinator configures task routing.
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`

	// Locks configures the state machine lock manager.
	Locks LockConfig `yaml:"locks" env:"LOCKS"`

	// Log configures logging output.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig configures the tasknetd HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimit caps inbound requests per second; 0 disables.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// RegistryConfig configures the agent registry.
type RegistryConfig struct {
	// MailboxSize bounds each local agent's message mailbox.
	MailboxSize int `yaml:"mailbox_size" env:"MAILBOX_SIZE"`
}

// GovernorConfig is the default reliability envelope for started agents.
type GovernorConfig struct {
	// RateLimit is the per-window admission quota; 0 means unlimited.
	RateLimit int `yaml:"rate_limit" env:"RATE_LIMIT"`
	// RateWindow is the fixed admission window.
	RateWindow time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
	// FailureThreshold opens the breaker after this many consecutive failures.
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// SuccessThreshold closes a half-open breaker after this many trial successes.
	SuccessThreshold int `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	// BreakerTimeout is how long an open breaker waits before probing.
	BreakerTimeout time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
}

// CoordinatorConfig configures task routing.
type CoordinatorConfig struct {
	// DefaultAgentType receives task types absent from the routing table.
	DefaultAgentType string `yaml:"default_agent_type" env:"DEFAULT_AGENT_TYPE"`
	// Routing overrides entries of the built-in task-type routing table.
	// YAML only; keys are task types, values agent types.
	Routing map[string]string `yaml:"routing" env:"-"`
}

// LockConfig configures the state machine lock manager.
type LockConfig struct {
	MaxSharedHolders  int           `yaml:"max_shared_holders" env:"MAX_SHARED_HOLDERS"`
	DefaultTTL        time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	TransitionLockTTL time.Duration `yaml:"transition_lock_ttl" env:"TRANSITION_LOCK_TTL"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs; default stdout.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Loader builds a Config from defaults, a YAML file, and the environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the TASKNET env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TASKNET"}
}

// WithConfigPath sets the YAML file to load. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Governor.RateLimit < 0 {
		errs = append(errs, "governor rate_limit must not be negative")
	}
	if c.Governor.FailureThreshold < 0 || c.Governor.SuccessThreshold < 0 {
		errs = append(errs, "breaker thresholds must not be negative")
	}
	if c.Locks.MaxSharedHolders <= 0 {
		errs = append(errs, "max_shared_holders must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
