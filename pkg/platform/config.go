// Package platform loads gateway configuration and wires the session
// manager, credential store, event sinks and HTTP surface together.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/session-gateway/pkg/credential"
)

// CurrentConfigVersion is the config apiVersion understood by LoadConfig.
const CurrentConfigVersion = "v1"

// Credential backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the complete gateway configuration.
type Config struct {
	APIVersion  string            `yaml:"apiVersion"`
	Server      ServerConfig      `yaml:"server"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Events      EventsConfig      `yaml:"events"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP request layer.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SendInterval   time.Duration `yaml:"send_interval"` // Pause between recipients on /send
	Auth           AuthConfig    `yaml:"auth"`
}

// AuthConfig configures optional bearer-token authentication.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer auth when non-empty.
	JWTSecret string `yaml:"jwt_secret"`

	// TenantClaim names a claim that must equal the tenant in the path.
	// Empty means any valid token may act for any tenant.
	TenantClaim string `yaml:"tenant_claim"`
}

// SessionsConfig configures the session manager.
type SessionsConfig struct {
	MaxSessions          int             `yaml:"max_sessions"`
	IdleTimeout          *time.Duration  `yaml:"idle_timeout"` // nil means default, 0 disables
	MaxReconnectAttempts *int            `yaml:"max_reconnect_attempts"` // 0 disables; the restart that completes a pairing is exempt
	Reconnect            ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes the reconnect backoff.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Randomization   float64       `yaml:"randomization"`
}

// CredentialsConfig selects and configures the credential store.
type CredentialsConfig struct {
	Backend          string         `yaml:"backend"`
	EncryptionKey    string         `yaml:"encryption_key"`
	Postgres         PostgresConfig `yaml:"postgres"`
	Redis            RedisConfig    `yaml:"redis"`
	OperationTimeout time.Duration  `yaml:"operation_timeout"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN           string `yaml:"dsn"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	RunMigrations bool   `yaml:"run_migrations"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Webhook          WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures the optional webhook sink.
type WebhookConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// ProtocolConfig configures the protocol client.
type ProtocolConfig struct {
	PairDelay time.Duration `yaml:"pair_delay"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes, expanding ${VAR} references
// and applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.APIVersion != "" && cfg.APIVersion != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q; supported versions: %s",
			cfg.APIVersion, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied, suitable
// for running without a config file.
func DefaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.SendInterval == 0 {
		cfg.Server.SendInterval = 100 * time.Millisecond
	}
	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = 3
	}
	if cfg.Sessions.IdleTimeout == nil {
		d := 30 * time.Minute
		cfg.Sessions.IdleTimeout = &d
	}
	if cfg.Sessions.MaxReconnectAttempts == nil {
		n := 5
		cfg.Sessions.MaxReconnectAttempts = &n
	}
	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = BackendMemory
	}
	if cfg.Credentials.OperationTimeout == 0 {
		cfg.Credentials.OperationTimeout = 10 * time.Second
	}
	if cfg.Credentials.Postgres.MaxOpenConns == 0 {
		cfg.Credentials.Postgres.MaxOpenConns = 10
	}
	if cfg.Credentials.Redis.KeyPrefix == "" {
		cfg.Credentials.Redis.KeyPrefix = "session-gateway:creds:"
	}
	if cfg.Events.SubscriberBuffer == 0 {
		cfg.Events.SubscriberBuffer = 16
	}
	if cfg.Events.Webhook.Timeout == 0 {
		cfg.Events.Webhook.Timeout = 5 * time.Second
	}
	if cfg.Events.Webhook.QueueSize == 0 {
		cfg.Events.Webhook.QueueSize = 256
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Sessions.MaxSessions < 1 {
		errs = append(errs, "sessions.max_sessions must be at least 1")
	}
	if c.Sessions.IdleTimeout != nil && *c.Sessions.IdleTimeout < 0 {
		errs = append(errs, "sessions.idle_timeout must not be negative")
	}
	if c.Sessions.MaxReconnectAttempts != nil && *c.Sessions.MaxReconnectAttempts < 0 {
		errs = append(errs, "sessions.max_reconnect_attempts must not be negative")
	}
	if r := c.Sessions.Reconnect.Randomization; r < 0 || r >= 1 {
		errs = append(errs, "sessions.reconnect.randomization must be in [0, 1)")
	}
	if c.Sessions.Reconnect.Multiplier != 0 && c.Sessions.Reconnect.Multiplier < 1 {
		errs = append(errs, "sessions.reconnect.multiplier must be at least 1")
	}

	switch c.Credentials.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Credentials.Postgres.DSN == "" {
			errs = append(errs, "credentials.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Credentials.Redis.Addr == "" {
			errs = append(errs, "credentials.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials.backend %q is not one of memory, postgres, redis",
			c.Credentials.Backend))
	}
	if c.Credentials.EncryptionKey != "" {
		if _, err := credential.ParseKey(c.Credentials.EncryptionKey); err != nil {
			errs = append(errs, fmt.Sprintf("credentials.encryption_key: %v", err))
		}
	}

	for _, origin := range c.Server.AllowedOrigins {
		if origin == "" {
			errs = append(errs, "server.allowed_origins must not contain empty entries")
			break
		}
	}
	if c.Server.Auth.TenantClaim != "" && c.Server.Auth.JWTSecret == "" {
		errs = append(errs, "server.auth.jwt_secret is required when tenant_claim is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
