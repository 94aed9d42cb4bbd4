// Package config loads the flowbot service configuration.
//
// Values come from an optional YAML file and are then overridden by FLOWBOT_*
// environment variables. Secrets may also be read from a file named by the
// matching *_FILE variable (e.g. FLOWBOT_REDIS_PASSWORD_FILE).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session and graph backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOWBOT_"

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Graphs     GraphsConfig     `yaml:"graphs"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Webservice WebserviceConfig `yaml:"webservice"`
	Actions    ActionsConfig    `yaml:"actions"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Token maps a bearer token to the owner it authenticates.
type Token struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
}

type AuthConfig struct {
	Tokens []Token `yaml:"tokens"`
}

type SessionsConfig struct {
	Backend string `yaml:"backend"`
	// EncryptionKey is a base64 AES key. Empty disables encryption at rest.
	EncryptionKey string `yaml:"encryption_key"`
	// FallbackKeys are retired keys still accepted for decryption.
	FallbackKeys []string `yaml:"fallback_keys"`
}

type GraphsConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type RuntimeConfig struct {
	Timezone     string `yaml:"timezone"`
	MaxSteps     int    `yaml:"max_steps"`
	MaxInputSize int    `yaml:"max_input_size"`
}

type WebserviceConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	CallbackBaseURL string        `yaml:"callback_base_url"`
}

// ActionsConfig points at the allow-list of local programs callable from action nodes.
type ActionsConfig struct {
	File    string        `yaml:"file"`
	WorkDir string        `yaml:"work_dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Sessions: SessionsConfig{Backend: BackendMemory},
		Graphs:   GraphsConfig{Backend: BackendMemory},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Prefix:  "flowbot:",
			LockTTL: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Timezone:     "UTC",
			MaxSteps:     100,
			MaxInputSize: 4096,
		},
		Webservice: WebserviceConfig{Timeout: 10 * time.Second},
		Actions:    ActionsConfig{Timeout: 10 * time.Second},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (when not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%d]: token and user_id are required", i))
		}
	}

	switch c.Sessions.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("sessions.backend: unknown backend %q", c.Sessions.Backend))
	}
	switch c.Graphs.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("graphs.backend: unknown backend %q", c.Graphs.Backend))
	}

	if (c.Sessions.Backend == BackendRedis || c.Graphs.Backend == BackendRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis backend"))
	}
	if (c.Sessions.Backend == BackendPostgres || c.Graphs.Backend == BackendPostgres) && c.Postgres.URL == "" {
		errs = append(errs, errors.New("postgres.url is required for the postgres backend"))
	}

	if _, err := time.LoadLocation(c.Runtime.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("runtime.timezone: %w", err))
	}
	if c.Runtime.MaxSteps <= 0 {
		errs = append(errs, errors.New("runtime.max_steps must be positive"))
	}
	if c.Runtime.MaxInputSize <= 0 {
		errs = append(errs, errors.New("runtime.max_input_size must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Runtime.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TokenOwners indexes the bearer tokens by value.
func (c *Config) TokenOwners() map[string]string {
	owners := make(map[string]string, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		owners[t.Token] = t.UserID
	}
	return owners
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := secret(lookup, name, &errs); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	str("SESSION_BACKEND", &c.Sessions.Backend)
	str("SESSION_ENCRYPTION_KEY", &c.Sessions.EncryptionKey)
	var fallback string
	str("SESSION_ENCRYPTION_FALLBACK_KEYS", &fallback)
	if fallback != "" {
		c.Sessions.FallbackKeys = splitList(fallback)
	}
	str("GRAPH_BACKEND", &c.Graphs.Backend)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("REDIS_PREFIX", &c.Redis.Prefix)
	dur("REDIS_LOCK_TTL", &c.Redis.LockTTL)
	str("DATABASE_URL", &c.Postgres.URL)
	str("TIMEZONE", &c.Runtime.Timezone)
	num("MAX_STEPS", &c.Runtime.MaxSteps)
	num("MAX_INPUT_SIZE", &c.Runtime.MaxInputSize)
	dur("WEBSERVICE_TIMEOUT", &c.Webservice.Timeout)
	str("CALLBACK_BASE_URL", &c.Webservice.CallbackBaseURL)
	str("ACTIONS_FILE", &c.Actions.File)
	str("ACTIONS_WORK_DIR", &c.Actions.WorkDir)
	dur("ACTIONS_TIMEOUT", &c.Actions.Timeout)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	// FLOWBOT_AUTH_TOKENS="token1=user1,token2=user2"
	var tokens string
	str("AUTH_TOKENS", &tokens)
	if tokens != "" {
		parsed, err := parseTokens(tokens)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.Auth.Tokens = parsed
		}
	}

	return errors.Join(errs...)
}

// secret reads FLOWBOT_<name>, falling back to the file named by FLOWBOT_<name>_FILE.
func secret(lookup lookupFunc, name string, errs *[]error) (string, bool) {
	if v, ok := lookup(EnvPrefix + name); ok {
		return v, true
	}
	path, ok := lookup(EnvPrefix + name + "_FILE")
	if !ok || path == "" {
		return "", false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s_FILE: %w", EnvPrefix, name, err))
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseTokens(s string) ([]Token, error) {
	var tokens []Token
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, "=")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("%sAUTH_TOKENS: malformed entry %q", EnvPrefix, pair)
		}
		tokens = append(tokens, Token{Token: token, UserID: user})
	}
	return tokens, nil
}
