package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaneisley/patience-gate/pkg/scheduler"
)

// EnvPrefix prefixes every environment variable the configuration reads
const EnvPrefix = "PATIENCE_GATE"

// Provider types
const (
	ProviderHTTP   = "http"
	ProviderStatic = "static"
)

// Config holds the configuration for the gate and its daemon
type Config struct {
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Provider  ProviderConfig   `mapstructure:"provider"`
	Daemon    DaemonConfig     `mapstructure:"daemon"`
	LogLevel  string           `mapstructure:"log_level"`
}

// CacheConfig selects and tunes the result cache
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, sqlite or redis
	Path          string        `mapstructure:"path"`
	TTL           time.Duration `mapstructure:"ttl"`            // 0 keeps entries forever
	PruneInterval time.Duration `mapstructure:"prune_interval"` // 0 disables pruning
	RedisURL      string        `mapstructure:"redis_url"`      // redis backend only
}

// Location returns where the configured backend keeps its data
func (c CacheConfig) Location() string {
	if c.Backend == "redis" {
		return c.RedisURL
	}
	return c.Path
}

// ProviderConfig describes the translation backend
type ProviderConfig struct {
	Name        string        `mapstructure:"name"`
	Type        string        `mapstructure:"type"` // http or static
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Dictionary  string        `mapstructure:"dictionary"` // YAML file for the static provider
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// DaemonConfig holds the serve command's listeners
type DaemonConfig struct {
	SocketPath string `mapstructure:"socket_path"`
	HTTPAddr   string `mapstructure:"http_addr"` // empty disables the status server
	Workers    int    `mapstructure:"workers"`
	PidFile    string `mapstructure:"pid_file"`

	// soft limits reported by /health; 0 disables each
	MaxMemoryMB   float64 `mapstructure:"max_memory_mb"`
	MaxGoroutines int     `mapstructure:"max_goroutines"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// ConfigSource represents where a configuration value came from
type ConfigSource int

const (
	SourceDefault ConfigSource = iota
	SourceConfigFile
	SourceEnvironment
	SourceCLIFlag
)

func (s ConfigSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceConfigFile:
		return "config file"
	case SourceEnvironment:
		return "environment variable"
	case SourceCLIFlag:
		return "CLI flag"
	default:
		return "unknown"
	}
}

// ConfigDebugInfo holds debugging information about configuration resolution
type ConfigDebugInfo struct {
	Sources map[string]ConfigSource
	Values  map[string]interface{}
}

// defaults lists every configuration key with its default value
func defaults() map[string]interface{} {
	sched := scheduler.DefaultConfig()
	return map[string]interface{}{
		"scheduler.rate":             sched.Rate,
		"scheduler.capacity":         sched.Capacity,
		"scheduler.timeout":          sched.Timeout,
		"scheduler.max_retries":      sched.MaxRetries,
		"scheduler.base_retry_delay": sched.BaseRetryDelay,
		"cache.backend":              "memory",
		"cache.path":                 "",
		"cache.ttl":                  7 * 24 * time.Hour,
		"cache.prune_interval":       time.Hour,
		"cache.redis_url":            "redis://localhost:6379/0",
		"provider.name":              "libre",
		"provider.type":              ProviderHTTP,
		"provider.endpoint":          "http://localhost:5000/translate",
		"provider.api_key":           "",
		"provider.dictionary":        "",
		"provider.http_timeout":      10 * time.Second,
		"daemon.socket_path":         filepath.Join(os.TempDir(), "patience-gate.sock"),
		"daemon.http_addr":           "127.0.0.1:8642",
		"daemon.workers":             8,
		"daemon.pid_file":            "",
		"daemon.max_memory_mb":       512.0,
		"daemon.max_goroutines":      10000,
		"log_level":                  "info",
	}
}

// Keys returns every configuration key in sorted order
func Keys() []string {
	d := defaults()
	keys := make([]string, 0, len(d))
	for key := range d {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable bound to key
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Default returns a configuration with default values
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)
	return &config
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(configFile string) (*Config, error) {
	config, _, err := Load(configFile, nil, false)
	return config, err
}

// Load resolves configuration with precedence defaults < file < environment <
// overrides. overrides holds only values whose CLI flags were explicitly set,
// keyed by configuration key.
func Load(configFile string, overrides map[string]interface{}, debug bool) (*Config, *ConfigDebugInfo, error) {
	var debugInfo *ConfigDebugInfo
	if debug {
		debugInfo = &ConfigDebugInfo{
			Sources: make(map[string]ConfigSource),
			Values:  make(map[string]interface{}),
		}
	}

	v := viper.New()

	setDefaults(v)
	if debug {
		for key, value := range defaults() {
			debugInfo.Sources[key] = SourceDefault
			debugInfo.Values[key] = value
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, debugInfo, fmt.Errorf("failed to read config file: %w", err)
		}
		if debug {
			for _, key := range Keys() {
				if v.InConfig(key) {
					debugInfo.Sources[key] = SourceConfigFile
					debugInfo.Values[key] = v.Get(key)
				}
			}
		}
	}

	for _, key := range Keys() {
		envVar := EnvVar(key)
		v.BindEnv(key, envVar)
		if debug {
			if value, ok := os.LookupEnv(envVar); ok {
				debugInfo.Sources[key] = SourceEnvironment
				debugInfo.Values[key] = value
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
		if debug {
			debugInfo.Sources[key] = SourceCLIFlag
			debugInfo.Values[key] = value
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, debugInfo, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, debugInfo, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, debugInfo, nil
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
}

// FindConfigFile searches for a configuration file in the given directory
func FindConfigFile(dir string) string {
	for _, name := range []string{".patience-gate.toml", "patience-gate.toml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	return ""
}

// DiscoverConfigFile looks in the working directory, then the home directory
func DiscoverConfigFile() string {
	if wd, err := os.Getwd(); err == nil {
		if path := FindConfigFile(wd); path != "" {
			return path
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return FindConfigFile(home)
	}
	return ""
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errors []ValidationError

	for _, problem := range c.Scheduler.Problems() {
		errors = append(errors, ValidationError{
			Field:   "scheduler." + problem.Field,
			Value:   problem.Value,
			Message: problem.Message,
		})
	}

	switch c.Cache.Backend {
	case "memory", "sqlite":
	case "redis":
		if u, err := url.Parse(c.Cache.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errors = append(errors, ValidationError{
				Field:   "cache.redis_url",
				Value:   c.Cache.RedisURL,
				Message: "must be a redis:// or rediss:// URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "cache.backend",
			Value:   c.Cache.Backend,
			Message: "must be 'memory', 'sqlite' or 'redis'",
		})
	}
	if c.Cache.TTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "cache.ttl",
			Value:   c.Cache.TTL,
			Message: "must be non-negative (0 means no expiry)",
		})
	}
	if c.Cache.PruneInterval < 0 || (c.Cache.PruneInterval > 0 && c.Cache.PruneInterval < time.Second) {
		errors = append(errors, ValidationError{
			Field:   "cache.prune_interval",
			Value:   c.Cache.PruneInterval,
			Message: "must be 0 (disabled) or at least 1s",
		})
	}

	if strings.TrimSpace(c.Provider.Name) == "" {
		errors = append(errors, ValidationError{
			Field:   "provider.name",
			Value:   c.Provider.Name,
			Message: "must not be empty",
		})
	}
	switch c.Provider.Type {
	case ProviderHTTP:
		if u, err := url.Parse(c.Provider.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "provider.endpoint",
				Value:   c.Provider.Endpoint,
				Message: "must be an absolute http or https URL",
			})
		}
	case ProviderStatic:
	default:
		errors = append(errors, ValidationError{
			Field:   "provider.type",
			Value:   c.Provider.Type,
			Message: "must be 'http' or 'static'",
		})
	}
	if c.Provider.HTTPTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "provider.http_timeout",
			Value:   c.Provider.HTTPTimeout,
			Message: "must be non-negative (0 means no timeout)",
		})
	}

	if c.Daemon.SocketPath == "" {
		errors = append(errors, ValidationError{
			Field:   "daemon.socket_path",
			Value:   c.Daemon.SocketPath,
			Message: "must not be empty",
		})
	}
	if c.Daemon.Workers < 1 || c.Daemon.Workers > 1024 {
		errors = append(errors, ValidationError{
			Field:   "daemon.workers",
			Value:   c.Daemon.Workers,
			Message: "must be between 1 and 1024",
		})
	}
	if c.Daemon.MaxMemoryMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "daemon.max_memory_mb",
			Value:   c.Daemon.MaxMemoryMB,
			Message: "must be non-negative (0 disables the limit)",
		})
	}
	if c.Daemon.MaxGoroutines < 0 {
		errors = append(errors, ValidationError{
			Field:   "daemon.max_goroutines",
			Value:   c.Daemon.MaxGoroutines,
			Message: "must be non-negative (0 disables the limit)",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: "must be one of debug, info, warn, error",
		})
	}

	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return nil
}

// PrintDebugInfo writes where each configuration value came from
func (debug *ConfigDebugInfo) PrintDebugInfo(w io.Writer) {
	fmt.Fprintln(w, "Configuration Resolution Debug Info:")
	fmt.Fprintln(w, "===================================")

	for _, key := range Keys() {
		value := debug.Values[key]
		if strings.HasSuffix(key, "api_key") && value != "" {
			value = "****"
		}
		fmt.Fprintf(w, "%-28s: %-32v (from %s)\n", key, value, debug.Sources[key])
	}
}
