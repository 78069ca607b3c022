// Package config provides configuration structures and loading logic for the
// webhook and the command registrar.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polisai/proxydrop/pkg/domain"
)

// Config holds the complete process configuration. It is immutable once
// Load returns.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Policy    PolicyConfig    `yaml:"policy"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DiscordConfig identifies the application on the chat platform.
type DiscordConfig struct {
	ApplicationID string `yaml:"application_id" validate:"required,numeric"`
	PublicKey     string `yaml:"public_key" validate:"required,hexadecimal,len=64"`
	// Token is only needed by the registrar.
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base" validate:"omitempty,url"`
}

// UpstreamConfig points at the proxy list API.
type UpstreamConfig struct {
	URL          string        `yaml:"url" validate:"required,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"gte=0"`
}

// CacheConfig selects the read-through cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PolicyConfig overrides the built-in channel scope policy.
type PolicyConfig struct {
	// File is a Rego module replacing the built-in one.
	File       string `yaml:"file"`
	Entrypoint string `yaml:"entrypoint"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gte=0"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig enables TLS termination on the listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile    string `yaml:"key_file" validate:"required_if=Enabled true"`
	MinVersion string `yaml:"min_version" validate:"omitempty,oneof=1.2 1.3"`
	// Watch reloads the certificate when the files change.
	Watch bool `yaml:"watch"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// TelemetryConfig holds configuration for OpenTelemetry tracing.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"`
	SampleRatio  float64           `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	BatchSize    int               `yaml:"batch_size" validate:"gte=0"`
	BatchTimeout time.Duration     `yaml:"batch_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no file sets a field.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			Timeout:      10 * time.Second,
			MaxBodyBytes: 16 << 20,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     2 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            ":8787",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration with Read and validates it for serving.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads defaults, overlays the file at path with ${VAR} references
// expanded, then applies environment variable overrides. An empty path loads
// defaults plus environment. The result is not validated.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("DISCORD_APPLICATION_ID"); val != "" {
		cfg.Discord.ApplicationID = val
	}
	if val := os.Getenv("DISCORD_PUBLIC_KEY"); val != "" {
		cfg.Discord.PublicKey = val
	}
	if val := os.Getenv("DISCORD_TOKEN"); val != "" {
		cfg.Discord.Token = val
	}
	if val := os.Getenv("PROXY_API_URL"); val != "" {
		cfg.Upstream.URL = val
	}

	if val := os.Getenv("PROXYDROP_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv("PROXYDROP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PROXYDROP_CACHE_BACKEND"); val != "" {
		cfg.Cache.Backend = val
	}
	if val := os.Getenv("PROXYDROP_REDIS_ADDR"); val != "" {
		cfg.Cache.Redis.Addr = val
	}
	if val := os.Getenv("PROXYDROP_REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: PROXYDROP_REDIS_DB: %w", domain.ErrConfigInvalid, err)
		}
		cfg.Cache.Redis.DB = db
	}
	if val := os.Getenv("PROXYDROP_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("PROXYDROP_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("PROXYDROP_TRACE_SAMPLE_RATIO"); val != "" {
		ratio, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%w: PROXYDROP_TRACE_SAMPLE_RATIO: %w", domain.ErrConfigInvalid, err)
		}
		cfg.Telemetry.SampleRatio = ratio
	}
	return nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Discord.PublicKey = strings.TrimSpace(c.Discord.PublicKey)
	c.Discord.ApplicationID = strings.TrimSpace(c.Discord.ApplicationID)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration needed to serve the webhook. Errors wrap
// domain.ErrConfigInvalid and name the offending fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("%w: cache.redis.addr is required for the redis backend", domain.ErrConfigInvalid)
	}
	return nil
}

// ValidateRegistrar checks only what the command registrar needs.
func (c *Config) ValidateRegistrar() error {
	var missing []string
	if c.Discord.ApplicationID == "" {
		missing = append(missing, "discord.application_id")
	}
	if c.Discord.Token == "" {
		missing = append(missing, "discord.token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	return nil
}
