package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pennygo/gatekeeper/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Documents     DocumentsConfig
	Provider      ProviderConfig
	Captcha       CaptchaConfig
	Reconcile     ReconcileConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration for the rate limiter
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// DocumentsConfig holds the private document bucket configuration
type DocumentsConfig struct {
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// How long disclosure URLs stay valid
	DisclosureTTL time.Duration
}

// ProviderConfig holds credential provider configuration
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	ServiceKey     string
	RedirectTarget string
}

// CaptchaConfig holds captcha verification configuration
type CaptchaConfig struct {
	Secret    string
	VerifyURL string
}

// ReconcileConfig holds the reconciler schedule
type ReconcileConfig struct {
	Enabled  bool
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
			Port:            getEnv("GATEKEEPER_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("GATEKEEPER_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("GATEKEEPER_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("GATEKEEPER_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("GATEKEEPER_POSTGRES_MAX_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("GATEKEEPER_POSTGRES_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("GATEKEEPER_REDIS_URL", ""),
			Password: getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GATEKEEPER_REDIS_DB", 0),
			PoolSize: getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
		},
		Documents: DocumentsConfig{
			S3Endpoint:     getEnv("GATEKEEPER_S3_ENDPOINT", ""),
			S3Region:       getEnv("GATEKEEPER_S3_REGION", "us-east-1"),
			S3Bucket:       getEnv("GATEKEEPER_S3_BUCKET", "verification-documents"),
			S3AccessKey:    getEnv("GATEKEEPER_S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("GATEKEEPER_S3_SECRET_KEY", ""),
			S3UsePathStyle: getEnvBool("GATEKEEPER_S3_USE_PATH_STYLE", false),
			DisclosureTTL:  getEnvDuration("GATEKEEPER_DISCLOSURE_TTL", time.Hour),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("GATEKEEPER_PROVIDER_URL", ""),
			APIKey:         getEnv("GATEKEEPER_PROVIDER_API_KEY", ""),
			ServiceKey:     getEnv("GATEKEEPER_PROVIDER_SERVICE_KEY", ""),
			RedirectTarget: getEnv("GATEKEEPER_SIGNUP_REDIRECT", "/dashboard"),
		},
		Captcha: CaptchaConfig{
			Secret:    getEnv("GATEKEEPER_CAPTCHA_SECRET", ""),
			VerifyURL: getEnv("GATEKEEPER_CAPTCHA_VERIFY_URL", ""),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvBool("GATEKEEPER_RECONCILE_ENABLED", true),
			Schedule: getEnv("GATEKEEPER_RECONCILE_SCHEDULE", "*/15 * * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
			OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("credential provider URL is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("credential provider API key is required")
	}
	if c.Provider.ServiceKey == "" {
		return fmt.Errorf("credential provider service key is required")
	}

	if c.Captcha.Secret == "" {
		return fmt.Errorf("captcha secret is required")
	}

	if c.Documents.S3Bucket == "" {
		return fmt.Errorf("document bucket is required")
	}
	if c.Documents.DisclosureTTL <= 0 {
		return fmt.Errorf("disclosure TTL must be positive")
	}

	if c.Reconcile.Enabled && c.Reconcile.Schedule == "" {
		return fmt.Errorf("reconcile schedule is required when the reconciler is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
