package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Chatbot extraction strategies.
const (
	StrategyOracle = "oracle"
	StrategySlot   = "slot"
)

// Oracle providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration for ekaya-onboard.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Chatbot  ChatbotConfig  `yaml:"chatbot"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// Audience must appear in the token's aud claim when verification is on.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"onboard"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_onboard"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Redis is optional: with an empty
// host, per-session turn locking stays in-process.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// OracleConfig configures the function-calling language model used by the
// oracle extraction strategy.
type OracleConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	// Empty disables the oracle entirely.
	Provider string `yaml:"provider" env:"ORACLE_PROVIDER" env-default:"openai"`
	BaseURL  string `yaml:"base_url" env:"ORACLE_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"ORACLE_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"ORACLE_API_KEY"` // Secret - not in YAML

	// Timeout bounds a whole oracle turn, retries included.
	Timeout           time.Duration `yaml:"timeout" env:"ORACLE_TIMEOUT" env-default:"30s"`
	MaxRetries        int           `yaml:"max_retries" env:"ORACLE_MAX_RETRIES" env-default:"1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"ORACLE_REQUESTS_PER_SECOND" env-default:"5"`
	MaxTokens         int           `yaml:"max_tokens" env:"ORACLE_MAX_TOKENS" env-default:"1024"`

	CircuitThreshold  int           `yaml:"circuit_threshold" env:"ORACLE_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitResetAfter time.Duration `yaml:"circuit_reset_after" env:"ORACLE_CIRCUIT_RESET_AFTER" env-default:"30s"`
}

// ChatbotConfig holds conversation engine settings.
type ChatbotConfig struct {
	// Strategy selects "oracle" (multi-field extraction) or "slot"
	// (deterministic single-field slot filling).
	Strategy string `yaml:"strategy" env:"CHATBOT_STRATEGY" env-default:"oracle"`

	// HistoryWindow is the number of trailing turns sent to the oracle.
	HistoryWindow int `yaml:"history_window" env:"CHATBOT_HISTORY_WINDOW" env-default:"10"`

	// FileTextLimit caps the characters of extracted document text fed to the oracle.
	FileTextLimit int `yaml:"file_text_limit" env:"CHATBOT_FILE_TEXT_LIMIT" env-default:"4000"`

	// MaxUploadBytes rejects larger uploads before extraction.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"CHATBOT_MAX_UPLOAD_BYTES" env-default:"10485760"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables alone suffice.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	cfg.applyDockerHosts()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case "", ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}

	switch c.Chatbot.Strategy {
	case StrategySlot:
	case StrategyOracle:
		if c.Oracle.Provider == "" {
			return errors.New("chatbot strategy \"oracle\" requires oracle.provider")
		}
	default:
		return fmt.Errorf("unknown chatbot strategy %q", c.Chatbot.Strategy)
	}

	if c.Chatbot.HistoryWindow <= 0 {
		return errors.New("chatbot.history_window must be positive")
	}
	if c.Chatbot.FileTextLimit <= 0 {
		return errors.New("chatbot.file_text_limit must be positive")
	}
	if c.Oracle.Timeout <= 0 {
		return errors.New("oracle.timeout must be positive")
	}
	return nil
}

// UsesOracle reports whether turns are routed through the oracle strategy.
func (c *Config) UsesOracle() bool {
	return c.Chatbot.Strategy == StrategyOracle
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as needed by database/sql
// drivers used for migrations.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
