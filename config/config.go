package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AdalynJs/nucypher/features"
)

// Config holds configuration for the proxy node and the owner/recipient CLI
type Config struct {
	// Service identification
	Service ServiceConfig `mapstructure:"service"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration for the arrangement store
	Database DatabaseConfig `mapstructure:"database"`

	// Discovery holds the node registry and treasure map store backend
	Discovery DiscoveryConfig `mapstructure:"discovery"`

	// Identity selects where the character's secret key comes from
	Identity IdentityConfig `mapstructure:"identity"`

	// Node configuration for proxies
	Node NodeConfig `mapstructure:"node"`

	// Negotiation tunes owner-side discovery and enactment
	Negotiation NegotiationConfig `mapstructure:"negotiation"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Security configuration
	Security SecurityConfig `mapstructure:"security"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig identifies the service
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // dev, staging, production
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	GracefulStop time.Duration `mapstructure:"graceful_stop"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig holds TLS/SSL settings
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database connection settings. An empty driver keeps
// arrangements in memory.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DiscoveryConfig holds the directory backend settings
type DiscoveryConfig struct {
	Type           string        `mapstructure:"type"` // memory, redis
	TreasureMapTTL time.Duration `mapstructure:"treasure_map_ttl"`
	NodeTTL        time.Duration `mapstructure:"node_ttl"`
	SeedFile       string        `mapstructure:"seed_file"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis-specific settings
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`

	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
}

// IdentityConfig selects the key source for the local character
type IdentityConfig struct {
	Name      string                  `mapstructure:"name"`
	KeySource string                  `mapstructure:"key_source"` // generate, file, env, aws
	KeyFile   string                  `mapstructure:"key_file"`
	KeyEnv    string                  `mapstructure:"key_env"`
	AWS       AWSSecretsManagerConfig `mapstructure:"aws"`
}

// AWSSecretsManagerConfig configures the AWS Secrets Manager key source
type AWSSecretsManagerConfig struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	SecretID       string `mapstructure:"secret_id"`
	SecretKeyField string `mapstructure:"secret_key_field"`
}

// NodeConfig holds proxy node settings
type NodeConfig struct {
	Endpoint      string           `mapstructure:"endpoint"` // advertised base URL
	SweepInterval time.Duration    `mapstructure:"sweep_interval"`
	Acceptance    AcceptanceConfig `mapstructure:"acceptance"`
}

// AcceptanceConfig drives the arrangement acceptance policy
type AcceptanceConfig struct {
	PolicyFile  string        `mapstructure:"policy_file"`
	MinDeposit  uint64        `mapstructure:"min_deposit"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// NegotiationConfig tunes owner-side negotiation and enactment
type NegotiationConfig struct {
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxAttempts       uint          `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	Rounds            int           `mapstructure:"rounds"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	DefaultDeposit    uint64        `mapstructure:"default_deposit"`
	NotifyAbandoned   bool          `mapstructure:"notify_abandoned"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Output string `mapstructure:"output"` // stdout, stderr
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	RateLimiting RateLimitConfig `mapstructure:"rate_limiting"`
	CORS         CORSConfig      `mapstructure:"cors"`
	Admin        AdminConfig     `mapstructure:"admin"`
}

// AdminConfig guards the operator endpoints (audit logs) with bearer tokens.
// Tokens are either HS256 JWTs signed with JWTSecret or ID tokens from the
// OIDC issuer whose keys are published at JWKSURL. The client fields let the
// CLI obtain a token with the client credentials grant.
type AdminConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	JWTSecret           string `mapstructure:"jwt_secret"`
	IssuerURL           string `mapstructure:"issuer_url"`
	JWKSURL             string `mapstructure:"jwks_url"`
	Audience            string `mapstructure:"audience"`
	RequiredRole        string `mapstructure:"required_role"`
	AllowInsecureIssuer bool   `mapstructure:"allow_insecure_issuer"`

	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RequestsPerMin int  `mapstructure:"requests_per_min"`
	Burst          int  `mapstructure:"burst"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"` // Prometheus endpoint
	Path    string `mapstructure:"path"`
}

// TracingConfig holds distributed tracing settings
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (NKMS_ prefix)
// 2. Config file
// 3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nkms")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/nkms/")
		v.AddConfigPath("$HOME/.nkms")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NKMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	applyFeatureFlags(&cfg)

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "ursula")
	v.SetDefault("service.version", "0.1.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9151)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_stop", "30s")
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "nkms")
	v.SetDefault("database.user", "nkms")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("discovery.type", "memory")
	v.SetDefault("discovery.treasure_map_ttl", "0s")
	v.SetDefault("discovery.node_ttl", "10m")
	v.SetDefault("discovery.redis.address", "localhost:6379")
	v.SetDefault("discovery.redis.db", 0)
	v.SetDefault("discovery.redis.prefix", "nkms:")
	v.SetDefault("discovery.redis.connect_attempts", 3)
	v.SetDefault("discovery.redis.connect_backoff", "200ms")

	v.SetDefault("identity.name", "ursula")
	v.SetDefault("identity.key_source", "generate")
	v.SetDefault("identity.key_env", "NKMS_SECRET_KEY")
	v.SetDefault("identity.aws.secret_key_field", "secret_key")

	v.SetDefault("node.endpoint", "http://localhost:9151")
	v.SetDefault("node.sweep_interval", "1m")
	v.SetDefault("node.acceptance.min_deposit", 0)
	v.SetDefault("node.acceptance.max_duration", "8760h")

	v.SetDefault("negotiation.call_timeout", "10s")
	v.SetDefault("negotiation.max_attempts", 5)
	v.SetDefault("negotiation.initial_backoff", "100ms")
	v.SetDefault("negotiation.max_backoff", "2s")
	v.SetDefault("negotiation.rounds", 3)
	v.SetDefault("negotiation.max_concurrency", 8)
	v.SetDefault("negotiation.default_expiration", "720h")
	v.SetDefault("negotiation.default_deposit", 0)
	v.SetDefault("negotiation.notify_abandoned", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_min", 600)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.cors.enabled", true)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("security.admin.enabled", false)
	v.SetDefault("security.admin.required_role", "nkms-admin")

	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.address", ":9090")
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.tracing.enabled", false)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
		if !fileExists(cfg.Server.TLS.CertFile) {
			return fmt.Errorf("TLS certificate file not found: %s", cfg.Server.TLS.CertFile)
		}
		if !fileExists(cfg.Server.TLS.KeyFile) {
			return fmt.Errorf("TLS key file not found: %s", cfg.Server.TLS.KeyFile)
		}
	}

	if cfg.Database.Driver != "" {
		if cfg.Database.Host == "" {
			return fmt.Errorf("database.host is required when database is configured")
		}
		if cfg.Database.Database == "" {
			return fmt.Errorf("database.database is required when database is configured")
		}
	}

	if cfg.Security.Admin.Enabled && cfg.Security.Admin.JWTSecret == "" && cfg.Security.Admin.JWKSURL == "" {
		return fmt.Errorf("security.admin requires jwt_secret or jwks_url when enabled")
	}

	switch strings.ToLower(cfg.Discovery.Type) {
	case "memory":
	case "redis":
		if cfg.Discovery.Redis.Address == "" {
			return fmt.Errorf("discovery.redis.address is required when discovery.type is redis")
		}
	default:
		return fmt.Errorf("discovery.type %q is not supported", cfg.Discovery.Type)
	}

	switch strings.ToLower(cfg.Identity.KeySource) {
	case "generate":
	case "file":
		if cfg.Identity.KeyFile == "" {
			return fmt.Errorf("identity.key_file is required for the file key source")
		}
	case "env":
		if cfg.Identity.KeyEnv == "" {
			return fmt.Errorf("identity.key_env is required for the env key source")
		}
	case "aws":
		if cfg.Identity.AWS.SecretID == "" {
			return fmt.Errorf("identity.aws.secret_id is required for the aws key source")
		}
	default:
		return fmt.Errorf("identity.key_source %q is not supported", cfg.Identity.KeySource)
	}

	if cfg.Negotiation.CallTimeout <= 0 {
		return fmt.Errorf("negotiation.call_timeout must be positive")
	}
	if cfg.Negotiation.MaxAttempts == 0 {
		return fmt.Errorf("negotiation.max_attempts must be at least 1")
	}
	if cfg.Negotiation.MaxConcurrency < 1 {
		return fmt.Errorf("negotiation.max_concurrency must be at least 1")
	}

	return nil
}

// GetDatabaseURL constructs a database connection URL from the config
func (c *Config) GetDatabaseURL() string {
	if c.Database.Driver == "" {
		return ""
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// ListenAddress returns host:port for the HTTP server
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Service.Environment == "development" || c.Service.Environment == "dev"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Service.Environment == "production" || c.Service.Environment == "prod"
}

// MaskSensitive returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitive() *Config {
	masked := *c
	masked.Database.Password = "***"
	masked.Discovery.Redis.Password = "***"
	masked.Security.Admin.JWTSecret = "***"
	masked.Security.Admin.ClientSecret = "***"
	return &masked
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	expandedPath := os.ExpandEnv(path)
	if !filepath.IsAbs(expandedPath) {
		return false
	}
	_, err := os.Stat(expandedPath)
	return err == nil
}

// applyFeatureFlags applies build-time feature flags to override configuration
func applyFeatureFlags(cfg *Config) {
	if !features.ShouldEnableMetrics() {
		cfg.Observability.Metrics.Enabled = false
	}

	if !features.ShouldEnableObservability() {
		cfg.Observability.Tracing.Enabled = false
		cfg.Observability.Metrics.Enabled = false
	}

	if features.ShouldUseShortTimeouts() {
		cfg.Server.ReadTimeout = 5 * time.Second
		cfg.Server.WriteTimeout = 5 * time.Second
		cfg.Server.IdleTimeout = 30 * time.Second
		cfg.Server.GracefulStop = 5 * time.Second

		short := features.ShortCallTimeoutSeconds * time.Second
		if cfg.Negotiation.CallTimeout > short {
			cfg.Negotiation.CallTimeout = short
		}
	}

	if features.ShouldEnableRateLimiting() {
		cfg.Security.RateLimiting.Enabled = true
	}
}
