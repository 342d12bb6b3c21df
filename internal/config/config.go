package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. COUPLECOOK_DATABASE_HOST
const EnvPrefix = "COUPLECOOK"

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Partnership PartnershipConfig `yaml:"partnership"`
	AWS         AWSConfig         `yaml:"aws"`
	JWT         JWTConfig         `yaml:"jwt"`
	Identity    IdentityConfig    `yaml:"identity"`
	APNs        APNsConfig        `yaml:"apns"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// StorageConfig selects the document store backend
type StorageConfig struct {
	Driver         string      `yaml:"driver"` // postgres or memory
	QueryBatchSize int         `yaml:"query_batch_size"`
	Cache          CacheConfig `yaml:"cache"`
}

// CacheConfig holds the document read cache configuration
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// PartnershipConfig holds invite settings
type PartnershipConfig struct {
	InviteMaxAttempts int `yaml:"invite_max_attempts"`
}

// AWSConfig holds AWS configuration
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	PublicURL string `yaml:"public_url"`
}

// JWTConfig holds session token configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// IdentityConfig holds the sign-in provider's token settings
type IdentityConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// APNsConfig holds push notification configuration. Push is disabled when
// KeyPath is empty.
type APNsConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// RateLimitConfig holds per-IP rates in limiter format ("10-M")
type RateLimitConfig struct {
	Join string `yaml:"join"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for anything a file leaves unset
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", DBName: "couplecook", SSLMode: "disable"},
		Storage: StorageConfig{
			Driver:         "postgres",
			QueryBatchSize: 30,
			Cache:          CacheConfig{Enabled: true, TTL: 5 * time.Minute},
		},
		Partnership: PartnershipConfig{InviteMaxAttempts: 10},
		AWS:         AWSConfig{Region: "us-east-1"},
		RateLimit:   RateLimitConfig{Join: "10-M"},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from COUPLECOOK_<SECTION>_<KEY> variables
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("server.host", &cfg.Server.Host)
	num("server.port", &cfg.Server.Port)

	str("database.host", &cfg.Database.Host)
	num("database.port", &cfg.Database.Port)
	str("database.user", &cfg.Database.User)
	str("database.password", &cfg.Database.Password)
	str("database.dbname", &cfg.Database.DBName)
	str("database.sslmode", &cfg.Database.SSLMode)

	str("storage.driver", &cfg.Storage.Driver)
	num("storage.query_batch_size", &cfg.Storage.QueryBatchSize)
	flag("storage.cache.enabled", &cfg.Storage.Cache.Enabled)
	if v.IsSet("storage.cache.ttl") {
		cfg.Storage.Cache.TTL = v.GetDuration("storage.cache.ttl")
	}

	num("partnership.invite_max_attempts", &cfg.Partnership.InviteMaxAttempts)

	str("aws.region", &cfg.AWS.Region)
	str("aws.s3_bucket", &cfg.AWS.S3Bucket)
	str("aws.access_key", &cfg.AWS.AccessKey)
	str("aws.secret_key", &cfg.AWS.SecretKey)
	str("aws.endpoint", &cfg.AWS.Endpoint)
	str("aws.public_url", &cfg.AWS.PublicURL)

	str("jwt.secret", &cfg.JWT.Secret)

	str("identity.secret", &cfg.Identity.Secret)
	str("identity.issuer", &cfg.Identity.Issuer)
	str("identity.audience", &cfg.Identity.Audience)

	str("apns.key_path", &cfg.APNs.KeyPath)
	str("apns.key_id", &cfg.APNs.KeyID)
	str("apns.team_id", &cfg.APNs.TeamID)
	str("apns.topic", &cfg.APNs.Topic)
	flag("apns.production", &cfg.APNs.Production)

	str("rate_limit.join", &cfg.RateLimit.Join)
	str("log.level", &cfg.Log.Level)
}

// Validate reports settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Identity.Secret == "" {
		return fmt.Errorf("identity.secret is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
