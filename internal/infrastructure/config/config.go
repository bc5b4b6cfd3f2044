package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: EVV_STORAGE__BUCKET sets storage.bucket.
const EnvPrefix = "EVV_"

// DefaultConfigFile is read when present
const DefaultConfigFile = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"required,oneof=development test staging production"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Storage   StorageConfig   `koanf:"storage"`
	Signing   SigningConfig   `koanf:"signing"`
	Packs     PacksConfig     `koanf:"packs"`
	Inspector InspectorConfig `koanf:"inspector"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

type RedisConfig struct {
	URL         string        `koanf:"url"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ProgressTTL time.Duration `koanf:"progress_ttl"`
}

// StorageConfig selects the object store. Keys are always prefixed with Environment.
type StorageConfig struct {
	Provider         string        `koanf:"provider" validate:"oneof=s3 memory"`
	Bucket           string        `koanf:"bucket" validate:"required_if=Provider s3"`
	Region           string        `koanf:"region"`
	Endpoint         string        `koanf:"endpoint"`
	UsePathStyle     bool          `koanf:"use_path_style"`
	// AccessKeyID and SecretAccessKey override the default AWS credential chain
	AccessKeyID      string        `koanf:"access_key_id" validate:"required_with=SecretAccessKey"`
	SecretAccessKey  string        `koanf:"secret_access_key" validate:"required_with=AccessKeyID"`
	PresignGetTTL    time.Duration `koanf:"presign_get_ttl" validate:"gt=0,max=1h"`
	PresignPutTTL    time.Duration `koanf:"presign_put_ttl" validate:"gt=0,max=1h"`
	OperationTimeout time.Duration `koanf:"operation_timeout" validate:"gt=0"`
	UploadPartSize   int64         `koanf:"upload_part_size"`
}

type SigningKeyConfig struct {
	ID        string `koanf:"id" validate:"required"`
	Algorithm string `koanf:"algorithm" validate:"oneof=RSA_PSS_SHA256 ECDSA_SHA256"`
}

type SigningConfig struct {
	Provider     string             `koanf:"provider" validate:"oneof=aws_kms local"`
	Region       string             `koanf:"region"`
	Endpoint     string             `koanf:"endpoint"`
	DefaultKeyID string             `koanf:"default_key_id" validate:"required"`
	Keys         []SigningKeyConfig `koanf:"keys" validate:"min=1,dive"`
	Timeout      time.Duration      `koanf:"timeout" validate:"gt=0"`
}

// Algorithm returns the configured algorithm of keyID
func (c SigningConfig) Algorithm(keyID string) (string, bool) {
	for _, k := range c.Keys {
		if k.ID == keyID {
			return k.Algorithm, true
		}
	}
	return "", false
}

type PacksConfig struct {
	Workers              int           `koanf:"workers" validate:"min=1"`
	QueueSize            int           `koanf:"queue_size" validate:"min=1"`
	GenerationTimeout    time.Duration `koanf:"generation_timeout" validate:"gt=0"`
	StaleGenerationAfter time.Duration `koanf:"stale_generation_after" validate:"gt=0"`
	MaxArtifacts         int           `koanf:"max_artifacts" validate:"min=1"`
}

type InspectorConfig struct {
	DefaultTTLHours   int     `koanf:"default_ttl_hours" validate:"min=1"`
	MaxTTLHours       int     `koanf:"max_ttl_hours" validate:"min=1,gtefield=DefaultTTLHours"`
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"min=1"`
	// Limiter is "redis" to share limits across replicas or "local"
	Limiter           string  `koanf:"limiter" validate:"oneof=local redis"`
	ActivityPageSize  int     `koanf:"activity_page_size" validate:"min=1"`
	// PortalURL is the inspector landing page; grants return it with the token appended
	PortalURL         string  `koanf:"portal_url" validate:"omitempty,url"`
}

type SecurityConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	JWTIssuer   string        `koanf:"jwt_issuer"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
}

type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	SamplingRate   float64 `koanf:"sampling_rate" validate:"min=0,max=1"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
		},
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			ProgressTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Provider:         "memory",
			Region:           "us-east-1",
			PresignGetTTL:    15 * time.Minute,
			PresignPutTTL:    15 * time.Minute,
			OperationTimeout: 30 * time.Second,
			UploadPartSize:   8 * 1024 * 1024,
		},
		Signing: SigningConfig{
			Provider:     "local",
			Region:       "us-east-1",
			DefaultKeyID: "local-ecdsa",
			Keys: []SigningKeyConfig{
				{ID: "local-ecdsa", Algorithm: "ECDSA_SHA256"},
			},
			Timeout: 5 * time.Second,
		},
		Packs: PacksConfig{
			Workers:              4,
			QueueSize:            100,
			GenerationTimeout:    10 * time.Minute,
			StaleGenerationAfter: 30 * time.Minute,
			MaxArtifacts:         5000,
		},
		Inspector: InspectorConfig{
			DefaultTTLHours:   72,
			MaxTTLHours:       24 * 30,
			RequestsPerSecond: 5,
			Burst:             20,
			Limiter:           "redis",
			ActivityPageSize:  200,
			PortalURL:         "http://localhost:8080/inspect/v1/pack",
		},
		Security: SecurityConfig{
			JWTIssuer:   "evidence-vault",
			TokenExpiry: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "evidence-vault",
			SamplingRate: 0.1,
		},
	}
}

// Load reads defaults, the default config file when present, then EVV_ env vars
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus rules that span sections
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, ok := c.Signing.Algorithm(c.Signing.DefaultKeyID); !ok {
		return fmt.Errorf("invalid configuration: default signing key %q is not listed in signing.keys", c.Signing.DefaultKeyID)
	}
	if c.IsProduction() {
		if c.Signing.Provider == "local" {
			return errors.New("invalid configuration: local signing keys are not allowed in production")
		}
		if c.Storage.Provider == "memory" {
			return errors.New("invalid configuration: in-memory storage is not allowed in production")
		}
		if c.Security.JWTSecret == "" {
			return errors.New("invalid configuration: security.jwt_secret is required in production")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultTTL and MaxTTL convert hour settings to durations
func (c InspectorConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLHours) * time.Hour
}

func (c InspectorConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLHours) * time.Hour
}
