// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	Token         TokenConfig
	MFA           MFAConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Mode selects the planes served: auth, admin or all.
	Mode string
	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP decide the
	// client address. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnectAttempts uint
}

// RedisConfig selects the shared cache. An empty Addr keeps the cache
// in process, which is valid for a single instance only.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// KafkaConfig selects the notification publisher. Without brokers,
// notifications are only logged.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	PublishTimeout time.Duration
	MaxInFlight    int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	SamplingRate   float64
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory       uint32
	Argon2Iterations   uint32
	Argon2Parallelism  uint8
	Argon2SaltLength   uint32
	Argon2KeyLength    uint32
	LockoutMaxAttempts int
	LockoutDuration    time.Duration
}

// TokenConfig holds signing secrets and lifetimes
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	PurgeInterval time.Duration
}

// MFAConfig holds TOTP enrollment settings
type MFAConfig struct {
	Issuer string
	// MaxFailures codes may be tried per FailureWindow before a code is
	// accepted.
	MaxFailures   int
	FailureWindow time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// TenantQuota is the number of requests a tenant may make per
	// TenantWindow across all instances. Zero disables it.
	TenantQuota  int
	TenantWindow time.Duration
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string
}

var defaults = map[string]any{
	"SERVER_HOST":             "0.0.0.0",
	"SERVER_PORT":             "8080",
	"SERVER_READ_TIMEOUT":     "15s",
	"SERVER_WRITE_TIMEOUT":    "15s",
	"SERVER_IDLE_TIMEOUT":     "60s",
	"SERVER_SHUTDOWN_TIMEOUT": "30s",
	"SERVER_TRUST_PROXY":      false,
	"SERVER_MODE":             "all",
	"DB_HOST":                 "localhost",
	"DB_PORT":                 "5432",
	"DB_USER":                 "tenantcore",
	"DB_PASSWORD":             "",
	"DB_NAME":                 "tenantcore",
	"DB_SSLMODE":              "disable",
	"DB_MAX_OPEN_CONNS":       25,
	"DB_MAX_IDLE_CONNS":       5,
	"DB_CONNECT_ATTEMPTS":     5,
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"REDIS_PREFIX":            "tenantcore:",
	"KAFKA_BROKERS":           "",
	"KAFKA_TOPIC":             "tenantcore.notifications",
	"NOTIFY_PUBLISH_TIMEOUT":  "5s",
	"NOTIFY_MAX_IN_FLIGHT":    256,
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"OTEL_ENABLED":            false,
	"OTEL_SAMPLING_RATE":      1.0,
	"OTEL_SERVICE_NAME":       "tenantcore",
	"OTEL_SERVICE_VERSION":    "0.1.0",
	"ARGON2_MEMORY":           65536,
	"ARGON2_ITERATIONS":       3,
	"ARGON2_PARALLELISM":      4,
	"ARGON2_SALT_LENGTH":      16,
	"ARGON2_KEY_LENGTH":       32,
	"LOCKOUT_MAX_ATTEMPTS":    5,
	"LOCKOUT_DURATION":        "15m",
	"JWT_ACCESS_SECRET":       "",
	"JWT_REFRESH_SECRET":      "",
	"JWT_ISSUER":              "tenantcore",
	"JWT_ACCESS_TTL":          "1h",
	"JWT_REFRESH_TTL":         "168h",
	"TOKEN_PURGE_INTERVAL":    "1h",
	"MFA_ISSUER":              "tenantcore",
	"MFA_MAX_FAILURES":        5,
	"MFA_FAILURE_WINDOW":      "15m",
	"RATELIMIT_RPS":           10,
	"RATELIMIT_BURST":         20,
	"RATELIMIT_TENANT_QUOTA":  0,
	"RATELIMIT_TENANT_WINDOW": "1m",
	"CORS_ALLOWED_ORIGINS":    "",
}

// Load reads configuration from an optional .env file in the working
// directory, overridden by the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is not an
// error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:              v.GetString("SERVER_HOST"),
			Port:              v.GetString("SERVER_PORT"),
			ReadTimeout:       v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:      v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:       v.GetDuration("SERVER_IDLE_TIMEOUT"),
			ShutdownTimeout:   v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			Mode:              strings.ToLower(v.GetString("SERVER_MODE")),
			TrustProxyHeaders: v.GetBool("SERVER_TRUST_PROXY"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnectAttempts: v.GetUint("DB_CONNECT_ATTEMPTS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(v.GetString("KAFKA_BROKERS")),
			Topic:          v.GetString("KAFKA_TOPIC"),
			PublishTimeout: v.GetDuration("NOTIFY_PUBLISH_TIMEOUT"),
			MaxInFlight:    v.GetInt("NOTIFY_MAX_IN_FLIGHT"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       v.GetString("LOG_LEVEL"),
			LogFormat:      v.GetString("LOG_FORMAT"),
			OTELEnabled:    v.GetBool("OTEL_ENABLED"),
			SamplingRate:   v.GetFloat64("OTEL_SAMPLING_RATE"),
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
		},
		Security: SecurityConfig{
			Argon2Memory:       v.GetUint32("ARGON2_MEMORY"),
			Argon2Iterations:   v.GetUint32("ARGON2_ITERATIONS"),
			Argon2Parallelism:  uint8(v.GetUint("ARGON2_PARALLELISM")),
			Argon2SaltLength:   v.GetUint32("ARGON2_SALT_LENGTH"),
			Argon2KeyLength:    v.GetUint32("ARGON2_KEY_LENGTH"),
			LockoutMaxAttempts: v.GetInt("LOCKOUT_MAX_ATTEMPTS"),
			LockoutDuration:    v.GetDuration("LOCKOUT_DURATION"),
		},
		Token: TokenConfig{
			AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
			RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
			Issuer:        v.GetString("JWT_ISSUER"),
			AccessTTL:     v.GetDuration("JWT_ACCESS_TTL"),
			RefreshTTL:    v.GetDuration("JWT_REFRESH_TTL"),
			PurgeInterval: v.GetDuration("TOKEN_PURGE_INTERVAL"),
		},
		MFA: MFAConfig{
			Issuer:        v.GetString("MFA_ISSUER"),
			MaxFailures:   v.GetInt("MFA_MAX_FAILURES"),
			FailureWindow: v.GetDuration("MFA_FAILURE_WINDOW"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATELIMIT_RPS"),
			Burst:             v.GetInt("RATELIMIT_BURST"),
			TenantQuota:       v.GetInt("RATELIMIT_TENANT_QUOTA"),
			TenantWindow:      v.GetDuration("RATELIMIT_TENANT_WINDOW"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "auth", "admin", "all":
	default:
		return fmt.Errorf("SERVER_MODE must be auth, admin or all, got %q", c.Server.Mode)
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if len(c.Token.AccessSecret) < minSecretLength {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least %d bytes", minSecretLength)
	}
	if len(c.Token.RefreshSecret) < minSecretLength {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.Token.AccessSecret == c.Token.RefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.Security.LockoutMaxAttempts <= 0 || c.Security.LockoutDuration <= 0 {
		return fmt.Errorf("lockout attempts and duration must be positive")
	}
	if c.MFA.MaxFailures <= 0 || c.MFA.FailureWindow <= 0 {
		return fmt.Errorf("MFA_MAX_FAILURES and MFA_FAILURE_WINDOW must be positive")
	}
	if c.RateLimit.TenantQuota < 0 {
		return fmt.Errorf("RATELIMIT_TENANT_QUOTA must not be negative")
	}
	if c.RateLimit.TenantQuota > 0 && c.RateLimit.TenantWindow <= 0 {
		return fmt.Errorf("RATELIMIT_TENANT_WINDOW must be positive when a tenant quota is set")
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c ServerConfig) ListenAddr() string {
	return c.Host + ":" + c.Port
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
