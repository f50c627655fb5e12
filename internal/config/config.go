// Package config loads service settings from defaults, an optional file and COVERA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. COVERA_AUTH_SECRET.
const EnvPrefix = "COVERA"

// Config is the resolved service configuration.
type Config struct {
	HTTP      HTTP
	GRPC      GRPC
	Database  Database
	Auth      Auth
	Redis     Redis
	Cache     Cache
	RateLimit RateLimit
	Log       Log
	Bootstrap Bootstrap
}

type HTTP struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
}

type GRPC struct {
	Addr string
}

type Database struct {
	DSN string
}

type Auth struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Cache struct {
	TTL time.Duration
}

type RateLimit struct {
	PerSecond float64
	Burst     int
}

type Log struct {
	Level string
}

// Bootstrap seeds a system administrator into the in-memory store when no database is configured.
type Bootstrap struct {
	AdminEmail    string
	AdminPassword string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "covera")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("ratelimit.per_second", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
}

// Load reads configuration. path may be empty, in which case config.yaml is looked up
// in the working directory and /etc/covera; a missing file is not an error.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/covera")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTP{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			AllowedOrigins:  splitList(v.GetStringSlice("http.allowed_origins")),
		},
		GRPC:     GRPC{Addr: v.GetString("grpc.addr")},
		Database: Database{DSN: v.GetString("database.dsn")},
		Auth: Auth{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Cache: Cache{TTL: v.GetDuration("cache.ttl")},
		RateLimit: RateLimit{
			PerSecond: v.GetFloat64("ratelimit.per_second"),
			Burst:     v.GetInt("ratelimit.burst"),
		},
		Log: Log{Level: v.GetString("log.level")},
		Bootstrap: Bootstrap{
			AdminEmail:    v.GetString("bootstrap.admin_email"),
			AdminPassword: v.GetString("bootstrap.admin_password"),
		},
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Auth.Secret) == "" {
		problems = append(problems, "auth.secret is required")
	} else if len(c.Auth.Secret) < 16 {
		problems = append(problems, "auth.secret must be at least 16 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		problems = append(problems, "ratelimit.per_second and ratelimit.burst must be positive")
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		problems = append(problems, "bootstrap.admin_email and bootstrap.admin_password must be set together")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
