// Package config loads service configuration from the environment.
//
// Values are read with github.com/caarlos0/env; a .env file in the working
// directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// StoreBackend selects where job documents live.
type StoreBackend string

const (
	StoreFirestore StoreBackend = "firestore"
	StoreMemory    StoreBackend = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreBackend.
func (b *StoreBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "firestore", "memory":
		*b = StoreBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreBackend: %q (valid options: firestore, memory)", v)
	}
}

// Secret is a string that never appears in logs or formatted output.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string {
	return string(s)
}

type HTTPConfig struct {
	Addr            string        `env:"API_ADDR"            envDefault:":8080"`
	AllowedOrigin   string        `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"    envDefault:"30s"`
}

type JobsConfig struct {
	// PoolSize is the number of jobs processed concurrently; 0 means NumCPU.
	PoolSize  int `env:"POOL_SIZE"      envDefault:"0"`
	QueueSize int `env:"JOB_QUEUE_SIZE" envDefault:"1024"`
}

type OpenAIConfig struct {
	APIKey      Secret  `env:"API_KEY"`
	BaseURL     string  `env:"BASE_URL"    envDefault:"https://api.openai.com/v1"`
	Model       string  `env:"MODEL"       envDefault:"gpt-4o"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0.7"`
	LogContent  bool    `env:"LOG_CONTENT" envDefault:"false"`
}

type GoogleConfig struct {
	ClientEmail string `env:"CLIENT_EMAIL"`
	PrivateKey  Secret `env:"PRIVATE_KEY"`
	TokenURL    string `env:"TOKEN_URL"   envDefault:"https://oauth2.googleapis.com/token"`
	Scope       string `env:"SCOPE"       envDefault:"https://www.googleapis.com/auth/datastore"`
	// CacheTokens reuses a minted token until shortly before expiry.
	CacheTokens bool `env:"TOKEN_CACHE" envDefault:"false"`
}

type FirestoreConfig struct {
	ProjectID  string `env:"PROJECT_ID"`
	BaseURL    string `env:"BASE_URL"   envDefault:"https://firestore.googleapis.com/v1"`
	Database   string `env:"DATABASE"   envDefault:"(default)"`
	Collection string `env:"COLLECTION" envDefault:"itineraries"`
}

type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password Secret        `env:"PASSWORD"`
	DB       int           `env:"DB"        envDefault:"0"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"1h"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type Config struct {
	LogLevel string       `env:"LOG_LEVEL"     envDefault:"INFO"`
	Store    StoreBackend `env:"STORE_BACKEND" envDefault:"firestore"`

	HTTP      HTTPConfig
	Jobs      JobsConfig
	OpenAI    OpenAIConfig    `envPrefix:"OPENAI_"`
	Google    GoogleConfig    `envPrefix:"GOOGLE_"`
	Firestore FirestoreConfig `envPrefix:"FIRESTORE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	if c.Jobs.PoolSize <= 0 {
		c.Jobs.PoolSize = runtime.NumCPU()
	}
	if c.Jobs.QueueSize <= 0 {
		c.Jobs.QueueSize = 1024
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = time.Hour
	}
}

// Validate reports missing settings required by the selected backends.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Store == StoreFirestore {
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required"))
		}
		if c.Google.ClientEmail == "" {
			errs = append(errs, errors.New("GOOGLE_CLIENT_EMAIL is required"))
		}
		if c.Google.PrivateKey == "" {
			errs = append(errs, errors.New("GOOGLE_PRIVATE_KEY is required"))
		}
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
