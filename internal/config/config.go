package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the agent process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
//
// Offline-first posture: only App and Store are mandatory. The replication
// store (DB) and coordination (Redis) are collaborators that may be absent
// at startup; the agent must boot and capture evidence without them.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Delivery DeliveryConfig
	Sync     SyncConfig
}

type AppConfig struct {
	Env  string
	Port int

	// DeviceID identifies this agent installation. It appears in the
	// device context of every audit event and in drain-claim ownership.
	DeviceID string
}

// StoreConfig controls the local embedded store (BadgerDB).
// The ledger, delivery queue, and sync state snapshots all live here.
type StoreConfig struct {
	// Path is the directory for local store files.
	Path string

	// InMemory disables disk persistence. Tests only.
	InMemory bool
}

// DBConfig points at the remote replication store (Postgres).
// Optional: an empty Host means replication is disabled until configured.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for hosted-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig points at the advisory coordination backend.
// Optional: an empty Host means coordination degrades to no-op and
// correctness relies on item-level idempotence alone.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	// JWTSecret validates session tokens issued by the auth collaborator.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// DeliveryConfig points the webhook channel at its receiver.
// Optional: without an endpoint only the in-app channel is registered.
type DeliveryConfig struct {
	WebhookEndpoint string
	WebhookTimeout  time.Duration
}

// SyncConfig tunes retry/backoff and queue draining.
// Zero values fall back to defaults in Validate().
type SyncConfig struct {
	InitialDelay  time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	JitterFactor  float64
	MaxRetries    int
	DrainInterval time.Duration
	ProbeInterval time.Duration
	ClaimTTL      time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.DeviceID = strings.TrimSpace(os.Getenv("DEVICE_ID"))

	c.Store.Path = strings.TrimSpace(os.Getenv("STORE_PATH"))
	c.Store.InMemory = boolEnv("STORE_IN_MEMORY")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Delivery.WebhookEndpoint = strings.TrimSpace(os.Getenv("WEBHOOK_ENDPOINT"))
	c.Delivery.WebhookTimeout = mustDuration("WEBHOOK_TIMEOUT")

	// Sync tuning env vars are optional; defaults applied in Validate().
	c.Sync.InitialDelay = mustDuration("SYNC_INITIAL_DELAY")
	c.Sync.Multiplier = mustFloat("SYNC_MULTIPLIER")
	c.Sync.MaxDelay = mustDuration("SYNC_MAX_DELAY")
	c.Sync.JitterFactor = mustFloat("SYNC_JITTER_FACTOR")
	c.Sync.MaxRetries = intEnv("SYNC_MAX_RETRIES")
	c.Sync.DrainInterval = mustDuration("QUEUE_DRAIN_INTERVAL")
	c.Sync.ProbeInterval = mustDuration("CONNECTIVITY_PROBE_INTERVAL")
	c.Sync.ClaimTTL = mustDuration("DRAIN_CLAIM_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.DeviceID == "" {
		errs = append(errs, errors.New("DEVICE_ID is required"))
	}

	if !c.Store.InMemory && c.Store.Path == "" {
		errs = append(errs, errors.New("STORE_PATH is required unless STORE_IN_MEMORY=true"))
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}

	// Retry tuning defaults. Retries are never unbounded.
	if c.Sync.InitialDelay <= 0 {
		c.Sync.InitialDelay = 2 * time.Second
	}
	if c.Sync.Multiplier < 1 {
		c.Sync.Multiplier = 2
	}
	if c.Sync.MaxDelay <= 0 {
		c.Sync.MaxDelay = 5 * time.Minute
	}
	if c.Sync.JitterFactor < 0 || c.Sync.JitterFactor >= 1 {
		c.Sync.JitterFactor = 0.2
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.DrainInterval <= 0 {
		c.Sync.DrainInterval = 30 * time.Second
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = 15 * time.Second
	}
	if c.Sync.ClaimTTL <= 0 {
		c.Sync.ClaimTTL = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// ReplicationEnabled reports whether a remote replication store is configured.
func (c Config) ReplicationEnabled() bool {
	return c.DB.Host != ""
}

// CoordinationEnabled reports whether cross-context coordination is configured.
func (c Config) CoordinationEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func intEnv(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func boolEnv(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return v == "true" || v == "1"
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func mustFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
