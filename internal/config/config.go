package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env, optionally seeded from an env file (see LoadEnvFile).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	NATS    NATSConfig
	Session SessionConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Storage selects backing stores: "postgres" (Postgres + Redis) or
	// "memory" (process memory, not allowed in production).
	Storage string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string

	// AuthToken signs webhook requests and authenticates REST calls.
	AuthToken string

	// MediaStreamURL is the wss:// endpoint Twilio streams call audio to.
	MediaStreamURL string

	// NumberTenants maps a dialed number (E.164) to the owning tenant.
	// Parsed from TWILIO_NUMBER_TENANTS="+15550001=tenant-a,+15550002=tenant-b".
	NumberTenants map[string]string
}

// NATSConfig is optional; an empty URL disables event streaming.
type NATSConfig struct {
	URL          string
	Token        string
	StreamMaxAge time.Duration
}

type SessionConfig struct {
	MaxSilence    time.Duration
	MaxDuration   time.Duration
	SweepInterval time.Duration
	StoreTTL      time.Duration
	LanguageCode  string

	// TenantLiveLimit caps concurrent live sessions per tenant; 0 is unlimited.
	TenantLiveLimit int
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// LoadEnvFile seeds the environment from ENV_FILE (default ".env").
// Variables already set win; a missing file is not an error.
func LoadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() (Config, error) {
	if err := LoadEnvFile(); err != nil {
		return Config{}, err
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.Storage = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND")))
	memory := c.App.Storage == StorageMemory

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if !memory {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n

		n, err = mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.MediaStreamURL = strings.TrimSpace(os.Getenv("TWILIO_MEDIA_STREAM_URL"))
	{
		m, err := parseNumberTenants(os.Getenv("TWILIO_NUMBER_TENANTS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.NumberTenants = m
	}

	c.NATS.URL = strings.TrimSpace(os.Getenv("NATS_URL"))
	c.NATS.Token = os.Getenv("NATS_TOKEN")
	c.NATS.StreamMaxAge = mustDuration("NATS_STREAM_MAX_AGE")

	c.Session.MaxSilence = mustDuration("SESSION_MAX_SILENCE")
	c.Session.MaxDuration = mustDuration("SESSION_MAX_DURATION")
	c.Session.SweepInterval = mustDuration("SESSION_SWEEP_INTERVAL")
	c.Session.StoreTTL = mustDuration("SESSION_STORE_TTL")
	c.Session.LanguageCode = strings.TrimSpace(os.Getenv("SESSION_LANGUAGE_CODE"))
	{
		n, err := optionalInt("SESSION_TENANT_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Session.TenantLiveLimit = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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
	switch c.App.Storage {
	case "":
		c.App.Storage = StoragePostgres
	case StoragePostgres:
	case StorageMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_BACKEND=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of postgres, memory, got %q", c.App.Storage))
	}

	if c.UsesPostgres() {
		errs = append(errs, c.validateDB()...)
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.NATS.URL != "" && c.NATS.StreamMaxAge <= 0 {
		c.NATS.StreamMaxAge = 30 * 24 * time.Hour
	}

	errs = append(errs, c.Session.applyDefaults()...)

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
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
	return errs
}

func (s *SessionConfig) applyDefaults() []error {
	var errs []error
	if s.MaxSilence <= 0 {
		s.MaxSilence = 10 * time.Second
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = 1800 * time.Second
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = 5 * time.Second
	}
	if s.StoreTTL <= 0 {
		s.StoreTTL = 2 * time.Hour
	}
	if s.LanguageCode == "" {
		s.LanguageCode = "ar-EG"
	}
	if s.TenantLiveLimit < 0 {
		errs = append(errs, fmt.Errorf("SESSION_TENANT_LIMIT must be >= 0, got %d", s.TenantLiveLimit))
	}
	if s.StoreTTL < s.MaxDuration {
		errs = append(errs, errors.New("SESSION_STORE_TTL must not be shorter than SESSION_MAX_DURATION"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) UsesPostgres() bool {
	return c.App.Storage != StorageMemory
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
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

func parseNumberTenants(raw string) (map[string]string, error) {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		number, tenant, ok := strings.Cut(strings.TrimSpace(pair), "=")
		number, tenant = strings.TrimSpace(number), strings.TrimSpace(tenant)
		if !ok || number == "" || tenant == "" {
			return nil, fmt.Errorf("TWILIO_NUMBER_TENANTS entry %q must be number=tenant", pair)
		}
		out[number] = tenant
	}
	return out, nil
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
