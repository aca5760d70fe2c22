package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an .env file in local/dev).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Identity IdentityConfig
	CallAPI  CallAPIConfig
	Stats    StatsConfig
	Session  SessionConfig
	Agents   AgentsConfig
}

type AppConfig struct {
	Env       string
	Port      int
	PublicURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// EnforceRLS runs membership queries as the "authenticated" role with the
	// caller's JWT claims, so row-level policies apply exactly as they do for
	// the browser client.
	EnforceRLS bool
}

type RedisConfig struct {
	Host string
	Port int
}

// IdentityConfig points at the hosted auth service.
type IdentityConfig struct {
	URL         string
	AnonKey     string
	JWTSecret   string
	JWTAudience string
	// MaxRetries bounds retries of 429/5xx/network failures per call.
	MaxRetries int
}

type CallAPIConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type StatsConfig struct {
	// FetchLimit is the upper bound of call records pulled per aggregation.
	FetchLimit int
	Timezone   string
}

type SessionConfig struct {
	InitTimeout  time.Duration
	IdleTTL      time.Duration
	CookieSecure bool
}

type AgentsConfig struct {
	ReconcileSchedule string
}

func Load() (Config, error) {
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" || env == "local" || env == "dev" {
		// Missing file is fine; real env always wins over .env values.
		_ = godotenv.Load()
		env = strings.TrimSpace(os.Getenv("APP_ENV"))
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = env
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimSpace(os.Getenv("APP_PUBLIC_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		b, err := optionalBool("DB_ENFORCE_RLS")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.DB.EnforceRLS = b
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Identity.URL = strings.TrimRight(strings.TrimSpace(os.Getenv("IDENTITY_URL")), "/")
	c.Identity.AnonKey = os.Getenv("IDENTITY_ANON_KEY")
	c.Identity.JWTSecret = os.Getenv("IDENTITY_JWT_SECRET")
	c.Identity.JWTAudience = strings.TrimSpace(os.Getenv("IDENTITY_JWT_AUDIENCE"))
	{
		n, err := optionalInt("IDENTITY_MAX_RETRIES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Identity.MaxRetries = n
	}

	c.CallAPI.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CALLAPI_BASE_URL")), "/")
	c.CallAPI.APIKey = os.Getenv("CALLAPI_KEY")
	c.CallAPI.Timeout = mustDuration("CALLAPI_TIMEOUT")
	{
		n, err := optionalInt("CALLAPI_MAX_RETRIES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.CallAPI.MaxRetries = n
	}

	{
		n, err := optionalInt("CALLS_FETCH_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Stats.FetchLimit = n
	}
	c.Stats.Timezone = strings.TrimSpace(os.Getenv("STATS_TIMEZONE"))

	c.Session.InitTimeout = mustDuration("SESSION_INIT_TIMEOUT")
	c.Session.IdleTTL = mustDuration("SESSION_IDLE_TTL")
	{
		b, err := optionalBool("SESSION_COOKIE_SECURE")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Session.CookieSecure = b
	}

	c.Agents.ReconcileSchedule = strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE"))

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
	if c.App.PublicURL == "" {
		c.App.PublicURL = "http://localhost:3000"
	}

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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Identity.URL == "" {
		errs = append(errs, errors.New("IDENTITY_URL is required"))
	}
	if c.Identity.AnonKey == "" {
		errs = append(errs, errors.New("IDENTITY_ANON_KEY is required"))
	}
	if c.Identity.JWTSecret == "" {
		errs = append(errs, errors.New("IDENTITY_JWT_SECRET is required"))
	}
	if c.Identity.JWTAudience == "" {
		c.Identity.JWTAudience = "authenticated"
	}
	if c.Identity.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("IDENTITY_MAX_RETRIES must be >= 0, got %d", c.Identity.MaxRetries))
	} else if c.Identity.MaxRetries == 0 {
		c.Identity.MaxRetries = 2
	}

	if c.CallAPI.BaseURL == "" {
		c.CallAPI.BaseURL = "https://api.vapi.ai"
	}
	if c.CallAPI.APIKey == "" {
		errs = append(errs, errors.New("CALLAPI_KEY is required"))
	}
	if c.CallAPI.Timeout <= 0 {
		c.CallAPI.Timeout = 15 * time.Second
	}
	if c.CallAPI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("CALLAPI_MAX_RETRIES must be >= 0, got %d", c.CallAPI.MaxRetries))
	} else if c.CallAPI.MaxRetries == 0 {
		c.CallAPI.MaxRetries = 3
	}

	if c.Stats.FetchLimit < 0 {
		errs = append(errs, fmt.Errorf("CALLS_FETCH_LIMIT must be > 0, got %d", c.Stats.FetchLimit))
	} else if c.Stats.FetchLimit == 0 {
		c.Stats.FetchLimit = 100
	}
	if c.Stats.Timezone == "" {
		c.Stats.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("STATS_TIMEZONE is not a valid zone: %q", c.Stats.Timezone))
	}

	if c.Session.InitTimeout <= 0 {
		c.Session.InitTimeout = 1500 * time.Millisecond
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = 30 * time.Minute
	}
	if c.IsProduction() {
		c.Session.CookieSecure = true
	}

	if c.Agents.ReconcileSchedule == "" {
		c.Agents.ReconcileSchedule = "*/5 * * * *"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

// StatsLocation returns the zone used for day buckets. Validate guarantees it loads.
func (c Config) StatsLocation() *time.Location {
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
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
