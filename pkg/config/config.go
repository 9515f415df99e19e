package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/fpilot/internal/backoff"
)

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Timezone  string `yaml:"timezone"`

	LLM         LLMConfig         `yaml:"llm"`
	Retry       RetryConfig       `yaml:"retry"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`

	// Redis backs the distributed rate limiter and, when persistence.type is
	// redis without its own address, the document store.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// AuthProvider names a pkg/auth validator ("jwks" or "static").
	// AuthConfig is passed to it verbatim; for jwks it is built from the
	// Identity* fields when left empty.
	AuthProvider            string         `yaml:"authProvider"`
	AuthConfig              map[string]any `yaml:"authConfig"`
	IdentityJwksURL         string         `yaml:"identityJwksUrl"`
	IdentityIssuer          string         `yaml:"identityIssuer"`
	IdentityAudience        string         `yaml:"identityAudience"`
	AllowedClockSkewSeconds int            `yaml:"allowedClockSkewSeconds"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`

	WebhookHmacSecret               string `yaml:"webhookHmacSecret"`
	ResultWebhookMaxAttempts        int    `yaml:"resultWebhookMaxAttempts"`
	ResultWebhookBaseBackoffSeconds int    `yaml:"resultWebhookBaseBackoffSeconds"`
	ResultWebhookMaxBackoffSeconds  int    `yaml:"resultWebhookMaxBackoffSeconds"`

	MaxBackgroundRuns        int    `yaml:"maxBackgroundRuns"`
	BackgroundTimeoutSeconds int    `yaml:"backgroundTimeoutSeconds"`
	CompareConcurrency       int    `yaml:"compareConcurrency"`
	LocalArtifactsDir        string `yaml:"localArtifactsDir"`
}

type LLMConfig struct {
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"apiKey"`
	BaseURL         string   `yaml:"baseUrl"`
	TimeoutSeconds  int      `yaml:"timeoutSeconds"`
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"maxOutputTokens"`
	// Static holds the canned responses of the static provider.
	Static map[string]any `yaml:"static"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts"`
	Policy      string `yaml:"policy"`
	BaseSeconds int    `yaml:"baseSeconds"`
	MaxSeconds  int    `yaml:"maxSeconds"`
}

type CacheConfig struct {
	Size       int `yaml:"size"`
	TTLSeconds int `yaml:"ttlSeconds"`
	// Tasks lists cacheable tasks; nil means the defaults, an empty list
	// disables caching.
	Tasks []string `yaml:"tasks"`
}

type PersistenceConfig struct {
	Type              string         `yaml:"type"`
	Config            map[string]any `yaml:"config"`
	RunRetentionHours int            `yaml:"runRetentionHours"`
}

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	// Run limits task execution per caller (sync, async and the composite
	// strategy endpoints).
	Run RateLimitBucketConfig `yaml:"run"`
	// Webhook limits deliveries per destination URL.
	Webhook RateLimitBucketConfig `yaml:"webhook"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

var defaultCacheTasks = []string{"summarizeMarketSentiment", "predictMarketRegime"}

// LoadConfig reads filePath, which must exist.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return load(data)
}

// LoadConfigOptional reads filePath when it names an existing file and falls
// back to environment variables and defaults otherwise.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return load(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return load(nil)
	}
	if err != nil {
		return nil, err
	}
	return load(data)
}

func load(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("FPILOT_ENV", &c.Env)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("TIMEZONE", &c.Timezone)

	envString("LLM_PROVIDER", &c.LLM.Provider)
	envString("LLM_MODEL", &c.LLM.Model)
	envString("LLM_BASE_URL", &c.LLM.BaseURL)
	envInt("LLM_TIMEOUT_SECONDS", &c.LLM.TimeoutSeconds)
	envInt("LLM_MAX_OUTPUT_TOKENS", &c.LLM.MaxOutputTokens)
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = &f
		}
	}
	envString("LLM_API_KEY", &c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "", "gemini":
			envString("GEMINI_API_KEY", &c.LLM.APIKey)
		case "openai":
			envString("OPENAI_API_KEY", &c.LLM.APIKey)
		}
	}

	envInt("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	envString("RETRY_POLICY", &c.Retry.Policy)
	envInt("RETRY_BASE_SECONDS", &c.Retry.BaseSeconds)
	envInt("RETRY_MAX_SECONDS", &c.Retry.MaxSeconds)

	envInt("CACHE_SIZE", &c.Cache.Size)
	envInt("CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)

	envString("PERSISTENCE_TYPE", &c.Persistence.Type)
	envInt("RUN_RETENTION_HOURS", &c.Persistence.RunRetentionHours)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)

	envString("AUTH_PROVIDER", &c.AuthProvider)
	if v := os.Getenv("AUTH_STATIC_TOKEN"); v != "" {
		c.AuthConfig = map[string]any{"token": v}
	}
	envString("IDENTITY_JWKS_URL", &c.IdentityJwksURL)
	envString("IDENTITY_ISSUER", &c.IdentityIssuer)
	envString("IDENTITY_AUDIENCE", &c.IdentityAudience)
	envInt("ALLOWED_CLOCK_SKEW_SECONDS", &c.AllowedClockSkewSeconds)

	envInt("RATE_LIMIT_RUN_RPM", &c.RateLimit.Run.RequestsPerMinute)
	envInt("RATE_LIMIT_RUN_BURST", &c.RateLimit.Run.BurstSize)

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled, _ = strconv.ParseBool(v)
	}
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)

	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("RESULT_WEBHOOK_MAX_ATTEMPTS", &c.ResultWebhookMaxAttempts)
	envInt("RESULT_WEBHOOK_BASE_BACKOFF_SECONDS", &c.ResultWebhookBaseBackoffSeconds)
	envInt("RESULT_WEBHOOK_MAX_BACKOFF_SECONDS", &c.ResultWebhookMaxBackoffSeconds)

	envInt("MAX_BACKGROUND_RUNS", &c.MaxBackgroundRuns)
	envInt("BACKGROUND_TIMEOUT_SECONDS", &c.BackgroundTimeoutSeconds)
	envString("LOCAL_ARTIFACTS_DIR", &c.LocalArtifactsDir)
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Policy == "" {
		c.Retry.Policy = string(backoff.ExpFullJitter)
	}
	if c.Retry.BaseSeconds <= 0 {
		c.Retry.BaseSeconds = 1
	}
	if c.Retry.MaxSeconds <= 0 {
		c.Retry.MaxSeconds = 30
	}

	if c.Cache.Size <= 0 {
		c.Cache.Size = 256
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.Tasks == nil {
		c.Cache.Tasks = append([]string(nil), defaultCacheTasks...)
	}

	if c.Persistence.Type == "" {
		c.Persistence.Type = "memory"
	}
	if c.Persistence.RunRetentionHours <= 0 {
		c.Persistence.RunRetentionHours = 24 * 30
	}

	if c.AuthProvider == "" {
		c.AuthProvider = "jwks"
	}
	if c.AllowedClockSkewSeconds <= 0 {
		c.AllowedClockSkewSeconds = 60
	}
	if c.IdentityAudience == "" {
		c.IdentityAudience = "fpilot"
	}

	if c.RateLimit.Run.RequestsPerMinute == 0 && c.RateLimit.Run.BurstSize == 0 {
		c.RateLimit.Run = RateLimitBucketConfig{RequestsPerMinute: 60, BurstSize: 10}
	}

	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.ResultWebhookMaxAttempts <= 0 {
		c.ResultWebhookMaxAttempts = 5
	}
	if c.ResultWebhookBaseBackoffSeconds <= 0 {
		c.ResultWebhookBaseBackoffSeconds = 2
	}
	if c.ResultWebhookMaxBackoffSeconds <= 0 {
		c.ResultWebhookMaxBackoffSeconds = 60
	}

	if c.MaxBackgroundRuns <= 0 {
		c.MaxBackgroundRuns = 16
	}
	if c.BackgroundTimeoutSeconds <= 0 {
		c.BackgroundTimeoutSeconds = 300
	}
	if c.CompareConcurrency <= 0 {
		c.CompareConcurrency = 4
	}
	if c.LocalArtifactsDir == "" {
		c.LocalArtifactsDir = "/tmp/fpilot-artifacts"
	}
}

func (c *Config) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "dev")
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	dev := c.IsDev()

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logLevel must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is not a known location", c.Timezone))
	}

	switch c.LLM.Provider {
	case "static":
	case "gemini", "openai":
		if strings.TrimSpace(c.LLM.APIKey) == "" && !dev {
			errs = append(errs, "llm.apiKey is required in non-dev for provider "+c.LLM.Provider)
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not one of gemini, openai, static", c.LLM.Provider))
	}
	if c.LLM.BaseURL != "" && !isHTTPURL(c.LLM.BaseURL) {
		errs = append(errs, "llm.baseUrl must be a valid http(s) URL")
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	if !backoff.Policy(c.Retry.Policy).Valid() {
		errs = append(errs, fmt.Sprintf("retry.policy %q is not a known backoff policy", c.Retry.Policy))
	}
	if c.Retry.MaxSeconds < c.Retry.BaseSeconds {
		errs = append(errs, "retry.maxSeconds must be >= retry.baseSeconds")
	}

	switch c.AuthProvider {
	case "jwks":
		if len(c.AuthConfig) == 0 {
			if !isHTTPURL(c.IdentityJwksURL) {
				errs = append(errs, "identityJwksUrl must be a valid http(s) URL")
			}
			if strings.TrimSpace(c.IdentityIssuer) == "" {
				errs = append(errs, "identityIssuer is required")
			}
		}
	case "static":
		if !dev {
			errs = append(errs, "authProvider static is only allowed in dev")
		}
		if len(c.AuthConfig) == 0 {
			errs = append(errs, "authConfig is required for the static provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("authProvider %q is not one of jwks, static", c.AuthProvider))
	}

	if strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
		errs = append(errs, "webhookHmacSecret is required in non-dev")
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.OTLPEndpoint) == "" {
		errs = append(errs, "tracing.otlpEndpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be <= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthProviderConfig returns the raw settings for the configured validator.
func (c *Config) AuthProviderConfig() (json.RawMessage, error) {
	if len(c.AuthConfig) > 0 {
		return json.Marshal(c.AuthConfig)
	}
	if c.AuthProvider != "jwks" {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(map[string]any{
		"jwksUrl":          c.IdentityJwksURL,
		"issuer":           c.IdentityIssuer,
		"audience":         c.IdentityAudience,
		"clockSkewSeconds": c.AllowedClockSkewSeconds,
	})
}

// PersistenceProviderConfig returns the raw store settings. A redis store
// without an address inherits the shared Redis connection settings.
func (c *Config) PersistenceProviderConfig() (json.RawMessage, error) {
	cfg := make(map[string]any, len(c.Persistence.Config)+3)
	for k, v := range c.Persistence.Config {
		cfg[k] = v
	}
	if c.Persistence.Type == "redis" {
		if _, ok := cfg["addr"]; !ok && c.RedisAddr != "" {
			cfg["addr"] = c.RedisAddr
			cfg["password"] = c.RedisPassword
			cfg["db"] = c.RedisDB
		}
	}
	return json.Marshal(cfg)
}

// StaticResponses returns the static provider settings as JSON.
func (c *Config) StaticResponses() (json.RawMessage, error) {
	if len(c.LLM.Static) == 0 {
		return nil, nil
	}
	return json.Marshal(c.LLM.Static)
}

func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.Persistence.RunRetentionHours) * time.Hour
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
