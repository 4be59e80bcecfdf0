// Package config loads service configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join("config", "needful.yaml")

// Config is the full service configuration.
type Config struct {
	Env       string          `yaml:"env" env:"NEEDFUL_ENV"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Supabase  SupabaseConfig  `yaml:"supabase" envPrefix:"SUPABASE_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	LLM       LLMConfig       `yaml:"llm" envPrefix:"LLM_"`
	RateLimit RateLimitConfig `yaml:"ratelimit" envPrefix:"RATE_LIMIT_"`
	Stories   StoriesConfig   `yaml:"stories" envPrefix:"STORIES_"`
	Uploads   UploadsConfig   `yaml:"uploads" envPrefix:"UPLOADS_"`
	Jobs      JobsConfig      `yaml:"jobs" envPrefix:"JOBS_"`
	Admin     AdminConfig     `yaml:"admin" envPrefix:"ADMIN_"`
	Analytics AnalyticsConfig `yaml:"analytics" envPrefix:"ANALYTICS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type SupabaseConfig struct {
	URL           string        `yaml:"url" env:"URL"`
	ServiceKey    string        `yaml:"service_key" env:"SERVICE_KEY"`
	AnonKey       string        `yaml:"anon_key" env:"ANON_KEY"`
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	ImagesBucket  string        `yaml:"images_bucket" env:"IMAGES_BUCKET"`
	StoriesBucket string        `yaml:"stories_bucket" env:"STORIES_BUCKET"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Realtime      bool          `yaml:"realtime" env:"REALTIME"`
}

// DatabaseConfig is the optional direct Postgres connection used for
// aggregate queries and migrations.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type CacheConfig struct {
	CategoriesTTL time.Duration `yaml:"categories_ttl" env:"CATEGORIES_TTL"`
	FeaturedTTL   time.Duration `yaml:"featured_ttl" env:"FEATURED_TTL"`
	StatsTTL      time.Duration `yaml:"stats_ttl" env:"STATS_TTL"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"` // openai or gemini
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffStep time.Duration `yaml:"backoff_step" env:"BACKOFF_STEP"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxHistory  int           `yaml:"max_history" env:"MAX_HISTORY"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	RPS     float64 `yaml:"rps" env:"RPS"`
	Burst   int     `yaml:"burst" env:"BURST"`
}

type StoriesConfig struct {
	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	DefaultRadiusKm float64       `yaml:"default_radius_km" env:"DEFAULT_RADIUS_KM"`
	MaxRadiusKm     float64       `yaml:"max_radius_km" env:"MAX_RADIUS_KM"`
}

type UploadsConfig struct {
	MaxImageBytes int64 `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"`
	MaxStoryBytes int64 `yaml:"max_story_bytes" env:"MAX_STORY_BYTES"`
}

// JobsConfig holds cron specs. An empty spec disables the job.
type JobsConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	PurgeStories   string `yaml:"purge_stories" env:"PURGE_STORIES"`
	PruneAnalytics string `yaml:"prune_analytics" env:"PRUNE_ANALYTICS"`
	WarmCache      string `yaml:"warm_cache" env:"WARM_CACHE"`
}

// AdminConfig lists user IDs granted admin rights regardless of their
// stored role.
type AdminConfig struct {
	UserIDs      []string `yaml:"user_ids" env:"USER_IDS" envSeparator:","`
	SuperUserIDs []string `yaml:"super_user_ids" env:"SUPER_USER_IDS" envSeparator:","`
}

type AnalyticsConfig struct {
	RetentionDays int `yaml:"retention_days" env:"RETENTION_DAYS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Supabase: SupabaseConfig{
			ImagesBucket:  "provider-images",
			StoriesBucket: "business-stories",
			Timeout:       30 * time.Second,
			Realtime:      true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			CategoriesTTL: 10 * time.Minute,
			FeaturedTTL:   5 * time.Minute,
			StatsTTL:      time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxAttempts: 3,
			BackoffStep: time.Second,
			Timeout:     60 * time.Second,
			MaxHistory:  10,
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 10, Burst: 20},
		Stories: StoriesConfig{
			TTL:             24 * time.Hour,
			DefaultRadiusKm: 10,
			MaxRadiusKm:     100,
		},
		Uploads: UploadsConfig{
			MaxImageBytes: 5 << 20,
			MaxStoryBytes: 20 << 20,
		},
		Jobs: JobsConfig{
			Enabled:        true,
			PurgeStories:   "@every 15m",
			PruneAnalytics: "0 3 * * *",
			WarmCache:      "@every 10m",
		},
		Analytics: AnalyticsConfig{RetentionDays: 180},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (DefaultPath when empty), falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Supabase.URL = strings.TrimSuffix(strings.TrimSpace(c.Supabase.URL), "/")
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Admin.UserIDs = trimAll(c.Admin.UserIDs)
	c.Admin.SuperUserIDs = trimAll(c.Admin.SuperUserIDs)
	c.Server.CORSOrigins = trimAll(c.Server.CORSOrigins)
	if c.LLM.MaxAttempts < 1 {
		c.LLM.MaxAttempts = 1
	}
	if c.Stories.MaxRadiusKm > 0 && c.Stories.DefaultRadiusKm > c.Stories.MaxRadiusKm {
		c.Stories.DefaultRadiusKm = c.Stories.MaxRadiusKm
	}
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Supabase.URL == "" {
		errs = append(errs, errors.New("supabase.url is required"))
	}
	if c.Supabase.ServiceKey == "" {
		errs = append(errs, errors.New("supabase.service_key is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.LLM.Provider {
	case "", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.Stories.DefaultRadiusKm <= 0 {
		errs = append(errs, errors.New("stories.default_radius_km must be positive"))
	}
	if c.Stories.TTL <= 0 {
		errs = append(errs, errors.New("stories.ttl must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("ratelimit.rps must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// LLMEnabled reports whether an AI chat provider is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
