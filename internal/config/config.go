package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const appName = "betterme"

// Config is the fully resolved application configuration.
type Config struct {
	Supabase  SupabaseConfig  `mapstructure:"supabase"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Output    OutputConfig    `mapstructure:"output"`
}

type SupabaseConfig struct {
	URL        string        `mapstructure:"url"`
	AnonKey    string        `mapstructure:"anon_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
}

type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	ModerationModel string        `mapstructure:"moderation_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// CacheConfig selects the local cache backend and per-resource ttls.
type CacheConfig struct {
	Backend string    `mapstructure:"backend"` // sqlite, redis, memory
	Path    string    `mapstructure:"path"`
	Prefix  string    `mapstructure:"prefix"`
	TTL     TTLConfig `mapstructure:"ttl"`
}

type TTLConfig struct {
	Posts         time.Duration `mapstructure:"posts"`
	Connections   time.Duration `mapstructure:"connections"`
	Analyses      time.Duration `mapstructure:"analyses"`
	Profiles      time.Duration `mapstructure:"profiles"`
	Notifications time.Duration `mapstructure:"notifications"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	ItemTTL  time.Duration `mapstructure:"item_ttl"`
}

type RankingConfig struct {
	Weights WeightsConfig `mapstructure:"weights"`
	// PageSize is how many posts are fetched before ranking.
	PageSize int `mapstructure:"page_size"`
}

type WeightsConfig struct {
	Reaction     float64 `mapstructure:"reaction"`
	Comment      float64 `mapstructure:"comment"`
	RecencyHours float64 `mapstructure:"recency_hours"`
	Connection   float64 `mapstructure:"connection"`
	Analysis     float64 `mapstructure:"analysis"`
	BeforeAfter  float64 `mapstructure:"before_after"`
	Content      float64 `mapstructure:"content"`
}

type RealtimeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectMin      time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
}

type SessionConfig struct {
	CredentialsFile  string        `mapstructure:"credentials_file"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
}

type StorageConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RefreshEvery   time.Duration `mapstructure:"refresh_every"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional config file, a .env
// file in the working directory and the environment, in increasing order of
// precedence. An empty path looks for config.toml under the XDG config dir.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BETTERME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by the hosted project settings.
	_ = v.BindEnv("supabase.url", "BETTERME_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("supabase.anon_key", "BETTERME_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY")
	_ = v.BindEnv("gemini.api_key", "BETTERME_GEMINI_API_KEY", "GEMINI_API_KEY")

	if path == "" {
		path = filepath.Join(xdg.ConfigHome, appName, "config.toml")
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Supabase.URL = strings.TrimRight(cfg.Supabase.URL, "/")
	if cfg.Realtime.URL == "" && cfg.Supabase.URL != "" {
		cfg.Realtime.URL = RealtimeURL(cfg.Supabase.URL)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supabase.timeout", 30*time.Second)
	v.SetDefault("supabase.retry_count", 3)
	v.SetDefault("supabase.retry_wait", time.Second)

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.moderation_model", "gemini-1.5-pro")
	v.SetDefault("gemini.timeout", 60*time.Second)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.path", filepath.Join(xdg.CacheHome, appName, "cache.db"))
	v.SetDefault("cache.prefix", "prefetched_")
	v.SetDefault("cache.ttl.posts", 30*time.Second)
	v.SetDefault("cache.ttl.connections", 30*time.Second)
	v.SetDefault("cache.ttl.analyses", 5*time.Minute)
	v.SetDefault("cache.ttl.profiles", 5*time.Minute)
	v.SetDefault("cache.ttl.notifications", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.item_ttl", time.Duration(0))

	v.SetDefault("ranking.page_size", 50)
	v.SetDefault("ranking.weights.reaction", 10.0)
	v.SetDefault("ranking.weights.comment", 15.0)
	v.SetDefault("ranking.weights.recency_hours", 100.0)
	v.SetDefault("ranking.weights.connection", 50.0)
	v.SetDefault("ranking.weights.analysis", 20.0)
	v.SetDefault("ranking.weights.before_after", 30.0)
	v.SetDefault("ranking.weights.content", 10.0)

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.reconnect_min", 2*time.Second)
	v.SetDefault("realtime.reconnect_max", 30*time.Second)

	v.SetDefault("session.credentials_file", filepath.Join(xdg.StateHome, appName, "credentials.json"))
	v.SetDefault("session.refresh_threshold", 5*time.Minute)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "analysis-photos")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(xdg.StateHome, appName, "betterme.log"))

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.refresh_every", 30*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("output.format", "text")
}

// RealtimeURL derives the realtime websocket endpoint from a project URL.
func RealtimeURL(projectURL string) string {
	u := strings.TrimRight(projectURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket"
}

// Validate checks the settings every networked command needs.
func (c *Config) Validate() error {
	var missing []string
	if c.Supabase.URL == "" {
		missing = append(missing, "supabase.url (SUPABASE_URL)")
	}
	if c.Supabase.AnonKey == "" {
		missing = append(missing, "supabase.anon_key (SUPABASE_ANON_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.Cache.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Output.Format {
	case "text", "table", "json":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	return nil
}
