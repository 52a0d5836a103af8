// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all runtime settings for the link capture service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Tags      TagsConfig      `mapstructure:"tags"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig names the service in trace resources.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// AuthConfig holds the shared API key and session cookie settings.
type AuthConfig struct {
	APIKey              string `mapstructure:"api_key"`
	CookieName          string `mapstructure:"cookie_name"`
	CookieMaxAgeSeconds int    `mapstructure:"cookie_max_age_seconds"`
	SecureCookie        bool   `mapstructure:"secure_cookie"`
}

// RateClassConfig is one inbound quota.
type RateClassConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	Max           int `mapstructure:"max"`
}

// RateLimitConfig holds the inbound quota classes.
type RateLimitConfig struct {
	Auth   RateClassConfig `mapstructure:"auth"`
	Fetch  RateClassConfig `mapstructure:"fetch"`
	Create RateClassConfig `mapstructure:"create"`
}

// FetchConfig bounds outbound fetches.
type FetchConfig struct {
	UserAgent           string  `mapstructure:"user_agent"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	ImageTimeoutSeconds int     `mapstructure:"image_timeout_seconds"`
	MaxPageBytes        int64   `mapstructure:"max_page_bytes"`
	MaxImageBytes       int64   `mapstructure:"max_image_bytes"`
	MaxRedirects        int     `mapstructure:"max_redirects"`
	ResolveIPs          bool    `mapstructure:"resolve_ips"`
	HostRPS             float64 `mapstructure:"host_rps"`
	HostBurst           int     `mapstructure:"host_burst"`
}

// ExtractConfig tunes metadata extraction.
type ExtractConfig struct {
	Parser           string `mapstructure:"parser"`
	MaxImages        int    `mapstructure:"max_images"`
	DescriptionLimit int    `mapstructure:"description_limit"`
}

// HeadlessConfig controls the Chrome renderer.
type HeadlessConfig struct {
	Enabled           bool  `mapstructure:"enabled"`
	MaxParallel       int   `mapstructure:"max_parallel"`
	NavTimeoutSec     int   `mapstructure:"nav_timeout_seconds"`
	PromotionThresh   int   `mapstructure:"promotion_threshold"`
	ScreenshotWidth   int64 `mapstructure:"screenshot_width"`
	ScreenshotHeight  int64 `mapstructure:"screenshot_height"`
	ScreenshotQuality int64 `mapstructure:"screenshot_quality"`
}

// StoreConfig selects and addresses the content repository.
type StoreConfig struct {
	Backend              string `mapstructure:"backend"`
	APIBaseURL           string `mapstructure:"api_base_url"`
	Repository           string `mapstructure:"repository"`
	Token                string `mapstructure:"token"`
	ContentDir           string `mapstructure:"content_dir"`
	ImageDir             string `mapstructure:"image_dir"`
	ImagePublicPrefix    string `mapstructure:"image_public_prefix"`
	SlugLength           int    `mapstructure:"slug_length"`
	CommitTimeoutSeconds int    `mapstructure:"commit_timeout_seconds"`
	BlobParallelism      int    `mapstructure:"blob_parallelism"`
}

// ArchiveConfig selects where fetched page snapshots are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// LedgerConfig addresses the Postgres capture ledger.
type LedgerConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// NotifyConfig addresses the Pub/Sub topic for publish events.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TagsConfig holds the Anthropic settings used for tag suggestions.
type TagsConfig struct {
	APIKey     string   `mapstructure:"api_key"`
	BaseURL    string   `mapstructure:"base_url"`
	Model      string   `mapstructure:"model"`
	MaxTokens  int64    `mapstructure:"max_tokens"`
	Vocabulary []string `mapstructure:"vocabulary"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "linkcapture")
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.cookie_name", "links_auth")
	v.SetDefault("auth.cookie_max_age_seconds", 7*24*60*60)
	v.SetDefault("auth.secure_cookie", true)
	v.SetDefault("ratelimit.auth.window_seconds", 60)
	v.SetDefault("ratelimit.auth.max", 5)
	v.SetDefault("ratelimit.fetch.window_seconds", 60)
	v.SetDefault("ratelimit.fetch.max", 10)
	v.SetDefault("ratelimit.create.window_seconds", 60)
	v.SetDefault("ratelimit.create.max", 5)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; LinkPreview/1.0)")
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.image_timeout_seconds", 10)
	v.SetDefault("fetch.max_page_bytes", 5<<20)
	v.SetDefault("fetch.max_image_bytes", 5<<20)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.resolve_ips", true)
	v.SetDefault("fetch.host_rps", 2.0)
	v.SetDefault("fetch.host_burst", 4)
	v.SetDefault("extract.parser", "lenient")
	v.SetDefault("extract.max_images", 12)
	v.SetDefault("extract.description_limit", 300)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.screenshot_width", 1200)
	v.SetDefault("headless.screenshot_height", 630)
	v.SetDefault("headless.screenshot_quality", 85)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.api_base_url", "https://api.github.com")
	v.SetDefault("store.repository", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.content_dir", "apps/web/content/links")
	v.SetDefault("store.image_dir", "apps/web/public/images/links")
	v.SetDefault("store.image_public_prefix", "/images/links")
	v.SetDefault("store.slug_length", 50)
	v.SetDefault("store.commit_timeout_seconds", 30)
	v.SetDefault("store.blob_parallelism", 4)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "link_captures")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("ledger.min_conns", 0)
	v.SetDefault("ledger.max_conn_lifetime_seconds", 1800)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("tags.api_key", "")
	v.SetDefault("tags.base_url", "")
	v.SetDefault("tags.model", "claude-sonnet-4-20250514")
	v.SetDefault("tags.max_tokens", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxPageBytes <= 0 || c.Fetch.MaxImageBytes <= 0 {
		return fmt.Errorf("fetch.max_page_bytes and fetch.max_image_bytes must be > 0")
	}
	for name, class := range map[string]RateClassConfig{
		"auth":   c.RateLimit.Auth,
		"fetch":  c.RateLimit.Fetch,
		"create": c.RateLimit.Create,
	} {
		if class.WindowSeconds <= 0 || class.Max <= 0 {
			return fmt.Errorf("ratelimit.%s window_seconds and max must be > 0", name)
		}
	}
	switch c.Extract.Parser {
	case "", "lenient", "strict":
	default:
		return fmt.Errorf("extract.parser must be lenient or strict, got %q", c.Extract.Parser)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Store.Backend {
	case "memory":
	case "github":
		if c.Store.Repository == "" || c.Store.Token == "" {
			return fmt.Errorf("store.repository and store.token must be set for the github backend")
		}
	default:
		return fmt.Errorf("store.backend must be github or memory, got %q", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local or gcs, got %q", c.Archive.Backend)
	}
	if (c.Notify.ProjectID == "") != (c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set together")
	}
	return nil
}

// RequestTimeout bounds one inbound request.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds, 60)
}

// CookieMaxAge is the lifetime of the session cookie.
func (c Config) CookieMaxAge() time.Duration {
	return seconds(c.Auth.CookieMaxAgeSeconds, 7*24*60*60)
}

// FetchTimeout bounds one page fetch.
func (c Config) FetchTimeout() time.Duration {
	return seconds(c.Fetch.TimeoutSeconds, 10)
}

// ImageTimeout bounds one image fetch.
func (c Config) ImageTimeout() time.Duration {
	return seconds(c.Fetch.ImageTimeoutSeconds, 10)
}

// NavTimeout bounds one headless navigation.
func (c Config) NavTimeout() time.Duration {
	return seconds(c.Headless.NavTimeoutSec, 25)
}

// CommitTimeout bounds one run of the commit pipeline.
func (c Config) CommitTimeout() time.Duration {
	return seconds(c.Store.CommitTimeoutSeconds, 30)
}

// Window converts a quota class into its window length.
func (r RateClassConfig) Window() time.Duration {
	return seconds(r.WindowSeconds, 60)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
