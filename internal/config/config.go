// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Docstore  DocstoreConfig  `mapstructure:"docstore"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Files     FilesConfig     `mapstructure:"files"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	Events    EventsConfig    `mapstructure:"events"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AuthConfig defines JWT issuance and the static user list.
type AuthConfig struct {
	JWTSecret       string       `mapstructure:"jwt_secret"`
	TokenTTLMinutes int          `mapstructure:"token_ttl_minutes"`
	Issuer          string       `mapstructure:"issuer"`
	Users           []UserConfig `mapstructure:"users"`
}

// UserConfig names one login identity. PasswordHash is a bcrypt hash; the
// plaintext password never appears in configuration.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

// TokenTTL converts the configured minutes into a duration.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// BroadcastConfig bounds inbound post requests.
type BroadcastConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
}

// DocstoreConfig selects and configures the document store provider.
type DocstoreConfig struct {
	Provider string         `mapstructure:"provider"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig controls the embedded sqlite document store.
type SQLiteConfig struct {
	Path     string `mapstructure:"path"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PostgresConfig controls access to a Postgres document store.
type PostgresConfig struct {
	DSN                 string `mapstructure:"dsn"`
	Table               string `mapstructure:"table"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMins int    `mapstructure:"max_conn_lifetime_minutes"`
}

// MaxConnLifetime converts the configured minutes into a duration.
func (c PostgresConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMins) * time.Minute
}

// BlobConfig selects and configures blob persistence for uploaded files.
type BlobConfig struct {
	Provider string          `mapstructure:"provider"`
	Local    LocalBlobConfig `mapstructure:"local"`
	GCS      GCSBlobConfig   `mapstructure:"gcs"`
}

// LocalBlobConfig sets the filesystem root for the local blob store.
type LocalBlobConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSBlobConfig names the bucket and key prefix for cloud blob storage.
type GCSBlobConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// FilesConfig governs uploads and the external resize command.
type FilesConfig struct {
	MaxUploadMB int          `mapstructure:"max_upload_mb"`
	Resize      ResizeConfig `mapstructure:"resize"`
}

// ResizeConfig describes the external image-processing binary.
type ResizeConfig struct {
	Command        string `mapstructure:"command"`
	MaxWidth       int    `mapstructure:"max_width"`
	MaxHeight      int    `mapstructure:"max_height"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout converts the configured seconds into a duration.
func (c ResizeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxUploadBytes converts the configured megabytes into bytes.
func (c FilesConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// PlatformsConfig groups the per-platform client settings.
type PlatformsConfig struct {
	Mastodon MastodonConfig `mapstructure:"mastodon"`
	Bluesky  BlueskyConfig  `mapstructure:"bluesky"`
	Twitter  TwitterConfig  `mapstructure:"twitter"`
	RSS      RSSConfig      `mapstructure:"rss"`
}

// MastodonConfig holds credentials and posting defaults for Mastodon.
type MastodonConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Server           string `mapstructure:"server"`
	AccessToken      string `mapstructure:"access_token"`
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	Visibility       string `mapstructure:"visibility"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MediaPollMs      int    `mapstructure:"media_poll_ms"`
	MediaPollRetries int    `mapstructure:"media_poll_retries"`
}

// Missing lists required credentials that are absent. An empty result means
// the platform can be constructed.
func (c MastodonConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Server) == "" {
		missing = append(missing, "platforms.mastodon.server")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "platforms.mastodon.access_token")
	}
	return missing
}

// BlueskyConfig holds credentials for the AT Protocol PDS.
type BlueskyConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Handle         string `mapstructure:"handle"`
	AppPassword    string `mapstructure:"app_password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Missing lists required credentials that are absent.
func (c BlueskyConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Handle) == "" {
		missing = append(missing, "platforms.bluesky.handle")
	}
	if strings.TrimSpace(c.AppPassword) == "" {
		missing = append(missing, "platforms.bluesky.app_password")
	}
	return missing
}

// TwitterConfig holds OAuth1 user-context credentials plus the OAuth2 app
// settings used by the login/callback routes.
type TwitterConfig struct {
	Enabled           bool               `mapstructure:"enabled"`
	APIKey            string             `mapstructure:"api_key"`
	APIKeySecret      string             `mapstructure:"api_key_secret"`
	AccessToken       string             `mapstructure:"access_token"`
	AccessTokenSecret string             `mapstructure:"access_token_secret"`
	OAuth2            TwitterOAuthConfig `mapstructure:"oauth2"`
	TimeoutSeconds    int                `mapstructure:"timeout_seconds"`
}

// TwitterOAuthConfig configures the OAuth2 authorization-code flow.
type TwitterOAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// Configured reports whether the OAuth2 app settings are usable.
func (c TwitterOAuthConfig) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.RedirectURL) != ""
}

// Missing lists required credentials that are absent. OAuth1 credentials are
// only required when no OAuth2 app is configured, since a stored OAuth2 user
// token can serve posting on its own.
func (c TwitterConfig) Missing() []string {
	if c.OAuth2.Configured() {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "platforms.twitter.api_key")
	}
	if strings.TrimSpace(c.APIKeySecret) == "" {
		missing = append(missing, "platforms.twitter.api_key_secret")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "platforms.twitter.access_token")
	}
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		missing = append(missing, "platforms.twitter.access_token_secret")
	}
	return missing
}

// RSSConfig describes the locally generated feed.
type RSSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	BaseURL     string `mapstructure:"base_url"`
	FeedLimit   int    `mapstructure:"feed_limit"`
}

// Missing lists required settings that are absent.
func (c RSSConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "platforms.rss.base_url")
	}
	return missing
}

// PreviewConfig governs link-card building for outbound posts.
type PreviewConfig struct {
	Enabled        bool                  `mapstructure:"enabled"`
	UserAgent      string                `mapstructure:"user_agent"`
	TimeoutSeconds int                   `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int                   `mapstructure:"max_body_bytes"`
	MaxImageBytes  int                   `mapstructure:"max_image_bytes"`
	Headless       PreviewHeadlessConfig `mapstructure:"headless"`
}

// PreviewHeadlessConfig configures the chromedp fallback renderer.
type PreviewHeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// Timeout converts the configured seconds into a duration.
func (c PreviewConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EventsConfig controls the delivery-event hub and its sinks.
type EventsConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	BufferSize    int              `mapstructure:"buffer_size"`
	Batch         EventBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int              `mapstructure:"sink_timeout_ms"`
	LogEnabled    bool             `mapstructure:"log_enabled"`
}

// EventBatchConfig bounds hub flushing.
type EventBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// PubSubConfig selects the completion publisher. Provider "none" disables
// publishing, "pubsub" targets Google Cloud Pub/Sub, "memory" keeps messages
// in-process for development.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig bounds outbound platform calls.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNDICATE")
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
	v.SetDefault("auth.token_ttl_minutes", 60)
	v.SetDefault("auth.issuer", "syndicate")
	v.SetDefault("broadcast.max_content_length", 5000)
	v.SetDefault("docstore.provider", "sqlite")
	v.SetDefault("docstore.sqlite.path", "syndicate.db")
	v.SetDefault("docstore.sqlite.pool_size", 4)
	v.SetDefault("docstore.postgres.table", "documents")
	v.SetDefault("blob.provider", "local")
	v.SetDefault("blob.local.base_dir", "data/blobs")
	v.SetDefault("blob.gcs.prefix", "files")
	v.SetDefault("files.max_upload_mb", 16)
	v.SetDefault("files.resize.command", "convert")
	v.SetDefault("files.resize.max_width", 1600)
	v.SetDefault("files.resize.max_height", 1600)
	v.SetDefault("files.resize.timeout_seconds", 20)
	v.SetDefault("platforms.mastodon.visibility", "public")
	v.SetDefault("platforms.mastodon.timeout_seconds", 30)
	v.SetDefault("platforms.mastodon.media_poll_ms", 200)
	v.SetDefault("platforms.mastodon.media_poll_retries", 30)
	v.SetDefault("platforms.bluesky.host", "https://bsky.social")
	v.SetDefault("platforms.bluesky.timeout_seconds", 30)
	v.SetDefault("platforms.twitter.timeout_seconds", 30)
	v.SetDefault("platforms.twitter.oauth2.scopes", []string{"tweet.read", "tweet.write", "users.read", "offline.access"})
	v.SetDefault("platforms.rss.title", "Syndicated posts")
	v.SetDefault("platforms.rss.description", "Posts published through this service")
	v.SetDefault("platforms.rss.feed_limit", 20)
	v.SetDefault("preview.enabled", true)
	v.SetDefault("preview.user_agent", "syndicate-preview/1.0")
	v.SetDefault("preview.timeout_seconds", 10)
	v.SetDefault("preview.max_body_bytes", 1<<20)
	v.SetDefault("preview.max_image_bytes", 2<<20)
	v.SetDefault("preview.headless.enabled", false)
	v.SetDefault("preview.headless.nav_timeout_seconds", 25)
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.batch.max_events", 256)
	v.SetDefault("events.batch.max_wait_ms", 500)
	v.SetDefault("events.sink_timeout_ms", 10000)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("pubsub.provider", "none")
	v.SetDefault("pubsub.topic_name", "syndicate-completions")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.default_rps", 5)
	v.SetDefault("ratelimit.default_burst", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be > 0")
	}
	for _, u := range c.Auth.Users {
		if strings.TrimSpace(u.Username) == "" || strings.TrimSpace(u.PasswordHash) == "" {
			return fmt.Errorf("auth.users entries require username and password_hash")
		}
	}
	switch c.Docstore.Provider {
	case "sqlite":
		if strings.TrimSpace(c.Docstore.SQLite.Path) == "" {
			return fmt.Errorf("docstore.sqlite.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Docstore.Postgres.DSN) == "" {
			return fmt.Errorf("docstore.postgres.dsn is required")
		}
	case "memory":
	default:
		return fmt.Errorf("docstore.provider must be one of sqlite, postgres, memory")
	}
	switch c.Blob.Provider {
	case "local":
		if strings.TrimSpace(c.Blob.Local.BaseDir) == "" {
			return fmt.Errorf("blob.local.base_dir is required")
		}
	case "gcs":
		if strings.TrimSpace(c.Blob.GCS.Bucket) == "" {
			return fmt.Errorf("blob.gcs.bucket is required")
		}
	case "memory":
	default:
		return fmt.Errorf("blob.provider must be one of local, gcs, memory")
	}
	if c.Files.MaxUploadMB <= 0 {
		return fmt.Errorf("files.max_upload_mb must be > 0")
	}
	if c.Files.Resize.MaxWidth <= 0 || c.Files.Resize.MaxHeight <= 0 {
		return fmt.Errorf("files.resize bounds must be > 0")
	}
	if c.Broadcast.MaxContentLength <= 0 {
		return fmt.Errorf("broadcast.max_content_length must be > 0")
	}
	if c.Preview.Headless.Enabled && !c.Preview.Enabled {
		return fmt.Errorf("preview.headless requires preview.enabled")
	}
	switch c.PubSub.Provider {
	case "pubsub":
		if strings.TrimSpace(c.PubSub.ProjectID) == "" || strings.TrimSpace(c.PubSub.TopicName) == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub provider")
		}
	case "", "none", "memory":
	default:
		return fmt.Errorf("pubsub.provider must be one of none, pubsub, memory")
	}
	return nil
}
