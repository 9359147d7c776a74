// Package config loads and validates scrapeflow configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Provider ProviderConfig `mapstructure:"provider"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Store    StoreConfig    `mapstructure:"store"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// RequestTimeout must outlast the provider timeout plus the store write
	// budget since submit is synchronous.
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigin        string        `mapstructure:"cors_origin"`
}

// AuthConfig selects how bearer credentials are verified. Verifiers are tried
// in the order tokens, api keys, remote.
type AuthConfig struct {
	// Tokens maps static bearer tokens to owner ids.
	Tokens  map[string]string `mapstructure:"tokens"`
	APIKeys bool              `mapstructure:"api_keys"`
	Remote  RemoteAuthConfig  `mapstructure:"remote"`
}

// RemoteAuthConfig points at a hosted auth service.
type RemoteAuthConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProviderConfig selects and tunes the crawl provider.
type ProviderConfig struct {
	Kind            string        `mapstructure:"kind" validate:"oneof=firecrawl colly"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key"`
	Limit           int           `mapstructure:"limit" validate:"gt=0"`
	Formats         []string      `mapstructure:"formats" validate:"min=1,dive,oneof=markdown html rawHtml links screenshot"`
	WaitForSelector string        `mapstructure:"wait_for_selector"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ItemWorkers     int           `mapstructure:"item_workers" validate:"gt=0"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	MaxDepth        int           `mapstructure:"max_depth" validate:"gte=0"`
}

// PollerConfig drives the watch command.
type PollerConfig struct {
	ServerURL   string        `mapstructure:"server_url" validate:"url"`
	Token       string        `mapstructure:"token"`
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0"`
}

// StoreConfig selects the task and item store.
type StoreConfig struct {
	Kind            string        `mapstructure:"kind" validate:"oneof=memory postgres"`
	DSN             string        `mapstructure:"dsn"`
	TasksTable      string        `mapstructure:"tasks_table"`
	ItemsTable      string        `mapstructure:"items_table"`
	KeysTable       string        `mapstructure:"keys_table"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// WriteTimeout bounds the writes that follow the provider call. Zero
	// means DefaultStoreWriteTimeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

// DefaultStoreWriteTimeout is the post-provider write budget.
const DefaultStoreWriteTimeout = 20 * time.Second

// EffectiveWriteTimeout resolves a zero WriteTimeout to the default.
func (s StoreConfig) EffectiveWriteTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return DefaultStoreWriteTimeout
	}
	return s.WriteTimeout
}

// ArchiveConfig selects where finished exports are archived.
type ArchiveConfig struct {
	Kind    string `mapstructure:"kind" validate:"oneof=none memory local gcs"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for terminal-task notifications.
type PubSubConfig struct {
	Kind      string `mapstructure:"kind" validate:"oneof=none memory gcp"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size" validate:"gte=0"`
	BatchSize     int           `mapstructure:"batch_size" validate:"gte=0"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0"`
	LogEvents     bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEFLOW")
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
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("auth.api_keys", false)
	v.SetDefault("auth.remote.base_url", "")
	v.SetDefault("auth.remote.api_key", "")
	v.SetDefault("auth.remote.timeout", 10*time.Second)
	v.SetDefault("provider.kind", "firecrawl")
	v.SetDefault("provider.base_url", "https://api.firecrawl.dev")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.limit", 100)
	v.SetDefault("provider.formats", []string{"markdown", "html"})
	v.SetDefault("provider.wait_for_selector", "body")
	v.SetDefault("provider.timeout", 60*time.Second)
	v.SetDefault("provider.item_workers", 8)
	v.SetDefault("provider.user_agent", "scrapeflow-bot/0.1")
	v.SetDefault("provider.respect_robots", true)
	v.SetDefault("provider.max_depth", 2)
	v.SetDefault("poller.server_url", "http://localhost:8080")
	v.SetDefault("poller.token", "")
	v.SetDefault("poller.interval", 2*time.Second)
	v.SetDefault("poller.max_attempts", 30)
	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.tasks_table", "scraping_tasks")
	v.SetDefault("store.items_table", "scraped_data")
	v.SetDefault("store.keys_table", "api_keys")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", time.Hour)
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("store.write_timeout", DefaultStoreWriteTimeout)
	v.SetDefault("archive.kind", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "exports")
	v.SetDefault("pubsub.kind", "none")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 64)
	v.SetDefault("progress.flush_interval", 500*time.Millisecond)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Store.Kind == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.kind is postgres")
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		return fmt.Errorf("store.min_conns must be <= store.max_conns")
	}
	switch c.Archive.Kind {
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.kind is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.kind is gcs")
		}
	}
	if c.PubSub.Kind == "gcp" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.kind is gcp")
	}
	return nil
}

// ValidateServer adds the checks that only matter when serving the API.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Provider.Kind == "firecrawl" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key must be set when provider.kind is firecrawl")
	}
	if c.Auth.APIKeys && c.Store.Kind != "postgres" {
		return fmt.Errorf("auth.api_keys requires store.kind postgres")
	}
	if len(c.Auth.Tokens) == 0 && !c.Auth.APIKeys && c.Auth.Remote.BaseURL == "" {
		return fmt.Errorf("auth: configure at least one of auth.tokens, auth.api_keys or auth.remote.base_url")
	}
	if budget := c.Provider.Timeout + c.Store.EffectiveWriteTimeout(); c.Server.RequestTimeout <= budget {
		return fmt.Errorf("server.request_timeout (%s) must exceed provider.timeout plus store.write_timeout (%s)",
			c.Server.RequestTimeout, budget)
	}
	return nil
}

// fieldPath turns "Config.Provider.ItemWorkers" into "Provider.ItemWorkers".
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}
