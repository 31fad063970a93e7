// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Wiki     WikiConfig     `mapstructure:"wiki"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WikiConfig locates the wiki being harvested.
type WikiConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Prefix is the path under which articles live, e.g. "/wiki/".
	Prefix string `mapstructure:"prefix"`
	// ComposersPath is the article listing composers.
	ComposersPath string `mapstructure:"composers_path"`
}

// HTTPConfig configures plain page fetches.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// RequestsPerSecond paces fetches per host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int    `mapstructure:"promotion_threshold"`
	WaitSelector    string `mapstructure:"wait_selector"`
}

// OutputConfig names the local output files.
type OutputConfig struct {
	Dir              string `mapstructure:"dir"`
	RawPrefix        string `mapstructure:"raw_prefix"`
	CompositionsFile string `mapstructure:"compositions_file"`
	ComposersFile    string `mapstructure:"composers_file"`
	QueueCapacity    int    `mapstructure:"queue_capacity"`
}

// StorageConfig sets where finished outputs are archived.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run history database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("wiki.base_url", "https://en.wikipedia.org")
	v.SetDefault("wiki.prefix", "/wiki/")
	v.SetDefault("wiki.composers_path", "/wiki/List_of_composers_by_name")
	v.SetDefault("http.user_agent", "worklist-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.raw_prefix", "raw-info-")
	v.SetDefault("output.compositions_file", "compositions.json")
	v.SetDefault("output.composers_file", "composers.json")
	v.SetDefault("output.queue_capacity", 100)
	v.SetDefault("storage.prefix", "harvests")
	v.SetDefault("db.table", "harvest_runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if u, err := url.Parse(c.Wiki.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("wiki.base_url must be an absolute URL")
	}
	if !strings.HasPrefix(c.Wiki.Prefix, "/") {
		return fmt.Errorf("wiki.prefix must start with /")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.CompositionsFile == "" || c.Output.ComposersFile == "" {
		return fmt.Errorf("output.compositions_file and output.composers_file are required")
	}
	if c.Output.QueueCapacity <= 0 {
		return fmt.Errorf("output.queue_capacity must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RequestTimeout bounds one API request, which may span whole runs.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ComposersURL returns the absolute URL of the composer list.
func (c Config) ComposersURL() string {
	return strings.TrimRight(c.Wiki.BaseURL, "/") + c.Wiki.ComposersPath
}
