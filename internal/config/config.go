// Package config loads and validates colorful-state configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lixiansky/Colorful-State/internal/scraper"
	"github.com/lixiansky/Colorful-State/internal/storage/gcs"
	"github.com/lixiansky/Colorful-State/internal/translate"
)

// Blob store kinds accepted by image_host.kind and export.kind.
const (
	BlobLocal  = "local"
	BlobGCS    = "gcs"
	BlobMemory = "memory"
	BlobNone   = "none"
)

// Post store drivers accepted by db.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Instances InstancesConfig `mapstructure:"instances"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Media     MediaConfig     `mapstructure:"media"`
	ImageHost BlobConfig      `mapstructure:"image_host"`
	DB        DBConfig        `mapstructure:"db"`
	Translate TranslateConfig `mapstructure:"translate"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Export    BlobConfig      `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// InstancesConfig locates the mirror snapshot and tunes the health probe that
// refreshes it.
type InstancesConfig struct {
	Path             string        `mapstructure:"path"`
	Candidates       []string      `mapstructure:"candidates"`
	ProbePath        string        `mapstructure:"probe_path"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ProbeParallelism int           `mapstructure:"probe_parallelism"`
}

// BrowserConfig configures the headless session driver.
type BrowserConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ChallengeWait     time.Duration `mapstructure:"challenge_wait"`
	ChallengeAttempts int           `mapstructure:"challenge_attempts"`
	ChallengePhrases  []string      `mapstructure:"challenge_phrases"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	UserAgents        []string      `mapstructure:"user_agents"`
	ExecPath          string        `mapstructure:"exec_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
}

// MediaConfig tunes image validation and poster synthesis.
type MediaConfig struct {
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	HostRPS           float64       `mapstructure:"host_rps"`
	HostBurst         int           `mapstructure:"host_burst"`
	SynthesizePosters bool          `mapstructure:"synthesize_posters"`
	PosterPrefix      string        `mapstructure:"poster_prefix"`
	PosterTempDir     string        `mapstructure:"poster_temp_dir"`
	ChunkTimeout      time.Duration `mapstructure:"chunk_timeout"`
}

// BlobConfig selects a blob store. Dir and PublicBaseURL apply to local
// stores; GCS applies to gcs stores.
type BlobConfig struct {
	Kind          string     `mapstructure:"kind"`
	Dir           string     `mapstructure:"dir"`
	PublicBaseURL string     `mapstructure:"public_base_url"`
	GCS           gcs.Config `mapstructure:"gcs"`
}

// DBConfig controls the post store.
type DBConfig struct {
	// Driver is postgres, sqlite or none. Empty picks postgres when a DSN is
	// set and none otherwise.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// TranslateConfig holds DeepSeek credentials and sampling settings.
type TranslateConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MonitorConfig governs what each cycle fetches.
type MonitorConfig struct {
	// Users lists handles and "search:<keyword>" entries watched every cycle.
	Users           []string `mapstructure:"users"`
	URLFile         string   `mapstructure:"url_file"`
	Concurrency     int      `mapstructure:"concurrency"`
	Loop            bool     `mapstructure:"loop"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
}

// PubSubConfig holds the stored-post notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server run alongside loop mode.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// legacyEnv maps keys to the bare variable names older deployments export.
var legacyEnv = map[string]string{
	"monitor.users":            "TWITTER_USERS",
	"monitor.loop":             "LOOP_MODE",
	"monitor.interval_seconds": "LOOP_INTERVAL",
	"translate.api_key":        "DEEPSEEK_API_KEY",
	"translate.base_url":       "DEEPSEEK_BASE_URL",
	"db.dsn":                   "DATABASE_URL",
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("COLORFUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "COLORFUL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

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
	cfg.Monitor.Users = splitList(cfg.Monitor.Users)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("instances.path", "instances.json")
	v.SetDefault("instances.probe_path", "/")
	v.SetDefault("instances.probe_timeout", "15s")
	v.SetDefault("instances.probe_parallelism", 4)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.challenge_wait", "5s")
	v.SetDefault("browser.challenge_attempts", 5)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("media.probe_timeout", "10s")
	v.SetDefault("media.host_rps", 4.0)
	v.SetDefault("media.host_burst", 2)
	v.SetDefault("media.synthesize_posters", true)
	v.SetDefault("media.poster_prefix", "posters")
	v.SetDefault("media.chunk_timeout", "30s")
	v.SetDefault("image_host.kind", BlobLocal)
	v.SetDefault("image_host.dir", "docs/media")
	v.SetDefault("image_host.gcs.bucket", "")
	v.SetDefault("image_host.gcs.prefix", "media")
	v.SetDefault("db.path", "colorful_state.db")
	v.SetDefault("translate.base_url", translate.DefaultBaseURL)
	v.SetDefault("translate.model", translate.DefaultModel)
	v.SetDefault("translate.temperature", 1.3)
	v.SetDefault("translate.max_tokens", 2000)
	v.SetDefault("translate.timeout", "60s")
	v.SetDefault("monitor.users", []string{"elonmusk"})
	v.SetDefault("monitor.url_file", "tweets.txt")
	v.SetDefault("monitor.concurrency", 2)
	v.SetDefault("monitor.loop", false)
	v.SetDefault("monitor.interval_seconds", 600)
	v.SetDefault("export.kind", BlobLocal)
	v.SetDefault("export.dir", "docs")
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.cache_control", "no-cache, max-age=60")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be > 0")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if _, err := c.Targets(); err != nil {
		return fmt.Errorf("monitor.users: %w", err)
	}
	if c.Browser.ChallengeAttempts < 0 {
		return fmt.Errorf("browser.challenge_attempts must be >= 0")
	}
	switch c.StoreDriver() {
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path must be set for the sqlite driver")
		}
	case DriverNone:
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	if err := c.ImageHost.validate("image_host"); err != nil {
		return err
	}
	if err := c.Export.validate("export"); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

func (b BlobConfig) validate(section string) error {
	switch b.Kind {
	case BlobLocal:
		if b.Dir == "" {
			return fmt.Errorf("%s.dir must be set for local storage", section)
		}
	case BlobGCS:
		if b.GCS.Bucket == "" {
			return fmt.Errorf("%s.gcs.bucket must be set for gcs storage", section)
		}
	case BlobMemory, BlobNone:
	default:
		return fmt.Errorf("%s.kind %q is not supported", section, b.Kind)
	}
	return nil
}

// StoreDriver resolves the effective post store driver.
func (c Config) StoreDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if driver != "" {
		return driver
	}
	if c.DB.DSN != "" {
		return DriverPostgres
	}
	return DriverNone
}

// Targets parses the watched users and searches.
func (c Config) Targets() ([]scraper.Target, error) {
	targets := make([]scraper.Target, 0, len(c.Monitor.Users))
	for _, raw := range c.Monitor.Users {
		target, err := scraper.ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Interval is the loop period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
