// Package config loads and validates jobharvest configuration via Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. JOBHARVEST_STORE_DSN.
const EnvPrefix = "JOBHARVEST"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Run        RunConfig        `mapstructure:"run"`
	Filters    FiltersConfig    `mapstructure:"filters"`
	Store      StoreConfig      `mapstructure:"store"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Adzuna     AdzunaConfig     `mapstructure:"adzuna"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	// TargetsFile points at a JSON list of targets merged after Targets.
	TargetsFile string           `mapstructure:"targets_file"`
	Targets     []crawler.Target `mapstructure:"targets"`
}

// ServerConfig controls the HTTP server used by serve.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// CrawlConfig governs the scan strategies and the ingestion queue.
type CrawlConfig struct {
	PageSize           int     `mapstructure:"page_size"`
	OffsetCap          int     `mapstructure:"offset_cap"`
	PolitenessMs       int     `mapstructure:"politeness_ms"`
	AggregatorMinDelay int     `mapstructure:"aggregator_min_delay_seconds"`
	AggregatorMaxDelay int     `mapstructure:"aggregator_max_delay_seconds"`
	AggregatorRPS      float64 `mapstructure:"aggregator_rps"`
	QueueDepth         int     `mapstructure:"queue_depth"`
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	RespectRobots      bool    `mapstructure:"respect_robots"`
}

// RunConfig holds the per-run feature switches.
type RunConfig struct {
	Filtering      bool `mapstructure:"filtering"`
	Classification bool `mapstructure:"classification"`
	Notifications  bool `mapstructure:"notifications"`
}

// FiltersConfig locates the keyword denylist.
type FiltersConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	// RedisURL enables the known-id cache in front of the store.
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
}

// StorageConfig selects where run summaries are archived.
type StorageConfig struct {
	// Backend is memory, local or gcs.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds event publishing settings.
type PubSubConfig struct {
	// Backend is memory or gcp.
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ClassifierConfig configures the relevance classifier.
type ClassifierConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	DescriptionCap int    `mapstructure:"description_cap"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NotifierConfig configures the SMTP digest.
type NotifierConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	From        string `mapstructure:"from"`
	Recipient   string `mapstructure:"recipient"`
	ImplicitTLS bool   `mapstructure:"implicit_tls"`
}

// ScheduleConfig controls automatic runs under serve.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	RunNow  bool   `mapstructure:"run_on_start"`
}

// HeadlessConfig configures the chromedp fetcher for rendered pages.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// AdzunaConfig holds the aggregator credentials.
type AdzunaConfig struct {
	AppID  string `mapstructure:"app_id"`
	AppKey string `mapstructure:"app_key"`
}

// TracingConfig toggles OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk and environment. With an empty path the
// usual locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("jobharvest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jobharvest/")
		v.AddConfigPath("$HOME/.jobharvest")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.TargetsFile != "" {
		extra, err := LoadTargets(cfg.TargetsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Targets = append(cfg.Targets, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("crawl.page_size", 20)
	v.SetDefault("crawl.offset_cap", 2000)
	v.SetDefault("crawl.politeness_ms", 500)
	v.SetDefault("crawl.aggregator_min_delay_seconds", 10)
	v.SetDefault("crawl.aggregator_max_delay_seconds", 20)
	v.SetDefault("crawl.aggregator_rps", 0.2)
	v.SetDefault("crawl.queue_depth", 256)
	v.SetDefault("crawl.user_agent", "jobharvest/0.1 (+https://github.com/JakeFAU/jobharvest)")
	v.SetDefault("crawl.timeout_seconds", 20)
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("run.filtering", true)
	v.SetDefault("run.classification", false)
	v.SetDefault("run.notifications", false)
	v.SetDefault("filters.path", "filters.txt")
	v.SetDefault("filters.watch", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "jobs.db")
	v.SetDefault("store.table", "jobs")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("pubsub.backend", "memory")
	v.SetDefault("pubsub.topic", "job.discovered")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.description_cap", 500)
	v.SetDefault("classifier.timeout_seconds", 30)
	v.SetDefault("notifier.host", "smtp.gmail.com")
	v.SetDefault("notifier.port", 465)
	v.SetDefault("notifier.implicit_tls", true)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "@every 6h")
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "jobharvest")
	v.SetDefault("logging.development", true)

	// Keys without a useful default are registered so AutomaticEnv can
	// override them during Unmarshal.
	for _, key := range []string{
		"server.api_key",
		"store.redis_url",
		"store.redis_key",
		"storage.gcs_bucket",
		"pubsub.project_id",
		"classifier.endpoint",
		"classifier.api_key",
		"classifier.system_prompt",
		"notifier.username",
		"notifier.password",
		"notifier.from",
		"notifier.recipient",
		"adzuna.app_id",
		"adzuna.app_key",
		"targets_file",
		"logging.level",
	} {
		v.SetDefault(key, "")
	}
}

var (
	storeDrivers   = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	blobBackends   = map[string]bool{"memory": true, "local": true, "gcs": true}
	pubsubBackends = map[string]bool{"memory": true, "gcp": true}
	sourceKinds    = map[crawler.SourceKind]bool{
		crawler.KindGreenhouse:      true,
		crawler.KindLever:           true,
		crawler.KindSmartRecruiters: true,
		crawler.KindWorkday:         true,
		crawler.KindComeet:          true,
		crawler.KindAdzuna:          true,
		crawler.KindGeneric:         true,
	}
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.OffsetCap < c.Crawl.PageSize {
		return fmt.Errorf("crawl.offset_cap must be >= crawl.page_size")
	}
	if c.Crawl.PolitenessMs < 0 {
		return fmt.Errorf("crawl.politeness_ms must be >= 0")
	}
	if c.Crawl.AggregatorMinDelay < 0 || c.Crawl.AggregatorMaxDelay < c.Crawl.AggregatorMinDelay {
		return fmt.Errorf("crawl aggregator delay range is invalid")
	}
	if c.Crawl.QueueDepth <= 0 {
		return fmt.Errorf("crawl.queue_depth must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if !storeDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Store.Driver == "memory" && c.Store.RedisURL != "" {
		return fmt.Errorf("store.redis_url cannot be used with the memory store driver")
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set for driver %s", c.Store.Driver)
	}
	if !blobBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if !pubsubBackends[c.PubSub.Backend] {
		return fmt.Errorf("pubsub.backend %q is not supported", c.PubSub.Backend)
	}
	if c.PubSub.Backend == "gcp" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set for the gcp backend")
	}
	if c.Run.Classification && c.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key must be set when classification is enabled")
	}
	if c.Run.Notifications && (c.Notifier.Recipient == "" || c.Notifier.Host == "") {
		return fmt.Errorf("notifier.host and notifier.recipient must be set when notifications are enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if !sourceKinds[t.Kind] {
			return fmt.Errorf("target %q: %w: %q", t.Name, crawler.ErrUnknownKind, t.Kind)
		}
	}
	return nil
}

// RunSwitches converts the run section into the crawler form.
func (c Config) RunSwitches() crawler.RunConfig {
	return crawler.RunConfig{
		FilteringEnabled:      c.Run.Filtering,
		ClassificationEnabled: c.Run.Classification,
		NotificationsEnabled:  c.Run.Notifications,
	}
}

// Politeness is the per-target pause inside a wave.
func (c Config) Politeness() time.Duration {
	return time.Duration(c.Crawl.PolitenessMs) * time.Millisecond
}

// HTTPTimeout is the vendor API client timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// LoadTargets reads a JSON target list. Entries may use "type" instead of
// "kind", and any other top-level string field becomes a param.
func LoadTargets(path string) ([]crawler.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode targets file: %w", err)
	}
	targets := make([]crawler.Target, 0, len(raw))
	for i, entry := range raw {
		t, err := targetFromMap(entry)
		if err != nil {
			return nil, fmt.Errorf("targets file entry %d: %w", i, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func targetFromMap(entry map[string]any) (crawler.Target, error) {
	t := crawler.Target{Params: map[string]string{}}
	for key, value := range entry {
		switch key {
		case "name":
			t.Name, _ = value.(string)
		case "kind", "type":
			kind, _ := value.(string)
			t.Kind = crawler.SourceKind(strings.ToLower(kind))
		case "locations":
			list, ok := value.([]any)
			if !ok {
				return crawler.Target{}, fmt.Errorf("locations must be a list")
			}
			for _, item := range list {
				if s, ok := item.(string); ok {
					t.Locations = append(t.Locations, s)
				}
			}
		case "params":
			params, ok := value.(map[string]any)
			if !ok {
				return crawler.Target{}, fmt.Errorf("params must be an object")
			}
			for k, v := range params {
				t.Params[k] = fmt.Sprint(v)
			}
		default:
			switch v := value.(type) {
			case string:
				t.Params[key] = v
			case bool, float64:
				t.Params[key] = fmt.Sprint(v)
			}
		}
	}
	if t.Name == "" {
		return crawler.Target{}, fmt.Errorf("name is required")
	}
	return t, nil
}
