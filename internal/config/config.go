package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Access       AccessConfig       `mapstructure:"access"`
	Offers       OffersConfig       `mapstructure:"offers"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Locations    []domain.Location  `mapstructure:"locations"`
	Health       HealthConfig       `mapstructure:"health"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and parameterises the registry backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DataDir         string        `mapstructure:"data_dir"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// EvaluationConfig bounds what a single alert evaluation may cost.
type EvaluationConfig struct {
	TopN               int           `mapstructure:"top_n"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	MaxQueriesPerAlert int           `mapstructure:"max_queries_per_alert"`
	FlexibleSamples    int           `mapstructure:"flexible_samples"`
	FlexibleWindow     time.Duration `mapstructure:"flexible_window"`
	AnyDestinations    []string      `mapstructure:"any_destinations"`
	SuppressRepeats    bool          `mapstructure:"suppress_repeats"`
}

// TelegramConfig configures the chat transport.
type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	Debug       bool   `mapstructure:"debug"`
}

// AccessConfig names the administrator identity.
type AccessConfig struct {
	AdminID int64 `mapstructure:"admin_id"`
}

// OffersConfig captures the external fare provider.
type OffersConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Currency       string        `mapstructure:"currency"`
	Language       string        `mapstructure:"language"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ConversationConfig tunes the alert creation flow.
type ConversationConfig struct {
	AskDestination bool          `mapstructure:"ask_destination"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	Timezone       string        `mapstructure:"timezone"`
}

// HealthConfig controls the liveness responder.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAREALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Locations) == 0 {
		cfg.Locations = append([]domain.Location(nil), domain.DefaultLocations...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fare-alerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.driver", StorageFile)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66617265))
	v.SetDefault("scheduler.startup_delay", "10s")
	v.SetDefault("scheduler.concurrency", 2)

	v.SetDefault("evaluation.top_n", 5)
	v.SetDefault("evaluation.query_timeout", "30s")
	v.SetDefault("evaluation.max_queries_per_alert", 40)
	v.SetDefault("evaluation.flexible_samples", 3)
	v.SetDefault("evaluation.flexible_window", "1440h")
	v.SetDefault("evaluation.any_destinations", []string{})
	v.SetDefault("evaluation.suppress_repeats", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.debug", false)

	v.SetDefault("access.admin_id", int64(0))

	v.SetDefault("offers.provider", "serpapi")
	v.SetDefault("offers.base_url", "https://serpapi.com")
	v.SetDefault("offers.api_key", "")
	v.SetDefault("offers.currency", "BRL")
	v.SetDefault("offers.language", "pt")
	v.SetDefault("offers.request_timeout", "30s")

	v.SetDefault("conversation.ask_destination", true)
	v.SetDefault("conversation.session_ttl", "30m")
	v.SetDefault("conversation.timezone", "America/Sao_Paulo")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.addr", healthAddr())
}

// healthAddr honours the PORT variable set by container hosts.
func healthAddr() string {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return ":" + port
	}
	return ":10000"
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir must be set for the file driver")
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be greater than zero")
	}
	if c.Evaluation.TopN <= 0 {
		return fmt.Errorf("evaluation.top_n must be greater than zero")
	}
	if c.Evaluation.QueryTimeout <= 0 {
		return fmt.Errorf("evaluation.query_timeout must be greater than zero")
	}
	if c.Evaluation.MaxQueriesPerAlert < 0 {
		return fmt.Errorf("evaluation.max_queries_per_alert cannot be negative")
	}
	if c.Evaluation.FlexibleSamples <= 0 {
		return fmt.Errorf("evaluation.flexible_samples must be greater than zero")
	}
	if c.Evaluation.FlexibleWindow < 24*time.Hour {
		return fmt.Errorf("evaluation.flexible_window must span at least one day")
	}
	if c.Offers.Provider != "serpapi" {
		return fmt.Errorf("offers.provider %q is not supported", c.Offers.Provider)
	}
	if c.Offers.Currency == "" {
		return fmt.Errorf("offers.currency must be set")
	}
	if c.Conversation.SessionTTL < 0 {
		return fmt.Errorf("conversation.session_ttl cannot be negative")
	}
	if _, err := time.LoadLocation(c.Conversation.Timezone); err != nil {
		return fmt.Errorf("conversation.timezone: %w", err)
	}

	catalog, err := domain.NewCatalog(c.Locations)
	if err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	for _, code := range c.Evaluation.AnyDestinations {
		if !catalog.Known(code) {
			return fmt.Errorf("evaluation.any_destinations: unknown location %q", code)
		}
	}
	return nil
}

// RequireBot checks the settings only the long-running bot needs.
func (c *Config) RequireBot() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token must be configured")
	}
	if c.Access.AdminID == 0 {
		return fmt.Errorf("access.admin_id must be configured")
	}
	if c.Offers.APIKey == "" {
		return fmt.Errorf("offers.api_key must be configured")
	}
	return nil
}

// Catalog builds the location catalog. Validate has already checked it.
func (c *Config) Catalog() *domain.Catalog {
	return domain.MustCatalog(c.Locations)
}

// TimeLocation returns the zone used to interpret user-entered dates.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Conversation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
