package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leapgeo/citetrack/internal/db"
	"github.com/leapgeo/citetrack/internal/ratecontrol"
	"github.com/leapgeo/citetrack/internal/scheduler"
	"github.com/leapgeo/citetrack/internal/scrape"
	"github.com/leapgeo/citetrack/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. CITETRACK_SERVER_PORT
const EnvPrefix = "CITETRACK"

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "/app/config/citetrack.yaml"

// Config is the whole service configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Server       ServerConfig       `mapstructure:"server"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Database     db.Config          `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Scrape       scrape.Config      `mapstructure:"scrape"`
	ScrapeLimits ratecontrol.Limits `mapstructure:"scrape_limits"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	Scheduler    scheduler.Config   `mapstructure:"scheduler"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	APIRateLimit APIRateLimitConfig `mapstructure:"api_rate_limit"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig serves /metrics, health probes and manual job triggers
type AdminConfig struct {
	Port       int  `mapstructure:"port"`
	JobTrigger bool `mapstructure:"job_trigger"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// DispatcherConfig sizes the async scan worker pool
type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// APIRateLimitConfig is the per-client fixed window on the public API
type APIRateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("admin.port", 2112)
	v.SetDefault("admin.job_trigger", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "citetrack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "citetrack")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("scrape.endpoint", scrape.DefaultEndpoint)
	v.SetDefault("scrape.api_key", "")
	v.SetDefault("scrape.timeout", scrape.DefaultTimeout)
	v.SetDefault("scrape.wait_for", scrape.DefaultWaitFor)

	v.SetDefault("scrape_limits.default_rpm", 0)
	v.SetDefault("scrape_limits.default_burst", 0)

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 100)

	sc := scheduler.DefaultConfig()
	v.SetDefault("scheduler.enabled", sc.Enabled)
	v.SetDefault("scheduler.timezone", sc.Timezone)
	v.SetDefault("scheduler.daily", sc.DailySpec)
	v.SetDefault("scheduler.weekly", sc.WeeklySpec)
	v.SetDefault("scheduler.rates", sc.RatesSpec)
	v.SetDefault("scheduler.retry_attempts", sc.RetryAttempts)
	v.SetDefault("scheduler.retry_delay", sc.RetryDelay)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "citetrack")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("api_rate_limit.enabled", true)
	v.SetDefault("api_rate_limit.requests", 60)
	v.SetDefault("api_rate_limit.window", time.Minute)
}

// legacyEnv maps the variable names used by existing deployments
var legacyEnv = map[string]string{
	"database.host":     "POSTGRES_HOST",
	"database.port":     "POSTGRES_PORT",
	"database.user":     "POSTGRES_USER",
	"database.password": "POSTGRES_PASSWORD",
	"database.database": "POSTGRES_DB",
	"redis.addr":        "REDIS_ADDR",
	"redis.password":    "REDIS_PASSWORD",
	"scrape.endpoint":   "FIRECRAWL_URL",
	"scrape.api_key":    "FIRECRAWL_API_KEY",
	"logging.level":     "LOG_LEVEL",
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		// The prefixed name wins over the legacy one.
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}

	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// read loads the config file if present. A missing file leaves defaults and
// environment in effect.
func read(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive"))
	}
	if c.Admin.Port <= 0 || c.Admin.Port == c.Server.Port {
		errs = append(errs, fmt.Errorf("admin.port must be positive and differ from server.port"))
	}
	if c.Dispatcher.Workers <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.workers must be positive"))
	}
	if c.Dispatcher.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.queue_size must be positive"))
	}
	if c.APIRateLimit.Enabled && (c.APIRateLimit.Requests <= 0 || c.APIRateLimit.Window <= 0) {
		errs = append(errs, fmt.Errorf("api_rate_limit needs positive requests and window"))
	}
	if c.ScrapeLimits.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("scrape_limits.default_rpm must not be negative"))
	}
	return errors.Join(errs...)
}
