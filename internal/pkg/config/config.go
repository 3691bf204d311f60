package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DefaultRequestTimeout applies when AI_REQUEST_TIMEOUT is unset or not
// positive.
const DefaultRequestTimeout = 120 * time.Second

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Bots      BotsConfig
	Crontab   CrontabConfig
	Worker    WorkerConfig
	Snowflake SnowflakeConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type BotsConfig struct {
	DefaultFlowsURL string
	OllamaAPIURL    string
	APIBaseURL      string
	RequestTimeout  time.Duration
	RequestTrials   int
	AllowDSTZones   bool
	DedupeTargets   bool
	RateLimit       float64
	RateBurst       int
}

type CrontabConfig struct {
	Path           string
	ScriptPath     string
	InstallCommand string
}

type WorkerConfig struct {
	Concurrency int
	QueueSize   int
	Broker      string // "queue" or "local"
	MetricsAddr string
}

type SnowflakeConfig struct {
	Node int64
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	// Set defaults
	setDefaults()
	bindLegacyEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	// App
	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.Debug = viper.GetBool("app.debug")

	// Database
	cfg.Database.Host = viper.GetString("database.host")
	cfg.Database.Port = viper.GetInt("database.port")
	cfg.Database.User = viper.GetString("database.user")
	cfg.Database.Password = viper.GetString("database.password")
	cfg.Database.Name = viper.GetString("database.name")
	cfg.Database.SSLMode = viper.GetString("database.sslmode")
	cfg.Database.MaxOpenConns = viper.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = viper.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = viper.GetDuration("database.conn_max_lifetime")
	cfg.Database.AutoMigrate = viper.GetBool("database.auto_migrate")

	// Redis
	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")

	// Bots
	cfg.Bots.DefaultFlowsURL = viper.GetString("bots.default_flows_url")
	cfg.Bots.OllamaAPIURL = viper.GetString("bots.ollama_api_url")
	cfg.Bots.APIBaseURL = viper.GetString("bots.api_base_url")
	cfg.Bots.RequestTimeout = requestTimeout(viper.GetInt("bots.request_timeout"))
	cfg.Bots.RequestTrials = viper.GetInt("bots.request_trials")
	cfg.Bots.AllowDSTZones = viper.GetBool("bots.allow_dst_zones")
	cfg.Bots.DedupeTargets = viper.GetBool("bots.dedupe_targets")
	cfg.Bots.RateLimit = viper.GetFloat64("bots.rate_limit")
	cfg.Bots.RateBurst = viper.GetInt("bots.rate_burst")
	if cfg.Bots.RequestTrials < 0 {
		cfg.Bots.RequestTrials = 0
	}

	// Crontab
	cfg.Crontab.Path = viper.GetString("crontab.path")
	cfg.Crontab.ScriptPath = viper.GetString("crontab.script_path")
	cfg.Crontab.InstallCommand = viper.GetString("crontab.install_command")

	// Worker
	cfg.Worker.Concurrency = viper.GetInt("worker.concurrency")
	cfg.Worker.QueueSize = viper.GetInt("worker.queue_size")
	cfg.Worker.Broker = viper.GetString("worker.broker")
	cfg.Worker.MetricsAddr = viper.GetString("worker.metrics_addr")

	cfg.Snowflake.Node = viper.GetInt64("snowflake.node")

	return &cfg, nil
}

// requestTimeout turns AI_REQUEST_TIMEOUT seconds into a duration. Operator
// values are taken as given.
func requestTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(seconds) * time.Second
}

// bindLegacyEnv keeps the flat environment names deployments already set.
func bindLegacyEnv() {
	_ = viper.BindEnv("bots.default_flows_url", "DEFAULT_FLOWS_URL")
	_ = viper.BindEnv("bots.ollama_api_url", "OLLAMA_API_URL")
	_ = viper.BindEnv("bots.api_base_url", "API_BASE_URL")
	_ = viper.BindEnv("bots.request_timeout", "AI_REQUEST_TIMEOUT")
	_ = viper.BindEnv("bots.request_trials", "AI_REQUEST_TRIALS")
	_ = viper.BindEnv("crontab.path", "BOT_CRONTAB_PATH")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "botengine")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", true)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "langboard")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.auto_migrate", false)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Bot dispatch defaults
	viper.SetDefault("bots.default_flows_url", "http://localhost:7860")
	viper.SetDefault("bots.ollama_api_url", "http://localhost:11434")
	viper.SetDefault("bots.api_base_url", "http://localhost:5381")
	viper.SetDefault("bots.request_timeout", int(DefaultRequestTimeout/time.Second))
	viper.SetDefault("bots.request_trials", 5)
	viper.SetDefault("bots.allow_dst_zones", false)
	viper.SetDefault("bots.dedupe_targets", false)
	viper.SetDefault("bots.rate_limit", 0)
	viper.SetDefault("bots.rate_burst", 1)

	// Crontab defaults
	viper.SetDefault("crontab.path", "/app/crontab")
	viper.SetDefault("crontab.script_path", "/app/scripts/run_bot_cron.sh")
	viper.SetDefault("crontab.install_command", "")

	// Worker defaults
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.queue_size", 256)
	viper.SetDefault("worker.broker", "queue")
	viper.SetDefault("worker.metrics_addr", ":9090")

	viper.SetDefault("snowflake.node", 1)
}
