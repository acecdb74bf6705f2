package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLINICPULSE_"

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Artifacts   ArtifactsConfig  `yaml:"artifacts"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Queue       QueueConfig      `yaml:"queue"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	API         APIConfig        `yaml:"api"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	// Digest ships deduplicated error logs to Kafka.
	Digest struct {
		Enabled     bool          `yaml:"enabled"`
		Topic       string        `yaml:"topic" default:"clinicpulse.logs"`
		Interval    time.Duration `yaml:"interval" default:"30s"`
		Threshold   int           `yaml:"threshold" default:"100"`
		IncludeWarn bool          `yaml:"include_warn"`
	} `yaml:"digest"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
	CORS            struct {
		Enabled bool     `yaml:"enabled" default:"true"`
		Origins []string `yaml:"origins"`
	} `yaml:"cors"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" default:"localhost" validate:"required"`
	Port            int           `yaml:"port" default:"5432"`
	Database        string        `yaml:"database" default:"clinicpulse"`
	User            string        `yaml:"user" default:"postgres"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode" default:"disable"`
	MaxConns        int32         `yaml:"max_conns" default:"10"`
	MinConns        int32         `yaml:"min_conns" default:"2"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"1h"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"5s"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"clinicpulse"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type ArtifactsConfig struct {
	Backend string `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse memory"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"6379"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size" default:"10"`
	MinIdle     int           `yaml:"min_idle" default:"2"`
	PoolTimeout time.Duration `yaml:"pool_timeout" default:"30s"`
	Prefix      string        `yaml:"prefix" default:"clinicpulse"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"10m"`
	LockRetry   time.Duration `yaml:"lock_retry" default:"250ms"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TriggerTopic string   `yaml:"trigger_topic" default:"clinicpulse.triggers"`
	EventsTopic  string   `yaml:"events_topic" default:"clinicpulse.artifacts"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"clinicpulse-analytics"`
		Workers    int           `yaml:"workers" default:"4"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"clinicpulse.triggers.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled" default:"true"`
	Prefix     string        `yaml:"prefix" default:"clinicpulse:queue"`
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
}

// SchedulerConfig maps recompute entries to cron specs. Entries left out are not scheduled.
type SchedulerConfig struct {
	Timezone string            `yaml:"timezone" default:"UTC"`
	AsOfLag  time.Duration     `yaml:"as_of_lag" default:"24h"`
	Specs    map[string]string `yaml:"specs"`
}

type APIConfig struct {
	CacheTTL   time.Duration `yaml:"cache_ttl" default:"60s"`
	CacheL1TTL time.Duration `yaml:"cache_l1_ttl" default:"10s"`
	// RateLimit is recompute requests per second per tenant and entry; 0 disables.
	RateLimit float64 `yaml:"rate_limit" default:"0.2"`
	RateBurst int     `yaml:"rate_burst" default:"3"`
}

// AnalyticsConfig overrides the stock analytics defaults. Zero values keep the default.
type AnalyticsConfig struct {
	Concurrency        int      `yaml:"concurrency" validate:"gte=0"`
	ObservationMetrics []string `yaml:"observation_metrics"`
	Forecast           struct {
		Metrics  []string `yaml:"metrics"`
		Model    string   `yaml:"model"`
		Lookback int      `yaml:"lookback" validate:"gte=0"`
		Horizon  int      `yaml:"horizon" validate:"gte=0,lte=36"`
	} `yaml:"forecast"`
	Anomaly struct {
		Metrics   []string `yaml:"metrics"`
		Window    int      `yaml:"window" validate:"gte=0"`
		Threshold float64  `yaml:"threshold" validate:"gte=0"`
		Baseline  string   `yaml:"baseline" validate:"omitempty,oneof=include_current exclude_current"`
	} `yaml:"anomaly"`
	Correlation struct {
		Window      int        `yaml:"window" validate:"gte=0"`
		Pairs       [][]string `yaml:"pairs" validate:"dive,len=2"`
		Tags        []string   `yaml:"tags"`
		TagPrefixes []string   `yaml:"tag_prefixes"`
	} `yaml:"correlation"`
	Cohort struct {
		Granularity string `yaml:"granularity" validate:"omitempty,oneof=daily weekly monthly"`
		Periods     int    `yaml:"periods" validate:"gte=0"`
		Windows     int    `yaml:"windows" validate:"gte=0"`
	} `yaml:"cohort"`
	Risk struct {
		Models         []string `yaml:"models" validate:"dive,oneof=delinquency trial_conversion"`
		LookbackDays   int      `yaml:"lookback_days" validate:"gte=0"`
		NoiseAmplitude float64  `yaml:"noise_amplitude" default:"0.05" validate:"gte=0,lte=0.5"`
		NoiseSeed      uint64   `yaml:"noise_seed"`
	} `yaml:"risk"`
	Insights struct {
		AnomalyDays         int     `yaml:"anomaly_days" validate:"gte=0"`
		SubscriptionGrowth  float64 `yaml:"subscription_growth" validate:"gte=0"`
		SubscriptionDecline float64 `yaml:"subscription_decline" validate:"gte=0"`
		ARPUChange          float64 `yaml:"arpu_change" validate:"gte=0"`
		ChurnIncrease       float64 `yaml:"churn_increase" validate:"gte=0"`
		ChurnDecrease       float64 `yaml:"churn_decrease" validate:"gte=0"`
		ConversionChange    float64 `yaml:"conversion_change" validate:"gte=0"`
		CriticalRiskShare   float64 `yaml:"critical_risk_share" validate:"gte=0,lte=1"`
		WeakRetention       float64 `yaml:"weak_retention" validate:"gte=0,lte=1"`
		ForecastDecline     float64 `yaml:"forecast_decline" validate:"gte=0"`
	} `yaml:"insights"`
}

var validate = validator.New()

// Parse decodes YAML over the struct defaults.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with CLINICPULSE_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ENV", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("ARTIFACTS_BACKEND", &c.Artifacts.Backend)
	str("POSTGRES_HOST", &c.Postgres.Host)
	str("POSTGRES_DATABASE", &c.Postgres.Database)
	str("POSTGRES_USER", &c.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("KAFKA_TRIGGER_TOPIC", &c.Kafka.TriggerTopic)
	str("KAFKA_EVENTS_TOPIC", &c.Kafka.EventsTopic)
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}

	for name, dst := range map[string]*int{
		"SERVER_PORT":     &c.Server.Port,
		"POSTGRES_PORT":   &c.Postgres.Port,
		"CLICKHOUSE_PORT": &c.ClickHouse.Port,
		"REDIS_PORT":      &c.Redis.Port,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*bool{
		"REDIS_ENABLED": &c.Redis.Enabled,
		"KAFKA_ENABLED": &c.Kafka.Enabled,
		"QUEUE_ENABLED": &c.Queue.Enabled,
	} {
		if err := flag(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis")
	}
	if c.Log.Digest.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.digest requires kafka")
	}
	return nil
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
