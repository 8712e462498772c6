package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PAYHUB"

type Config struct {
	AppName       string `mapstructure:"app_name"`
	Environment   string `mapstructure:"environment"`
	HTTPAddr      string `mapstructure:"http_addr"`
	LogLevel      string `mapstructure:"log_level"`
	SnowflakeNode int64  `mapstructure:"snowflake_node"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type VaultConfig struct {
	Provider    string `mapstructure:"provider"`
	AESKey      string `mapstructure:"aes_key"`
	Addr        string `mapstructure:"addr"`
	Token       string `mapstructure:"token"`
	TransitKey  string `mapstructure:"transit_key"`
	TransitPath string `mapstructure:"transit_path"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Protocol    string  `mapstructure:"protocol"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// GatewayConfig tunes outbound provider HTTP calls.
type GatewayConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileAfter     time.Duration `mapstructure:"reconcile_after"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
	WebhookRetention   time.Duration `mapstructure:"webhook_retention"`
}

type WebhookConfig struct {
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl"`
	MaxPayloadSize int64         `mapstructure:"max_payload_size"`
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "payhub")
	v.SetDefault("environment", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("snowflake_node", 1)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=payhub port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("vault.provider", "aes")
	v.SetDefault("vault.aes_key", "")
	v.SetDefault("vault.addr", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.transit_key", "payhub-gateway")
	v.SetDefault("vault.transit_path", "transit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "payment-gateway.transactions")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.protocol", "http")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.rate_per_second", 20.0)
	v.SetDefault("gateway.burst", 40)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reconcile_interval", 5*time.Minute)
	v.SetDefault("scheduler.reconcile_after", 15*time.Minute)
	v.SetDefault("scheduler.reconcile_batch_size", 100)
	v.SetDefault("scheduler.retention_interval", 24*time.Hour)
	v.SetDefault("scheduler.webhook_retention", 90*24*time.Hour)

	v.SetDefault("webhook.dedupe_ttl", 72*time.Hour)
	v.SetDefault("webhook.max_payload_size", int64(1<<20))
}

// Loader keeps the viper instance around so the log level can follow edits
// to the config file.
type Loader struct {
	v   *viper.Viper
	cfg Config
}

// Load reads .env, an optional config.yaml and PAYHUB_* environment
// variables, in increasing order of precedence.
func Load() (*Loader, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/payhub")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Loader{v: v, cfg: cfg}, nil
}

func (l *Loader) Config() Config { return l.cfg }

func (l *Loader) Viper() *viper.Viper { return l.v }

func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("config: snowflake_node must be between 0 and 1023")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers is required when kafka is enabled")
	}
	return nil
}
