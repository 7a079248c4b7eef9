package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ErrQueueWithoutRedis rejects a queue setup that would let two processes
// write artifacts without a shared lock
var ErrQueueWithoutRedis = errors.New("invalid config: queue.enabled requires redis.enabled")

// EnvPrefix namespaces environment overrides, e.g. TRICKPLAY_SERVER_PORT
const EnvPrefix = "TRICKPLAY"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Catalog   CatalogConfig
	Trickplay TrickplayConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int `validate:"min=1,max=65535"`
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64 `validate:"min=0"`
	RateBurst       int     `validate:"min=0"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int `validate:"min=1"`
	MinConns int `validate:"min=0"`
}

// DSN returns the pgx connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=trickplay",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	ItemTTL  time.Duration
}

// StorageConfig holds object storage configuration for the artifact mirror
type StorageConfig struct {
	Enabled         bool
	Endpoint        string `validate:"required_if=Enabled true"`
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string `validate:"required_if=Enabled true"`
	Region          string
	UseSSL          bool
	PartSize        int64
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled    bool
	Host       string
	Port       int
	User       string
	Password   string
	Vhost      string
	Exchange   string `validate:"required_if=Enabled true"`
	QueueName  string `validate:"required_if=Enabled true"`
	RoutingKey string
	Prefetch   int `validate:"min=0"`
}

// URL returns the AMQP connection URL
func (c QueueConfig) URL() string {
	vhost := strings.TrimPrefix(c.Vhost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, vhost)
}

// CatalogConfig selects where library items come from
type CatalogConfig struct {
	Source string `validate:"oneof=postgres file"`
	File   string `validate:"required_if=Source file"`
}

// TrickplayConfig holds generation and serving settings
type TrickplayConfig struct {
	WidthResolution    int `validate:"min=16,max=3840"`
	IntervalMs         int `validate:"min=100"`
	Quality            int `validate:"min=2,max=31"`
	OnDemandGeneration bool
	KeyframeOnly       bool
	MetadataDir        string `validate:"required"`
	FFmpegPath         string `validate:"required"`
	WriterPermits      int64  `validate:"min=1"`
	OnDemandWorkers    int    `validate:"min=1"`
	OnDemandQueueSize  int    `validate:"min=1"`
	ExtractTimeout     time.Duration
	BatchPageSize      int `validate:"min=0"`
	RetryAfter         time.Duration
}

// Generation returns the immutable generation snapshot of this section
func (c TrickplayConfig) Generation() models.GenerationConfig {
	return models.GenerationConfig{
		WidthResolution:    c.WidthResolution,
		IntervalMs:         c.IntervalMs,
		Quality:            c.Quality,
		OnDemandGeneration: c.OnDemandGeneration,
		KeyframeOnly:       c.KeyframeOnly,
	}
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int `validate:"min=1,max=65535"`
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string `validate:"required_if=Enabled true"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The API and the queue worker write the same metadata directory; the
	// writer lock that keeps them apart lives in redis.
	if cfg.Queue.Enabled && !cfg.Redis.Enabled {
		return nil, ErrQueueWithoutRedis
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit", 20)
	v.SetDefault("server.rateBurst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "library")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.itemTTL", "5m")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "trickplay")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.partSize", 16*1024*1024) // 16MB

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.exchange", "trickplay")
	v.SetDefault("queue.queueName", "trickplay.generate")
	v.SetDefault("queue.routingKey", "generate")
	v.SetDefault("queue.prefetch", 1)

	// Catalog defaults
	v.SetDefault("catalog.source", "postgres")
	v.SetDefault("catalog.file", "")

	// Trickplay defaults
	v.SetDefault("trickplay.widthResolution", 320)
	v.SetDefault("trickplay.intervalMs", 10000)
	v.SetDefault("trickplay.quality", 4)
	v.SetDefault("trickplay.onDemandGeneration", true)
	v.SetDefault("trickplay.keyframeOnly", false)
	v.SetDefault("trickplay.metadataDir", "/var/lib/trickplay")
	v.SetDefault("trickplay.ffmpegPath", "ffmpeg")
	v.SetDefault("trickplay.writerPermits", 1)
	v.SetDefault("trickplay.onDemandWorkers", 2)
	v.SetDefault("trickplay.onDemandQueueSize", 64)
	v.SetDefault("trickplay.extractTimeout", "30m")
	v.SetDefault("trickplay.batchPageSize", 500)
	v.SetDefault("trickplay.retryAfter", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "trickplay")
	v.SetDefault("tracing.endpoint", "localhost:6831")
}
