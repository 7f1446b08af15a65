package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Env       string    `mapstructure:"env"` // "production" enables secure cookies
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Transform Transform `mapstructure:"transform"`
	Stats     Stats     `mapstructure:"stats"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	Client    Client    `mapstructure:"client"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort        string        `mapstructure:"http_port"`        // address to listen on, e.g. ":8080"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // how long to wait for running jobs on shutdown
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`  // browser origins allowed by CORS
}

// Database holds the job record store configuration.
type Database struct {
	Driver     string         `mapstructure:"driver"` // "postgres" or "sqlite"
	SQLitePath string         `mapstructure:"sqlite_path"`
	Master     DatabaseNode   `mapstructure:"master"`
	Slaves     []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	BucketName     string `mapstructure:"bucket_name"`
	Region         string `mapstructure:"region"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	PublicEndpoint string `mapstructure:"public_endpoint"` // host used in access URLs, if different
	PublicUseSSL   bool   `mapstructure:"public_use_ssl"`
}

// Transform holds configuration for the image transformation stages.
type Transform struct {
	RemoveBgURL     string        `mapstructure:"remove_bg_url"`
	RemoveBgAPIKey  string        `mapstructure:"remove_bg_api_key"`
	FlipProvider    string        `mapstructure:"flip_provider"` // "pixelixe" or "local"
	PixelixeURL     string        `mapstructure:"pixelixe_url"`
	PixelixeAPIKey  string        `mapstructure:"pixelixe_api_key"`
	Timeout         time.Duration `mapstructure:"timeout"` // per provider call, 0 means none
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	TempURLTTL      time.Duration `mapstructure:"temp_url_ttl"`
	URLTTL          time.Duration `mapstructure:"url_ttl"`
	FetchLimitBytes int64         `mapstructure:"fetch_limit_bytes"`
}

// Stats holds usage accounting configuration.
type Stats struct {
	SizeBatch int    `mapstructure:"size_batch"`
	Timezone  string `mapstructure:"timezone"` // IANA name, empty for the server's local zone
}

// Kafka holds configuration for lifecycle event publishing.
// Publishing is disabled when no brokers are configured.
type Kafka struct {
	Topic   string   `mapstructure:"topic"`
	Brokers []string `mapstructure:"brokers"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Client holds settings of the submit command.
type Client struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location returns the time zone used for daily statistics.
func (s Stats) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}

	return time.LoadLocation(s.Timezone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "image-transformer.db")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("storage.bucket_name", "images")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("transform.flip_provider", "pixelixe")
	v.SetDefault("transform.timeout", time.Duration(0))
	v.SetDefault("transform.max_upload_size", 10<<20)
	v.SetDefault("transform.temp_url_ttl", time.Hour)
	v.SetDefault("transform.url_ttl", 7*24*time.Hour)
	v.SetDefault("transform.fetch_limit_bytes", 50<<20)

	v.SetDefault("stats.size_batch", 10)

	v.SetDefault("kafka.topic", "image-jobs")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.poll_interval", 2*time.Second)
	v.SetDefault("client.poll_attempts", 60)
}

// bindEnv binds secrets and connection settings to environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host":        "DB_HOST",
		"database.master.port":        "DB_PORT",
		"database.master.user":        "DB_USER",
		"database.master.pass":        "DB_PASSWORD",
		"database.master.name":        "DB_NAME",
		"storage.access_key":          "S3_ACCESS_KEY",
		"storage.secret_key":          "S3_SECRET_KEY",
		"transform.remove_bg_api_key": "BG_REMOVE_API_KEY",
		"transform.pixelixe_api_key":  "PIXELIXE_API_KEY",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from the YAML file at path, applying defaults
// and environment overrides. A missing file leaves defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Transform.FlipProvider {
	case "pixelixe", "local":
	default:
		return fmt.Errorf("unknown flip provider %q", c.Transform.FlipProvider)
	}

	if c.Stats.SizeBatch <= 0 {
		return errors.New("stats.size_batch must be positive")
	}

	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
