package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Files     FilesConfig     `mapstructure:"files"`
	Mail      MailConfig      `mapstructure:"mail"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout_seconds"`
	WriteTimeout int      `mapstructure:"write_timeout_seconds"`
	IdleTimeout  int      `mapstructure:"idle_timeout_seconds"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time_seconds"`
}

type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	AccessTokenMinutes int    `mapstructure:"access_token_minutes"`
	RefreshTokenHours  int    `mapstructure:"refresh_token_hours"`
	ResetSecret        string `mapstructure:"reset_secret"`
	ResetTicketMinutes int    `mapstructure:"reset_ticket_minutes"`
	ResetBaseURL       string `mapstructure:"reset_base_url"`
}

type StorageConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PresignSeconds int    `mapstructure:"presign_ttl_seconds"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	DownloadMode   string `mapstructure:"download_mode"`
}

type FilesConfig struct {
	Visibility string `mapstructure:"visibility"`
}

type MailConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       string `mapstructure:"smtp_port"`
	SMTPUser       string `mapstructure:"smtp_user"`
	SMTPPassword   string `mapstructure:"smtp_password"`
	FromEmail      string `mapstructure:"from_email"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type EventsConfig struct {
	Driver string      `mapstructure:"driver"`
	NATS   NATSConfig  `mapstructure:"nats"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type BootstrapConfig struct {
	Users []BootstrapUser `mapstructure:"users"`
}

// BootstrapUser is an account provisioned at start-up when its email is not taken yet.
type BootstrapUser struct {
	Email     string `mapstructure:"email"`
	Username  string `mapstructure:"username"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
	Password  string `mapstructure:"password"`
	Role      string `mapstructure:"role"`
}

func Load() (*Config, error) {
	// Get environment from ENV, default to "local"
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("/configs")   // Kubernetes mount
	v.AddConfigPath("./configs")  // IDE from root
	v.AddConfigPath("../configs") // IDE from cmd/

	setDefaults(v)
	v.SetDefault("env", env)

	// Config file is optional - continue with ENV variables
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("No config file found (will use ENV variables): %v\n", err)
	}

	// STORAGE_BUCKET overrides storage.bucket and so on
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.reset_secret", "RESET_SECRET")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("mail.smtp_password", "SMTP_PASSWORD")
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 60)
	v.SetDefault("server.idle_timeout_seconds", 120)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "files")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_minutes", 15)
	v.SetDefault("auth.refresh_token_hours", 24*7)
	v.SetDefault("auth.reset_secret", "")
	v.SetDefault("auth.reset_ticket_minutes", 60)
	v.SetDefault("auth.reset_base_url", "http://localhost:3000")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "files")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.timeout_seconds", 30)
	v.SetDefault("storage.presign_ttl_seconds", 300)
	v.SetDefault("storage.max_upload_bytes", 50<<20)
	v.SetDefault("storage.download_mode", "redirect")

	v.SetDefault("files.visibility", "own")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", "587")
	v.SetDefault("mail.smtp_user", "")
	v.SetDefault("mail.smtp_password", "")
	v.SetDefault("mail.from_email", "")
	v.SetDefault("mail.timeout_seconds", 10)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.nats.url", "nats://localhost:4222")
	v.SetDefault("events.nats.subject", "files.events")
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "files.events")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "otel-collector.infra.svc.cluster.local:4317")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Files.Visibility {
	case "own", "all":
	default:
		errs = append(errs, fmt.Errorf("files.visibility must be own or all, got %q", c.Files.Visibility))
	}
	switch c.Storage.DownloadMode {
	case "redirect", "stream":
	default:
		errs = append(errs, fmt.Errorf("storage.download_mode must be redirect or stream, got %q", c.Storage.DownloadMode))
	}
	switch c.Events.Driver {
	case "none", "nats", "kafka":
	default:
		errs = append(errs, fmt.Errorf("events.driver must be none, nats or kafka, got %q", c.Events.Driver))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// ResetSecretOrDefault falls back to the JWT secret when no dedicated reset secret is set.
func (a AuthConfig) ResetSecretOrDefault() string {
	if a.ResetSecret != "" {
		return a.ResetSecret
	}
	return a.JWTSecret
}

func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenMinutes) * time.Minute
}

func (a AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(a.RefreshTokenHours) * time.Hour
}

func (a AuthConfig) ResetTicketTTL() time.Duration {
	return time.Duration(a.ResetTicketMinutes) * time.Minute
}

func (s StorageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s StorageConfig) PresignTTL() time.Duration {
	return time.Duration(s.PresignSeconds) * time.Second
}

func (m MailConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}
