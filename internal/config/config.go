package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"`
	URL           string        `mapstructure:"url"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

type EmailConfig struct {
	From        string        `mapstructure:"from"`
	SMTPHost    string        `mapstructure:"smtp_host"`
	SMTPPort    int           `mapstructure:"smtp_port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// Enabled reports whether enough is configured to attempt SMTP at all.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != "" && strings.TrimSpace(c.From) != ""
}

type PushConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type PipelineConfig struct {
	DedupeScope      string `mapstructure:"dedupe_scope"`
	RecordDeliveries bool   `mapstructure:"record_deliveries"`
}

type PreferencesConfig struct {
	EnforceQuietHours bool `mapstructure:"enforce_quiet_hours"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type TemporalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	HostPort    string `mapstructure:"host_port"`
	Namespace   string `mapstructure:"namespace"`
	TaskQueue   string `mapstructure:"task_queue"`
	MaxAttempts int32  `mapstructure:"max_attempts"`
}

type Config struct {
	ServerPort   string            `mapstructure:"server_port"`
	Environment  string            `mapstructure:"environment"`
	LogLevel     string            `mapstructure:"log_level"`
	FrontendURLs []string          `mapstructure:"frontend_urls"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Email        EmailConfig       `mapstructure:"email"`
	Push         PushConfig        `mapstructure:"push"`
	Pipeline     PipelineConfig    `mapstructure:"pipeline"`
	Preferences  PreferencesConfig `mapstructure:"preferences"`
	Redis        RedisConfig       `mapstructure:"redis"`
	Kafka        KafkaConfig       `mapstructure:"kafka"`
	Temporal     TemporalConfig    `mapstructure:"temporal"`
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

// legacyEnv maps the plain environment variables used by earlier deployments
// onto config keys.
var legacyEnv = map[string][]string{
	"server_port":      {"PORT"},
	"environment":      {"APP_ENV", "NODE_ENV"},
	"database.url":     {"DATABASE_URL"},
	"frontend_urls":    {"FRONTEND_URL"},
	"email.from":       {"EMAIL_FROM"},
	"email.smtp_host":  {"SMTP_HOST"},
	"email.smtp_port":  {"SMTP_PORT"},
	"email.username":   {"SMTP_USER"},
	"email.password":   {"SMTP_PASS"},
	"redis.url":        {"REDIS_URL"},
	"kafka.brokers":    {"KAFKA_BROKERS"},
	"temporal.enabled": {"TEMPORAL_ENABLED"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "3001")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("frontend_urls", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.health_timeout", 5*time.Second)
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.send_timeout", 15*time.Second)
	v.SetDefault("push.publish_timeout", 5*time.Second)
	v.SetDefault("push.ping_interval", 30*time.Second)
	v.SetDefault("pipeline.dedupe_scope", "none")
	v.SetDefault("pipeline.record_deliveries", true)
	v.SetDefault("preferences.enforce_quiet_hours", false)
	v.SetDefault("redis.channel", "notify:push")
	v.SetDefault("kafka.topic", "notification-events")
	v.SetDefault("kafka.group_id", "notification-api")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "NOTIFICATION_DELIVERY")
	v.SetDefault("temporal.max_attempts", 5)
}

// Load reads configuration from an optional .env, an optional config.yaml and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	return LoadWith(viper.New(), ".", "./config")
}

// LoadWith is Load over a caller-supplied viper instance and search paths.
func LoadWith(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("NOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key, "NOTIFY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.FrontendURLs = splitList(c.FrontendURLs)
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Pipeline.DedupeScope = strings.ToLower(strings.TrimSpace(c.Pipeline.DedupeScope))

	if c.ServerPort == "" {
		c.ServerPort = "3001"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database.url (or DATABASE_URL) must be set")
	}
	switch c.Pipeline.DedupeScope {
	case "", "none":
		c.Pipeline.DedupeScope = "none"
	case "global", "recipient":
	default:
		return fmt.Errorf("pipeline.dedupe_scope must be none, global or recipient, got %q", c.Pipeline.DedupeScope)
	}
	return nil
}

// splitList flattens comma separated entries, which is how list values arrive
// from environment variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
