package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Log          LogConfig          `mapstructure:"log"`
	Verification VerificationConfig `mapstructure:"verification"`
	Source       SourceConfig       `mapstructure:"source"`
	Gmail        GmailConfig        `mapstructure:"gmail"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// VerificationConfig tunes the payment polling loop
type VerificationConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PageSize      int           `mapstructure:"page_size"`
	TrustedSender string        `mapstructure:"trusted_sender"`
	MarkAttempts  int           `mapstructure:"mark_attempts"`
}

// Source kinds
const (
	SourceGmail  = "gmail"
	SourceMemory = "memory"
)

// SourceConfig picks where bank alerts are read from. The memory source
// starts empty and lets the server run without Gmail credentials.
type SourceConfig struct {
	Kind string `mapstructure:"kind"`
}

type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	UserID          string `mapstructure:"user_id"`
}

// Load читает конфигурацию из переменных окружения (SERVER_PORT, LOG_LEVEL, ...)
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Verification.PollInterval <= 0 {
		return nil, fmt.Errorf("verification poll interval must be positive, got %s", cfg.Verification.PollInterval)
	}
	if cfg.Verification.Timeout < cfg.Verification.PollInterval {
		return nil, fmt.Errorf("verification timeout %s is shorter than poll interval %s", cfg.Verification.Timeout, cfg.Verification.PollInterval)
	}

	switch cfg.Source.Kind {
	case SourceGmail, SourceMemory:
	default:
		return nil, fmt.Errorf("unknown notification source %q", cfg.Source.Kind)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payments")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.request_timeout", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("verification.poll_interval", 8*time.Second)
	v.SetDefault("verification.timeout", 5*time.Minute)
	v.SetDefault("verification.page_size", 5)
	v.SetDefault("verification.trusted_sender", "alerts@hdfcbank.net")
	v.SetDefault("verification.mark_attempts", 3)

	v.SetDefault("source.kind", SourceGmail)

	v.SetDefault("gmail.credentials_file", "credentials.json")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("gmail.user_id", "me")
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
