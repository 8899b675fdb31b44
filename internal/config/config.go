package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"Server"`
	Database   DatabaseConfig   `mapstructure:"Database"`
	Redis      RedisConfig      `mapstructure:"Redis"`
	Quota      QuotaConfig      `mapstructure:"Quota"`
	Monitoring MonitoringConfig `mapstructure:"Monitoring"`
	Billing    BillingConfig    `mapstructure:"Billing"`
	Log        LogConfig        `mapstructure:"Log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	GRPCPort        string        `mapstructure:"GRPCPort"`
	BaseURL         string        `mapstructure:"BaseURL"`
	GatewaySecret   string        `mapstructure:"GatewaySecret"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"Host"`
	Port         string `mapstructure:"Port"`
	User         string `mapstructure:"User"`
	Password     string `mapstructure:"Password"`
	Name         string `mapstructure:"Name"`
	SSLMode      string `mapstructure:"SSLMode"`
	MaxOpenConns int    `mapstructure:"MaxOpenConns"`
	MaxIdleConns int    `mapstructure:"MaxIdleConns"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"URL"`
	Password string        `mapstructure:"Password"`
	DB       int           `mapstructure:"DB"`
	UsageTTL time.Duration `mapstructure:"UsageTTL"`
}

// QuotaConfig holds the plan constants and the administrative bypass list.
type QuotaConfig struct {
	BaseAllowanceGB    int64         `mapstructure:"BaseAllowanceGB"`
	UnitSizeGB         int64         `mapstructure:"UnitSizeGB"`
	UnitMonthlyPrice   int64         `mapstructure:"UnitMonthlyPrice"`
	WarningThreshold   float64       `mapstructure:"WarningThreshold"`
	AdminEmails        []string      `mapstructure:"AdminEmails"`
	SessionListTimeout time.Duration `mapstructure:"SessionListTimeout"`
	UsageTimeout       time.Duration `mapstructure:"UsageTimeout"`
	ListConcurrency    int           `mapstructure:"ListConcurrency"`
}

type MonitoringConfig struct {
	MetricsInterval              time.Duration `mapstructure:"MetricsInterval"`
	TrendInterval                time.Duration `mapstructure:"TrendInterval"`
	AlertInterval                time.Duration `mapstructure:"AlertInterval"`
	QuotaViolationThreshold      int64         `mapstructure:"QuotaViolationThreshold"`
	SuspiciousActivityThreshold  int64         `mapstructure:"SuspiciousActivityThreshold"`
	QuotaCheckLatencyThresholdMs float64       `mapstructure:"QuotaCheckLatencyThresholdMs"`
	AlertRetention               time.Duration `mapstructure:"AlertRetention"`
	MaxAlerts                    int           `mapstructure:"MaxAlerts"`
	HistorySize                  int           `mapstructure:"HistorySize"`
	AutoStart                    bool          `mapstructure:"AutoStart"`
}

type BillingConfig struct {
	StripeWebhookSecret string        `mapstructure:"StripeWebhookSecret"`
	DedupeCacheSize     int           `mapstructure:"DedupeCacheSize"`
	DedupeCacheTTL      time.Duration `mapstructure:"DedupeCacheTTL"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Format string `mapstructure:"Format"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := bindEnvs(v, map[string]string{
		"Database.Host":               "DATABASE_HOST",
		"Database.Port":               "DATABASE_PORT",
		"Database.User":               "DATABASE_USER",
		"Database.Password":           "DATABASE_PASSWORD",
		"Database.Name":               "DATABASE_NAME",
		"Database.SSLMode":            "DATABASE_SSLMODE",
		"Server.Port":                 "HTTP_PORT",
		"Server.GRPCPort":             "GRPC_PORT",
		"Server.GatewaySecret":        "GATEWAY_SECRET",
		"Redis.URL":                   "REDIS_URL",
		"Redis.Password":              "REDIS_PASSWORD",
		"Billing.StripeWebhookSecret": "STRIPE_WEBHOOK_SECRET",
		"Quota.AdminEmails":           "ADMIN_EMAILS",
		"Log.Level":                   "LOG_LEVEL",
	}); err != nil {
		return nil, err
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file not readable, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Quota.AdminEmails = normalizeEmails(cfg.Quota.AdminEmails)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnvs binds each config key to its environment variable.
func bindEnvs(v *viper.Viper, bindings map[string]string) error {
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.ShutdownTimeout", 30*time.Second)

	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MaxOpenConns", 25)
	v.SetDefault("Database.MaxIdleConns", 5)

	v.SetDefault("Redis.URL", "redis://localhost:6379/0")
	v.SetDefault("Redis.UsageTTL", 5*time.Minute)

	v.SetDefault("Quota.BaseAllowanceGB", 100)
	v.SetDefault("Quota.UnitSizeGB", 1024)
	v.SetDefault("Quota.UnitMonthlyPrice", 999)
	v.SetDefault("Quota.WarningThreshold", 0.90)
	v.SetDefault("Quota.SessionListTimeout", 10*time.Second)
	v.SetDefault("Quota.UsageTimeout", 60*time.Second)
	v.SetDefault("Quota.ListConcurrency", 8)

	v.SetDefault("Monitoring.MetricsInterval", 30*time.Second)
	v.SetDefault("Monitoring.TrendInterval", 5*time.Minute)
	v.SetDefault("Monitoring.AlertInterval", 60*time.Second)
	v.SetDefault("Monitoring.QuotaViolationThreshold", 10)
	v.SetDefault("Monitoring.SuspiciousActivityThreshold", 5)
	v.SetDefault("Monitoring.QuotaCheckLatencyThresholdMs", 2000)
	v.SetDefault("Monitoring.AlertRetention", 24*time.Hour)
	v.SetDefault("Monitoring.MaxAlerts", 1000)
	v.SetDefault("Monitoring.HistorySize", 120)
	v.SetDefault("Monitoring.AutoStart", true)

	v.SetDefault("Billing.DedupeCacheSize", 4096)
	v.SetDefault("Billing.DedupeCacheTTL", 24*time.Hour)

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "json")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Host == "" ||
		c.Database.Port == "" ||
		c.Database.User == "" ||
		c.Database.Password == "" ||
		c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
	}
	if c.Quota.BaseAllowanceGB < 0 {
		return fmt.Errorf("quota base allowance cannot be negative")
	}
	if c.Quota.UnitSizeGB <= 0 {
		return fmt.Errorf("quota unit size must be positive")
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold > 1 {
		return fmt.Errorf("quota warning threshold must be in (0, 1], got %v", c.Quota.WarningThreshold)
	}
	if c.Monitoring.MetricsInterval <= 0 || c.Monitoring.TrendInterval <= 0 || c.Monitoring.AlertInterval <= 0 {
		return fmt.Errorf("monitoring intervals must be positive")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL returns the connection string in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

// normalizeEmails accepts both list values and a single comma-separated env value.
func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
