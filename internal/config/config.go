package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	JobBackendPool     = "pool"
	JobBackendTemporal = "temporal"
)

type JobsConfig struct {
	Backend         string        `mapstructure:"backend"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	AnalysisTimeout time.Duration `mapstructure:"analysis_timeout"`
	ReportTimeout   time.Duration `mapstructure:"report_timeout"`
	// PlaceholderDelay is the simulated latency when no analyzer engine is enabled.
	PlaceholderDelay time.Duration `mapstructure:"placeholder_delay"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type EngineConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Container string        `mapstructure:"container"`
	Bin       string        `mapstructure:"bin"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type ReportsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	DatabaseURL string         `mapstructure:"database_url"`
	ServerPort  string         `mapstructure:"server_port"`
	JWTSecret   string         `mapstructure:"jwt_secret"`
	LogLevel    string         `mapstructure:"log_level"`
	Jobs        JobsConfig     `mapstructure:"jobs"`
	Temporal    TemporalConfig `mapstructure:"temporal"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Email       EmailConfig    `mapstructure:"email"`
	Reports     ReportsConfig  `mapstructure:"reports"`
	CORS        CORSConfig     `mapstructure:"cors"`
}

var defaults = map[string]interface{}{
	"database_url":           "",
	"server_port":            "8080",
	"jwt_secret":             "",
	"log_level":              "info",
	"jobs.backend":           JobBackendPool,
	"jobs.max_workers":       0,
	"jobs.queue_size":        0,
	"jobs.analysis_timeout":  "15m",
	"jobs.report_timeout":    "5m",
	"jobs.placeholder_delay": "2s",
	"temporal.host_port":     "localhost:7233",
	"temporal.namespace":     "default",
	"storage.endpoint":       "",
	"storage.region":         "us-east-1",
	"storage.bucket":         "uxlens-reports",
	"storage.access_key":     "",
	"storage.secret_key":     "",
	"storage.use_ssl":        false,
	"engine.enabled":         false,
	"engine.container":       "uxlens-analyzer",
	"engine.bin":             "uxlens-analyzer",
	"engine.timeout":         "10m",
	"email.enabled":          false,
	"email.from":             "",
	"email.smtp_host":        "",
	"email.smtp_port":        587,
	"email.username":         "",
	"email.password":         "",
	"email.alert_recipients": []string{},
	"reports.retention":      "720h",
	"reports.purge_schedule": "@hourly",
	"cors.allowed_origins":   []string{"http://localhost:3000"},
}

// Load reads config.yaml from the working directory or ./config, layered
// under UXLENS_* environment variables. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(".", "./config")
}

// LoadFrom is Load with explicit search paths. A missing config file is not an
// error; everything can come from the environment.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("UXLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must be set")
	}
	switch c.Jobs.Backend {
	case JobBackendPool, JobBackendTemporal:
	default:
		return fmt.Errorf("jobs.backend must be %q or %q, got %q", JobBackendPool, JobBackendTemporal, c.Jobs.Backend)
	}
	if c.Jobs.MaxWorkers < 0 || c.Jobs.QueueSize < 0 {
		return errors.New("jobs.max_workers and jobs.queue_size must not be negative")
	}
	if c.Reports.Retention <= 0 {
		return errors.New("reports.retention must be positive")
	}
	return nil
}
