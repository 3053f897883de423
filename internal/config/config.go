package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Calls     CallsConfig     `mapstructure:"calls"`
	Report    ReportConfig    `mapstructure:"report"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// OpenAIConfig holds planner API configuration
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// TelephonyConfig holds voice provider configuration. The provider is
// optional: without credentials, tasks can be planned and edited but not
// dialed.
type TelephonyConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	FromNumber string        `mapstructure:"from_number"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark notification configuration. Optional: without
// credentials, call outcomes are only logged.
type LarkConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// CallsConfig governs dialing behavior
type CallsConfig struct {
	AutoRetryFailedCalls bool `mapstructure:"auto_retry_failed_calls"`
	MaxRetryAttempts     int  `mapstructure:"max_retry_attempts"`

	// DefaultTone is applied to new tasks that do not specify one
	DefaultTone string `mapstructure:"default_tone"`

	// Circuit breaker settings shared by the planner and telephony clients
	BreakerThreshold    int           `mapstructure:"breaker_threshold"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`
}

// ReportConfig holds price report export configuration
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/callagent.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.temperature", 0.3)

	// Telephony defaults
	viper.SetDefault("telephony.timeout", 30*time.Second)

	// Lark defaults
	viper.SetDefault("lark.receive_id_type", "open_id")

	// Call defaults
	viper.SetDefault("calls.auto_retry_failed_calls", true)
	viper.SetDefault("calls.max_retry_attempts", 2)
	viper.SetDefault("calls.default_tone", "friendly")
	viper.SetDefault("calls.breaker_threshold", 5)
	viper.SetDefault("calls.breaker_reset_timeout", time.Minute)

	// Report defaults
	viper.SetDefault("report.output_dir", "reports")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("telephony.base_url", "TELEPHONY_BASE_URL")
	viper.BindEnv("telephony.api_key", "TELEPHONY_API_KEY")
	viper.BindEnv("telephony.from_number", "TELEPHONY_FROM_NUMBER")
	viper.BindEnv("telephony.webhook_url", "TELEPHONY_WEBHOOK_URL")
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Calls.MaxRetryAttempts < 0 {
		return fmt.Errorf("calls.max_retry_attempts cannot be negative")
	}

	// Telephony credentials are all-or-nothing: a partial set means a typo
	// rather than an intentionally disabled provider.
	set := 0
	for _, v := range []string{c.Telephony.BaseURL, c.Telephony.APIKey, c.Telephony.FromNumber} {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < 3 {
		return fmt.Errorf("telephony requires base_url, api_key and from_number together")
	}

	if c.Lark.AppID != "" && c.Lark.AppSecret == "" {
		return fmt.Errorf("lark.app_secret is required when lark.app_id is set")
	}

	return nil
}
