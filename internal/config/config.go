package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	Port        string `mapstructure:"port"`

	// Messaging gateway
	Gateway GatewayConfig `mapstructure:"gateway"`

	// Automation engine
	TickMinutes      int    `mapstructure:"tick_minutes"`
	InitialDelaySecs int    `mapstructure:"initial_delay_secs"`
	GraceMinutes     int    `mapstructure:"grace_minutes"`
	HandoffTimeout   int    `mapstructure:"handoff_timeout_minutes"`
	DefaultLanguage  string `mapstructure:"default_language"`
}

type GatewayConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// TickInterval returns the orchestrator cadence as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMinutes) * time.Minute
}

// InitialDelay returns how long after process start the first tick runs.
func (c Config) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySecs) * time.Second
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without manually
	// exporting env vars. Missing .env is fine (Production/Docker).
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("tick_minutes", 5)
	v.SetDefault("initial_delay_secs", 10)
	v.SetDefault("grace_minutes", 30)
	v.SetDefault("handoff_timeout_minutes", 30)
	v.SetDefault("default_language", "pt")

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("port", "PORT")

	_ = v.BindEnv("gateway.url", "GATEWAY_URL")
	_ = v.BindEnv("gateway.api_key", "GATEWAY_API_KEY")

	_ = v.BindEnv("tick_minutes", "TICK_MINUTES")
	_ = v.BindEnv("initial_delay_secs", "INITIAL_DELAY_SECS")
	_ = v.BindEnv("grace_minutes", "GRACE_MINUTES")
	_ = v.BindEnv("handoff_timeout_minutes", "HANDOFF_TIMEOUT_MINUTES")
	_ = v.BindEnv("default_language", "DEFAULT_LANGUAGE")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	return nil
}
