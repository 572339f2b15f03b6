/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RunMigrations            bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	ProcessorEventQueue      string `mapstructure:"PROCESSOR_EVENT_QUEUE"`
	DefaultCurrency          string `mapstructure:"DEFAULT_CURRENCY"`
	IngestRateLimitPerMinute int    `mapstructure:"INGEST_RATE_LIMIT_PER_MINUTE"`
	PayoutRunSchedule        string `mapstructure:"PAYOUT_RUN_SCHEDULE"`
	PayoutMinAmount          int64  `mapstructure:"PAYOUT_MIN_AMOUNT"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("PROCESSOR_EVENT_QUEUE", "ledger_service.processor_events")
	viper.SetDefault("DEFAULT_CURRENCY", "PEN")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("INGEST_RATE_LIMIT_PER_MINUTE", 600)
	viper.SetDefault("PAYOUT_RUN_SCHEDULE", "") // empty disables the scheduled run
	viper.SetDefault("PAYOUT_MIN_AMOUNT", 1000)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROCESSOR_EVENT_QUEUE")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("INGEST_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAYOUT_RUN_SCHEDULE")
	_ = viper.BindEnv("PAYOUT_MIN_AMOUNT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}

	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(config.DefaultCurrency) != 3 {
		log.Printf("level=warn component=config msg=\"invalid default currency; falling back to PEN\" value=%q", config.DefaultCurrency)
		config.DefaultCurrency = "PEN"
	}

	if config.IngestRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative ingest rate limit configured; disabling limiter\" limit=%d", config.IngestRateLimitPerMinute)
		config.IngestRateLimitPerMinute = 0
	}

	if config.PayoutMinAmount <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive payout minimum configured; using default\" min_amount=%d", config.PayoutMinAmount)
		config.PayoutMinAmount = 1000
	}

	return
}
