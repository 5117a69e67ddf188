/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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

// Config holds all the configuration variables for the banksync-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	AuthJWTSecret                string `mapstructure:"AUTH_JWT_SECRET"`
	BankProvider                 string `mapstructure:"BANK_PROVIDER"`
	GoCardlessAPIBaseURL         string `mapstructure:"GOCARDLESS_API_BASE_URL"`
	GoCardlessAPIToken           string `mapstructure:"GOCARDLESS_API_TOKEN"`
	GoCardlessInstitutionID      string `mapstructure:"GOCARDLESS_INSTITUTION_ID"`
	DefaultCurrency              string `mapstructure:"DEFAULT_CURRENCY"`
	SyncCronSchedule             string `mapstructure:"SYNC_CRON_SCHEDULE"`
	ProviderCallTimeoutSeconds   int    `mapstructure:"PROVIDER_CALL_TIMEOUT_SECONDS"`
	ConnectionRateLimitPerMinute int    `mapstructure:"CONNECTION_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "pawpass:rate_limit")
	viper.SetDefault("BANK_PROVIDER", "gocardless")
	viper.SetDefault("GOCARDLESS_API_BASE_URL", "https://bankaccountdata.gocardless.com")
	viper.SetDefault("DEFAULT_CURRENCY", "EUR")
	viper.SetDefault("PROVIDER_CALL_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CONNECTION_RATE_LIMIT_PER_MINUTE", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BANKSYNC_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("BANK_PROVIDER")
	_ = viper.BindEnv("GOCARDLESS_API_BASE_URL")
	_ = viper.BindEnv("GOCARDLESS_API_TOKEN")
	_ = viper.BindEnv("GOCARDLESS_INSTITUTION_ID")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("SYNC_CRON_SCHEDULE")
	_ = viper.BindEnv("PROVIDER_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CONNECTION_RATE_LIMIT_PER_MINUTE")

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
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BANKSYNC_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "pawpass:rate_limit"
	}
	config.BankProvider = strings.ToLower(strings.TrimSpace(config.BankProvider))
	if config.BankProvider == "" {
		config.BankProvider = "gocardless"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "EUR"
	}
	config.SyncCronSchedule = strings.TrimSpace(config.SyncCronSchedule)

	if config.ProviderCallTimeoutSeconds <= 0 {
		config.ProviderCallTimeoutSeconds = 30
	}
	if config.ConnectionRateLimitPerMinute <= 0 {
		config.ConnectionRateLimitPerMinute = 5
	}

	return
}
