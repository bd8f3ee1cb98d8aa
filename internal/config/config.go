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

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	StripeAPIBaseURL             string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeAPIKey                 string `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret          string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	FalAPIBaseURL                string `mapstructure:"FAL_API_BASE_URL"`
	FalAPIKey                    string `mapstructure:"FAL_API_KEY"`
	FalModel                     string `mapstructure:"FAL_MODEL"`
	FalTimeoutSeconds            int    `mapstructure:"FAL_TIMEOUT_SECONDS"`
	AuthJWKSURL                  string `mapstructure:"AUTH_JWKS_URL"`
	AllowedOrigins               string `mapstructure:"ALLOWED_ORIGINS"`
	GenerationCostCredits        int64  `mapstructure:"GENERATION_COST_CREDITS"`
	SubscriptionMonthlyCredits   int64  `mapstructure:"SUBSCRIPTION_MONTHLY_CREDITS"`
	GenerationRateLimitPerMinute int    `mapstructure:"GENERATION_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("FAL_API_BASE_URL", "https://fal.run")
	viper.SetDefault("FAL_MODEL", "fal-ai/nano-banana-pro")
	viper.SetDefault("FAL_TIMEOUT_SECONDS", 120)
	viper.SetDefault("GENERATION_COST_CREDITS", 10)
	viper.SetDefault("SUBSCRIPTION_MONTHLY_CREDITS", 500)
	viper.SetDefault("GENERATION_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BILLING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_API_KEY", "STRIPE_API_KEY", "STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("FAL_API_BASE_URL")
	_ = viper.BindEnv("FAL_API_KEY", "FAL_API_KEY", "FAL_KEY")
	_ = viper.BindEnv("FAL_MODEL")
	_ = viper.BindEnv("FAL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("GENERATION_COST_CREDITS")
	_ = viper.BindEnv("SUBSCRIPTION_MONTHLY_CREDITS")
	_ = viper.BindEnv("GENERATION_RATE_LIMIT_PER_MINUTE")

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

	// Platform-injected PORT wins over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.StripeAPIKey) == "" {
		config.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
	}
	if strings.TrimSpace(config.FalAPIKey) == "" {
		config.FalAPIKey = strings.TrimSpace(os.Getenv("FAL_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "billing:rate_limit"
	}

	if config.GenerationCostCredits <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive generation cost configured; using default\" cost=%d", config.GenerationCostCredits)
		config.GenerationCostCredits = 10
	}
	if config.SubscriptionMonthlyCredits <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive monthly credit allotment configured; using default\" credits=%d", config.SubscriptionMonthlyCredits)
		config.SubscriptionMonthlyCredits = 500
	}
	if config.FalTimeoutSeconds <= 0 {
		config.FalTimeoutSeconds = 120
	}

	return
}

// AllowedOriginList splits the comma-separated ALLOWED_ORIGINS value.
func (c Config) AllowedOriginList() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
