/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 * - go.uber.org/zap: Warnings about ignored or coerced values.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
)

var (
	defaultPlaidProducts     = []string{"auth", "transactions", "identity"}
	defaultPlaidCountryCodes = []string{"US", "CA", "GB"}
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	AppEnv               string `mapstructure:"APP_ENV"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`

	AuthJWTSecret      string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWTAudience    string `mapstructure:"AUTH_JWT_AUDIENCE"`
	AuthJWTIssuer      string `mapstructure:"AUTH_JWT_ISSUER"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	PlaidClientID        string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret          string `mapstructure:"PLAID_SECRET"`
	PlaidEnv             string `mapstructure:"PLAID_ENV"`
	PlaidClientName      string `mapstructure:"PLAID_CLIENT_NAME"`
	PlaidProductsRaw     string `mapstructure:"PLAID_PRODUCTS"`
	PlaidCountryCodesRaw string `mapstructure:"PLAID_COUNTRY_CODES"`

	DwollaKey                   string `mapstructure:"DWOLLA_KEY"`
	DwollaSecret                string `mapstructure:"DWOLLA_SECRET"`
	DwollaEnv                   string `mapstructure:"DWOLLA_ENV"`
	DwollaBaseURL               string `mapstructure:"DWOLLA_BASE_URL"`
	DestinationFundingSourceURL string `mapstructure:"DWOLLA_DESTINATION_FUNDING_SOURCE_URL"`
	DestinationFundingSourceID  string `mapstructure:"DWOLLA_DESTINATION_FUNDING_SOURCE_ID"`
	AccessTokenEncryptionKey    string `mapstructure:"ACCESS_TOKEN_ENCRYPTION_KEY"`
	RemoteCallTimeoutSeconds    int    `mapstructure:"REMOTE_CALL_TIMEOUT"`
	ReconcileSchedule           string `mapstructure:"RECONCILE_SCHEDULE"`
	LinkRateLimitPerMinute      int    `mapstructure:"LINK_RATE_LIMIT_PER_MINUTE"`
	TransferRateLimitPerMinute  int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`

	// Derived values, populated by LoadConfig.
	PlaidBaseURL      string   `mapstructure:"-"`
	PlaidProducts     []string `mapstructure:"-"`
	PlaidCountryCodes []string `mapstructure:"-"`
}

// RemoteCallTimeout bounds every call to Plaid or Dwolla.
func (c Config) RemoteCallTimeout() time.Duration {
	return time.Duration(c.RemoteCallTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins, false)
}

// IsDevelopment reports whether APP_ENV selects development logging.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ubank:rate_limit")
	viper.SetDefault("EVENT_EXCHANGE", "ubank.events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("PLAID_ENV", "sandbox")
	viper.SetDefault("PLAID_CLIENT_NAME", "U-Bank")
	viper.SetDefault("DWOLLA_ENV", "sandbox")
	viper.SetDefault("REMOTE_CALL_TIMEOUT", 15)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	viper.SetDefault("LINK_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 20)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("AUTH_JWT_SECRET", "AUTH_JWT_SECRET", "SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("AUTH_JWT_AUDIENCE")
	_ = viper.BindEnv("AUTH_JWT_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PLAID_CLIENT_ID")
	_ = viper.BindEnv("PLAID_SECRET")
	_ = viper.BindEnv("PLAID_ENV")
	_ = viper.BindEnv("PLAID_CLIENT_NAME")
	_ = viper.BindEnv("PLAID_PRODUCTS")
	_ = viper.BindEnv("PLAID_COUNTRY_CODES")
	_ = viper.BindEnv("DWOLLA_KEY")
	_ = viper.BindEnv("DWOLLA_SECRET")
	_ = viper.BindEnv("DWOLLA_ENV")
	_ = viper.BindEnv("DWOLLA_BASE_URL")
	_ = viper.BindEnv("DWOLLA_DESTINATION_FUNDING_SOURCE_URL")
	_ = viper.BindEnv("DWOLLA_DESTINATION_FUNDING_SOURCE_ID")
	_ = viper.BindEnv("ACCESS_TOKEN_ENCRYPTION_KEY")
	_ = viper.BindEnv("REMOTE_CALL_TIMEOUT")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("LINK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Warn("failed to read config file; using environment values", zap.String("component", "config"), zap.Error(err))
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ubank:rate_limit"
	}
	if strings.TrimSpace(config.EventExchange) == "" {
		config.EventExchange = "ubank.events"
	}

	config.PlaidBaseURL = plaidclient.BaseURLForEnv(config.PlaidEnv)
	config.PlaidProducts = splitList(config.PlaidProductsRaw, false)
	if len(config.PlaidProducts) == 0 {
		config.PlaidProducts = append([]string(nil), defaultPlaidProducts...)
	}
	config.PlaidCountryCodes = splitList(config.PlaidCountryCodesRaw, true)
	if len(config.PlaidCountryCodes) == 0 {
		config.PlaidCountryCodes = append([]string(nil), defaultPlaidCountryCodes...)
	}
	if strings.TrimSpace(config.PlaidClientName) == "" {
		config.PlaidClientName = "U-Bank"
	}

	config.DwollaBaseURL = strings.TrimRight(strings.TrimSpace(config.DwollaBaseURL), "/")
	if config.DwollaBaseURL == "" {
		config.DwollaBaseURL = dwollaclient.BaseURLForEnv(config.DwollaEnv)
	}
	config.DestinationFundingSourceURL = strings.TrimSpace(config.DestinationFundingSourceURL)
	if config.DestinationFundingSourceURL == "" {
		if id := strings.TrimSpace(config.DestinationFundingSourceID); id != "" {
			config.DestinationFundingSourceURL = config.DwollaBaseURL + "/funding-sources/" + id
		}
	}

	if config.RemoteCallTimeoutSeconds <= 0 {
		zap.L().Warn("non-positive remote call timeout configured; using default",
			zap.String("component", "config"), zap.Int("remote_call_timeout", config.RemoteCallTimeoutSeconds))
		config.RemoteCallTimeoutSeconds = 15
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "@every 5m"
	}
	if config.LinkRateLimitPerMinute <= 0 {
		config.LinkRateLimitPerMinute = 10
	}
	if config.TransferRateLimitPerMinute <= 0 {
		config.TransferRateLimitPerMinute = 20
	}

	return
}

// Validate reports every required setting that is missing.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"AUTH_JWT_SECRET", c.AuthJWTSecret},
		{"PLAID_CLIENT_ID", c.PlaidClientID},
		{"PLAID_SECRET", c.PlaidSecret},
		{"DWOLLA_KEY", c.DwollaKey},
		{"DWOLLA_SECRET", c.DwollaSecret},
		{"DWOLLA_DESTINATION_FUNDING_SOURCE_URL", c.DestinationFundingSourceURL},
		{"ACCESS_TOKEN_ENCRYPTION_KEY", c.AccessTokenEncryptionKey},
	}

	var errs []error
	for _, setting := range required {
		if strings.TrimSpace(setting.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", setting.key))
		}
	}
	return errors.Join(errs...)
}

func splitList(raw string, upper bool) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		values = append(values, part)
	}
	return values
}
