package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Load initializes configuration from environment variables and .env file.
func Load() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		logrus.WithError(err).Warn("Failed to read .env file, using environment variables")
	}

	logrus.Info("Configuration loaded successfully")
	return nil
}

func setDefaults() {
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("GRPC_PORT", "8081")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CORS_ORIGINS", "*")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_NAME", "storefront")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("UPLOAD_DIR", "upload")
	viper.SetDefault("UPLOAD_BASE_URL", "/upload/")
	viper.SetDefault("ANNOUNCEMENT_CACHE_TTL", 5*time.Second)

	viper.SetDefault("KAFKA_ENABLED", false)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_ORDERS_TOPIC", "ORDER_EVENTS")
	viper.SetDefault("KAFKA_PRODUCTS_TOPIC", "PRODUCTS")

	viper.SetDefault("CURRENCY", "CHF")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	viper.SetDefault("API_BASE_URL", "http://localhost:8080")
	viper.SetDefault("PAYPAL_SANDBOX", true)
	viper.SetDefault("ORDER_PENDING_TTL", 2*time.Hour)
	viper.SetDefault("ORDER_REAPER_SPEC", "@every 10m")

	viper.SetDefault("SMTP_HOST", "sandbox.smtp.mailtrap.io")
	viper.SetDefault("SMTP_PORT", "2525")
}
