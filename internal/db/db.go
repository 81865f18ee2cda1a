// Package db provides database connection and schema management.
package db

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storefront/internal/models"
)

// Setup opens the PostgreSQL connection described by the DB_* settings and
// runs migrations. It exits the process when the database is unreachable.
func Setup() *gorm.DB {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		viper.GetString("DB_HOST"),
		viper.GetString("DB_USER"),
		viper.GetString("DB_PASSWORD"),
		viper.GetString("DB_NAME"),
		viper.GetString("DB_PORT"),
		viper.GetString("DB_SSLMODE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	if err := Migrate(db); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}

	logrus.Info("Database initialized successfully")
	return db
}

// Migrate creates or updates every table and seeds the default shipping
// zones and weight ranges when those tables are empty.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return seedShipping(db)
}

var defaultZones = []models.ShippingZone{
	{Name: "Schweiz", Countries: "CH", Enabled: true},
	{Name: "Europa", Countries: "DE,FR,IT,AT,ES,NL,BE,PL,PT,CZ,DK,SE,FI,NO,HU,RO,HR,SK,SI,LU,LI", Enabled: true},
	{Name: "International", Countries: "*", Enabled: true},
}

func defaultRanges() []models.ShippingWeightRange {
	r := func(min, max float64, label string) models.ShippingWeightRange {
		return models.ShippingWeightRange{
			MinKg: decimal.NewFromFloat(min),
			MaxKg: decimal.NewFromFloat(max),
			Label: label,
		}
	}
	return []models.ShippingWeightRange{
		r(0, 0.5, "0–0.5 kg"),
		r(0.5, 1, "0.5–1 kg"),
		r(1, 3, "1–3 kg"),
		r(3, 5, "3–5 kg"),
		r(5, 10, "5–10 kg"),
		r(10, 9999, "10+ kg"),
	}
}

func seedShipping(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.ShippingZone{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count zones: %w", err)
	}
	if count == 0 {
		zones := make([]models.ShippingZone, len(defaultZones))
		copy(zones, defaultZones)
		if err := db.Create(&zones).Error; err != nil {
			return fmt.Errorf("seed zones: %w", err)
		}
		logrus.WithField("count", len(zones)).Info("Seeded shipping zones")
	}

	if err := db.Model(&models.ShippingWeightRange{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count weight ranges: %w", err)
	}
	if count == 0 {
		ranges := defaultRanges()
		if err := db.Create(&ranges).Error; err != nil {
			return fmt.Errorf("seed weight ranges: %w", err)
		}
		logrus.WithField("count", len(ranges)).Info("Seeded shipping weight ranges")
	}
	return nil
}
