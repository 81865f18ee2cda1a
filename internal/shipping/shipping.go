// Package shipping resolves shipping costs from the zone x weight-range rate
// table and manages that table.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"storefront/internal/models"
)

const (
	// DefaultCountry is used when a request names no country.
	DefaultCountry = "CH"
	// OtherCountry always resolves to the wildcard zone.
	OtherCountry = "OTHER"

	wildcard = "*"
)

// DefaultWeightKg is used when a request carries no weight.
var DefaultWeightKg = decimal.NewFromFloat(0.5)

var (
	ErrNoZone  = errors.New("no active shipping zone")
	ErrNoRange = errors.New("no weight range found")
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Quote is the resolved shipping price for a destination and parcel weight.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	Zone  string          `json:"zone"`
	Range string          `json:"range"`
}

type Settings struct {
	Zones  []models.ShippingZone        `json:"zones"`
	Ranges []models.ShippingWeightRange `json:"ranges"`
	Rates  []models.ShippingRate        `json:"rates"`
}

type ZoneToggle struct {
	ID      uint `json:"id" validate:"required"`
	Enabled bool `json:"enabled"`
}

type RateInput struct {
	ZoneID  uint            `json:"zone_id" validate:"required"`
	RangeID uint            `json:"range_id" validate:"required"`
	Price   decimal.Decimal `json:"price"`
}

// NormalizeCountry upper-cases and trims a country code, defaulting to CH.
func NormalizeCountry(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	if c == "" {
		return DefaultCountry
	}
	return c
}

// MatchZone picks the zone for country among zones, which must be the
// enabled zones in id order. An explicit country list match wins; the
// wildcard zone catches OTHER and everything unmatched.
func MatchZone(zones []models.ShippingZone, country string) *models.ShippingZone {
	var fallback *models.ShippingZone
	for i := range zones {
		z := &zones[i]
		if strings.TrimSpace(z.Countries) == wildcard {
			if fallback == nil {
				fallback = z
			}
			continue
		}
		if country == OtherCountry {
			continue
		}
		for _, c := range strings.Split(z.Countries, ",") {
			if strings.EqualFold(strings.TrimSpace(c), country) {
				return z
			}
		}
	}
	return fallback
}

// MatchRange picks the bracket with min <= w < max, lowest min first. When
// the weight is beyond every bracket the heaviest one applies.
func MatchRange(ranges []models.ShippingWeightRange, w decimal.Decimal) *models.ShippingWeightRange {
	var match, heaviest *models.ShippingWeightRange
	for i := range ranges {
		r := &ranges[i]
		if r.MinKg.LessThanOrEqual(w) && r.MaxKg.GreaterThan(w) {
			if match == nil || r.MinKg.LessThan(match.MinKg) {
				match = r
			}
		}
		if heaviest == nil || r.MinKg.GreaterThan(heaviest.MinKg) {
			heaviest = r
		}
	}
	if match != nil {
		return match
	}
	return heaviest
}

// Calculate quotes shipping for a parcel of weightKg sent to country.
// A zone/range pair without a configured rate ships for free.
func (s *Service) Calculate(ctx context.Context, country string, weightKg decimal.Decimal) (*Quote, error) {
	country = NormalizeCountry(country)
	db := s.db.WithContext(ctx)

	var zones []models.ShippingZone
	if err := db.Where("enabled = ?", true).Order("id").Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	zone := MatchZone(zones, country)
	if zone == nil {
		return nil, fmt.Errorf("%w for country: %s", ErrNoZone, country)
	}

	var ranges []models.ShippingWeightRange
	if err := db.Order("min_kg").Find(&ranges).Error; err != nil {
		return nil, fmt.Errorf("load weight ranges: %w", err)
	}
	rng := MatchRange(ranges, weightKg)
	if rng == nil {
		return nil, ErrNoRange
	}

	price := decimal.Zero
	var rate models.ShippingRate
	err := db.Where("zone_id = ? AND range_id = ?", zone.ID, rng.ID).Take(&rate).Error
	switch {
	case err == nil:
		price = rate.Price
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("load rate: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"country":   country,
		"weight_kg": weightKg.String(),
		"zone":      zone.Name,
		"range":     rng.Label,
		"price":     price.StringFixed(2),
	}).Debug("Shipping calculated")

	return &Quote{Price: price, Zone: zone.Name, Range: rng.Label}, nil
}

// Settings returns the whole rate table.
func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	db := s.db.WithContext(ctx)
	out := &Settings{
		Zones:  []models.ShippingZone{},
		Ranges: []models.ShippingWeightRange{},
		Rates:  []models.ShippingRate{},
	}
	if err := db.Order("id").Find(&out.Zones).Error; err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	if err := db.Order("min_kg").Find(&out.Ranges).Error; err != nil {
		return nil, fmt.Errorf("load weight ranges: %w", err)
	}
	if err := db.Order("zone_id, range_id").Find(&out.Rates).Error; err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	return out, nil
}

// SaveSettings updates the enabled flag of the given zones and replaces the
// rate table. Zone names and country lists are fixed; only positive rates
// are stored.
func (s *Service) SaveSettings(ctx context.Context, zones []ZoneToggle, rates []RateInput) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, z := range zones {
			if err := tx.Model(&models.ShippingZone{}).Where("id = ?", z.ID).
				Update("enabled", z.Enabled).Error; err != nil {
				return fmt.Errorf("update zone %d: %w", z.ID, err)
			}
		}

		if err := tx.Where("1 = 1").Delete(&models.ShippingRate{}).Error; err != nil {
			return fmt.Errorf("clear rates: %w", err)
		}

		// Last entry wins for a repeated zone/range pair.
		keep := make([]models.ShippingRate, 0, len(rates))
		at := make(map[[2]uint]int, len(rates))
		for _, r := range rates {
			key := [2]uint{r.ZoneID, r.RangeID}
			if i, dup := at[key]; dup {
				keep[i].Price = r.Price.Round(2)
				continue
			}
			at[key] = len(keep)
			keep = append(keep, models.ShippingRate{ZoneID: r.ZoneID, RangeID: r.RangeID, Price: r.Price.Round(2)})
		}
		n := 0
		for _, r := range keep {
			if r.Price.IsPositive() {
				keep[n] = r
				n++
			}
		}
		keep = keep[:n]
		if len(keep) == 0 {
			return nil
		}
		if err := tx.Create(&keep).Error; err != nil {
			return fmt.Errorf("insert rates: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"zones": len(zones),
		"rates": len(rates),
	}).Info("Shipping settings saved")
	return nil
}
