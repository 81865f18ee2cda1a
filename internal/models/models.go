package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func init() {
	// Prices go out as JSON numbers, the storefront does arithmetic on them.
	decimal.MarshalJSONWithoutQuotes = true
}

type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"size:120;uniqueIndex;not null" json:"slug"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type Product struct {
	ID           uint            `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	Stock        int             `gorm:"not null;default:0" json:"stock"`
	WeightKg     decimal.Decimal `gorm:"type:decimal(5,3);not null;default:0.5" json:"weight_kg"`
	Images       datatypes.JSON  `json:"-"`
	HeatLevel    int             `gorm:"not null;default:0" json:"heat_level"`
	Rating       float64         `gorm:"not null;default:0" json:"rating"`
	Badge        string          `gorm:"size:60" json:"badge"`
	Origin       string          `gorm:"size:120" json:"origin"`
	Supplier     string          `gorm:"size:120" json:"supplier"`
	CategorySlug string          `gorm:"size:120;index" json:"category"`
	CreatedAt    time.Time       `json:"-"`
	UpdatedAt    time.Time       `json:"-"`
}

type ShippingZone struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:100;not null" json:"name"`
	Countries string `gorm:"type:text;not null" json:"countries"`
	Enabled   bool   `gorm:"not null;default:true" json:"enabled"`
}

type ShippingWeightRange struct {
	ID    uint            `gorm:"primaryKey" json:"id"`
	MinKg decimal.Decimal `gorm:"type:decimal(8,3);not null" json:"min_kg"`
	MaxKg decimal.Decimal `gorm:"type:decimal(8,3);not null" json:"max_kg"`
	Label string          `gorm:"size:50;not null" json:"label"`
}

type ShippingRate struct {
	ID      uint            `gorm:"primaryKey" json:"-"`
	ZoneID  uint            `gorm:"uniqueIndex:zone_range;not null" json:"zone_id"`
	RangeID uint            `gorm:"uniqueIndex:zone_range;not null" json:"range_id"`
	Price   decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"price"`
}

const (
	AnnouncementGeneral = "general"
	AnnouncementProduct = "product"
)

type Announcement struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Type       string    `gorm:"size:20;not null;default:general" json:"type"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Subtitle   *string   `gorm:"size:500" json:"subtitle"`
	Image1     *string   `gorm:"size:500" json:"image1"`
	Image2     *string   `gorm:"size:500" json:"image2"`
	ProductURL *string   `gorm:"size:500" json:"product_url"`
	ShowOnce   bool      `gorm:"not null;default:false" json:"show_once"`
	IsActive   bool      `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderCancelled = "cancelled"
)

type Order struct {
	ID             uint            `gorm:"primaryKey" json:"-"`
	Number         string          `gorm:"size:40;uniqueIndex;not null" json:"order_number"`
	Status         string          `gorm:"size:20;not null;index" json:"status"`
	Customer       datatypes.JSON  `json:"customer"`
	Email          string          `gorm:"size:255" json:"email"`
	Country        string          `gorm:"size:8" json:"country"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	Shipping       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"shipping"`
	Total          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
	WeightKg       decimal.Decimal `gorm:"type:decimal(8,3);not null" json:"weight_kg"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	PaymentChannel string          `gorm:"size:20" json:"payment_channel,omitempty"`
	PaymentRef     string          `gorm:"size:120" json:"-"`
	Items          []OrderItem     `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"-"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	OrderID   uint            `gorm:"index;not null" json:"-"`
	ProductID uint            `gorm:"not null" json:"product_id"`
	Name      string          `gorm:"size:255" json:"name"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	LineTotal decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"line_total"`
}

const (
	PaymentPending   = "pending"
	PaymentCreated   = "created"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// PaymentRecord tracks one attempt to pay an order through a channel.
// Amount is stored in minor units.
type PaymentRecord struct {
	ID          uint           `gorm:"primaryKey"`
	OrderNumber string         `gorm:"size:40;index;not null"`
	Channel     string         `gorm:"size:20;not null"`
	ExternalID  string         `gorm:"size:120;index"`
	Amount      int64          `gorm:"not null"`
	Currency    string         `gorm:"size:3;not null"`
	Status      string         `gorm:"size:20;not null"`
	Context     datatypes.JSON `gorm:"column:business_context"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// All lists every model owned by the storefront schema.
func All() []interface{} {
	return []interface{}{
		&Category{},
		&Product{},
		&ShippingZone{},
		&ShippingWeightRange{},
		&ShippingRate{},
		&Announcement{},
		&Order{},
		&OrderItem{},
		&PaymentRecord{},
	}
}
