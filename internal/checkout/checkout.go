// Package checkout prices carts, places orders and moves them through their
// pending -> paid | cancelled lifecycle.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"storefront/internal/models"
	"storefront/internal/shipping"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("order not found")
)

type Service struct {
	db       *gorm.DB
	shipping *shipping.Service
	producer sarama.SyncProducer
	topic    string
	currency string
	now      func() time.Time
}

// NewService wires checkout to its shipping calculator. Order events go to
// topic through producer; a nil producer only logs them.
func NewService(db *gorm.DB, ship *shipping.Service, producer sarama.SyncProducer, topic, currency string) *Service {
	return &Service{
		db:       db,
		shipping: ship,
		producer: producer,
		topic:    topic,
		currency: strings.ToUpper(currency),
		now:      time.Now,
	}
}

type CartItem struct {
	ProductID uint `json:"product_id" validate:"required"`
	Quantity  int  `json:"quantity" validate:"required,min=1,max=999"`
}

// Customer is the shipping and contact data captured at checkout. Country is
// an ISO code or OTHER for the international zone.
type Customer struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone,omitempty" validate:"max=40"`
	Street  string `json:"street" validate:"required,max=200"`
	Zip     string `json:"zip" validate:"required,max=20"`
	City    string `json:"city" validate:"required,max=120"`
	Country string `json:"country" validate:"required,len=2|eq_ignore_case=OTHER"`
	Note    string `json:"note,omitempty" validate:"max=1000"`
}

type QuoteLine struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
}

type CartQuote struct {
	Lines    []QuoteLine     `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	WeightKg decimal.Decimal `json:"weight_kg"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Country  string          `json:"country"`
	Zone     string          `json:"zone"`
	Range    string          `json:"range"`
	Currency string          `json:"currency"`
}

// mergeItems sums quantities of repeated products, keeping first-seen order.
func mergeItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	at := make(map[uint]int, len(items))
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, it.ProductID)
		}
		if i, ok := at[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		at[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// Quote prices items for delivery to country against current prices, stock
// and shipping rates.
func (s *Service) Quote(ctx context.Context, items []CartItem, country string) (*CartQuote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(merged))
	for _, it := range merged {
		ids = append(ids, it.ProductID)
	}
	var products []models.Product
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}
	byID := make(map[uint]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	q := &CartQuote{
		Lines:    make([]QuoteLine, 0, len(merged)),
		Subtotal: decimal.Zero,
		WeightKg: decimal.Zero,
		Country:  shipping.NormalizeCountry(country),
		Currency: s.currency,
	}
	for _, it := range merged {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownProduct, it.ProductID)
		}
		if it.Quantity > p.Stock {
			return nil, fmt.Errorf("%w: %s (%d available)", ErrInsufficientStock, p.Name, p.Stock)
		}
		qty := decimal.NewFromInt(int64(it.Quantity))
		line := QuoteLine{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
			LineTotal: p.Price.Mul(qty).Round(2),
			WeightKg:  p.WeightKg.Mul(qty),
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.LineTotal)
		q.WeightKg = q.WeightKg.Add(line.WeightKg)
	}

	ship, err := s.shipping.Calculate(ctx, q.Country, q.WeightKg)
	if err != nil {
		return nil, err
	}
	q.Shipping = ship.Price
	q.Zone = ship.Zone
	q.Range = ship.Range
	q.Total = q.Subtotal.Add(q.Shipping)
	return q, nil
}

// newOrderNumber returns ORD-YYYYMMDD-XXXXXXXX.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

// PlaceOrder prices the cart and stores it as a pending order. Stock is only
// reserved once the order is paid.
func (s *Service) PlaceOrder(ctx context.Context, customer Customer, items []CartItem) (*models.Order, error) {
	customer.Country = strings.ToUpper(strings.TrimSpace(customer.Country))
	q, err := s.Quote(ctx, items, customer.Country)
	if err != nil {
		return nil, err
	}
	info, err := json.Marshal(customer)
	if err != nil {
		return nil, fmt.Errorf("encode customer: %w", err)
	}

	now := s.now()
	order := &models.Order{
		Number:    newOrderNumber(now),
		Status:    models.OrderPending,
		Customer:  datatypes.JSON(info),
		Email:     customer.Email,
		Country:   q.Country,
		Subtotal:  q.Subtotal,
		Shipping:  q.Shipping,
		Total:     q.Total,
		WeightKg:  q.WeightKg,
		Currency:  q.Currency,
		Items:     make([]models.OrderItem, 0, len(q.Lines)),
		CreatedAt: now,
	}
	for _, l := range q.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal,
		})
	}

	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"order": order.Number,
		"total": order.Total.StringFixed(2),
		"items": len(order.Items),
	}).Info("Order placed")
	s.publish(EventOrderCreated, order)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id")
	}).Where("number = ?", number).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load order %s: %w", number, err)
	}
	return &order, nil
}

// AssignPayment records which channel and provider reference an order is
// being paid through.
func (s *Service) AssignPayment(ctx context.Context, number, channel, ref string) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("number = ?", number).
		Updates(map[string]interface{}{"payment_channel": channel, "payment_ref": ref})
	if res.Error != nil {
		return fmt.Errorf("assign payment to %s: %w", number, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid settles an order: stock is taken for every line and the order
// becomes paid. A cancelled order can still be settled when its stock is
// available. Settling a paid order again is a no-op.
func (s *Service) MarkPaid(ctx context.Context, number, channel, externalID string) (*models.Order, error) {
	var settled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&models.Order{}).
			Where("number = ? AND status IN ?", number, []string{models.OrderPending, models.OrderCancelled}).
			Updates(map[string]interface{}{
				"status":          models.OrderPaid,
				"paid_at":         now,
				"payment_channel": channel,
				"payment_ref":     externalID,
			})
		if res.Error != nil {
			return fmt.Errorf("mark order %s paid: %w", number, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		settled = true

		var items []models.OrderItem
		if err := tx.Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("orders.number = ?", number).Find(&items).Error; err != nil {
			return fmt.Errorf("load order items: %w", err)
		}
		// Lock rows in a stable order.
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", it.ProductID, it.Quantity).
				Update("stock", gorm.Expr("stock - ?", it.Quantity))
			if res.Error != nil {
				return fmt.Errorf("take stock for product %d: %w", it.ProductID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: product %d", ErrInsufficientStock, it.ProductID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	if settled {
		logrus.WithFields(logrus.Fields{
			"order":   number,
			"channel": channel,
			"ref":     externalID,
		}).Info("Order paid")
		s.publish(EventOrderPaid, order)
	}
	return order, nil
}

// ExpireStale cancels pending orders created more than ttl ago and returns
// how many were cancelled.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	db := s.db.WithContext(ctx)

	var stale []models.Order
	if err := db.Where("status = ? AND created_at < ?", models.OrderPending, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("find stale orders: %w", err)
	}

	cancelled := 0
	for i := range stale {
		o := &stale[i]
		res := db.Model(&models.Order{}).
			Where("id = ? AND status = ?", o.ID, models.OrderPending).
			Update("status", models.OrderCancelled)
		if res.Error != nil {
			return cancelled, fmt.Errorf("cancel order %s: %w", o.Number, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		o.Status = models.OrderCancelled
		cancelled++
		s.publish(EventOrderCancelled, o)
	}

	if cancelled > 0 {
		logrus.WithFields(logrus.Fields{
			"cancelled": cancelled,
			"cutoff":    cutoff.Format(time.RFC3339),
		}).Info("Stale orders cancelled")
	}
	return cancelled, nil
}
