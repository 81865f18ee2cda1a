// Package payment starts payments for orders through external providers
// and settles orders once a provider confirms the money arrived.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"storefront/internal/checkout"
	"storefront/internal/models"
)

var (
	ErrUnknownChannel = errors.New("payment channel not available")
	ErrUnknownPayment = errors.New("payment not found")
	ErrAlreadyPaid    = errors.New("order is already paid")
	ErrAmountMismatch = errors.New("paid amount does not match")
	ErrNotCompleted   = errors.New("payment not completed")
	ErrBadSignature   = errors.New("invalid webhook signature")
)

// CreateResult is what the storefront needs to continue a payment with the
// provider.
type CreateResult struct {
	Channel      string `json:"channel"`
	ExternalID   string `json:"external_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ReturnURL    string `json:"return_url,omitempty"`
}

// Channel is a payment provider.
type Channel interface {
	Name() string
	CreatePayment(ctx context.Context, order *models.Order) (*CreateResult, error)
}

// Capturer is implemented by channels where the shop collects an approved
// payment after the customer returns.
type Capturer interface {
	Capture(ctx context.Context, externalID string) error
}

const (
	WebhookSucceeded = "succeeded"
	WebhookFailed    = "failed"
	WebhookIgnored   = "ignored"
)

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	Kind       string
	ExternalID string
	Amount     int64
	Reason     string
}

// WebhookVerifier is implemented by channels that push notifications.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// MinorUnits converts an amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type Registry struct {
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, c := range channels {
		r.channels[c.Name()] = c
	}
	return r
}

func (r *Registry) Get(name string) (Channel, bool) {
	c, ok := r.channels[name]
	return c, ok
}

// Names lists the configured channels in alphabetical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type Service struct {
	db       *gorm.DB
	orders   *checkout.Service
	channels *Registry
	now      func() time.Time
}

func NewService(db *gorm.DB, orders *checkout.Service, channels *Registry) *Service {
	return &Service{db: db, orders: orders, channels: channels, now: time.Now}
}

func (s *Service) Channels() []string { return s.channels.Names() }

// Start opens a payment for order number through channel and records it.
func (s *Service) Start(ctx context.Context, number, channel string) (*CreateResult, error) {
	ch, ok := s.channels.Get(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	order, err := s.orders.GetOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderPaid {
		return nil, ErrAlreadyPaid
	}

	res, err := ch.CreatePayment(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create %s payment: %w", channel, err)
	}

	businessContext, err := json.Marshal(map[string]interface{}{
		"order_number": order.Number,
		"email":        order.Email,
		"total":        order.Total,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment context: %w", err)
	}
	rec := models.PaymentRecord{
		OrderNumber: order.Number,
		Channel:     channel,
		ExternalID:  res.ExternalID,
		Amount:      res.Amount,
		Currency:    res.Currency,
		Status:      models.PaymentCreated,
		Context:     datatypes.JSON(businessContext),
	}
	// Providers may hand back the same id for a repeated request.
	var stored models.PaymentRecord
	err = s.db.WithContext(ctx).
		Where(models.PaymentRecord{Channel: channel, ExternalID: res.ExternalID}).
		Attrs(rec).
		FirstOrCreate(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("save payment record: %w", err)
	}
	if err := s.orders.AssignPayment(ctx, order.Number, channel, res.ExternalID); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order":       order.Number,
		"channel":     channel,
		"external_id": res.ExternalID,
		"amount":      res.Amount,
	}).Info("Payment created")
	return res, nil
}

func (s *Service) record(ctx context.Context, channel, externalID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("channel = ? AND external_id = ?", channel, externalID).
		Order("id DESC").Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrUnknownPayment, channel, externalID)
		}
		return nil, fmt.Errorf("load payment record: %w", err)
	}
	return &rec, nil
}

// Complete settles the order behind a confirmed payment. Confirming the same
// payment twice returns the already paid order.
func (s *Service) Complete(ctx context.Context, channel, externalID string) (*models.Order, error) {
	rec, err := s.record(ctx, channel, externalID)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.PaymentCompleted {
		return s.orders.GetOrder(ctx, rec.OrderNumber)
	}

	order, err := s.orders.MarkPaid(ctx, rec.OrderNumber, channel, externalID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(rec).Updates(map[string]interface{}{
		"status":       models.PaymentCompleted,
		"completed_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("complete payment record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"order":       rec.OrderNumber,
		"channel":     channel,
		"external_id": externalID,
	}).Info("Payment completed")
	return order, nil
}

// Fail marks a payment as failed. The order stays pending so the customer can
// retry.
func (s *Service) Fail(ctx context.Context, channel, externalID, reason string) error {
	rec, err := s.record(ctx, channel, externalID)
	if err != nil {
		return err
	}
	if rec.Status == models.PaymentCompleted {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(rec).Update("status", models.PaymentFailed).Error; err != nil {
		return fmt.Errorf("fail payment record: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"order":       rec.OrderNumber,
		"channel":     channel,
		"external_id": externalID,
		"reason":      reason,
	}).Warn("Payment failed")
	return nil
}

// HandleWebhook verifies a provider notification and applies it.
func (s *Service) HandleWebhook(ctx context.Context, channel string, payload []byte, signature string) (*WebhookEvent, error) {
	ch, ok := s.channels.Get(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	verifier, ok := ch.(WebhookVerifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no webhooks", ErrUnknownChannel, channel)
	}

	ev, err := verifier.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	switch ev.Kind {
	case WebhookSucceeded:
		rec, err := s.record(ctx, channel, ev.ExternalID)
		if err != nil {
			return ev, err
		}
		if ev.Amount != 0 && ev.Amount != rec.Amount {
			if ferr := s.Fail(ctx, channel, ev.ExternalID, "amount mismatch"); ferr != nil {
				logrus.WithError(ferr).Error("Failed to mark payment failed")
			}
			return ev, fmt.Errorf("%w: got %d, expected %d", ErrAmountMismatch, ev.Amount, rec.Amount)
		}
		_, err = s.Complete(ctx, channel, ev.ExternalID)
		return ev, err
	case WebhookFailed:
		return ev, s.Fail(ctx, channel, ev.ExternalID, ev.Reason)
	}
	return ev, nil
}

// CaptureReturn collects an approved payment when the customer comes back
// from the provider, then settles the order.
func (s *Service) CaptureReturn(ctx context.Context, channel, externalID string) (*models.Order, error) {
	ch, ok := s.channels.Get(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	capturer, ok := ch.(Capturer)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not capture", ErrUnknownChannel, channel)
	}

	rec, err := s.record(ctx, channel, externalID)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.PaymentCompleted {
		return s.orders.GetOrder(ctx, rec.OrderNumber)
	}

	if err := capturer.Capture(ctx, externalID); err != nil {
		if ferr := s.Fail(ctx, channel, externalID, err.Error()); ferr != nil {
			logrus.WithError(ferr).Error("Failed to mark payment failed")
		}
		return nil, err
	}
	return s.Complete(ctx, channel, externalID)
}
