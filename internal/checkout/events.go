package checkout

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/kafka"
	"storefront/internal/models"
)

const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
)

// Event is the message published on the orders topic for every order state
// change. It carries enough for consumers to act without reading the
// database.
type Event struct {
	Type        string             `json:"type"`
	OrderNumber string             `json:"order_number"`
	Status      string             `json:"status"`
	Email       string             `json:"email"`
	Country     string             `json:"country"`
	Subtotal    decimal.Decimal    `json:"subtotal"`
	Shipping    decimal.Decimal    `json:"shipping"`
	Total       decimal.Decimal    `json:"total"`
	Currency    string             `json:"currency"`
	Channel     string             `json:"channel,omitempty"`
	Items       []models.OrderItem `json:"items,omitempty"`
	At          time.Time          `json:"at"`
}

// NewEvent builds the event of type typ for order.
func NewEvent(typ string, order *models.Order, at time.Time) Event {
	return Event{
		Type:        typ,
		OrderNumber: order.Number,
		Status:      order.Status,
		Email:       order.Email,
		Country:     order.Country,
		Subtotal:    order.Subtotal,
		Shipping:    order.Shipping,
		Total:       order.Total,
		Currency:    order.Currency,
		Channel:     order.PaymentChannel,
		Items:       order.Items,
		At:          at.UTC(),
	}
}

func (s *Service) publish(typ string, order *models.Order) {
	ev := NewEvent(typ, order, s.now())
	if s.producer == nil {
		logrus.WithFields(logrus.Fields{"event": typ, "order": order.Number}).Debug("Kafka disabled, order event not published")
		return
	}
	if err := kafka.PublishJSON(s.producer, s.topic, order.Number, ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"event": typ, "order": order.Number}).Error("Failed to publish order event")
	}
}
