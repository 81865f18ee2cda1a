package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"storefront/internal/models"
)

const ChannelStripe = "stripe"

// Stripe takes TWINT payments through Stripe payment intents.
type Stripe struct {
	api           *client.API
	webhookSecret string
	pmcID         string
	returnBase    string
}

// StripeConfig configures the Stripe channel. PaymentMethodConfiguration,
// when set, replaces the fixed ["twint"] method list. ReturnURL is the
// storefront page the customer lands on after paying.
type StripeConfig struct {
	SecretKey                  string
	WebhookSecret              string
	PaymentMethodConfiguration string
	ReturnURL                  string
	// Backends overrides the API endpoints, nil uses Stripe's.
	Backends *stripe.Backends
}

func NewStripe(cfg StripeConfig) *Stripe {
	api := &client.API{}
	api.Init(cfg.SecretKey, cfg.Backends)
	return &Stripe{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		pmcID:         cfg.PaymentMethodConfiguration,
		returnBase:    cfg.ReturnURL,
	}
}

func (s *Stripe) Name() string { return ChannelStripe }

// returnURL carries the order so the storefront can show its confirmation.
func (s *Stripe) returnURL(order *models.Order) string {
	q := url.Values{}
	q.Set("twint_order", order.Number)
	q.Set("twint_total", order.Total.StringFixed(2))
	sep := "?"
	if strings.Contains(s.returnBase, "?") {
		sep = "&"
	}
	return s.returnBase + sep + q.Encode()
}

func (s *Stripe) CreatePayment(ctx context.Context, order *models.Order) (*CreateResult, error) {
	amount := MinorUnits(order.Total)
	if amount <= 0 {
		return nil, fmt.Errorf("order %s has nothing to pay", order.Number)
	}
	currency := strings.ToLower(order.Currency)

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Description: stripe.String("Order " + order.Number),
	}
	if s.pmcID != "" {
		params.PaymentMethodConfiguration = stripe.String(s.pmcID)
	} else {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"twint"})
	}
	if order.Email != "" {
		params.ReceiptEmail = stripe.String(order.Email)
	}
	params.AddMetadata("order_number", order.Number)
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("%s-%d", order.Number, amount))

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		Channel:      ChannelStripe,
		ExternalID:   pi.ID,
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
		Status:       models.PaymentCreated,
		ClientSecret: pi.ClientSecret,
		ReturnURL:    s.returnURL(order),
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header and maps payment intent
// events.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, errors.New("stripe webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var kind string
	switch event.Type {
	case "payment_intent.succeeded":
		kind = WebhookSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		kind = WebhookFailed
	default:
		return &WebhookEvent{Kind: WebhookIgnored}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	ev := &WebhookEvent{Kind: kind, ExternalID: pi.ID, Amount: pi.Amount, Reason: string(event.Type)}
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		ev.Reason = pi.LastPaymentError.Msg
	}
	return ev, nil
}
