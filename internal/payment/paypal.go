package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/plutov/paypal/v4"

	"storefront/internal/models"
)

const ChannelPayPal = "paypal"

// PayPal takes payments through PayPal checkout orders. The customer
// approves the order on PayPal and is sent back to ReturnURL, where the
// payment is captured.
type PayPal struct {
	client    *paypal.Client
	returnURL string
	cancelURL string

	mu sync.Mutex
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	// APIBase is paypal.APIBaseSandBox, paypal.APIBaseLive or a test server.
	APIBase   string
	ReturnURL string
	CancelURL string
}

func NewPayPal(cfg PayPalConfig) (*PayPal, error) {
	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}
	return &PayPal{client: c, returnURL: cfg.ReturnURL, cancelURL: cfg.CancelURL}, nil
}

func (p *PayPal) Name() string { return ChannelPayPal }

// authorize fetches an access token on first use. The client refreshes it
// on its own afterwards.
func (p *PayPal) authorize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client.Token != nil {
		return nil
	}
	if _, err := p.client.GetAccessToken(ctx); err != nil {
		return fmt.Errorf("paypal access token: %w", err)
	}
	return nil
}

func withOrder(base, number string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + url.Values{"order": {number}}.Encode()
}

func (p *PayPal) CreatePayment(ctx context.Context, order *models.Order) (*CreateResult, error) {
	if err := p.authorize(ctx); err != nil {
		return nil, err
	}
	amount := MinorUnits(order.Total)
	currency := strings.ToUpper(order.Currency)

	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: order.Number,
		Description: "Order " + order.Number,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    order.Total.StringFixed(2),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: p.returnURL,
		CancelURL: withOrder(p.cancelURL, order.Number),
	}

	created, err := p.client.CreateOrder(ctx, "CAPTURE", units, nil, appCtx)
	if err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}

	approval := ""
	for _, l := range created.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approval = l.Href
			break
		}
	}
	if approval == "" {
		return nil, errors.New("paypal order has no approval link")
	}

	return &CreateResult{
		Channel:     ChannelPayPal,
		ExternalID:  created.ID,
		Amount:      amount,
		Currency:    currency,
		Status:      models.PaymentCreated,
		RedirectURL: approval,
	}, nil
}

// Capture collects an approved PayPal order.
func (p *PayPal) Capture(ctx context.Context, externalID string) error {
	if err := p.authorize(ctx); err != nil {
		return err
	}
	res, err := p.client.CaptureOrder(ctx, externalID, paypal.CaptureOrderRequest{})
	if err != nil {
		return fmt.Errorf("capture paypal order %s: %w", externalID, err)
	}
	if res.Status != "COMPLETED" {
		return fmt.Errorf("%w: paypal status %s", ErrNotCompleted, res.Status)
	}
	return nil
}
