package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paypalStub struct {
	tokens        int
	captureStatus string
	lastOrder     map[string]interface{}
}

func (s *paypalStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/oauth2/token":
		s.tokens++
		_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer A21" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"name":"AUTHENTICATION_FAILURE","message":"no token"}`))
		return
	}
	switch r.URL.Path {
	case "/v2/checkout/orders":
		_ = json.NewDecoder(r.Body).Decode(&s.lastOrder)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED","links":[
			{"href":"https://api.sandbox.paypal.com/v2/checkout/orders/5O190127TN364715T","rel":"self","method":"GET"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"approve","method":"GET"}]}`))
	case "/v2/checkout/orders/5O190127TN364715T/capture":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"` + s.captureStatus + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"name":"RESOURCE_NOT_FOUND","message":"not found"}`))
	}
}

func newTestPayPal(t *testing.T, stub *paypalStub) *PayPal {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	p, err := NewPayPal(PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		APIBase:      srv.URL,
		ReturnURL:    "https://api.example.ch/api/payments/paypal/return",
		CancelURL:    "https://shop.example.ch/checkout",
	})
	require.NoError(t, err)
	return p
}

func TestPayPalCreatePayment(t *testing.T) {
	stub := &paypalStub{}
	p := newTestPayPal(t, stub)

	res, err := p.CreatePayment(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", res.ExternalID)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", res.RedirectURL)
	assert.Equal(t, int64(3550), res.Amount)
	assert.Equal(t, "CHF", res.Currency)

	assert.Equal(t, "CAPTURE", stub.lastOrder["intent"])
	units := stub.lastOrder["purchase_units"].([]interface{})
	unit := units[0].(map[string]interface{})
	assert.Equal(t, "ORD-20260504-ABCDEF12", unit["reference_id"])
	amount := unit["amount"].(map[string]interface{})
	assert.Equal(t, "35.50", amount["value"])
	assert.Equal(t, "CHF", amount["currency_code"])
	appCtx := stub.lastOrder["application_context"].(map[string]interface{})
	assert.Equal(t, "https://shop.example.ch/checkout?order=ORD-20260504-ABCDEF12", appCtx["cancel_url"])

	_, err = p.CreatePayment(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, 1, stub.tokens, "token is fetched once")
}

func TestPayPalCapture(t *testing.T) {
	stub := &paypalStub{captureStatus: "COMPLETED"}
	p := newTestPayPal(t, stub)
	require.NoError(t, p.Capture(context.Background(), "5O190127TN364715T"))

	stub.captureStatus = "PENDING"
	assert.ErrorIs(t, p.Capture(context.Background(), "5O190127TN364715T"), ErrNotCompleted)

	assert.Error(t, p.Capture(context.Background(), "UNKNOWN"))
}
