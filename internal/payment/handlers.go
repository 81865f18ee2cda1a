package payment

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"storefront/internal/checkout"
	"storefront/pkg/response"
)

const maxWebhookBody = 64 << 10

type startRequest struct {
	Channel string `json:"channel" validate:"required"`
}

// RegisterHandlers mounts payment start, the Stripe webhook and the PayPal
// return endpoint. Customers leaving PayPal are redirected to storefrontURL.
func RegisterHandlers(public *echo.Group, svc *Service, storefrontURL string) {
	validate := validator.New()
	storefrontURL = strings.TrimRight(storefrontURL, "/")

	public.GET("/payments/channels", func(c echo.Context) error {
		return response.OK(c, http.StatusOK, map[string]interface{}{"channels": svc.Channels()})
	})

	public.POST("/orders/:number/payments", func(c echo.Context) error {
		var req startRequest
		if err := c.Bind(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, "Invalid request")
		}
		if err := validate.Struct(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, err.Error())
		}

		res, err := svc.Start(c.Request().Context(), c.Param("number"), req.Channel)
		switch {
		case err == nil:
			return response.OK(c, http.StatusCreated, map[string]interface{}{"payment": res})
		case errors.Is(err, ErrUnknownChannel):
			return response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrAlreadyPaid):
			return response.Error(c, http.StatusConflict, err.Error())
		case errors.Is(err, checkout.ErrNotFound):
			return response.Error(c, http.StatusNotFound, "Order not found")
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"order":   c.Param("number"),
			"channel": req.Channel,
		}).Error("Failed to start payment")
		return response.Error(c, http.StatusBadGateway, "Failed to start payment")
	})

	public.POST("/payments/stripe/webhook", func(c echo.Context) error {
		payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return response.Error(c, http.StatusBadRequest, "Invalid body")
		}

		ev, err := svc.HandleWebhook(c.Request().Context(), ChannelStripe, payload, c.Request().Header.Get("Stripe-Signature"))
		switch {
		case err == nil:
			return response.OK(c, http.StatusOK, map[string]interface{}{"received": true, "result": ev.Kind})
		case errors.Is(err, ErrUnknownChannel):
			return response.Error(c, http.StatusNotFound, "Stripe is not configured")
		case errors.Is(err, ErrBadSignature):
			logrus.WithError(err).Warn("Rejected Stripe webhook")
			return response.Error(c, http.StatusBadRequest, "Invalid signature")
		case errors.Is(err, ErrUnknownPayment), errors.Is(err, ErrAmountMismatch), errors.Is(err, checkout.ErrInsufficientStock):
			// Redelivery would not change the outcome.
			logrus.WithError(err).Error("Stripe payment needs manual review")
			return response.OK(c, http.StatusOK, map[string]interface{}{"received": true, "result": "review"})
		}
		logrus.WithError(err).Error("Failed to handle Stripe webhook")
		return response.Error(c, http.StatusInternalServerError, "Webhook processing failed")
	})

	public.GET("/payments/paypal/return", func(c echo.Context) error {
		token := c.QueryParam("token")
		if token == "" {
			return response.Error(c, http.StatusBadRequest, "Missing token")
		}

		order, err := svc.CaptureReturn(c.Request().Context(), ChannelPayPal, token)
		if err != nil {
			logrus.WithError(err).WithField("paypal_order", token).Error("PayPal return failed")
			return c.Redirect(http.StatusSeeOther, storefrontURL+"/checkout?payment_error=paypal")
		}
		return c.Redirect(http.StatusSeeOther, withOrder(storefrontURL+"/checkout/success", order.Number))
	})
}
