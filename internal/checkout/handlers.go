package checkout

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"storefront/internal/shipping"
	"storefront/pkg/response"
)

type quoteRequest struct {
	Items   []CartItem `json:"items" validate:"required,min=1,max=100,dive"`
	Country string     `json:"country" validate:"omitempty,max=8"`
}

type orderRequest struct {
	Customer Customer   `json:"customer" validate:"required"`
	Items    []CartItem `json:"items" validate:"required,min=1,max=100,dive"`
}

// StatusFor maps checkout errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrUnknownProduct):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, shipping.ErrNoZone), errors.Is(err, shipping.ErrNoRange):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func failure(c echo.Context, err error, msg string) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error(msg)
		return response.Error(c, status, msg)
	}
	return response.Error(c, status, err.Error())
}

func RegisterHandlers(public *echo.Group, svc *Service) {
	validate := validator.New()

	public.POST("/cart/quote", func(c echo.Context) error {
		var req quoteRequest
		if err := c.Bind(&req); err != nil {
			logrus.WithError(err).Warn("Invalid cart quote request")
			return response.Error(c, http.StatusBadRequest, "Invalid request")
		}
		if err := validate.Struct(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, err.Error())
		}

		q, err := svc.Quote(c.Request().Context(), req.Items, req.Country)
		if err != nil {
			return failure(c, err, "Failed to quote cart")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"quote": q})
	})

	public.POST("/orders", func(c echo.Context) error {
		var req orderRequest
		if err := c.Bind(&req); err != nil {
			logrus.WithError(err).Warn("Invalid order request")
			return response.Error(c, http.StatusBadRequest, "Invalid request")
		}
		if err := validate.Struct(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, err.Error())
		}

		order, err := svc.PlaceOrder(c.Request().Context(), req.Customer, req.Items)
		if err != nil {
			return failure(c, err, "Failed to place order")
		}
		return response.OK(c, http.StatusCreated, map[string]interface{}{"order": order})
	})

	public.GET("/orders/:number", func(c echo.Context) error {
		order, err := svc.GetOrder(c.Request().Context(), c.Param("number"))
		if err != nil {
			return failure(c, err, "Failed to load order")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"order": order})
	})
}
