package shipping

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/pkg/response"
)

type calculateRequest struct {
	Country  string           `json:"country" validate:"omitempty,max=8"`
	WeightKg *decimal.Decimal `json:"weight_kg"`
}

type saveSettingsRequest struct {
	Zones []ZoneToggle `json:"zones" validate:"dive"`
	Rates []RateInput  `json:"rates" validate:"dive"`
}

// RegisterHandlers mounts the calculator and settings routes. Writes go on
// the admin group.
func RegisterHandlers(public, admin *echo.Group, svc *Service) {
	validate := validator.New()

	public.POST("/shipping/calculate", func(c echo.Context) error {
		var req calculateRequest
		if err := c.Bind(&req); err != nil {
			logrus.WithError(err).Warn("Invalid shipping calculation request")
			return response.Error(c, http.StatusBadRequest, "Invalid request")
		}
		if err := validate.Struct(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, err.Error())
		}

		weight := DefaultWeightKg
		if req.WeightKg != nil {
			weight = *req.WeightKg
		}
		if weight.IsNegative() {
			return response.Error(c, http.StatusBadRequest, "weight_kg must not be negative")
		}

		quote, err := svc.Calculate(c.Request().Context(), req.Country, weight)
		if err != nil {
			if errors.Is(err, ErrNoZone) || errors.Is(err, ErrNoRange) {
				return response.Error(c, http.StatusNotFound, err.Error())
			}
			logrus.WithError(err).Error("Failed to calculate shipping")
			return response.Error(c, http.StatusInternalServerError, "Failed to calculate shipping")
		}

		return response.OK(c, http.StatusOK, map[string]interface{}{
			"price": quote.Price,
			"zone":  quote.Zone,
			"range": quote.Range,
		})
	})

	public.GET("/shipping/settings", func(c echo.Context) error {
		settings, err := svc.Settings(c.Request().Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to load shipping settings")
			return response.Error(c, http.StatusInternalServerError, "Failed to load shipping settings")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{
			"zones":  settings.Zones,
			"ranges": settings.Ranges,
			"rates":  settings.Rates,
		})
	})

	admin.PUT("/shipping/settings", func(c echo.Context) error {
		var req saveSettingsRequest
		if err := c.Bind(&req); err != nil {
			logrus.WithError(err).Warn("Invalid shipping settings request")
			return response.Error(c, http.StatusBadRequest, "Invalid request")
		}
		if err := validate.Struct(&req); err != nil {
			return response.Error(c, http.StatusBadRequest, err.Error())
		}

		if err := svc.SaveSettings(c.Request().Context(), req.Zones, req.Rates); err != nil {
			logrus.WithError(err).Error("Failed to save shipping settings")
			return response.Error(c, http.StatusInternalServerError, "Failed to save shipping settings")
		}
		return response.OK(c, http.StatusOK, nil)
	})
}
