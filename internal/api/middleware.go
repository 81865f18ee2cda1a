package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"storefront/pkg/response"
)

// AdminAuth only lets requests through that carry "Authorization: Bearer
// <token>". With an empty token the admin routes are closed.
func AdminAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return response.Error(c, http.StatusServiceUnavailable, "Admin API disabled")
			}
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			given, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				logrus.WithFields(logrus.Fields{
					"path":      c.Path(),
					"remote_ip": c.RealIP(),
				}).Warn("Rejected admin request")
				return response.Error(c, http.StatusUnauthorized, "Unauthorized")
			}
			return next(c)
		}
	}
}

// RequestLogger writes one access log line per request through logrus.
func RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logrus.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
			})
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Error("Request failed")
			case v.Status >= http.StatusInternalServerError:
				entry.Error("Request failed")
			default:
				entry.Info("Request handled")
			}
			return nil
		},
	})
}

// errorHandler renders framework errors (unknown routes, bad methods,
// recovered panics) in the API's JSON envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	} else {
		logrus.WithError(err).Error("Unhandled error")
	}
	if err := response.Error(c, status, msg); err != nil {
		logrus.WithError(err).Error("Failed to write error response")
	}
}
