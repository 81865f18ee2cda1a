// Package response writes the storefront JSON envelope: every body carries a
// "success" flag, failures add an "error" message.
package response

import (
	"github.com/labstack/echo/v4"
)

// OK writes status with fields merged into a {"success": true} body.
func OK(c echo.Context, status int, fields map[string]interface{}) error {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	return c.JSON(status, body)
}

// Error writes {"success": false, "error": msg}.
func Error(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
