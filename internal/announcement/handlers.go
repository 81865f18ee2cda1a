package announcement

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"storefront/pkg/response"
)

func parseID(c echo.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func errorResponse(c echo.Context, err error, action string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return response.Error(c, http.StatusNotFound, "Announcement not found")
	case errors.Is(err, ErrInvalid):
		return response.Error(c, http.StatusBadRequest, err.Error())
	}
	logrus.WithError(err).Errorf("Failed to %s announcement", action)
	return response.Error(c, http.StatusInternalServerError, fmt.Sprintf("Failed to %s announcement", action))
}

// RegisterHandlers mounts the public read route and the admin write routes.
func RegisterHandlers(public, admin *echo.Group, svc *Service) {
	public.GET("/announcements", func(c echo.Context) error {
		ctx := c.Request().Context()
		if cast.ToBool(c.QueryParam("active")) {
			a, err := svc.Active(ctx)
			if err != nil {
				return errorResponse(c, err, "load")
			}
			return response.OK(c, http.StatusOK, map[string]interface{}{"announcement": a})
		}

		res, err := svc.List(ctx)
		if err != nil {
			return errorResponse(c, err, "load")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{
			"announcements": res.Announcements,
			"total":         res.Total,
		})
	})

	admin.POST("/announcements", func(c echo.Context) error {
		in := SaveInput{
			ID:         cast.ToUint(c.FormValue("id")),
			Type:       c.FormValue("type"),
			Title:      c.FormValue("title"),
			Subtitle:   c.FormValue("subtitle"),
			ProductURL: c.FormValue("product_url"),
			ShowOnce:   cast.ToBool(c.FormValue("show_once")),
		}
		for i := range in.Images {
			n := i + 1
			in.Images[i] = ImageInput{
				Remove: cast.ToBool(c.FormValue(fmt.Sprintf("remove_image%d", n))),
				URL:    c.FormValue(fmt.Sprintf("image%d_url", n)),
			}
			if fh, err := c.FormFile(fmt.Sprintf("image%d", n)); err == nil {
				in.Images[i].File = fh
			}
		}

		a, err := svc.Save(c.Request().Context(), in)
		if err != nil {
			return errorResponse(c, err, "save")
		}
		status := http.StatusOK
		if in.ID == 0 {
			status = http.StatusCreated
		}
		return response.OK(c, status, map[string]interface{}{"announcement": a})
	})

	admin.POST("/announcements/:id/toggle", func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return response.Error(c, http.StatusBadRequest, "Invalid announcement id")
		}
		a, err := svc.Toggle(c.Request().Context(), id)
		if err != nil {
			return errorResponse(c, err, "toggle")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"announcement": a})
	})

	admin.DELETE("/announcements/:id", func(c echo.Context) error {
		id, ok := parseID(c)
		if !ok {
			return response.Error(c, http.StatusBadRequest, "Invalid announcement id")
		}
		if err := svc.Delete(c.Request().Context(), id); err != nil {
			return errorResponse(c, err, "delete")
		}
		return response.OK(c, http.StatusOK, nil)
	})
}
