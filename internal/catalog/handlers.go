package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"storefront/internal/kafka"
	"storefront/pkg/response"
)

// MaxImportSize bounds an uploaded price list.
const MaxImportSize = 20 << 20

// RegisterHandlers mounts the shop routes on public and the spreadsheet
// import on admin. Asynchronous imports publish batches to productsTopic
// through producer; a nil producer disables them.
func RegisterHandlers(public, admin *echo.Group, svc *Service, producer sarama.SyncProducer, productsTopic string) {
	public.GET("/products", func(c echo.Context) error {
		var q ListQuery
		err := echo.QueryParamsBinder(c).
			String("search", &q.Search).
			String("category", &q.Category).
			String("stock", &q.Stock).
			String("sort", &q.Sort).
			Int("page", &q.Page).
			Int("limit", &q.Limit).
			BindError()
		if err != nil {
			return response.Error(c, http.StatusBadRequest, "Invalid query parameters")
		}

		res, err := svc.ListProducts(c.Request().Context(), q)
		if err != nil {
			if errors.Is(err, ErrInvalidQuery) {
				return response.Error(c, http.StatusBadRequest, err.Error())
			}
			logrus.WithError(err).Error("Failed to list products")
			return response.Error(c, http.StatusInternalServerError, "Failed to load products")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{
			"products": res.Products,
			"total":    res.Total,
			"page":     res.Page,
			"limit":    res.Limit,
			"has_more": res.HasMore,
		})
	})

	public.GET("/products/:id", func(c echo.Context) error {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil || id == 0 {
			return response.Error(c, http.StatusBadRequest, "Invalid product id")
		}
		p, err := svc.GetProduct(c.Request().Context(), uint(id))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return response.Error(c, http.StatusNotFound, "Product not found")
			}
			logrus.WithError(err).WithField("product_id", id).Error("Failed to load product")
			return response.Error(c, http.StatusInternalServerError, "Failed to load product")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"product": p})
	})

	public.GET("/categories", func(c echo.Context) error {
		cats, err := svc.ListCategories(c.Request().Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list categories")
			return response.Error(c, http.StatusInternalServerError, "Failed to load categories")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"categories": cats})
	})

	public.GET("/gallery", func(c echo.Context) error {
		images, err := svc.Gallery(c.Request().Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to load gallery")
			return response.Error(c, http.StatusInternalServerError, "Failed to load gallery")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"images": images})
	})

	admin.POST("/products/import", func(c echo.Context) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return response.Error(c, http.StatusBadRequest, "No file uploaded")
		}
		if strings.ToLower(filepath.Ext(fh.Filename)) != ".xlsx" {
			return response.Error(c, http.StatusBadRequest, "Only .xlsx files are supported")
		}
		if fh.Size > MaxImportSize {
			return response.Error(c, http.StatusRequestEntityTooLarge, "File too large")
		}
		async := cast.ToBool(c.FormValue("async"))
		if async && producer == nil {
			return response.Error(c, http.StatusServiceUnavailable, "Asynchronous import is not available")
		}

		f, err := fh.Open()
		if err != nil {
			logrus.WithError(err).Error("Failed to open uploaded workbook")
			return response.Error(c, http.StatusInternalServerError, "Failed to read file")
		}
		defer f.Close()

		items, err := ParseWorkbook(f)
		if err != nil {
			logrus.WithError(err).WithField("file", fh.Filename).Warn("Unreadable workbook")
			return response.Error(c, http.StatusBadRequest, "Could not read workbook")
		}
		if len(items) == 0 {
			return response.Error(c, http.StatusBadRequest, ErrNothingToImport.Error())
		}

		if async {
			batches := Batches(items, ImportBatchSize)
			for i, batch := range batches {
				if err := kafka.PublishJSON(producer, productsTopic, fmt.Sprintf("%s#%d", fh.Filename, i), batch); err != nil {
					logrus.WithError(err).WithField("batch", i).Error("Failed to queue product batch")
					return response.Error(c, http.StatusBadGateway, "Failed to queue import")
				}
			}
			logrus.WithFields(logrus.Fields{
				"file":     fh.Filename,
				"products": len(items),
				"batches":  len(batches),
			}).Info("Product import queued")
			return response.OK(c, http.StatusAccepted, map[string]interface{}{
				"queued":  len(items),
				"batches": len(batches),
			})
		}

		res, err := svc.Import(c.Request().Context(), items)
		if err != nil {
			logrus.WithError(err).Error("Failed to import products")
			return response.Error(c, http.StatusInternalServerError, "Failed to import products")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{
			"imported":   res.Imported,
			"categories": res.Categories,
		})
	})
}
