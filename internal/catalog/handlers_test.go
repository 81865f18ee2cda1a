package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho(t *testing.T, producer sarama.SyncProducer) (*echo.Echo, *Service) {
	t.Helper()
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)
	e := echo.New()
	api := e.Group("/api")
	RegisterHandlers(api, api.Group("/admin"), svc, producer, "PRODUCTS")
	return e, svc
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func postImport(t *testing.T, e *echo.Echo, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/products/import", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func priceList(t *testing.T) []byte {
	return workbook(t, map[string][][]interface{}{
		"Chili": {
			{"ID", "Name", "Preis inkl. MwSt.", "Lager"},
			{10, "Ancho", 4.5, 6},
			{11, "Guajillo", 5, 0},
		},
	}, "Chili").Bytes()
}

func TestListProductsHandler(t *testing.T) {
	e, _ := newTestEcho(t, nil)

	rec := get(e, "/api/products?category=saucen&stock=any&sort=price_asc&limit=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success  bool `json:"success"`
		Products []struct {
			ID       uint    `json:"id"`
			Price    float64 `json:"price"`
			Category string  `json:"category"`
		} `json:"products"`
		Total   int64 `json:"total"`
		HasMore bool  `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Products, 1)
	assert.Equal(t, uint(2), body.Products[0].ID)
	assert.Equal(t, 7.0, body.Products[0].Price)
	assert.Equal(t, "saucen", body.Products[0].Category)
	assert.Equal(t, int64(2), body.Total)
	assert.True(t, body.HasMore)
}

func TestListProductsHandlerBadQuery(t *testing.T) {
	e, _ := newTestEcho(t, nil)

	assert.Equal(t, http.StatusBadRequest, get(e, "/api/products?sort=random").Code)
	assert.Equal(t, http.StatusBadRequest, get(e, "/api/products?page=abc").Code)
}

func TestGetProductHandler(t *testing.T) {
	e, _ := newTestEcho(t, nil)

	rec := get(e, "/api/products/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"image_url":"/upload/hab.jpg"`)

	assert.Equal(t, http.StatusNotFound, get(e, "/api/products/42").Code)
	assert.Equal(t, http.StatusBadRequest, get(e, "/api/products/x").Code)
}

func TestCategoriesAndGalleryHandlers(t *testing.T) {
	e, _ := newTestEcho(t, nil)

	rec := get(e, "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slug":"messer"`)

	rec = get(e, "/api/gallery")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"/upload/santoku.png"`)
}

func TestImportHandler(t *testing.T) {
	e, svc := newTestEcho(t, nil)

	rec := postImport(t, e, "preise.xlsx", priceList(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"imported":2,"categories":1}`, rec.Body.String())

	p, err := svc.GetProduct(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "chili", p.CategorySlug)
}

func TestImportHandlerRejects(t *testing.T) {
	e, _ := newTestEcho(t, nil)

	assert.Equal(t, http.StatusBadRequest, postImport(t, e, "preise.xls", []byte("x"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, postImport(t, e, "preise.xlsx", []byte("garbage"), nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		postImport(t, e, "preise.xlsx", priceList(t), map[string]string{"async": "true"}).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/products/import", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandlerAsync(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var items []ProductImport
		if err := json.Unmarshal(val, &items); err != nil {
			return err
		}
		if len(items) != 2 {
			return assert.AnError
		}
		return nil
	})
	e, _ := newTestEcho(t, producer)

	rec := postImport(t, e, "preise.xlsx", priceList(t), map[string]string{"async": "1"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"queued":2,"batches":1}`, rec.Body.String())
	require.NoError(t, producer.Close())
}
