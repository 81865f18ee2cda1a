package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"storefront/internal/announcement"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/dbtest"
	"storefront/internal/payment"
	"storefront/internal/shipping"
	"storefront/internal/upload"
)

const adminToken = "s3cret"

func testDeps(t *testing.T) Deps {
	t.Helper()
	gdb := dbtest.New(t)
	dir := t.TempDir()
	images := upload.NewStore(dir, "/upload/")
	ship := shipping.NewService(gdb)
	orders := checkout.NewService(gdb, ship, nil, "", "CHF")
	return Deps{
		DB:            gdb,
		Catalog:       catalog.NewService(gdb, images),
		Shipping:      ship,
		Announcements: announcement.NewService(gdb, images, 0),
		Checkout:      orders,
		Payments:      payment.NewService(gdb, orders, payment.NewRegistry()),
		AdminToken:    adminToken,
		UploadDir:     dir,
		CORSOrigins:   []string{"https://shop.example.ch"},
		StorefrontURL: "https://shop.example.ch",
	}
}

func do(e *echo.Echo, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := NewRouter(testDeps(t))
	rec := do(e, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	e := NewRouter(testDeps(t))
	rec := do(e, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not Found"}`, rec.Body.String())
}

func TestPublicRoutesMounted(t *testing.T) {
	e := NewRouter(testDeps(t))
	for _, path := range []string{
		"/api/products",
		"/api/categories",
		"/api/gallery",
		"/api/shipping/settings",
		"/api/announcements",
		"/api/payments/channels",
	} {
		rec := do(e, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAdminAuth(t *testing.T) {
	e := NewRouter(testDeps(t))
	body := `{"zones":[],"rates":[]}`

	rec := do(e, http.MethodPut, "/api/admin/shipping/settings", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPut, "/api/admin/shipping/settings", body,
		map[string]string{echo.HeaderAuthorization: "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPut, "/api/admin/shipping/settings", body,
		map[string]string{echo.HeaderAuthorization: adminToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPut, "/api/admin/shipping/settings", body,
		map[string]string{echo.HeaderAuthorization: "Bearer " + adminToken})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	d := testDeps(t)
	d.AdminToken = ""
	e := NewRouter(d)

	rec := do(e, http.MethodDelete, "/api/admin/announcements/1", "",
		map[string]string{echo.HeaderAuthorization: "Bearer "})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Admin API disabled"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	e := NewRouter(testDeps(t))
	rec := do(e, http.MethodOptions, "/api/products", "", map[string]string{
		echo.HeaderOrigin:                     "https://shop.example.ch",
		echo.HeaderAccessControlRequestMethod: http.MethodGet,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example.ch", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServesUploads(t *testing.T) {
	d := testDeps(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.UploadDir, "1_main.jpg"), []byte("jpeg"), 0o644))
	e := NewRouter(d)

	rec := do(e, http.MethodGet, "/upload/1_main.jpg", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())
}

func TestGRPCQuote(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(testDeps(t))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	quote, err := shipping.QuoteRPC(context.Background(), conn, "de", 2)
	require.NoError(t, err)
	assert.Equal(t, "Europa", quote.Zone)
	assert.Equal(t, "1–3 kg", quote.Range)
	assert.True(t, quote.Price.IsZero())
}

func TestFindAvailablePortSkipsBusyPort(t *testing.T) {
	lis, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer lis.Close()

	hook := test.NewGlobal()
	defer hook.Reset()

	busy := lis.Addr().(*net.TCPAddr).Port
	port := findAvailablePort(busy, "test")
	assert.NotEqual(t, busy, port)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Found available port" {
			found = true
			assert.Equal(t, port, e.Data["port"])
			assert.Equal(t, "test", e.Data["service"])
		}
	}
	assert.True(t, found, "expected the chosen port to be logged")
}
