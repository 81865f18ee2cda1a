// Package api assembles the HTTP and gRPC servers of the storefront.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"storefront/internal/announcement"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/payment"
	"storefront/internal/shipping"
	"storefront/pkg/response"
)

// Deps are the services the API exposes.
type Deps struct {
	DB            *gorm.DB
	Catalog       *catalog.Service
	Shipping      *shipping.Service
	Announcements *announcement.Service
	Checkout      *checkout.Service
	Payments      *payment.Service

	Producer      sarama.SyncProducer
	ProductsTopic string

	AdminToken    string
	UploadDir     string
	CORSOrigins   []string
	StorefrontURL string
}

type Server struct {
	Echo *echo.Echo
	GRPC *grpc.Server
}

// New builds both servers without starting them.
func New(d Deps) *Server {
	return &Server{Echo: NewRouter(d), GRPC: NewGRPCServer(d)}
}

// NewRouter registers every HTTP route.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: d.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", func(c echo.Context) error {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request().Context())
		}
		if err != nil {
			logrus.WithError(err).Error("Health check failed")
			return response.Error(c, http.StatusServiceUnavailable, "database unavailable")
		}
		return response.OK(c, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	e.Static("/upload", d.UploadDir)

	public := e.Group("/api")
	admin := public.Group("/admin", AdminAuth(d.AdminToken))

	catalog.RegisterHandlers(public, admin, d.Catalog, d.Producer, d.ProductsTopic)
	shipping.RegisterHandlers(public, admin, d.Shipping)
	announcement.RegisterHandlers(public, admin, d.Announcements)
	checkout.RegisterHandlers(public, d.Checkout)
	payment.RegisterHandlers(public, d.Payments, d.StorefrontURL)

	return e
}

// NewGRPCServer exposes the shipping calculator over gRPC.
func NewGRPCServer(d Deps) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	shipping.RegisterGRPC(s, d.Shipping)
	return s
}

func logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := logrus.WithFields(logrus.Fields{
		"method":     info.FullMethod,
		"latency_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("gRPC call failed")
	} else {
		entry.Info("gRPC call handled")
	}
	return resp, err
}

// Start serves HTTP on httpPort and gRPC on grpcPort in the background. A
// port already in use is replaced by the next free one.
func (s *Server) Start(httpPort, grpcPort int) error {
	httpPort = findAvailablePort(httpPort, "Storefront HTTP")
	go func() {
		logrus.WithField("port", httpPort).Info("Starting Storefront HTTP server")
		if err := s.Echo.Start(fmt.Sprintf(":%d", httpPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Storefront HTTP server failed")
		}
	}()

	grpcPort = findAvailablePort(grpcPort, "Storefront gRPC")
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", grpcPort, err)
	}
	go func() {
		logrus.WithField("port", grpcPort).Info("Starting Storefront gRPC server")
		if err := s.GRPC.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logrus.WithError(err).Fatal("Storefront gRPC server failed")
		}
	}()
	return nil
}

// Shutdown drains both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.GRPC.GracefulStop()
	return s.Echo.Shutdown(ctx)
}

func findAvailablePort(basePort int, serviceName string) int {
	port := basePort
	maxAttempts := 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			logrus.WithFields(logrus.Fields{
				"service":  serviceName,
				"port":     port,
				"attempts": attempt + 1,
			}).Info("Found available port")
			return port
		}
		logrus.WithFields(logrus.Fields{
			"service": serviceName,
			"port":    port,
		}).Warn("Port in use, trying next port")
		port++
	}
	logrus.WithFields(logrus.Fields{
		"service": serviceName,
		"port":    basePort,
	}).Warn("Failed to find available port, using default")
	return basePort
}
