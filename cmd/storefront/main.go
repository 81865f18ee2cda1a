package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"storefront/internal/announcement"
	"storefront/internal/api"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/db"
	"storefront/internal/kafka"
	"storefront/internal/notification"
	"storefront/internal/payment"
	"storefront/internal/scheduler"
	"storefront/internal/shipping"
	"storefront/internal/upload"
	"storefront/pkg/config"
	"storefront/pkg/logger"
)

func main() {
	// Load configuration
	if err := config.Load(); err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(viper.GetString("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb := db.Setup()
	images := upload.NewStore(viper.GetString("UPLOAD_DIR"), viper.GetString("UPLOAD_BASE_URL"))

	var producer sarama.SyncProducer
	ordersTopic := viper.GetString("KAFKA_ORDERS_TOPIC")
	productsTopic := viper.GetString("KAFKA_PRODUCTS_TOPIC")
	if viper.GetBool("KAFKA_ENABLED") {
		p, err := kafka.SetupProducer()
		if err != nil {
			logrus.WithError(err).Fatal("Failed to set up Kafka producer")
		}
		defer p.Close()
		producer = p
	}

	storefrontURL := strings.TrimRight(viper.GetString("PUBLIC_BASE_URL"), "/")
	ship := shipping.NewService(gdb)
	products := catalog.NewService(gdb, images)
	orders := checkout.NewService(gdb, ship, producer, ordersTopic, viper.GetString("CURRENCY"))
	payments := payment.NewService(gdb, orders, payment.NewRegistry(channels(storefrontURL)...))

	if producer != nil {
		if err := kafka.SetupConsumer(ctx, productsTopic, catalog.HandleProductBatch(products)); err != nil {
			logrus.WithError(err).Fatal("Failed to start product import consumer")
		}
		mailer := notification.NewSMTPMailer()
		if mailer.Configured() {
			notifier := notification.NewService(mailer, storefrontURL)
			if err := kafka.SetupConsumer(ctx, ordersTopic, notification.HandleOrderEvent(notifier)); err != nil {
				logrus.WithError(err).Fatal("Failed to start order notification consumer")
			}
		} else {
			logrus.Warn("EMAIL_SENDER or EMAIL_APP_PASSWORD not set, order emails disabled")
		}
	}

	jobs := scheduler.New()
	if err := jobs.AddOrderReaper(viper.GetString("ORDER_REAPER_SPEC"), orders, viper.GetDuration("ORDER_PENDING_TTL")); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule order reaper")
	}
	jobs.Start()

	srv := api.New(api.Deps{
		DB:            gdb,
		Catalog:       products,
		Shipping:      ship,
		Announcements: announcement.NewService(gdb, images, viper.GetDuration("ANNOUNCEMENT_CACHE_TTL")),
		Checkout:      orders,
		Payments:      payments,
		Producer:      producer,
		ProductsTopic: productsTopic,
		AdminToken:    viper.GetString("ADMIN_TOKEN"),
		UploadDir:     images.Dir(),
		CORSOrigins:   splitList(viper.GetString("CORS_ORIGINS")),
		StorefrontURL: storefrontURL,
	})
	if err := srv.Start(viper.GetInt("HTTP_PORT"), viper.GetInt("GRPC_PORT")); err != nil {
		logrus.WithError(err).Fatal("Failed to start servers")
	}

	logrus.Info("Application started")
	<-ctx.Done()

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	<-jobs.Stop().Done()
}

// channels builds the payment channels whose credentials are configured.
func channels(storefrontURL string) []payment.Channel {
	var out []payment.Channel

	if key := viper.GetString("STRIPE_SECRET_KEY"); key != "" {
		out = append(out, payment.NewStripe(payment.StripeConfig{
			SecretKey:                  key,
			WebhookSecret:              viper.GetString("STRIPE_WEBHOOK_SECRET"),
			PaymentMethodConfiguration: viper.GetString("STRIPE_PMC_ID"),
			ReturnURL:                  storefrontURL + "/checkout/success",
		}))
	} else {
		logrus.Warn("STRIPE_SECRET_KEY not set, Stripe payments disabled")
	}

	id, secret := viper.GetString("PAYPAL_CLIENT_ID"), viper.GetString("PAYPAL_CLIENT_SECRET")
	if id == "" || secret == "" {
		logrus.Warn("PayPal credentials not set, PayPal payments disabled")
		return out
	}
	base := paypal.APIBaseLive
	if viper.GetBool("PAYPAL_SANDBOX") {
		base = paypal.APIBaseSandBox
	}
	pp, err := payment.NewPayPal(payment.PayPalConfig{
		ClientID:     id,
		ClientSecret: secret,
		APIBase:      base,
		ReturnURL:    strings.TrimRight(viper.GetString("API_BASE_URL"), "/") + "/api/payments/paypal/return",
		CancelURL:    storefrontURL + "/checkout",
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to set up PayPal, payments disabled")
		return out
	}
	return append(out, pp)
}

// splitList reads a comma separated setting such as CORS_ORIGINS.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
