package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/handlers"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/payments"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/reconcile"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	stripeKey, err := config.RequiredString("STRIPE_SECRET_KEY")
	if err != nil {
		panic(err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	svc := payments.NewService(
		storage.NewPaymentRepository(pool, outboxRepo),
		payments.NewStripeGateway(stripeKey),
		logger,
	)

	if config.Bool("BILLING_RECONCILE_ENABLED", true) {
		rec := reconcile.New(pool, svc, logger, reconcile.Config{
			Interval:        config.Duration("BILLING_RECONCILE_INTERVAL", 5*time.Minute),
			BatchSize:       config.Int("BILLING_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("BILLING_RECONCILE_LOCK_KEY", 4242001)),
		})
		go rec.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(svc, logger, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
	}).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithIdentity,
		httpx.WithBodyLimit(1<<20),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "billing"),
	}
	runtime.Serve(ctx, srv, logger)
}
