package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/availability"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/booking"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/handlers"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/notify"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func clinicHours() (availability.Hours, error) {
	h := availability.DefaultHours()
	var err error
	if h.Open, err = availability.ParseClock(config.String("CLINIC_OPEN", "09:00")); err != nil {
		return h, err
	}
	if h.Close, err = availability.ParseClock(config.String("CLINIC_CLOSE", "17:00")); err != nil {
		return h, err
	}
	if h.Breaks, err = availability.ParseBreaks(config.String("CLINIC_BREAKS", "13:00-14:00")); err != nil {
		return h, err
	}
	h.Step = config.Duration("CLINIC_SLOT_LENGTH", 30*time.Minute)
	return h, h.Validate()
}

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	hours, err := clinicHours()
	if err != nil {
		logger.Error("invalid clinic hours", "err", err)
		panic(err)
	}
	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "Europe/London"))
	if err != nil {
		logger.Error("invalid clinic timezone", "err", err)
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

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	repo := storage.NewAppointmentRepository(pool, notify.NewOutboxNotifier(outboxRepo))
	svc := booking.NewService(repo, logger,
		booking.WithHours(hours),
		booking.WithLocation(loc),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewAppointmentHandler(svc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithIdentity,
		httpx.WithBodyLimit(64<<10),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "booking"),
	}
	runtime.Serve(ctx, srv, logger)
}
