package main

import (
	"context"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/dashboard"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/handlers"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	ttl := config.Duration("ANALYTICS_CACHE_TTL", time.Minute)
	var cache dashboard.Cache
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		cache = dashboard.NewRedisCache(rdb, ttl, config.String("ANALYTICS_CACHE_PREFIX", "analytics"))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("dashboard cache enabled (redis)", "ttl", ttl.String(), "redis_addr", addr)
	} else {
		cache = dashboard.NewLRUCache(ttl)
		logger.Info("dashboard cache enabled (in-memory)", "ttl", ttl.String())
	}

	svc := dashboard.NewService(storage.NewDashboardRepository(pool), cache, logger, dashboard.WithLocation(loc))

	// Bookings, payments and refunds change today's figures.
	brokers := config.String("KAFKA_BROKERS", "")
	if len(kafkax.SplitBrokers(brokers)) > 0 {
		groupID := config.String("KAFKA_GROUP_ID", service)
		reader := kafkax.NewReader(kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topics:  []string{events.AppointmentCreated, events.PaymentSucceeded, events.PaymentRefunded},
		})
		consumer := kafkax.NewConsumer(groupID, reader, kafkax.NewPgInbox(pool), logger, func(ctx context.Context, msg kafka.Message) error {
			if err := svc.Invalidate(ctx); err != nil {
				return err
			}
			logger.Debug("dashboard invalidated", "topic", msg.Topic)
			return nil
		})
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("dashboard invalidation disabled (no kafka brokers configured)")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewDashboardHandler(svc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithIdentity,
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "analytics"),
	}
	runtime.Serve(ctx, srv, logger)
}
