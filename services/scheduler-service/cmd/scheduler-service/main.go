package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/scheduler-service/internal/jobs"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
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

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool)
	go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	}).Run(ctx)

	jobRepo := jobs.NewRepository(pool, outboxRepo)
	go jobs.NewWorker(jobRepo, pool.InTx, logger, jobs.WorkerConfig{
		Interval:  config.Duration("REMINDER_POLL_INTERVAL", 30*time.Second),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.Duration("REMINDER_BACKOFF", time.Minute),
	}).Run(ctx)

	scheduler := jobs.NewScheduler(jobRepo, logger, loc, config.Duration("REMINDER_LEAD", 24*time.Hour))

	groupID := config.String("KAFKA_GROUP_ID", service)
	if len(kafkax.SplitBrokers(brokers)) == 0 {
		logger.Warn("event consumer disabled (no kafka brokers configured)")
	} else {
		reader := kafkax.NewReader(kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topics:  []string{events.AppointmentCreated},
		})
		go kafkax.NewConsumer(groupID, reader, kafkax.NewPgInbox(pool), logger, func(ctx context.Context, msg kafka.Message) error {
			var p events.AppointmentCreatedPayload
			if err := json.Unmarshal(msg.Value, &p); err != nil {
				logger.Error("invalid appointment payload", "err", err)
				return nil
			}
			return scheduler.Schedule(ctx, p)
		}).Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "scheduler"),
	}
	runtime.Serve(ctx, srv, logger)
}
