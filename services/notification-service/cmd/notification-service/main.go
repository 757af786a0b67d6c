package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/dispatch"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/email"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/sms"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	renderer, err := email.NewRenderer()
	if err != nil {
		panic(err)
	}
	mailer := email.NewSMTPSender(email.SMTPConfig{
		Host:     config.String("SMTP_HOST", "mailpit"),
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", "no-reply@pdsa-vet.local"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})

	var text sms.Sender
	if config.Bool("SMS_ENABLED", false) {
		text, err = sms.New(sms.Config{
			Provider:     config.String("SMS_PROVIDER", "noop"),
			WebhookURL:   config.String("SMS_WEBHOOK_URL", ""),
			WebhookToken: config.String("SMS_WEBHOOK_TOKEN", ""),
			TwilioSID:    config.String("TWILIO_ACCOUNT_SID", ""),
			TwilioToken:  config.String("TWILIO_AUTH_TOKEN", ""),
			TwilioFrom:   config.String("TWILIO_FROM_NUMBER", ""),
		})
		if err != nil {
			logger.Error("sms provider misconfigured", "err", err)
			panic(err)
		}
	}

	dispatcher := dispatch.New(mailer, renderer, text, storage.NewNotificationRepository(pool), logger, dispatch.Config{
		ClinicName:  config.String("CLINIC_NAME", "PDSA Veterinary Clinic"),
		ArrivalNote: config.String("CLINIC_ARRIVAL_NOTE", ""),
		Location:    loc,
	})

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", service)
	if len(kafkax.SplitBrokers(brokers)) == 0 {
		logger.Warn("event consumer disabled (no kafka brokers configured)")
	} else {
		reader := kafkax.NewReader(kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topics:  []string{events.AppointmentCreated, events.PaymentSucceeded, events.PaymentRefunded, events.ReminderDue},
		})
		go kafkax.NewConsumer(groupID, reader, kafkax.NewPgInbox(pool), logger, dispatcher.Handle).Run(ctx)
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
		Handler: otelhttp.NewHandler(handler, "notification"),
	}
	runtime.Serve(ctx, srv, logger)
}
