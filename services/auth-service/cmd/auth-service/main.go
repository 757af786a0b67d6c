package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/auth"
	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/auth-service/internal/handlers"
	"github.com/pdsa-vet/vetclinic/services/auth-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
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

	secret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	signer, err := auth.NewSigner(secret, config.Duration("JWT_TTL", 24*time.Hour))
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
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

	userRepo := storage.NewUserRepository(pool)
	if email := config.String("ADMIN_EMAIL", ""); email != "" {
		created, err := handlers.SeedAdmin(ctx, userRepo,
			config.String("ADMIN_NAME", "Clinic Admin"), email, config.String("ADMIN_PASSWORD", ""))
		if err != nil {
			logger.Error("admin seeding failed", "err", err)
			panic(err)
		}
		if created {
			logger.Info("bootstrap admin created", "email", email)
		}
	}

	authHandler, err := handlers.NewAuthHandler(userRepo, signer, logger)
	if err != nil {
		panic(err)
	}
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	authHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithIdentity,
		httpx.WithBodyLimit(16<<10),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "auth"),
	}
	runtime.Serve(ctx, srv, logger)
}
