package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/runtime"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/catalog"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/handlers"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "clinic-service")
	port, err := config.Port("PORT", "8082")
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

	petRepo := storage.NewPetRepository(pool)
	services := catalog.New(storage.NewServiceRepository(pool), config.Duration("CATALOG_CACHE_TTL", time.Minute))

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	handlers.NewPetHandler(petRepo, logger).Register(mux)
	handlers.NewServiceHandler(services, logger).Register(mux)
	handlers.NewRecordHandler(petRepo, storage.NewRecordRepository(pool), logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithIdentity,
		httpx.WithBodyLimit(64<<10),
	)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: otelhttp.NewHandler(handler, "clinic"),
	}
	runtime.Serve(ctx, srv, logger)
}
