// Conveyor API — управляющий HTTP API.
//
// API-процесс:
//   - Создаёт runs и ставит их первый шаг в очередь
//   - Отдаёт состояние runs и их шагов (БД — источник истины)
//   - Отменяет runs (кооперативно, через статус CANCELED)
//
// Бизнес-логику шагов API не исполняет — это делает conveyor-worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_api_http_requests_total",
		Help: "Total HTTP requests handled by conveyor-api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	stepRepo := repo.NewStepRepo(pool)

	// RabbitMQ: без него API отдаёт состояние, но не может запускать runs.
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs cannot be started", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher, err = mq.NewPublisher(mqConn, logger, mq.PublisherConfig{
			WorkerBaseURL: workerBaseURL(),
			Env:           os.Getenv("ENV"),
		})
		if err != nil {
			logger.Error("failed to create publisher", "error", err)
			os.Exit(1)
		}
	}

	// Реестр без Runner'а: API резолвит первый шаг цепочки, но не исполняет.
	registry, err := steps.DefaultRegistry(nil)
	if err != nil {
		logger.Error("failed to build step registry", "error", err)
		os.Exit(1)
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		RunRepo:   runRepo,
		StepRepo:  stepRepo,
		Publisher: publisher,
		Registry:  registry,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// workerBaseURL возвращает базовый URL воркера для адресации callbacks.
func workerBaseURL() string {
	if v := os.Getenv("WORKER_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8081"
}
