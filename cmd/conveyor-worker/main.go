// Conveyor Worker — выполняет шаги runs.
//
// Worker:
//   - Потребляет доставки {run_id, step_id} из очереди jobs.run-step
//   - Принимает те же доставки через POST /jobs/run-step
//   - Выполняет шаг через движок (claim → execute → persist → chain)
//   - Ставит следующий шаг цепочки в очередь
//
// Workers масштабируются горизонтально: взаимное исключение
// обеспечивает claim шага в БД, а не очередь.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	stepRepo := repo.NewStepRepo(pool)

	// RabbitMQ обязателен: worker без очереди не имеет источника работы.
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	publisher, err := mq.NewPublisher(mqConn, logger, mq.PublisherConfig{
		WorkerBaseURL: workerBaseURL(),
		Env:           os.Getenv("ENV"),
	})
	if err != nil {
		logger.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}

	// Runner: бизнес-логика шагов живёт в агент-сервисе.
	runner, err := steps.NewAgentRunner(steps.AgentConfig{BaseURL: agentBaseURL()})
	if err != nil {
		logger.Error("failed to create agent runner", "error", err)
		os.Exit(1)
	}

	registry, err := steps.DefaultRegistry(runner)
	if err != nil {
		logger.Error("failed to build step registry", "error", err)
		os.Exit(1)
	}

	// Движок
	exec := executor.New(executor.Config{
		Runs:      runRepo,
		Steps:     stepRepo,
		Publisher: publisher,
		Registry:  registry,
		Logger:    logger,
	})

	// Consumer очереди
	w := worker.New(worker.Config{
		Executor: exec,
		Conn:     mqConn,
		Logger:   logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz + /metrics + callback /jobs/run-step
	handler := api.NewHandler(api.Config{
		RunRepo:   runRepo,
		StepRepo:  stepRepo,
		Publisher: publisher,
		Registry:  registry,
		Executor:  exec,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterJobRoutes(mux)

	addr := ":8081"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Останавливаем worker, затем HTTP
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("conveyor-worker stopped")
}

// workerBaseURL возвращает базовый URL этого воркера (для callbacks очереди).
func workerBaseURL() string {
	if v := os.Getenv("WORKER_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8081"
}

// agentBaseURL возвращает URL агент-сервиса, исполняющего шаги.
func agentBaseURL() string {
	if v := os.Getenv("AGENT_URL"); v != "" {
		return v
	}
	return "http://localhost:9090"
}
