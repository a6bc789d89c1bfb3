package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
)

// StepExecutor выполняет одну доставку {run_id, step_id}.
// Реализация: executor.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, runID uuid.UUID, stepID, origin string) (*executor.Result, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo   *repo.RunRepo
	stepRepo  *repo.StepRepo
	publisher *mq.Publisher
	registry  *steps.Registry
	executor  StepExecutor
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
//
// Executor нужен только worker-процессу (RegisterJobRoutes);
// API-процесс оставляет его nil.
type Config struct {
	RunRepo   *repo.RunRepo
	StepRepo  *repo.StepRepo
	Publisher *mq.Publisher
	Registry  *steps.Registry
	Executor  StepExecutor
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runRepo:   cfg.RunRepo,
		stepRepo:  cfg.StepRepo,
		publisher: cfg.Publisher,
		registry:  cfg.Registry,
		executor:  cfg.Executor,
		logger:    cfg.Logger,
	}
}
