package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunStore — операции над runs, нужные движку.
// Реализация: repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) error
}

// StepStore — операции над записями шагов, нужные движку.
// Реализация: repo.StepRepo. Claim — единственная условная запись;
// все чтения обязаны видеть последний закоммиченный статус.
type StepStore interface {
	CreateOrGet(ctx context.Context, step *domain.RunStep) (*domain.RunStep, error)
	GetByRunAndStepID(ctx context.Context, runID uuid.UUID, stepID string) (*domain.RunStep, error)
	Claim(ctx context.Context, runID uuid.UUID, stepID string, observedAttempt int) (*domain.RunStep, error)
	Update(ctx context.Context, step *domain.RunStep) error
}

// Enqueuer — постановка следующего шага в очередь.
// Реализация: mq.Publisher.
type Enqueuer interface {
	EnqueueRunStep(ctx context.Context, origin string, runID uuid.UUID, stepID string) error
}

// Result — итог обработки одной доставки.
type Result struct {
	RunID  uuid.UUID
	StepID string

	// Status — статус, наблюдаемый вызывающим после обработки.
	Status domain.Status

	// NextStepID — преемник, поставленный в очередь (если был).
	NextStepID string
}

// Executor выполняет протокол claim → execute → persist → chain.
type Executor struct {
	runs      RunStore
	steps     StepStore
	publisher Enqueuer
	registry  *steps.Registry
	logger    *slog.Logger
}

// Config — конфигурация Executor.
type Config struct {
	Runs      RunStore
	Steps     StepStore
	Publisher Enqueuer
	Registry  *steps.Registry
	Logger    *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		runs:      cfg.Runs,
		steps:     cfg.Steps,
		publisher: cfg.Publisher,
		registry:  cfg.Registry,
		logger:    logger,
	}
}

// Execute обрабатывает одну доставку (runID, stepID).
//
// origin — origin вызвавшего callback'а; используется только для сверки
// при постановке преемника в очередь. Ошибки бизнес-логики и enqueue
// возвращаются без изменений, чтобы у очереди сработал сигнал
// неуспешной доставки.
func (e *Executor) Execute(ctx context.Context, runID uuid.UUID, stepID, origin string) (*Result, error) {
	logger := telemetry.WithStepID(telemetry.WithRunID(e.logger, runID.String()), stepID)

	// 1. Short-circuit: терминальный run выполняться не может.
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	if run.IsTerminal() {
		logger.Debug("run is terminal, skipping delivery", "run_status", run.Status)
		return &Result{RunID: runID, StepID: stepID, Status: run.Status}, nil
	}

	// 2. Определение шага + идемпотентная запись.
	def, err := e.registry.Get(stepID)
	if err != nil {
		return nil, err
	}

	step, err := e.steps.CreateOrGet(ctx, &domain.RunStep{
		ID:       uuid.New(),
		RunID:    runID,
		StepID:   stepID,
		StepName: def.Name,
		StepKind: def.Kind,
		Status:   domain.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create or get step: %w", err)
	}

	nextID := def.Next(run.Kind)

	// 3. Side effects уже завершились — дубликат доставки.
	if step.Status == domain.StatusSucceeded {
		logger.Debug("step already succeeded, skipping delivery")
		return &Result{RunID: runID, StepID: stepID, Status: domain.StatusSucceeded}, nil
	}

	// 4. Та же попытка выполняется где-то ещё прямо сейчас.
	if step.Status == domain.StatusRunning {
		logger.Debug("step already running, skipping delivery")
		return &Result{RunID: runID, StepID: stepID, Status: domain.StatusRunning}, nil
	}

	// 5. Бизнес-логика прошла, не удался только enqueue преемника.
	if (step.Status == domain.StatusBlocked || step.Status == domain.StatusWaiting) && nextID != "" {
		return e.resumeChain(ctx, logger, run, step, nextID, origin)
	}

	// 6. Claim: шаг eligible (PENDING или прошлый FAILED).
	if run.Status == domain.StatusPending {
		if err := e.runs.UpdateStatus(ctx, runID, domain.StatusRunning); err != nil {
			return nil, fmt.Errorf("update run to running: %w", err)
		}
	}

	claimed, err := e.steps.Claim(ctx, runID, stepID, step.Attempt)
	if err != nil {
		if errors.Is(err, repo.ErrClaimConflict) {
			return e.lostClaim(ctx, logger, runID, stepID)
		}
		return nil, fmt.Errorf("claim step: %w", err)
	}
	step = claimed
	telemetry.StepClaims.Inc()

	logger.Info("step claimed",
		"step_name", step.StepName,
		"attempt", step.Attempt,
	)

	// 7. Выполнение бизнес-логики под claim'ом.
	outputs, execErr := def.Run(ctx, runID.String(), run.ProjectID.String())
	now := time.Now()

	if execErr != nil {
		// Падение шага фейлит весь run; step-level retry после этого
		// недостижим через движок (short-circuit фазы 1).
		step.Status = domain.StatusFailed
		step.EndedAt = &now
		step.Error = domain.NormalizeError(execErr)
		if err := e.steps.Update(ctx, step); err != nil {
			logger.Error("failed to persist step failure", "error", err)
		}
		if err := e.runs.UpdateStatus(ctx, runID, domain.StatusFailed); err != nil {
			logger.Error("failed to persist run failure", "error", err)
		}

		telemetry.StepOutcomes.WithLabelValues(string(domain.StatusFailed)).Inc()
		telemetry.RunsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()
		logger.Warn("step failed",
			"attempt", step.Attempt,
			"error", execErr,
		)
		return nil, execErr
	}

	// Исход сохраняется durably до постановки преемника в очередь —
	// шаг N+1 не может попасть в очередь раньше, чем шаг N достиг
	// WAITING/SUCCEEDED.
	step.Outputs = outputs
	step.EndedAt = &now
	step.Error = nil
	if nextID != "" {
		step.Status = domain.StatusWaiting
	} else {
		step.Status = domain.StatusSucceeded
	}
	if err := e.steps.Update(ctx, step); err != nil {
		return nil, fmt.Errorf("persist step outcome: %w", err)
	}

	logger.Info("step executed",
		"step_name", step.StepName,
		"attempt", step.Attempt,
		"duration", step.Duration(),
	)

	// 8. Chain.
	if nextID != "" {
		if err := e.publisher.EnqueueRunStep(ctx, origin, runID, nextID); err != nil {
			return nil, e.blockChain(ctx, logger, step, nextID, err)
		}

		step.Status = domain.StatusSucceeded
		if err := e.steps.Update(ctx, step); err != nil {
			return nil, fmt.Errorf("persist step success: %w", err)
		}

		telemetry.StepOutcomes.WithLabelValues(string(domain.StatusSucceeded)).Inc()
		return &Result{RunID: runID, StepID: stepID, Status: domain.StatusSucceeded, NextStepID: nextID}, nil
	}

	// Последний шаг цепочки — run завершён.
	if err := e.runs.UpdateStatus(ctx, runID, domain.StatusSucceeded); err != nil {
		return nil, fmt.Errorf("update run to succeeded: %w", err)
	}

	telemetry.StepOutcomes.WithLabelValues(string(domain.StatusSucceeded)).Inc()
	telemetry.RunsFinished.WithLabelValues(string(domain.StatusSucceeded)).Inc()
	logger.Info("run succeeded")
	return &Result{RunID: runID, StepID: stepID, Status: domain.StatusSucceeded}, nil
}

// resumeChain повторяет только enqueue преемника (фаза 5).
// Бизнес-логика шага не перевыполняется; EndedAt сохраняется прежним.
func (e *Executor) resumeChain(ctx context.Context, logger *slog.Logger, run *domain.Run, step *domain.RunStep, nextID, origin string) (*Result, error) {
	logger.Info("resuming chain after enqueue failure", "next_step_id", nextID)

	if err := e.publisher.EnqueueRunStep(ctx, origin, run.ID, nextID); err != nil {
		return nil, e.blockStep(ctx, logger, step, nextID, err)
	}

	step.Status = domain.StatusSucceeded
	step.Error = nil
	if err := e.steps.Update(ctx, step); err != nil {
		return nil, fmt.Errorf("persist step success: %w", err)
	}

	if run.Status == domain.StatusBlocked {
		if err := e.runs.UpdateStatus(ctx, run.ID, domain.StatusRunning); err != nil {
			return nil, fmt.Errorf("update run to running: %w", err)
		}
	}

	telemetry.StepOutcomes.WithLabelValues(string(domain.StatusSucceeded)).Inc()
	return &Result{RunID: run.ID, StepID: step.StepID, Status: domain.StatusSucceeded, NextStepID: nextID}, nil
}

// lostClaim — claim выиграла параллельная доставка; перечитываем шаг и
// возвращаем его текущий статус, бизнес-логику не трогаем.
func (e *Executor) lostClaim(ctx context.Context, logger *slog.Logger, runID uuid.UUID, stepID string) (*Result, error) {
	telemetry.StepClaimConflicts.Inc()
	logger.Debug("claim lost to concurrent delivery")

	current, err := e.steps.GetByRunAndStepID(ctx, runID, stepID)
	if err != nil {
		return nil, fmt.Errorf("reread step after lost claim: %w", err)
	}

	status := current.Status
	if status == domain.StatusPending {
		// Гонка между нашим чтением и чужим claim'ом: для вызывающего
		// шаг уже выполняется.
		status = domain.StatusRunning
	}
	return &Result{RunID: runID, StepID: stepID, Status: status}, nil
}

// blockChain — enqueue преемника не удался после выполнения бизнес-логики:
// шаг и run помечаются BLOCKED, ошибка уходит наружу, redelivery
// сойдётся с resumeChain.
func (e *Executor) blockChain(ctx context.Context, logger *slog.Logger, step *domain.RunStep, nextID string, enqueueErr error) error {
	if err := e.runs.UpdateStatus(ctx, step.RunID, domain.StatusBlocked); err != nil {
		logger.Error("failed to persist run blocked", "error", err)
	}
	return e.blockStep(ctx, logger, step, nextID, enqueueErr)
}

// blockStep помечает шаг BLOCKED с нормализованной ошибкой enqueue
// и возвращает исходную ошибку без изменений.
func (e *Executor) blockStep(ctx context.Context, logger *slog.Logger, step *domain.RunStep, nextID string, enqueueErr error) error {
	step.Status = domain.StatusBlocked
	step.Error = domain.NormalizeError(enqueueErr)
	if err := e.steps.Update(ctx, step); err != nil {
		logger.Error("failed to persist step blocked", "error", err)
	}

	telemetry.EnqueueFailures.Inc()
	telemetry.StepOutcomes.WithLabelValues(string(domain.StatusBlocked)).Inc()
	logger.Warn("enqueue of successor failed",
		"next_step_id", nextID,
		"error", enqueueErr,
	)
	return enqueueErr
}
