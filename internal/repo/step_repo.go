package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// StepRepo — репозиторий для работы с run_steps.
//
// Таблица run_steps держит уникальный индекс по (run_id, step_id):
// одновременные первые доставки одного шага сходятся к одной строке
// через insert-or-fetch (CreateOrGet), а взаимное исключение при
// выполнении обеспечивает условный UPDATE по attempt (Claim).
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

const stepColumns = `
	id, run_id, step_id, step_name, step_kind, status, attempt,
	started_at, ended_at, error, inputs, outputs, created_at, updated_at
`

// CreateOrGet идемпотентно создаёт запись шага.
//
// INSERT с ON CONFLICT DO NOTHING: при конфликте уникальности по
// (run_id, step_id) строка не вставляется и не возвращается — тогда
// читаем существующую. Параллельные создания сходятся к одной строке
// без ошибки.
func (r *StepRepo) CreateOrGet(ctx context.Context, step *domain.RunStep) (*domain.RunStep, error) {
	inputsJSON, err := json.Marshal(step.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO run_steps (id, run_id, step_id, step_name, step_kind, status, attempt, inputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, now(), now())
		ON CONFLICT (run_id, step_id) DO NOTHING
		RETURNING ` + stepColumns

	created, err := scanStep(r.pool.QueryRow(ctx, query,
		step.ID,
		step.RunID,
		step.StepID,
		step.StepName,
		step.StepKind,
		step.Status,
		inputsJSON,
	))
	if errors.Is(err, ErrNotFound) {
		// Конфликт — строка уже существует, читаем её.
		return r.GetByRunAndStepID(ctx, step.RunID, step.StepID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert run step: %w", err)
	}
	return created, nil
}

// GetByRunAndStepID возвращает шаг по run_id и step_id.
func (r *StepRepo) GetByRunAndStepID(ctx context.Context, runID uuid.UUID, stepID string) (*domain.RunStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM run_steps
		WHERE run_id = $1 AND step_id = $2
	`
	return scanStep(r.pool.QueryRow(ctx, query, runID, stepID))
}

// ListByRunID возвращает все шаги run'а.
func (r *StepRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.RunStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM run_steps
		WHERE run_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.RunStep
	for rows.Next() {
		step, err := scanStepFromRows(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// Claim — условный захват шага на выполнение.
//
// Единственный примитив конкурентности движка: compare-and-swap,
// выраженный как UPDATE с предикатом по наблюдавшемуся attempt и
// допустимым статусам. Затронуто 0 строк — claim выиграл кто-то другой
// (или состояние ушло вперёд); возвращается ErrClaimConflict, бизнес-логика
// не выполняется.
func (r *StepRepo) Claim(ctx context.Context, runID uuid.UUID, stepID string, observedAttempt int) (*domain.RunStep, error) {
	query := `
		UPDATE run_steps
		SET status = $4,
		    attempt = attempt + 1,
		    started_at = COALESCE(started_at, now()),
		    updated_at = now()
		WHERE run_id = $1 AND step_id = $2 AND attempt = $3
		  AND status IN ($5, $6)
		RETURNING ` + stepColumns

	step, err := scanStep(r.pool.QueryRow(ctx, query,
		runID,
		stepID,
		observedAttempt,
		domain.StatusRunning,
		domain.StatusPending,
		domain.StatusFailed,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrClaimConflict
	}
	if err != nil {
		return nil, fmt.Errorf("claim run step: %w", err)
	}
	return step, nil
}

// Update безусловно обновляет мутабельные поля шага.
func (r *StepRepo) Update(ctx context.Context, step *domain.RunStep) error {
	outputsJSON, err := json.Marshal(step.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	errorJSON, err := marshalStepError(step.Error)
	if err != nil {
		return err
	}

	query := `
		UPDATE run_steps
		SET status = $2, attempt = $3, started_at = $4, ended_at = $5,
		    error = $6, outputs = $7, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		step.ID,
		step.Status,
		step.Attempt,
		step.StartedAt,
		step.EndedAt,
		errorJSON,
		outputsJSON,
	)
	if err != nil {
		return fmt.Errorf("update run step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func marshalStepError(stepErr *domain.StepError) ([]byte, error) {
	if stepErr == nil {
		return nil, nil
	}
	b, err := json.Marshal(stepErr)
	if err != nil {
		return nil, fmt.Errorf("marshal step error: %w", err)
	}
	return b, nil
}

func scanStep(row pgx.Row) (*domain.RunStep, error) {
	var step domain.RunStep
	var errorJSON, inputsJSON, outputsJSON []byte

	err := row.Scan(
		&step.ID,
		&step.RunID,
		&step.StepID,
		&step.StepName,
		&step.StepKind,
		&step.Status,
		&step.Attempt,
		&step.StartedAt,
		&step.EndedAt,
		&errorJSON,
		&inputsJSON,
		&outputsJSON,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run step: %w", err)
	}

	if err := unmarshalStepJSON(&step, errorJSON, inputsJSON, outputsJSON); err != nil {
		return nil, err
	}
	return &step, nil
}

func scanStepFromRows(rows pgx.Rows) (*domain.RunStep, error) {
	var step domain.RunStep
	var errorJSON, inputsJSON, outputsJSON []byte

	err := rows.Scan(
		&step.ID,
		&step.RunID,
		&step.StepID,
		&step.StepName,
		&step.StepKind,
		&step.Status,
		&step.Attempt,
		&step.StartedAt,
		&step.EndedAt,
		&errorJSON,
		&inputsJSON,
		&outputsJSON,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run step: %w", err)
	}

	if err := unmarshalStepJSON(&step, errorJSON, inputsJSON, outputsJSON); err != nil {
		return nil, err
	}
	return &step, nil
}

func unmarshalStepJSON(step *domain.RunStep, errorJSON, inputsJSON, outputsJSON []byte) error {
	if errorJSON != nil {
		step.Error = &domain.StepError{}
		if err := json.Unmarshal(errorJSON, step.Error); err != nil {
			return fmt.Errorf("unmarshal step error: %w", err)
		}
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &step.Inputs); err != nil {
			return fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &step.Outputs); err != nil {
			return fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	return nil
}
