package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepError — нормализованная ошибка выполнения шага.
//
// Любая ошибка (из бизнес-логики или из enqueue) сводится к {message}
// и сохраняется на шаге как есть; оригинальная ошибка при этом
// пробрасывается вызывающему без изменений.
type StepError struct {
	Message string `json:"message"`
}

// NormalizeError приводит произвольную ошибку к StepError.
func NormalizeError(err error) *StepError {
	if err == nil {
		return nil
	}
	return &StepError{Message: err.Error()}
}

// RunStep — запись о выполнении одного шага внутри run.
//
// Создаётся лениво при первой попытке выполнения (insert-or-fetch по
// уникальной паре run_id+step_id), никогда не удаляется и мутируется
// на месте в течение жизни run'а.
//
// Attempt — токен оптимистической конкурентности: claim шага — это
// условный UPDATE «attempt совпал и статус допускает выполнение»,
// единственный примитив взаимного исключения в системе.
type RunStep struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — родительский run.
	RunID uuid.UUID `json:"run_id"`

	// StepID — идентификатор шага из реестра.
	// Пара (RunID, StepID) уникальна.
	StepID string `json:"step_id"`

	// StepName — имя шага. Денормализовано из реестра при создании,
	// чтобы история оставалась читаемой даже после смены реестра.
	StepName string `json:"step_name"`

	// StepKind — вид шага (денормализован из реестра).
	StepKind string `json:"step_kind"`

	// Status — текущий статус шага (см. domain.Status).
	Status Status `json:"status"`

	// Attempt — номер попытки. Монотонно растёт при каждом claim.
	Attempt int `json:"attempt"`

	// StartedAt — время первого claim. Nil до первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время завершения бизнес-логики.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// Error — нормализованная ошибка последней неудачной попытки.
	Error *StepError `json:"error,omitempty"`

	// Inputs — входные данные шага.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Outputs — результаты успешного выполнения.
	Outputs map[string]any `json:"outputs,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность выполнения шага.
// Возвращает 0, если шаг ещё не завершён.
func (s *RunStep) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}
