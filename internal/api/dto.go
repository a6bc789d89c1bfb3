package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Kind     string         `json:"kind"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Kind:      string(r.Kind),
		Status:    string(r.Status),
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Step DTOs

// StepResponse — ответ с записью шага.
type StepResponse struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	StepID    string         `json:"step_id"`
	StepName  string         `json:"step_name"`
	StepKind  string         `json:"step_kind"`
	Status    string         `json:"status"`
	Attempt   int            `json:"attempt"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Error     string         `json:"error,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// StepFromDomain конвертирует domain.RunStep в StepResponse.
func StepFromDomain(s domain.RunStep) StepResponse {
	resp := StepResponse{
		ID:        s.ID,
		RunID:     s.RunID,
		StepID:    s.StepID,
		StepName:  s.StepName,
		StepKind:  s.StepKind,
		Status:    string(s.Status),
		Attempt:   s.Attempt,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Inputs:    s.Inputs,
		Outputs:   s.Outputs,
		CreatedAt: s.CreatedAt,
	}
	if s.Error != nil {
		resp.Error = s.Error.Message
	}
	return resp
}

// Job DTOs

// RunStepRequest — тело callback'а /jobs/run-step.
type RunStepRequest struct {
	RunID  uuid.UUID `json:"run_id"`
	StepID string    `json:"step_id"`
}

// RunStepResponse — результат обработки callback'а.
type RunStepResponse struct {
	RunID      uuid.UUID `json:"run_id"`
	StepID     string    `json:"step_id"`
	Status     string    `json:"status"`
	NextStepID string    `json:"next_step_id,omitempty"`
}
