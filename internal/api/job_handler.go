package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/steps"
)

// RunStep — callback выполнения шага.
// POST /jobs/run-step
//
// Вызывается на каждую доставку {run_id, step_id}. Ответ 2xx — доставка
// обработана (включая no-op'ы по идемпотентности); не-2xx — очередь
// редоставит сообщение. Ошибки конфигурации (неизвестный шаг,
// несуществующий run, чужой origin) получают 4xx, чтобы не зациклить
// redelivery.
func (h *Handler) RunStep(w http.ResponseWriter, r *http.Request) {
	var req RunStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RunID == uuid.Nil || req.StepID == "" {
		BadRequest(w, "run_id and step_id are required")
		return
	}

	origin := r.Header.Get("Origin")

	result, err := h.executor.Execute(r.Context(), req.RunID, req.StepID, origin)
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrRunNotFound):
			NotFound(w, err.Error())
		case errors.Is(err, steps.ErrUnknownStep):
			BadRequest(w, err.Error())
		case errors.Is(err, mq.ErrOriginMismatch):
			Forbidden(w, err.Error())
		default:
			// Падение шага или инфраструктуры: 500, очередь редоставит.
			InternalError(w, h.logger, err)
		}
		return
	}

	Success(w, RunStepResponse{
		RunID:      result.RunID,
		StepID:     result.StepID,
		Status:     string(result.Status),
		NextStepID: result.NextStepID,
	})
}
