package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?project_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}

	// Парсим query параметры
	if projectIDStr := r.URL.Query().Get("project_id"); projectIDStr != "" {
		projectID, err := uuid.Parse(projectIDStr)
		if err != nil {
			BadRequest(w, "invalid project_id")
			return
		}
		filter.ProjectID = &projectID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.Status(status)
	}

	filter.Limit = parseIntOrDefault(r.URL.Query().Get("limit"), 50)
	filter.Offset = parseIntOrDefault(r.URL.Query().Get("offset"), 0)

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт новый run для проекта и ставит первый шаг в очередь.
// POST /api/v1/projects/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid project id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	kind, ok := domain.ParseRunKind(req.Kind)
	if !ok {
		BadRequest(w, "unknown run kind: "+req.Kind)
		return
	}

	// Первый шаг цепочки известен до создания run.
	firstStep, err := h.registry.First(kind)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := &domain.Run{
		ID:        uuid.New(),
		ProjectID: projectID,
		Kind:      kind,
		Status:    domain.StatusPending,
		Metadata:  req.Metadata,
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Ставим первый шаг в очередь. Пустой origin: запрос внутренний,
	// сверять его не с чем.
	if h.publisher != nil {
		if err := h.publisher.EnqueueRunStep(r.Context(), "", run.ID, firstStep); err != nil {
			h.logger.Warn("failed to enqueue first step",
				"run_id", run.ID,
				"step_id", firstStep,
				"error", err,
			)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
//
// Отмена кооперативная: статус становится CANCELED, и каждая
// последующая доставка шагов этого run'а завершится no-op'ом.
// Уже выполняющийся шаг не прерывается.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsTerminal() {
		InvalidState(w, "run is already finished")
		return
	}

	if err := h.runRepo.UpdateStatus(r.Context(), id, domain.StatusCanceled); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	run.Status = domain.StatusCanceled
	Success(w, RunFromDomain(*run))
}

// ListRunSteps возвращает записи шагов run.
// GET /api/v1/runs/{id}/steps
func (h *Handler) ListRunSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	_, err = h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	runSteps, err := h.stepRepo.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StepResponse, len(runSteps))
	for i, s := range runSteps {
		result[i] = StepFromDomain(s)
	}

	List(w, result, len(result))
}

// parseIntOrDefault парсит строку в int с дефолтным значением.
func parseIntOrDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
