package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAgentTimeout = 10 * time.Minute

// ErrAgentRequest — ошибка вызова агент-сервиса.
var ErrAgentRequest = errors.New("agent request failed")

// AgentRunner выполняет шаги через внешний агент-сервис.
//
// На каждый шаг отправляется POST {AgentBaseURL}/v1/steps/{step_id}
// с телом {run_id, project_id}; тело ответа (JSON-объект) становится
// outputs шага. Не-2xx ответ — ошибка шага.
//
// Вызовы долгие (шаг может включать LLM-работу), поэтому таймаут
// измеряется минутами, а не секундами.
type AgentRunner struct {
	baseURL string
	client  *http.Client
}

// AgentConfig — конфигурация AgentRunner.
type AgentConfig struct {
	// BaseURL — базовый URL агент-сервиса (обязательно).
	BaseURL string

	// Timeout — таймаут одного вызова (default: 10m).
	Timeout time.Duration
}

// NewAgentRunner создаёт новый AgentRunner.
func NewAgentRunner(cfg AgentConfig) (*AgentRunner, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrAgentRequest)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}

	return &AgentRunner{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// agentStepRequest — тело запроса к агент-сервису.
type agentStepRequest struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
}

// RunStep реализует Runner.
func (a *AgentRunner) RunStep(ctx context.Context, stepID, runID, projectID string) (map[string]any, error) {
	body, err := json.Marshal(agentStepRequest{RunID: runID, ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrAgentRequest, err)
	}

	url := a.baseURL + "/v1/steps/" + stepID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrAgentRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrAgentRequest, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAgentRequest, resp.StatusCode, truncate(string(respBody), 200))
	}

	var outputs map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &outputs); err != nil {
			return nil, fmt.Errorf("%w: unmarshal outputs: %v", ErrAgentRequest, err)
		}
	}

	return outputs, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
