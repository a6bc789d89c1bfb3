package steps

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAgentRunner_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"summary": "done"})
	}))
	defer server.Close()

	runner, err := NewAgentRunner(AgentConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outputs, err := runner.RunStep(context.Background(), "summarize", "run-1", "project-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v1/steps/summarize" {
		t.Errorf("expected /v1/steps/summarize, got %s", gotPath)
	}
	if gotBody["run_id"] != "run-1" || gotBody["project_id"] != "project-1" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
	if outputs["summary"] != "done" {
		t.Errorf("response body should become outputs, got %v", outputs)
	}
}

func TestAgentRunner_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	runner, _ := NewAgentRunner(AgentConfig{BaseURL: server.URL})

	_, err := runner.RunStep(context.Background(), "plan", "run-1", "project-1")
	if !errors.Is(err, ErrAgentRequest) {
		t.Fatalf("expected ErrAgentRequest, got %v", err)
	}
}

func TestAgentRunner_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	runner, _ := NewAgentRunner(AgentConfig{BaseURL: server.URL})

	outputs, err := runner.RunStep(context.Background(), "plan", "run-1", "project-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outputs != nil {
		t.Errorf("empty body should give nil outputs, got %v", outputs)
	}
}

func TestNewAgentRunner_RequiresBaseURL(t *testing.T) {
	_, err := NewAgentRunner(AgentConfig{})
	if err == nil {
		t.Fatal("expected error for empty base url")
	}
}
