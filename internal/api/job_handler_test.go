package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/steps"
)

type fakeStepExecutor struct {
	result *executor.Result
	err    error

	gotRunID  uuid.UUID
	gotStepID string
	gotOrigin string
}

func (f *fakeStepExecutor) Execute(_ context.Context, runID uuid.UUID, stepID, origin string) (*executor.Result, error) {
	f.gotRunID = runID
	f.gotStepID = stepID
	f.gotOrigin = origin
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newJobHandler(exec StepExecutor) *Handler {
	return NewHandler(Config{
		Executor: exec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func postRunStep(t *testing.T, h *Handler, body any, origin string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/run-step", reader)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()

	mux := http.NewServeMux()
	h.RegisterJobRoutes(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRunStep_Success(t *testing.T) {
	runID := uuid.New()
	exec := &fakeStepExecutor{
		result: &executor.Result{
			RunID:      runID,
			StepID:     "plan",
			Status:     domain.StatusSucceeded,
			NextStepID: "gather",
		},
	}
	h := newJobHandler(exec)

	rec := postRunStep(t, h, RunStepRequest{RunID: runID, StepID: "plan"}, "http://worker:8081")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if exec.gotRunID != runID || exec.gotStepID != "plan" {
		t.Errorf("executor got (%s, %s)", exec.gotRunID, exec.gotStepID)
	}
	if exec.gotOrigin != "http://worker:8081" {
		t.Errorf("Origin header should be passed through, got %q", exec.gotOrigin)
	}

	var resp struct {
		Data RunStepResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Status != "SUCCEEDED" || resp.Data.NextStepID != "gather" {
		t.Errorf("unexpected response: %+v", resp.Data)
	}
}

func TestRunStep_InvalidBody(t *testing.T) {
	h := newJobHandler(&fakeStepExecutor{})

	rec := postRunStep(t, h, "{not json", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRunStep_MissingFields(t *testing.T) {
	h := newJobHandler(&fakeStepExecutor{})

	rec := postRunStep(t, h, RunStepRequest{}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRunStep_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"run not found", fmt.Errorf("%w: x", executor.ErrRunNotFound), http.StatusNotFound},
		{"unknown step", fmt.Errorf("%w: bogus", steps.ErrUnknownStep), http.StatusBadRequest},
		{"origin mismatch", fmt.Errorf("%w: stale", mq.ErrOriginMismatch), http.StatusForbidden},
		{"step failure", errors.New("step blew up"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newJobHandler(&fakeStepExecutor{err: tc.err})

			rec := postRunStep(t, h, RunStepRequest{RunID: uuid.New(), StepID: "plan"}, "")
			if rec.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}
