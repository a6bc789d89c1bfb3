package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/steps"
)

type fakeExecutor struct {
	result *executor.Result
	err    error

	gotRunID  uuid.UUID
	gotStepID string
	gotOrigin string
	calls     int
}

func (f *fakeExecutor) Execute(_ context.Context, runID uuid.UUID, stepID, origin string) (*executor.Result, error) {
	f.calls++
	f.gotRunID = runID
	f.gotStepID = stepID
	f.gotOrigin = origin
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func runStepDelivery(runID uuid.UUID, stepID string, headers amqp.Table) *mq.Delivery {
	return &mq.Delivery{
		Message: mq.Message{
			ID:      uuid.New().String(),
			Type:    mq.MessageTypeRunStep,
			Payload: mq.RunStepPayload{RunID: runID, StepID: stepID},
		},
		Raw: amqp.Delivery{Headers: headers},
	}
}

func TestHandleRunStep_Success(t *testing.T) {
	runID := uuid.New()
	exec := &fakeExecutor{
		result: &executor.Result{RunID: runID, StepID: "plan", Status: domain.StatusSucceeded},
	}
	w := New(Config{Executor: exec})

	delivery := runStepDelivery(runID, "plan", amqp.Table{
		"x-target-url": "http://worker:8081/jobs/run-step",
	})

	if err := w.handleRunStep(context.Background(), delivery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.gotRunID != runID || exec.gotStepID != "plan" {
		t.Errorf("payload not passed through: run_id=%s step_id=%s", exec.gotRunID, exec.gotStepID)
	}
	if exec.gotOrigin != "http://worker:8081/jobs/run-step" {
		t.Errorf("x-target-url header should become origin, got %q", exec.gotOrigin)
	}
}

func TestHandleRunStep_NoHeaders(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{Status: domain.StatusSucceeded}}
	w := New(Config{Executor: exec})

	if err := w.handleRunStep(context.Background(), runStepDelivery(uuid.New(), "plan", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.gotOrigin != "" {
		t.Errorf("missing header should give empty origin, got %q", exec.gotOrigin)
	}
}

func TestHandleRunStep_ConfigErrorsAcked(t *testing.T) {
	configErrs := []error{
		fmt.Errorf("%w: %s", executor.ErrRunNotFound, uuid.New()),
		fmt.Errorf("%w: bogus", steps.ErrUnknownStep),
		fmt.Errorf("%w: stale", mq.ErrOriginMismatch),
	}

	for _, cause := range configErrs {
		exec := &fakeExecutor{err: cause}
		w := New(Config{Executor: exec})

		err := w.handleRunStep(context.Background(), runStepDelivery(uuid.New(), "plan", nil))
		if err != nil {
			t.Errorf("config error %v should be acked, got %v", cause, err)
		}
	}
}

func TestHandleRunStep_TransientErrorNacked(t *testing.T) {
	cause := errors.New("step blew up")
	exec := &fakeExecutor{err: cause}
	w := New(Config{Executor: exec})

	err := w.handleRunStep(context.Background(), runStepDelivery(uuid.New(), "plan", nil))
	if !errors.Is(err, cause) {
		t.Fatalf("transient error should propagate for nack, got %v", err)
	}
}

func TestHandleRunStep_MalformedPayloadAcked(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{}}
	w := New(Config{Executor: exec})

	// Missing run_id and step_id.
	delivery := &mq.Delivery{
		Message: mq.Message{
			ID:      uuid.New().String(),
			Type:    mq.MessageTypeRunStep,
			Payload: map[string]any{},
		},
	}

	if err := w.handleRunStep(context.Background(), delivery); err != nil {
		t.Fatalf("malformed payload should be acked, got %v", err)
	}
	if exec.calls != 0 {
		t.Error("executor must not run for a malformed payload")
	}
}
