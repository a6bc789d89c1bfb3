package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/steps"
)

// --- Fakes ---

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newFakeRunStore(runs ...*domain.Run) *fakeRunStore {
	s := &fakeRunStore{runs: make(map[uuid.UUID]*domain.Run)}
	for _, r := range runs {
		cp := *r
		s.runs[r.ID] = &cp
	}
	return s
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeRunStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	return nil
}

func (s *fakeRunStore) status(id uuid.UUID) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

type stepKey struct {
	runID  uuid.UUID
	stepID string
}

type fakeStepStore struct {
	mu    sync.Mutex
	steps map[stepKey]*domain.RunStep

	// afterCreateOrGet runs outside the lock, after the row is visible.
	// Used as a barrier in concurrency tests.
	afterCreateOrGet func()
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{steps: make(map[stepKey]*domain.RunStep)}
}

func (s *fakeStepStore) CreateOrGet(_ context.Context, step *domain.RunStep) (*domain.RunStep, error) {
	s.mu.Lock()
	key := stepKey{step.RunID, step.StepID}
	existing, ok := s.steps[key]
	if !ok {
		cp := *step
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
		s.steps[key] = &cp
		existing = &cp
	}
	out := *existing
	s.mu.Unlock()

	if s.afterCreateOrGet != nil {
		s.afterCreateOrGet()
	}
	return &out, nil
}

func (s *fakeStepStore) GetByRunAndStepID(_ context.Context, runID uuid.UUID, stepID string) (*domain.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepKey{runID, stepID}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

// Claim mirrors the conditional UPDATE: attempt must match and status
// must still permit execution, otherwise the claim is lost.
func (s *fakeStepStore) Claim(_ context.Context, runID uuid.UUID, stepID string, observedAttempt int) (*domain.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepKey{runID, stepID}]
	if !ok {
		return nil, repo.ErrClaimConflict
	}
	if step.Attempt != observedAttempt {
		return nil, repo.ErrClaimConflict
	}
	if step.Status != domain.StatusPending && step.Status != domain.StatusFailed {
		return nil, repo.ErrClaimConflict
	}

	step.Attempt++
	step.Status = domain.StatusRunning
	if step.StartedAt == nil {
		now := time.Now()
		step.StartedAt = &now
	}
	step.UpdatedAt = time.Now()
	cp := *step
	return &cp, nil
}

func (s *fakeStepStore) Update(_ context.Context, step *domain.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *step
	cp.UpdatedAt = time.Now()
	s.steps[stepKey{step.RunID, step.StepID}] = &cp
	return nil
}

func (s *fakeStepStore) get(runID uuid.UUID, stepID string) *domain.RunStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepKey{runID, stepID}]
	if !ok {
		return nil
	}
	cp := *step
	return &cp
}

func (s *fakeStepStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

type enqueueCall struct {
	origin string
	runID  uuid.UUID
	stepID string
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (f *fakeEnqueuer) EnqueueRunStep(_ context.Context, origin string, runID uuid.UUID, stepID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, enqueueCall{origin: origin, runID: runID, stepID: stepID})
	return nil
}

func (f *fakeEnqueuer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEnqueuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEnqueuer) lastCall() enqueueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// --- Helpers ---

func okStep(id string) steps.StepDefinition {
	return steps.StepDefinition{
		ID:   id,
		Name: id,
		Kind: "test",
		Run: func(_ context.Context, _, _ string) (map[string]any, error) {
			return map[string]any{"step": id}, nil
		},
	}
}

func testRegistry(t *testing.T, chain ...steps.StepDefinition) *steps.Registry {
	t.Helper()
	reg, err := steps.BuildRegistry(map[domain.RunKind][]steps.StepDefinition{
		domain.RunKindResearch: chain,
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func testRun(status domain.Status) *domain.Run {
	return &domain.Run{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Kind:      domain.RunKindResearch,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

type fixture struct {
	exec      *Executor
	runs      *fakeRunStore
	steps     *fakeStepStore
	publisher *fakeEnqueuer
}

func newFixture(t *testing.T, run *domain.Run, chain ...steps.StepDefinition) *fixture {
	t.Helper()
	f := &fixture{
		runs:      newFakeRunStore(run),
		steps:     newFakeStepStore(),
		publisher: &fakeEnqueuer{},
	}
	f.exec = New(Config{
		Runs:      f.runs,
		Steps:     f.steps,
		Publisher: f.publisher,
		Registry:  testRegistry(t, chain...),
	})
	return f
}

// --- Tests ---

func TestExecute_RunNotFound(t *testing.T) {
	f := newFixture(t, testRun(domain.StatusPending), okStep("plan"))

	_, err := f.exec.Execute(context.Background(), uuid.New(), "plan", "")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestExecute_UnknownStep(t *testing.T) {
	run := testRun(domain.StatusPending)
	f := newFixture(t, run, okStep("plan"))

	_, err := f.exec.Execute(context.Background(), run.ID, "nonexistent", "")
	if !errors.Is(err, steps.ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	if f.steps.count() != 0 {
		t.Error("no step row should be created for an unknown step")
	}
}

func TestExecute_TerminalRunShortCircuit(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusFailed, domain.StatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			run := testRun(status)
			executed := false
			def := okStep("plan")
			def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
				executed = true
				return nil, nil
			}
			f := newFixture(t, run, def)

			res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != status {
				t.Errorf("expected status %s, got %s", status, res.Status)
			}
			if executed {
				t.Error("business logic should not run for a terminal run")
			}
			// Short-circuit happens before the step row is created.
			if f.steps.count() != 0 {
				t.Error("no step row should be created for a terminal run")
			}
		})
	}
}

func TestExecute_SingleStepRunSucceeds(t *testing.T) {
	run := testRun(domain.StatusPending)
	f := newFixture(t, run, okStep("plan"))

	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.StatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", res.Status)
	}
	if res.NextStepID != "" {
		t.Errorf("last step should have no successor, got %q", res.NextStepID)
	}

	step := f.steps.get(run.ID, "plan")
	if step.Status != domain.StatusSucceeded {
		t.Errorf("expected step SUCCEEDED, got %s", step.Status)
	}
	if step.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", step.Attempt)
	}
	if step.StartedAt == nil || step.EndedAt == nil {
		t.Error("started_at and ended_at should be set")
	}
	if step.Outputs["step"] != "plan" {
		t.Error("outputs should be persisted")
	}
	if f.runs.status(run.ID) != domain.StatusSucceeded {
		t.Errorf("expected run SUCCEEDED, got %s", f.runs.status(run.ID))
	}
	if f.publisher.callCount() != 0 {
		t.Error("nothing should be enqueued after the last step")
	}
}

func TestExecute_ChainsSuccessor(t *testing.T) {
	run := testRun(domain.StatusPending)
	f := newFixture(t, run, okStep("plan"), okStep("gather"))

	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "http://worker.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.StatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", res.Status)
	}
	if res.NextStepID != "gather" {
		t.Errorf("expected next step gather, got %q", res.NextStepID)
	}

	if f.publisher.callCount() != 1 {
		t.Fatalf("expected 1 enqueue, got %d", f.publisher.callCount())
	}
	call := f.publisher.lastCall()
	if call.stepID != "gather" || call.runID != run.ID {
		t.Errorf("unexpected enqueue: %+v", call)
	}
	if call.origin != "http://worker.local" {
		t.Errorf("origin should be forwarded to enqueue, got %q", call.origin)
	}

	// Run moves PENDING → RUNNING and stays there mid-chain.
	if f.runs.status(run.ID) != domain.StatusRunning {
		t.Errorf("expected run RUNNING, got %s", f.runs.status(run.ID))
	}
	if f.steps.get(run.ID, "plan").Status != domain.StatusSucceeded {
		t.Error("step should be SUCCEEDED after successful enqueue")
	}
}

func TestExecute_StepFailureFailsRun(t *testing.T) {
	run := testRun(domain.StatusPending)
	stepErr := errors.New("upstream unavailable")
	def := okStep("plan")
	def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		return nil, stepErr
	}
	f := newFixture(t, run, def, okStep("gather"))

	_, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if !errors.Is(err, stepErr) {
		t.Fatalf("step error should propagate unchanged, got %v", err)
	}

	step := f.steps.get(run.ID, "plan")
	if step.Status != domain.StatusFailed {
		t.Errorf("expected step FAILED, got %s", step.Status)
	}
	if step.Error == nil || step.Error.Message != "upstream unavailable" {
		t.Errorf("expected normalized error, got %+v", step.Error)
	}
	if step.EndedAt == nil {
		t.Error("ended_at should be set on failure")
	}
	if f.runs.status(run.ID) != domain.StatusFailed {
		t.Errorf("run-level failure expected, got %s", f.runs.status(run.ID))
	}
	if f.publisher.callCount() != 0 {
		t.Error("successor must not be enqueued after a failure")
	}
}

func TestExecute_DuplicateAfterSuccess(t *testing.T) {
	run := testRun(domain.StatusPending)
	var executions atomic.Int32
	def := okStep("plan")
	def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		executions.Add(1)
		return nil, nil
	}
	f := newFixture(t, run, def, okStep("gather"))

	if _, err := f.exec.Execute(context.Background(), run.ID, "plan", ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Redelivery of the same message.
	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if res.Status != domain.StatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", res.Status)
	}
	if executions.Load() != 1 {
		t.Errorf("business logic must run exactly once, ran %d times", executions.Load())
	}
	if f.publisher.callCount() != 1 {
		t.Errorf("duplicate must not enqueue again, got %d enqueues", f.publisher.callCount())
	}
	if f.steps.get(run.ID, "plan").Attempt != 1 {
		t.Error("duplicate must not claim a new attempt")
	}
}

func TestExecute_RunningStepSkipped(t *testing.T) {
	run := testRun(domain.StatusRunning)
	var executions atomic.Int32
	def := okStep("plan")
	def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		executions.Add(1)
		return nil, nil
	}
	f := newFixture(t, run, def)

	// Another delivery holds the claim right now.
	f.steps.Update(context.Background(), &domain.RunStep{
		ID:      uuid.New(),
		RunID:   run.ID,
		StepID:  "plan",
		Status:  domain.StatusRunning,
		Attempt: 1,
	})

	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.StatusRunning {
		t.Errorf("expected RUNNING, got %s", res.Status)
	}
	if executions.Load() != 0 {
		t.Error("business logic must not run while another delivery holds the claim")
	}
}

func TestExecute_EnqueueFailureBlocks(t *testing.T) {
	run := testRun(domain.StatusPending)
	f := newFixture(t, run, okStep("plan"), okStep("gather"))

	enqueueErr := errors.New("broker unavailable")
	f.publisher.setErr(enqueueErr)

	_, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if !errors.Is(err, enqueueErr) {
		t.Fatalf("enqueue error should propagate unchanged, got %v", err)
	}

	step := f.steps.get(run.ID, "plan")
	if step.Status != domain.StatusBlocked {
		t.Errorf("expected step BLOCKED, got %s", step.Status)
	}
	if step.Error == nil || step.Error.Message != "broker unavailable" {
		t.Errorf("expected normalized enqueue error, got %+v", step.Error)
	}
	// Outputs from the completed business logic survive the block.
	if step.Outputs["step"] != "plan" {
		t.Error("outputs should remain persisted")
	}
	if f.runs.status(run.ID) != domain.StatusBlocked {
		t.Errorf("expected run BLOCKED, got %s", f.runs.status(run.ID))
	}
}

func TestExecute_ResumeAfterEnqueueFailure(t *testing.T) {
	run := testRun(domain.StatusPending)
	var executions atomic.Int32
	def := okStep("plan")
	def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		executions.Add(1)
		return map[string]any{"ok": true}, nil
	}
	f := newFixture(t, run, def, okStep("gather"))

	f.publisher.setErr(errors.New("broker unavailable"))
	if _, err := f.exec.Execute(context.Background(), run.ID, "plan", ""); err == nil {
		t.Fatal("first delivery should fail on enqueue")
	}

	// Broker is back; redelivery of the same message.
	f.publisher.setErr(nil)
	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Status != domain.StatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", res.Status)
	}
	if res.NextStepID != "gather" {
		t.Errorf("expected next step gather, got %q", res.NextStepID)
	}
	if executions.Load() != 1 {
		t.Errorf("recovery must not rerun business logic, ran %d times", executions.Load())
	}
	if f.publisher.callCount() != 1 {
		t.Fatalf("expected exactly 1 successful enqueue, got %d", f.publisher.callCount())
	}

	step := f.steps.get(run.ID, "plan")
	if step.Status != domain.StatusSucceeded {
		t.Errorf("expected step SUCCEEDED, got %s", step.Status)
	}
	if step.Error != nil {
		t.Errorf("error should be cleared after recovery, got %+v", step.Error)
	}
	if step.Attempt != 1 {
		t.Error("recovery must not claim a new attempt")
	}
	if f.runs.status(run.ID) != domain.StatusRunning {
		t.Errorf("run should return BLOCKED → RUNNING, got %s", f.runs.status(run.ID))
	}
}

func TestExecute_ConcurrentDeliveries_ExactlyOneExecution(t *testing.T) {
	run := testRun(domain.StatusPending)
	var executions atomic.Int32
	def := okStep("plan")
	def.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		executions.Add(1)
		return nil, nil
	}
	f := newFixture(t, run, def)

	// Barrier: both deliveries observe attempt 0 before either claims.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.steps.afterCreateOrGet = func() {
		barrier.Done()
		barrier.Wait()
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.exec.Execute(context.Background(), run.ID, "plan", "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("delivery %d: unexpected error: %v", i, err)
		}
	}
	if executions.Load() != 1 {
		t.Fatalf("business logic must run exactly once, ran %d times", executions.Load())
	}
	if f.steps.get(run.ID, "plan").Attempt != 1 {
		t.Error("exactly one claim should have succeeded")
	}
}

func TestExecute_LostClaimReportsRunning(t *testing.T) {
	run := testRun(domain.StatusRunning)
	f := newFixture(t, run, okStep("plan"))

	// Row exists at attempt 1 but the caller observed attempt 0:
	// the claim is lost even though the row shows PENDING again.
	f.steps.Update(context.Background(), &domain.RunStep{
		ID:      uuid.New(),
		RunID:   run.ID,
		StepID:  "plan",
		Status:  domain.StatusPending,
		Attempt: 1,
	})

	claimed := make(chan struct{})
	f.steps.afterCreateOrGet = func() {
		select {
		case <-claimed:
		default:
			// First observation: roll the row forward so the claim misses.
			f.steps.mu.Lock()
			f.steps.steps[stepKey{run.ID, "plan"}].Attempt = 2
			f.steps.mu.Unlock()
			close(claimed)
		}
	}

	res, err := f.exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Residual PENDING after a lost claim reads as RUNNING to the caller.
	if res.Status != domain.StatusRunning {
		t.Errorf("expected RUNNING, got %s", res.Status)
	}
}

func TestExecute_TwoStepRunEndToEnd(t *testing.T) {
	run := testRun(domain.StatusPending)
	f := newFixture(t, run, okStep("start"), okStep("complete"))

	// First delivery: start executes and chains complete.
	res, err := f.exec.Execute(context.Background(), run.ID, "start", "")
	if err != nil {
		t.Fatalf("start delivery: %v", err)
	}
	if res.Status != domain.StatusSucceeded || res.NextStepID != "complete" {
		t.Fatalf("unexpected start result: %+v", res)
	}
	if f.runs.status(run.ID) != domain.StatusRunning {
		t.Errorf("run should be RUNNING mid-chain, got %s", f.runs.status(run.ID))
	}
	if f.steps.get(run.ID, "start").Status != domain.StatusSucceeded {
		t.Error("start step should be SUCCEEDED")
	}

	// Second delivery: complete finishes the run.
	res, err = f.exec.Execute(context.Background(), run.ID, "complete", "")
	if err != nil {
		t.Fatalf("complete delivery: %v", err)
	}
	if res.Status != domain.StatusSucceeded || res.NextStepID != "" {
		t.Fatalf("unexpected complete result: %+v", res)
	}
	if f.runs.status(run.ID) != domain.StatusSucceeded {
		t.Errorf("run should be SUCCEEDED, got %s", f.runs.status(run.ID))
	}
}

func TestExecute_FailedRunShortCircuitsLaterSteps(t *testing.T) {
	run := testRun(domain.StatusPending)
	start := okStep("start")
	start.Run = func(_ context.Context, _, _ string) (map[string]any, error) {
		return nil, errors.New("x")
	}
	f := newFixture(t, run, start, okStep("complete"))

	if _, err := f.exec.Execute(context.Background(), run.ID, "start", ""); err == nil {
		t.Fatal("start delivery should fail")
	}
	if f.steps.get(run.ID, "start").Error.Message != "x" {
		t.Error("failure message should be persisted verbatim")
	}

	// Delivery for the successor arrives anyway: short-circuit, and the
	// complete step row is never created.
	res, err := f.exec.Execute(context.Background(), run.ID, "complete", "")
	if err != nil {
		t.Fatalf("complete delivery: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if f.steps.get(run.ID, "complete") != nil {
		t.Error("complete step row must not be created after run failure")
	}
}

func TestExecute_KindDependentSuccessor(t *testing.T) {
	shared := okStep("plan")
	reg, err := steps.BuildRegistry(map[domain.RunKind][]steps.StepDefinition{
		domain.RunKindResearch:       {shared, okStep("gather")},
		domain.RunKindImplementation: {shared, okStep("apply")},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	run := testRun(domain.StatusPending)
	run.Kind = domain.RunKindImplementation
	runs := newFakeRunStore(run)
	stepStore := newFakeStepStore()
	publisher := &fakeEnqueuer{}
	exec := New(Config{Runs: runs, Steps: stepStore, Publisher: publisher, Registry: reg})

	res, err := exec.Execute(context.Background(), run.ID, "plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextStepID != "apply" {
		t.Errorf("implementation chain should enqueue apply, got %q", res.NextStepID)
	}
}
