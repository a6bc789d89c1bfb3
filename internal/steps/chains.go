package steps

import (
	"context"
	"errors"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrNoRunner — у процесса нет Runner'а; шаги в нём не выполняются
// (API-процесс резолвит цепочки, но не исполняет бизнес-логику).
var ErrNoRunner = errors.New("no step runner configured")

// Runner выполняет бизнес-логику шагов. Реализация живёт вне движка
// (LLM-вызовы, песочница, создание PR — внешние коллабораторы).
type Runner interface {
	RunStep(ctx context.Context, stepID, runID, projectID string) (map[string]any, error)
}

// RunnerFunc — адаптер функции к интерфейсу Runner.
type RunnerFunc func(ctx context.Context, stepID, runID, projectID string) (map[string]any, error)

// RunStep реализует Runner.
func (f RunnerFunc) RunStep(ctx context.Context, stepID, runID, projectID string) (map[string]any, error) {
	return f(ctx, stepID, runID, projectID)
}

// DefaultRegistry собирает реестр со встроенными цепочками.
//
// Цепочки:
//
//	research:       plan → gather → summarize → report
//	implementation: plan → apply → verify → publish
//
// Шаг plan общий для обоих видов — его преемник зависит от вида run'а.
// runner может быть nil (процесс без исполнения шагов): замыкания тогда
// возвращают ErrNoRunner.
func DefaultRegistry(runner Runner) (*Registry, error) {
	return BuildRegistry(map[domain.RunKind][]StepDefinition{
		domain.RunKindResearch: {
			step("plan", "Plan", "analysis", runner),
			step("gather", "Gather sources", "analysis", runner),
			step("summarize", "Summarize findings", "synthesis", runner),
			step("report", "Write report", "synthesis", runner),
		},
		domain.RunKindImplementation: {
			step("plan", "Plan", "analysis", runner),
			step("apply", "Apply changes", "mutation", runner),
			step("verify", "Verify changes", "validation", runner),
			step("publish", "Publish result", "delivery", runner),
		},
	})
}

// step создаёт определение с делегированием в Runner.
func step(id, name, kind string, runner Runner) StepDefinition {
	return StepDefinition{
		ID:   id,
		Name: name,
		Kind: kind,
		Run: func(ctx context.Context, runID, projectID string) (map[string]any, error) {
			if runner == nil {
				return nil, ErrNoRunner
			}
			return runner.RunStep(ctx, id, runID, projectID)
		},
	}
}
