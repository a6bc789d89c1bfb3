package steps

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки реестра. Ошибки конфигурации — не ретраятся.
var (
	// ErrUnknownStep — шаг не найден в реестре.
	ErrUnknownStep = errors.New("unknown step")

	// ErrUnknownKind — для вида run не определена цепочка.
	ErrUnknownKind = errors.New("unknown run kind")

	// ErrDuplicateStep — шаг определён дважды в одной цепочке.
	ErrDuplicateStep = errors.New("duplicate step in chain")
)

// StepFunc — замыкание с бизнес-логикой шага.
// Возвращает outputs, которые сохраняются на записи шага.
type StepFunc func(ctx context.Context, runID, projectID string) (map[string]any, error)

// NextFunc — резолвер следующего шага. Пустая строка — преемника нет.
type NextFunc func(kind domain.RunKind) string

// StepDefinition — определение одного шага workflow.
type StepDefinition struct {
	// ID — идентификатор шага (ключ реестра).
	ID string

	// Name — человекочитаемое имя (денормализуется в запись шага).
	Name string

	// Kind — вид шага (денормализуется в запись шага).
	Kind string

	// Next возвращает следующий шаг для данного вида run.
	// Заполняется при сборке реестра из порядка цепочки.
	Next NextFunc

	// Run — бизнес-логика шага.
	Run StepFunc
}

// Registry — неизменяемый реестр шагов.
//
// Собирается один раз при старте процесса и дальше только читается,
// поэтому без мьютекса. Передаётся в executor по ссылке.
type Registry struct {
	defs  map[string]StepDefinition
	first map[domain.RunKind]string
}

// BuildRegistry собирает реестр из линейных цепочек по видам run.
//
// Next каждого определения вычисляется из порядка шагов в цепочке.
// Шаг может входить в несколько цепочек (с разными преемниками), но
// Name/Kind/Run берутся из первого вхождения.
func BuildRegistry(chains map[domain.RunKind][]StepDefinition) (*Registry, error) {
	defs := make(map[string]StepDefinition)
	first := make(map[domain.RunKind]string)
	// next[stepID][kind] — преемник шага в цепочке вида kind
	next := make(map[string]map[domain.RunKind]string)

	for kind, chain := range chains {
		if len(chain) == 0 {
			return nil, fmt.Errorf("empty chain for kind %s", kind)
		}
		first[kind] = chain[0].ID

		seen := make(map[string]bool)
		for i, def := range chain {
			if seen[def.ID] {
				return nil, fmt.Errorf("%w: %s in %s chain", ErrDuplicateStep, def.ID, kind)
			}
			seen[def.ID] = true

			if _, exists := defs[def.ID]; !exists {
				defs[def.ID] = def
			}

			if next[def.ID] == nil {
				next[def.ID] = make(map[domain.RunKind]string)
			}
			if i+1 < len(chain) {
				next[def.ID][kind] = chain[i+1].ID
			}
		}
	}

	// Привязываем вычисленные резолверы.
	for id, def := range defs {
		successors := next[id]
		def.Next = func(kind domain.RunKind) string {
			return successors[kind]
		}
		defs[id] = def
	}

	return &Registry{defs: defs, first: first}, nil
}

// Get возвращает определение шага.
// Неизвестный шаг — ошибка конфигурации, не ретраится.
func (r *Registry) Get(stepID string) (StepDefinition, error) {
	def, ok := r.defs[stepID]
	if !ok {
		return StepDefinition{}, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	return def, nil
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(stepID string) bool {
	_, ok := r.defs[stepID]
	return ok
}

// First возвращает первый шаг цепочки для вида run.
func (r *Registry) First(kind domain.RunKind) (string, error) {
	id, ok := r.first[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return id, nil
}

// IDs возвращает отсортированный список всех шагов реестра.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	return len(r.defs)
}
