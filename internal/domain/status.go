package domain

// Status — статус выполнения run или шага.
//
// Домен значений общий для обоих уровней, интерпретация разная.
//
// Жизненный цикл run:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ BLOCKED (enqueue следующего шага не удался)
//	                  ↘ FAILED
//	          (или) → CANCELED (внешняя операция)
//
// Жизненный цикл шага:
//
//	PENDING → RUNNING → WAITING → SUCCEEDED
//	                            ↘ BLOCKED (→ SUCCEEDED после повторного enqueue)
//	                  ↘ SUCCEEDED (последний шаг цепочки)
//	                  ↘ FAILED (→ RUNNING через новый claim)
type Status string

const (
	// StatusPending — создан, выполнение ещё не начиналось.
	StatusPending Status = "PENDING"

	// StatusRunning — выполняется.
	StatusRunning Status = "RUNNING"

	// StatusWaiting — бизнес-логика шага завершена, следующий шаг ещё не поставлен в очередь.
	StatusWaiting Status = "WAITING"

	// StatusBlocked — постановка следующего шага в очередь не удалась.
	// Восстанавливается повторной доставкой того же сообщения.
	StatusBlocked Status = "BLOCKED"

	// StatusSucceeded — успешно завершён.
	StatusSucceeded Status = "SUCCEEDED"

	// StatusFailed — завершён с ошибкой.
	StatusFailed Status = "FAILED"

	// StatusCanceled — отменён извне.
	StatusCanceled Status = "CANCELED"
)

// IsRunTerminal возвращает true, если run в этом статусе больше не выполняется.
// После FAILED или CANCELED ни один шаг run'а не может получить claim.
func (s Status) IsRunTerminal() bool {
	switch s {
	case StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление статуса.
func (s Status) String() string {
	return string(s)
}

// RunKind — вид workflow.
//
// Определяет цепочку шагов: реестр резолвит следующий шаг по виду run'а.
type RunKind string

const (
	// RunKindResearch — исследовательский workflow.
	RunKindResearch RunKind = "research"

	// RunKindImplementation — workflow внесения изменений.
	RunKindImplementation RunKind = "implementation"
)

// ParseRunKind парсит строку в RunKind.
// Возвращает false, если вид неизвестен.
func ParseRunKind(s string) (RunKind, bool) {
	switch RunKind(s) {
	case RunKindResearch:
		return RunKindResearch, true
	case RunKindImplementation:
		return RunKindImplementation, true
	default:
		return "", false
	}
}
