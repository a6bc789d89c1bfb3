package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одно сквозное выполнение многошагового workflow для проекта.
//
// Run создаётся когда пользователь (через API) запускает workflow
// определённого вида. Шаги выполняются строго по цепочке: каждый шаг
// ставит в очередь следующий только после того, как его собственный
// результат durably сохранён в БД.
//
// БД — единственный источник истины о прогрессе. Движок не держит
// состояние run'а в памяти между доставками сообщений.
type Run struct {
	// ID — уникальный идентификатор run. Неизменяем.
	ID uuid.UUID `json:"id"`

	// ProjectID — проект, которому принадлежит run. Неизменяем.
	ProjectID uuid.UUID `json:"project_id"`

	// Kind — вид workflow (research, implementation). Неизменяем.
	Kind RunKind `json:"kind"`

	// Status — текущий статус выполнения.
	// FAILED и CANCELED терминальны: после них claim шагов невозможен.
	Status Status `json:"status"`

	// Metadata — произвольные данные, заданные при создании.
	// Движок их не изменяет.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal возвращает true, если run завершён и шаги больше не выполняются.
func (r *Run) IsTerminal() bool {
	return r.Status.IsRunTerminal()
}
