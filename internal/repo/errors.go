package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrClaimConflict — условный UPDATE не затронул ни одной строки:
	// claim выиграла параллельная доставка, либо состояние шага уже ушло вперёд.
	ErrClaimConflict = errors.New("claim conflict")
)
