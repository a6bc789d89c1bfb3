package executor

import "errors"

// Ошибки движка.
var (
	// ErrRunNotFound — run не существует. Ошибка вызывающего, не ретраится.
	ErrRunNotFound = errors.New("run not found")
)
