// Package telemetry — structured logging и метрики движка.
//
// Логирование: log/slog, формат и уровень задаются переменными окружения
// LOG_FORMAT (json|text) и LOG_LEVEL (DEBUG|INFO|WARN|ERROR).
//
// Метрики: prometheus counters жизненного цикла шагов (claims, исходы,
// ошибки enqueue) и завершений runs. Экспортируются через /metrics
// в каждом бинарнике.
package telemetry
