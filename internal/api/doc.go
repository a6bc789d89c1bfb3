// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go     — Handler с DI (репозитории, publisher, executor, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (logging, recovery)
//   - response.go    — унифицированные JSON-ответы и обработка ошибок
//   - dto.go         — Data Transfer Objects (request/response)
//   - run_handler.go — обработчики для /projects/{id}/runs и /runs
//   - job_handler.go — callback /jobs/run-step (выполнение шага)
//
// API предоставляет REST endpoints для запуска и наблюдения runs.
// Callback /jobs/run-step регистрируется только в worker-процессе.
package api
