// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — постановка шагов в очередь (EnqueueRunStep + проверка origin)
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.step — шаг run'а готов к выполнению
//
// Exchanges:
//   - conveyor.jobs — задания на выполнение шагов
//   - conveyor.dlq  — dead letter queue
//
// Очередь работает в режиме at-least-once без гарантий порядка:
// возможны дубликаты и параллельная доставка одного сообщения.
// Безопасность при этом обеспечивает executor, а не транспорт.
package mq
