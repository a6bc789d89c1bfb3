// Package worker потребляет доставки шагов и передаёт их движку.
//
// # Обзор
//
// Worker — stateless компонент системы, который:
//
//   - Получает сообщения {run_id, step_id} из очереди jobs.run-step
//   - Передаёт каждую доставку в executor.Execute
//   - Решает судьбу доставки: ack (обработана или не имеет смысла
//     повторять) либо nack с requeue (временная ошибка)
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди. Взаимное исключение обеспечивает не
// очередь, а claim шага в БД, поэтому дубликаты и параллельные
// доставки безопасны.
//
// # Судьба доставки
//
// Ошибки конфигурации (неизвестный шаг, несуществующий run, чужой
// origin) не чинятся повтором — такие доставки ack'аются с warning,
// иначе они зациклят redelivery. Падение шага и инфраструктурные
// ошибки — nack с requeue: после исчерпания попыток сообщение уходит
// в DLQ на уровне очереди.
//
// Worker-процесс дополнительно поднимает HTTP endpoint
// POST /jobs/run-step (см. internal/api) для доставки через callback.
package worker
