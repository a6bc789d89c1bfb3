// Package executor — ядро движка: идемпотентное выполнение шагов run'а.
//
// # Обзор
//
// Executor вызывается на каждую доставку сообщения {run_id, step_id}
// (из очереди или через callback /jobs/run-step) и решает, что с этим
// шагом делать. Очередь даёт at-least-once без порядка: дубликаты,
// параллельные доставки одного сообщения и повторы после падения —
// штатные ситуации, а не ошибки.
//
// Собственного планировщика у executor'а нет: одна доставка — один
// вызов Execute, который завершается (или возвращает ошибку) за
// ограниченное время, чтобы очередь могла безопасно редоставить.
// Вся конкурентность приходит снаружи.
//
// # Протокол
//
//  1. Short-circuit: run FAILED/CANCELED — немедленный возврат текущего
//     статуса, записи шагов не читаются и не пишутся. Кооперативная
//     отмена: каждый поздний дубликат для терминального run'а — дешёвый no-op.
//  2. Резолв определения шага + insert-or-fetch записи (run_id, step_id).
//  3. Шаг SUCCEEDED — немедленный возврат (защита от дубликатов,
//     чьи side effects уже завершились).
//  4. Шаг RUNNING — немедленный возврат (та же попытка выполняется
//     где-то ещё прямо сейчас).
//  5. Шаг BLOCKED/WAITING с преемником — бизнес-логика уже прошла,
//     не удался только enqueue следующего шага. Повторяем только enqueue.
//  6. Claim: условный UPDATE «attempt совпал и статус ∈ {PENDING, FAILED}»
//     с инкрементом attempt. 0 строк — claim проигран, перечитываем и
//     возвращаем текущий статус без выполнения бизнес-логики.
//  7. Выполнение замыкания. Ошибка шага фейлит весь run (run-level
//     failure терминален, step-level — нет).
//  8. Chain: сохранить исход durably, затем поставить преемника в
//     очередь. Неудача enqueue — шаг и run BLOCKED, ошибка наружу,
//     redelivery сойдётся с фазой 5.
//
// Движок сам ничего не ретраит: redelivery очереди — единственный
// триггер повтора.
package executor
