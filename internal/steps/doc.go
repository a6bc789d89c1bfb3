// Package steps определяет реестр шагов — неизменяемое отображение
// идентификатора шага в его определение.
//
// # Обзор
//
// StepDefinition описывает один именованный шаг workflow:
//   - ID, Name, Kind — идентификация и денормализуемые атрибуты
//   - Next — резолвер следующего шага по виду run'а
//   - Run — замыкание с бизнес-логикой
//
// Реестр собирается один раз при старте процесса (BuildRegistry) и дальше
// только читается; он передаётся в executor по ссылке, глобального
// мутабельного состояния нет.
//
// # Цепочки
//
// Цепочки линейны: Next каждого шага вычисляется из порядка шагов в
// цепочке его вида. Один шаг может входить в цепочки разных видов с
// разными преемниками — поэтому Next принимает RunKind.
//
// Бизнес-логика внутри Run (LLM-вызовы, песочница, создание PR) живёт
// вне движка: цепочки строятся поверх Runner, который предоставляет
// вызывающий. Контракт замыкания: безопасно вызываться не более одного
// раза на успешный claim, не полагаться на собственный прошлый
// частичный вывод.
package steps
