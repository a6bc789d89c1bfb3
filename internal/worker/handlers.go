package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/steps"
)

// handleRunStep обрабатывает одно сообщение из очереди jobs.run-step.
//
// Возврат nil — ack, возврат ошибки — nack с requeue (см. mq.Consumer).
func (w *Worker) handleRunStep(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunStepPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse run-step payload", "error", err)
		// Некорректный payload повтором не чинится
		return nil
	}
	if payload.RunID == uuid.Nil || payload.StepID == "" {
		w.logger.Error("run-step payload missing run_id or step_id",
			"message_id", delivery.Message.ID,
		)
		return nil
	}

	// Адрес доставки из заголовка сверяется с конфигурацией publisher'а
	// при постановке преемника в очередь.
	origin := headerString(delivery, "x-target-url")

	w.logger.Debug("received run-step delivery",
		"run_id", payload.RunID,
		"step_id", payload.StepID,
	)

	result, err := w.executor.Execute(ctx, payload.RunID, payload.StepID, origin)
	if err != nil {
		// Ошибки конфигурации повтором не чинятся — ack с warning.
		if errors.Is(err, executor.ErrRunNotFound) ||
			errors.Is(err, steps.ErrUnknownStep) ||
			errors.Is(err, mq.ErrOriginMismatch) {
			w.logger.Warn("run-step delivery dropped",
				"run_id", payload.RunID,
				"step_id", payload.StepID,
				"reason", err,
			)
			return nil
		}

		// Падение шага или инфраструктуры — nack, очередь редоставит.
		w.logger.Error("failed to execute step",
			"run_id", payload.RunID,
			"step_id", payload.StepID,
			"error", err,
		)
		return err
	}

	w.logger.Debug("run-step delivery processed",
		"run_id", result.RunID,
		"step_id", result.StepID,
		"status", result.Status,
		"next_step_id", result.NextStepID,
	)
	return nil
}

// headerString достаёт строковый заголовок из AMQP сообщения.
func headerString(delivery *mq.Delivery, key string) string {
	if delivery.Raw.Headers == nil {
		return ""
	}
	if v, ok := delivery.Raw.Headers[key].(string); ok {
		return v
	}
	return ""
}
