package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunStep MessageType = "run.step"
)

// Ошибки публикации. Ошибки конфигурации и origin — не ретраятся движком.
var (
	// ErrInvalidWorkerURL — сконфигурированный базовый URL воркера невалиден.
	ErrInvalidWorkerURL = errors.New("invalid worker base url")

	// ErrOriginMismatch — origin вызывающего не совпадает со сконфигурированным.
	ErrOriginMismatch = errors.New("origin mismatch")
)

// Publisher ставит шаги run'ов в очередь RabbitMQ.
//
// Callback-адрес следующей доставки всегда строится из сконфигурированного
// базового URL воркера, никогда из origin вызывающего: origin (если передан)
// только сверяется с конфигурацией. Это закрывает подмену адреса доставки
// устаревшим или вражеским origin'ом.
type Publisher struct {
	conn      *Connection
	logger    *slog.Logger
	workerURL *url.URL
}

// PublisherConfig — конфигурация Publisher.
type PublisherConfig struct {
	// WorkerBaseURL — базовый URL воркера, принимающего callbacks очереди.
	// Сообщения адресуются на {WorkerBaseURL}/jobs/run-step.
	WorkerBaseURL string

	// Env — окружение ("production" требует https в WorkerBaseURL).
	Env string
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger, cfg PublisherConfig) (*Publisher, error) {
	u, err := url.Parse(cfg.WorkerBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkerURL, cfg.WorkerBaseURL)
	}
	if cfg.Env == "production" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: https required in production, got %q", ErrInvalidWorkerURL, cfg.WorkerBaseURL)
	}

	return &Publisher{
		conn:      conn,
		logger:    logger,
		workerURL: u,
	}, nil
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunStepPayload — payload для задания на выполнение шага.
type RunStepPayload struct {
	RunID  uuid.UUID `json:"run_id"`
	StepID string    `json:"step_id"`
}

// EnqueueRunStep ставит шаг run'а в очередь.
//
// origin (если не пуст) сверяется с origin сконфигурированного URL воркера;
// несовпадение — ошибка конфигурации, доставка не публикуется. Ошибки
// пробрасываются вызывающему без изменений — никакого локального retry,
// redelivery остаётся за очередью.
func (p *Publisher) EnqueueRunStep(ctx context.Context, origin string, runID uuid.UUID, stepID string) error {
	if err := p.ValidateOrigin(origin); err != nil {
		return err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunStep,
		Payload:   RunStepPayload{RunID: runID, StepID: stepID},
		Timestamp: time.Now(),
	}

	return p.publish(ctx, ExchangeJobs, RoutingKeyRunStep, msg)
}

// ValidateOrigin сверяет origin вызывающего со сконфигурированным.
// Пустой origin допустим (внутренний вызов без callback-контекста).
func (p *Publisher) ValidateOrigin(origin string) error {
	if origin == "" {
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: unparseable origin %q", ErrOriginMismatch, origin)
	}

	if u.Scheme != p.workerURL.Scheme || u.Host != p.workerURL.Host {
		return fmt.Errorf("%w: %q does not match configured %q", ErrOriginMismatch, origin, p.workerURL.String())
	}

	return nil
}

// CallbackURL возвращает адрес воркера, на который адресуются сообщения.
func (p *Publisher) CallbackURL() string {
	return strings.TrimRight(p.workerURL.String(), "/") + "/jobs/run-step"
}

// publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Headers: amqp.Table{
					"x-target-url": p.CallbackURL(),
				},
				Body: body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}
