// Package audit ведёт журнал событий безопасности и проведённых операций:
// отклонённые уведомления шлюза, повторные доставки, завершения событий.
// Записи уходят в хранилище асинхронно через Worker и только после
// фиксации транзакции.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Типы записей
const (
	TypeCallbackApplied      = "gateway.callback_applied"
	TypeCallbackDuplicate    = "gateway.callback_duplicate"
	TypeCallbackBadSignature = "gateway.callback_bad_signature"
	TypeCallbackRejected     = "gateway.callback_rejected"
	TypeEventFinished        = "event.finished"
	TypeBalanceMismatch      = "ledger.balance_mismatch"
	TypeOperatorAuthFailed   = "operator.auth_failed"
)

// Event: одна запись аудита.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"event_type"`
	Data      any               `json:"event_data,omitempty"`
	Metadata  map[string]string `json:"event_metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Option настраивает запись при создании.
type Option func(*Event)

func WithType(t string) Option {
	return func(e *Event) { e.Type = t }
}

func WithData(data any) Option {
	return func(e *Event) { e.Data = data }
}

// WithMeta добавляет одно поле метаданных.
func WithMeta(key, value string) Option {
	return func(e *Event) { e.Metadata[key] = value }
}

// NewEvent создаёт запись с новым UUID и текущим временем.
func NewEvent(opts ...Option) Event {
	e := Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Sink сохраняет записи.
type Sink interface {
	SaveAuditEvent(ctx context.Context, e Event) error
}

// Logger принимает записи от сервисов. Реализуется Worker.
type Logger interface {
	Log(e Event)
}

// Discard: Logger, который ничего не пишет.
type Discard struct{}

func (Discard) Log(Event) {}
