// Package events управляет общими событиями: участники регистрируются
// с весом, а при завершении стоимость делится между ними по весам.
// models.go описывает событие, веса и интерфейс хранилища.
package events

import (
	"context"
	"time"

	"borgia.ae/ledger/internal/money"
)

// Event: общее событие (поездка, ужин), оплачиваемое несколькими участниками.
type Event struct {
	ID                    int64        `json:"id"`
	Description           string       `json:"description"`
	Date                  time.Time    `json:"date"`
	Price                 *money.Money `json:"price,omitempty"` // общая цена или цена за единицу веса
	PaymentByPonderation  bool         `json:"payment_by_ponderation"`
	Bills                 string       `json:"bills,omitempty"`
	ManagerID             int64        `json:"manager_id"`
	AllowSelfRegistration bool         `json:"allow_self_registration"`
	RegistrationDeadline  *time.Time   `json:"registration_deadline,omitempty"`
	Done                  bool         `json:"done"`
	Remark                string       `json:"remark,omitempty"`
	SettledAt             *time.Time   `json:"settled_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

// Weight: строка участия. Вес 0 означает "не участвует"; строки
// никогда не удаляются, чтобы сохранить историю.
type Weight struct {
	EventID       int64 `json:"event_id"`
	AccountID     int64 `json:"account_id"`
	Registration  int   `json:"registration"`  // предварительная запись
	Participation int   `json:"participation"` // фактическое участие
}

// Get возвращает нужный вес.
func (w Weight) Get(participant bool) int {
	if participant {
		return w.Participation
	}
	return w.Registration
}

// Set меняет нужный вес.
func (w *Weight) Set(participant bool, v int) {
	if participant {
		w.Participation = v
	} else {
		w.Registration = v
	}
}

// Summary: сводка по событию.
type Summary struct {
	TotalRegistration  int `json:"total_registration"`
	TotalParticipation int `json:"total_participation"`
	Registrants        int `json:"registrants"`
	Participants       int `json:"participants"`
}

// Summarize считает сводку по строкам участия.
func Summarize(weights []Weight) Summary {
	var s Summary
	for _, w := range weights {
		s.TotalRegistration += w.Registration
		s.TotalParticipation += w.Participation
		if w.Registration > 0 {
			s.Registrants++
		}
		if w.Participation > 0 {
			s.Participants++
		}
	}
	return s
}

// Store: хранилище событий.
type Store interface {
	CreateEvent(ctx context.Context, e *Event) error
	// GetEvent возвращает common.ErrEventNotFound; forUpdate блокирует строку.
	GetEvent(ctx context.Context, id int64, forUpdate bool) (*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
	// ListWeights возвращает все строки участия события по возрастанию account_id.
	ListWeights(ctx context.Context, eventID int64) ([]Weight, error)
	// GetWeight возвращает нулевые веса, если строки нет.
	GetWeight(ctx context.Context, eventID, accountID int64) (Weight, error)
	// SetWeight создаёт или обновляет строку участия.
	SetWeight(ctx context.Context, w Weight) error
	// OpenEventsOf возвращает незавершённые события, где у счёта есть участие.
	OpenEventsOf(ctx context.Context, accountID int64) ([]*Event, error)
}
