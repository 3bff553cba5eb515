// Package accounts управляет счетами участников ассоциации.
// models.go описывает счёт и интерфейс хранилища.
package accounts

import (
	"context"
	"time"

	"borgia.ae/ledger/internal/money"
)

// Account: счёт участника или системный счёт ассоциации.
// Balance меняется только проведением операций в журнале.
type Account struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
	Balance   money.Money `json:"balance"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FullName возвращает "Имя Фамилия" или username, если имени нет.
func (a *Account) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	default:
		return a.Username
	}
}

// Store: хранилище счетов.
type Store interface {
	// CreateAccount сохраняет счёт с нулевым балансом и заполняет ID.
	CreateAccount(ctx context.Context, a *Account) error
	// GetAccount возвращает common.ErrAccountNotFound, если счёта нет.
	GetAccount(ctx context.Context, id int64) (*Account, error)
	// ListBelow возвращает активные счета с балансом строго ниже threshold.
	ListBelow(ctx context.Context, threshold money.Money) ([]*Account, error)
}
