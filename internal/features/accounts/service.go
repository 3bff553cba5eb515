// Package accounts: service.go содержит создание счетов и запросы балансов.
package accounts

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Service управляет счетами.
type Service struct {
	store         Store
	threshold     money.Money // порог уведомления о низком балансе
	associationID int64       // системный счёт, в уведомления не попадает
}

// NewService создаёт сервис счетов.
func NewService(store Store, threshold money.Money, associationID int64) *Service {
	return &Service{store: store, threshold: threshold, associationID: associationID}
}

// Create заводит новый счёт с нулевым балансом.
func (s *Service) Create(ctx context.Context, username, firstName, lastName, email string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username не может быть пустым", common.ErrInvalidInput)
	}
	a := &Account{
		Username:  username,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     strings.TrimSpace(email),
		Balance:   money.Zero,
		IsActive:  true,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"account_id": a.ID,
		"username":   a.Username,
	}).Info("Счёт создан")
	return a, nil
}

// Get возвращает счёт по ID.
func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Balance возвращает текущий баланс счёта.
func (s *Service) Balance(ctx context.Context, id int64) (money.Money, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return money.Zero, err
	}
	return a.Balance, nil
}

// Threshold возвращает настроенный порог низкого баланса.
func (s *Service) Threshold() money.Money { return s.threshold }

// LowBalance возвращает счета с балансом строго ниже порога.
// Письма отправляет внешний планировщик, сам сервис ничего не шлёт.
// Системный счёт ассоциации исключается: его баланс отражает
// обязательства перед участниками и обычно отрицателен.
func (s *Service) LowBalance(ctx context.Context) ([]*Account, error) {
	list, err := s.store.ListBelow(ctx, s.threshold)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, a := range list {
		if a.ID != s.associationID {
			out = append(out, a)
		}
	}
	return out, nil
}
