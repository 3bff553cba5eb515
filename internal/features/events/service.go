// Package events: service.go содержит регистрацию участников и
// завершение события с раздачей долей через журнал операций.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

// Settler проводит операции журнала внутри транзакции события.
// Реализуется ledger.Service.
type Settler interface {
	Settle(ctx context.Context, m *ledger.Movement) error
	Lock(ctx context.Context, accountIDs ...int64) error
	AssociationID() int64
}

// BalanceReader читает текущий баланс. Реализуется accounts.Service.
type BalanceReader interface {
	Balance(ctx context.Context, accountID int64) (money.Money, error)
}

// Service управляет общими событиями.
type Service struct {
	store    Store
	tx       common.Transactor
	ledger   Settler
	balances BalanceReader
	audit    audit.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewService создаёт сервис событий. loc: часовой пояс ассоциации,
// в нём считается "сегодня" для сроков регистрации.
func NewService(store Store, tx common.Transactor, settler Settler, balances BalanceReader, auditLog audit.Logger, loc *time.Location) *Service {
	if auditLog == nil {
		auditLog = audit.Discard{}
	}
	return &Service{
		store:    store,
		tx:       tx,
		ledger:   settler,
		balances: balances,
		audit:    auditLog,
		loc:      loc,
		now:      time.Now,
	}
}

func (s *Service) today() time.Time { return common.Date(s.now(), s.loc) }

// CreateRequest: параметры нового события.
type CreateRequest struct {
	Description           string       `json:"description"`
	Date                  time.Time    `json:"date"`
	Price                 *money.Money `json:"price,omitempty"`
	PaymentByPonderation  bool         `json:"payment_by_ponderation"`
	Bills                 string       `json:"bills,omitempty"`
	ManagerID             int64        `json:"manager_id"`
	AllowSelfRegistration bool         `json:"allow_self_registration"`
	RegistrationDeadline  *time.Time   `json:"registration_deadline,omitempty"`
}

// Create заводит событие.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Event, error) {
	e := &Event{
		Description:           strings.TrimSpace(req.Description),
		Date:                  common.Date(req.Date, s.loc),
		Price:                 req.Price,
		PaymentByPonderation:  req.PaymentByPonderation,
		Bills:                 req.Bills,
		ManagerID:             req.ManagerID,
		AllowSelfRegistration: req.AllowSelfRegistration,
		RegistrationDeadline:  s.dateOrNil(req.RegistrationDeadline),
	}
	if req.Date.IsZero() {
		e.Date = s.today()
	}
	if err := s.validate(e, true); err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id": e.ID,
		"manager":  e.ManagerID,
	}).Info("Событие создано")
	return e, nil
}

// UpdateRequest: изменение открытого события. nil-поля не меняются.
type UpdateRequest struct {
	Description           *string      `json:"description,omitempty"`
	Date                  *time.Time   `json:"date,omitempty"`
	Price                 *money.Money `json:"price,omitempty"`
	PaymentByPonderation  *bool        `json:"payment_by_ponderation,omitempty"`
	Bills                 *string      `json:"bills,omitempty"`
	ManagerID             *int64       `json:"manager_id,omitempty"`
	AllowSelfRegistration *bool        `json:"allow_self_registration,omitempty"`
	RegistrationDeadline  *time.Time   `json:"registration_deadline,omitempty"`
	ClearDeadline         bool         `json:"clear_deadline,omitempty"`
}

// Update меняет описание, дату, цену, счета, менеджера и настройки
// регистрации, пока событие не завершено.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Event, error) {
	var e *Event
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = s.lockOpen(ctx, id); err != nil {
			return err
		}
		deadlineChanged := false
		if req.Description != nil {
			e.Description = strings.TrimSpace(*req.Description)
		}
		if req.Date != nil {
			e.Date = common.Date(*req.Date, s.loc)
		}
		if req.Price != nil {
			e.Price = req.Price
		}
		if req.PaymentByPonderation != nil {
			e.PaymentByPonderation = *req.PaymentByPonderation
		}
		if req.Bills != nil {
			e.Bills = *req.Bills
		}
		if req.ManagerID != nil {
			e.ManagerID = *req.ManagerID
		}
		if req.AllowSelfRegistration != nil {
			e.AllowSelfRegistration = *req.AllowSelfRegistration
		}
		if req.ClearDeadline {
			e.RegistrationDeadline = nil
		} else if req.RegistrationDeadline != nil {
			e.RegistrationDeadline = s.dateOrNil(req.RegistrationDeadline)
			deadlineChanged = true
		}
		if err := s.validate(e, deadlineChanged); err != nil {
			return err
		}
		return s.store.UpdateEvent(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get возвращает событие.
func (s *Service) Get(ctx context.Context, id int64) (*Event, error) {
	return s.store.GetEvent(ctx, id, false)
}

// ChangeWeight задаёт вес регистрации или участия. Вес 0 снимает
// участника, строка участия при этом сохраняется.
func (s *Service) ChangeWeight(ctx context.Context, eventID, accountID int64, weight int, participant bool) error {
	if weight < 0 {
		return common.ErrInvalidWeight
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockOpen(ctx, eventID); err != nil {
			return err
		}
		w, err := s.store.GetWeight(ctx, eventID, accountID)
		if err != nil {
			return err
		}
		w.EventID, w.AccountID = eventID, accountID
		w.Set(participant, weight)
		return s.store.SetWeight(ctx, w)
	})
}

// AddWeight прибавляет delta к весу. Итог не может стать отрицательным.
func (s *Service) AddWeight(ctx context.Context, eventID, accountID int64, delta int, participant bool) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockOpen(ctx, eventID); err != nil {
			return err
		}
		w, err := s.store.GetWeight(ctx, eventID, accountID)
		if err != nil {
			return err
		}
		next := w.Get(participant) + delta
		if next < 0 {
			return common.ErrInvalidWeight
		}
		w.EventID, w.AccountID = eventID, accountID
		w.Set(participant, next)
		return s.store.SetWeight(ctx, w)
	})
}

// RemoveUser обнуляет оба веса участника.
func (s *Service) RemoveUser(ctx context.Context, eventID, accountID int64) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockOpen(ctx, eventID); err != nil {
			return err
		}
		return s.store.SetWeight(ctx, Weight{EventID: eventID, AccountID: accountID})
	})
}

// SelfRegister записывает участника самого: событие должно разрешать
// самостоятельную регистрацию, а сегодня не может быть позже срока.
func (s *Service) SelfRegister(ctx context.Context, eventID, accountID int64, weight int) error {
	if weight < 0 {
		return common.ErrInvalidWeight
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.lockOpen(ctx, eventID)
		if err != nil {
			return err
		}
		if !e.AllowSelfRegistration {
			return common.ErrSelfRegistrationDisabled
		}
		if e.RegistrationDeadline != nil && s.today().After(*e.RegistrationDeadline) {
			return common.ErrRegistrationClosed
		}
		w, err := s.store.GetWeight(ctx, eventID, accountID)
		if err != nil {
			return err
		}
		w.EventID, w.AccountID = eventID, accountID
		w.Registration = weight
		return s.store.SetWeight(ctx, w)
	})
}

// Participants возвращает участников с весом участия > 0 и их ожидаемые доли.
func (s *Service) Participants(ctx context.Context, eventID int64) ([]Share, error) {
	e, weights, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]Share, 0, len(weights))
	for _, w := range weights {
		if w.Participation > 0 {
			out = append(out, Share{
				AccountID: w.AccountID,
				Weight:    w.Participation,
				Amount:    PriceOf(e, weights, w.AccountID),
			})
		}
	}
	return out, nil
}

// Registrants возвращает записавшихся с весом регистрации > 0.
func (s *Service) Registrants(ctx context.Context, eventID int64) ([]Weight, error) {
	_, weights, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]Weight, 0, len(weights))
	for _, w := range weights {
		if w.Registration > 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

// Summary возвращает суммарные веса и число участников.
func (s *Service) Summary(ctx context.Context, eventID int64) (Summary, error) {
	_, weights, err := s.load(ctx, eventID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(weights), nil
}

// FinishByTotal делит общую цену между участниками по весу и проводит
// по операции на каждого. Всё в одной транзакции: либо все операции
// и отметка о завершении, либо ничего.
func (s *Service) FinishByTotal(ctx context.Context, eventID, operatorID int64, total money.Money) ([]*ledger.Movement, error) {
	return s.finish(ctx, eventID, operatorID, total, false)
}

// FinishByUnitPrice списывает с каждого участника цену единицы,
// умноженную на его вес.
func (s *Service) FinishByUnitPrice(ctx context.Context, eventID, operatorID int64, unit money.Money) ([]*ledger.Movement, error) {
	return s.finish(ctx, eventID, operatorID, unit, true)
}

func (s *Service) finish(ctx context.Context, eventID, operatorID int64, price money.Money, byUnit bool) ([]*ledger.Movement, error) {
	if price.IsNegative() {
		return nil, common.ErrInvalidAmount
	}

	var (
		e         *Event
		movements []*ledger.Movement
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = s.lockOpen(ctx, eventID); err != nil {
			return err
		}
		weights, err := s.store.ListWeights(ctx, eventID)
		if err != nil {
			return err
		}

		var shares []Share
		if byUnit {
			shares, err = SplitByUnitPrice(price, weights)
		} else {
			shares, err = SplitByTotal(price, weights)
		}
		if err != nil {
			return err
		}

		// Все счета блокируются одним упорядоченным запросом до первой операции
		ids := make([]int64, 0, len(shares)+1)
		ids = append(ids, s.ledger.AssociationID())
		for _, sh := range shares {
			ids = append(ids, sh.AccountID)
		}
		if err := s.ledger.Lock(ctx, ids...); err != nil {
			return err
		}

		now := s.now()
		movements = make([]*ledger.Movement, 0, len(shares))
		for _, sh := range shares {
			if sh.Amount.IsZero() {
				continue
			}
			m := &ledger.Movement{
				Category:      ledger.CategorySharedEvent,
				Amount:        sh.Amount,
				SenderID:      sh.AccountID,
				RecipientID:   s.ledger.AssociationID(),
				OperatorID:    operatorID,
				Date:          now,
				Justification: e.Description,
				EventID:       &e.ID,
			}
			if err := s.ledger.Settle(ctx, m); err != nil {
				return fmt.Errorf("ошибка списания доли %d: %w", sh.AccountID, err)
			}
			movements = append(movements, m)
		}

		p := price
		e.Price = &p
		e.PaymentByPonderation = byUnit
		e.Done = true
		e.SettledAt = &now
		if byUnit {
			e.Remark = fmt.Sprintf("Оплата по весу (цена единицы: %s)", price)
		} else {
			e.Remark = fmt.Sprintf("Оплата по общей цене (%s)", price)
		}
		return s.store.UpdateEvent(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id":  eventID,
		"operator":  operatorID,
		"price":     price.String(),
		"by_unit":   byUnit,
		"movements": len(movements),
	}).Info("Событие завершено")
	s.audit.Log(audit.NewEvent(
		audit.WithType(audit.TypeEventFinished),
		audit.WithMeta("event_id", fmt.Sprint(eventID)),
		audit.WithMeta("operator_id", fmt.Sprint(operatorID)),
		audit.WithData(map[string]any{"price": price.String(), "by_unit": byUnit, "movements": len(movements)}),
	))
	return movements, nil
}

// FinishWithoutPayment завершает событие без списаний.
func (s *Service) FinishWithoutPayment(ctx context.Context, eventID, operatorID int64, remark string) (*Event, error) {
	var e *Event
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if e, err = s.lockOpen(ctx, eventID); err != nil {
			return err
		}
		now := s.now()
		zero := money.Zero
		e.Price = &zero
		e.Done = true
		e.SettledAt = &now
		e.Remark = "Без оплаты: " + strings.TrimSpace(remark)
		return s.store.UpdateEvent(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id": eventID,
		"operator": operatorID,
	}).Info("Событие завершено без оплаты")
	s.audit.Log(audit.NewEvent(
		audit.WithType(audit.TypeEventFinished),
		audit.WithMeta("event_id", fmt.Sprint(eventID)),
		audit.WithMeta("operator_id", fmt.Sprint(operatorID)),
		audit.WithData(map[string]any{"remark": e.Remark}),
	))
	return e, nil
}

// ForecastBalance возвращает баланс за вычетом ожидаемой цены всех
// незавершённых событий, где участвует счёт.
func (s *Service) ForecastBalance(ctx context.Context, accountID int64) (money.Money, error) {
	balance, err := s.balances.Balance(ctx, accountID)
	if err != nil {
		return money.Zero, err
	}
	open, err := s.store.OpenEventsOf(ctx, accountID)
	if err != nil {
		return money.Zero, err
	}
	for _, e := range open {
		weights, err := s.store.ListWeights(ctx, e.ID)
		if err != nil {
			return money.Zero, err
		}
		balance = balance.Sub(PriceOf(e, weights, accountID))
	}
	return balance, nil
}

func (s *Service) load(ctx context.Context, eventID int64) (*Event, []Weight, error) {
	e, err := s.store.GetEvent(ctx, eventID, false)
	if err != nil {
		return nil, nil, err
	}
	weights, err := s.store.ListWeights(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	return e, weights, nil
}

// lockOpen блокирует событие и проверяет, что оно не завершено.
func (s *Service) lockOpen(ctx context.Context, id int64) (*Event, error) {
	e, err := s.store.GetEvent(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if e.Done {
		return nil, common.ErrEventDone
	}
	return e, nil
}

// validate проверяет поля события. Срок регистрации должен быть позже
// сегодняшнего дня (проверяется только при его установке) и не позже
// даты события.
func (s *Service) validate(e *Event, checkDeadlineFuture bool) error {
	if e.Description == "" {
		return fmt.Errorf("%w: описание события не может быть пустым", common.ErrInvalidInput)
	}
	if e.Price != nil && e.Price.IsNegative() {
		return common.ErrInvalidAmount
	}
	if e.RegistrationDeadline != nil {
		if e.RegistrationDeadline.After(e.Date) {
			return common.ErrInvalidDeadline
		}
		if checkDeadlineFuture && !e.RegistrationDeadline.After(s.today()) {
			return fmt.Errorf("%w: срок регистрации уже прошёл", common.ErrInvalidDeadline)
		}
	}
	return nil
}

func (s *Service) dateOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := common.Date(*t, s.loc)
	return &d
}
