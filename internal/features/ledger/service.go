// Package ledger: service.go проводит операции. Каждая операция атомарна:
// документы, запись журнала и балансы пишутся в одной транзакции.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Service: движок проведения операций.
type Service struct {
	store         Store
	tx            common.Transactor
	associationID int64 // системный счёт ассоциации
	now           func() time.Time
}

// NewService создаёт движок. associationID: счёт ассоциации из конфигурации.
func NewService(store Store, tx common.Transactor, associationID int64) *Service {
	return &Service{
		store:         store,
		tx:            tx,
		associationID: associationID,
		now:           time.Now,
	}
}

// AssociationID возвращает системный счёт ассоциации.
func (s *Service) AssociationID() int64 { return s.associationID }

// Lock блокирует счета в порядке возрастания ID внутри транзакции ctx.
// Нужен, когда одна транзакция проводит несколько операций.
func (s *Service) Lock(ctx context.Context, accountIDs ...int64) error {
	_, err := s.store.LockAccounts(ctx, accountIDs...)
	return err
}

// RechargeRequest: пополнение счёта документами.
type RechargeRequest struct {
	AccountID   int64
	OperatorID  int64
	Instruments []*Instrument
	Wording     string
	Date        time.Time
}

// Recharge записывает документы и пополнение на их сумму.
func (s *Service) Recharge(ctx context.Context, req RechargeRequest) (*Movement, error) {
	m := &Movement{
		Category:    CategoryRecharging,
		SenderID:    req.AccountID,
		RecipientID: s.associationID,
		OperatorID:  req.OperatorID,
		Date:        s.dateOr(req.Date),
		Wording:     req.Wording,
		Instruments: req.Instruments,
	}
	s.fillInstruments(m)
	m.Amount = m.InstrumentsTotal().Neg()
	if len(m.Instruments) == 0 {
		return nil, common.ErrReconciliation
	}

	if err := s.Settle(ctx, m); err != nil {
		return nil, err
	}
	s.logApplied(m)
	return m, nil
}

// TransferRequest: перевод между участниками.
type TransferRequest struct {
	SenderID      int64
	RecipientID   int64
	OperatorID    int64
	Amount        money.Money
	Date          time.Time
	Justification string
}

// Transfer списывает Amount у отправителя и зачисляет получателю.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	m := &Movement{
		Category:      CategoryTransfer,
		Amount:        req.Amount,
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		OperatorID:    req.OperatorID,
		Date:          s.dateOr(req.Date),
		Justification: req.Justification,
	}
	if err := s.Settle(ctx, m); err != nil {
		return nil, err
	}
	s.logApplied(m)
	return m, nil
}

// ExceptionalRequest: ручная корректировка баланса.
type ExceptionalRequest struct {
	OperatorID    int64
	AccountID     int64
	Credit        bool // true: зачислить, false: списать
	Amount        money.Money
	Date          time.Time
	Justification string
}

// ExceptionalMovement корректирует баланс участника за счёт ассоциации.
func (s *Service) ExceptionalMovement(ctx context.Context, req ExceptionalRequest) (*Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	amount := req.Amount
	if req.Credit {
		amount = amount.Neg()
	}
	m := &Movement{
		Category:      CategoryExceptional,
		Amount:        amount,
		SenderID:      req.AccountID,
		RecipientID:   s.associationID,
		OperatorID:    req.OperatorID,
		Date:          s.dateOr(req.Date),
		Justification: req.Justification,
	}
	if err := s.Settle(ctx, m); err != nil {
		return nil, err
	}
	s.logApplied(m)
	return m, nil
}

// SaleRequest: продажа участнику.
type SaleRequest struct {
	SenderID    int64
	OperatorID  int64
	Amount      money.Money
	Wording     string
	Lines       []SaleLine
	Instruments []*Instrument // оплата вне баланса, если есть
	Date        time.Time
}

// Sale списывает сумму продажи с баланса покупателя. Если переданы
// документы, они должны покрывать сумму ровно: тогда в той же транзакции
// проводится связанное пополнение, и баланс покупателя не меняется.
// Перерасход разрешён, баланс может стать отрицательным.
func (s *Service) Sale(ctx context.Context, req SaleRequest) (*Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	date := s.dateOr(req.Date)
	sale := &Movement{
		Category:    CategorySale,
		Amount:      req.Amount,
		SenderID:    req.SenderID,
		RecipientID: s.associationID,
		OperatorID:  req.OperatorID,
		Date:        date,
		Wording:     req.Wording,
		Lines:       req.Lines,
	}
	if err := sale.Validate(); err != nil {
		return nil, err
	}

	var funding *Movement
	if len(req.Instruments) > 0 {
		funding = &Movement{
			Category:    CategoryRecharging,
			SenderID:    req.SenderID,
			RecipientID: s.associationID,
			OperatorID:  req.OperatorID,
			Date:        date,
			Wording:     req.Wording,
			Instruments: req.Instruments,
		}
		s.fillInstruments(funding)
		if !funding.InstrumentsTotal().Equal(req.Amount) {
			return nil, common.ErrReconciliation
		}
		funding.Amount = req.Amount.Neg()
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if funding != nil {
			if err := s.Settle(ctx, funding); err != nil {
				return err
			}
			sale.LinkedID = &funding.ID
		}
		return s.Settle(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	s.logApplied(sale)
	return sale, nil
}

// Settle проверяет операцию, сохраняет её документы, саму операцию
// и применяет её к балансам. Внутри чужой транзакции (события, шлюз)
// выполняется в ней же.
//
// Транзакция может повторяться после конфликта, поэтому каждая попытка
// заново сохраняет все документы: ID от откатившейся попытки сбрасываются.
func (s *Service) Settle(ctx context.Context, m *Movement) error {
	if m.Date.IsZero() {
		m.Date = s.now()
	}
	s.fillInstruments(m)
	if err := m.Validate(); err != nil {
		return err
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m.ID = 0
		for _, in := range m.Instruments {
			in.ID = 0
			in.MovementID = 0
		}

		if _, err := s.store.LockAccounts(ctx, m.SenderID, m.RecipientID); err != nil {
			return err
		}
		for _, in := range m.Instruments {
			if err := s.store.InsertInstrument(ctx, in); err != nil {
				return err
			}
		}
		m.Done = true
		if err := s.store.InsertMovement(ctx, m); err != nil {
			return err
		}
		return s.apply(ctx, m)
	})
}

// Stage сохраняет операцию без проведения: баланс не меняется до Commit.
// Пополнения так не проводятся, у отложенной операции нет документов.
func (s *Service) Stage(ctx context.Context, m *Movement) (*Movement, error) {
	if m.Category == CategoryRecharging || len(m.Instruments) > 0 {
		return nil, fmt.Errorf("%w: отложенная операция без документов", common.ErrInvalidInstrument)
	}
	if m.Date.IsZero() {
		m.Date = s.now()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockAccounts(ctx, m.SenderID, m.RecipientID); err != nil {
			return err
		}
		m.Done = false
		return s.store.InsertMovement(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"movement_id": m.ID,
		"category":    m.Category,
		"amount":      m.Amount.String(),
	}).Info("Операция отложена")
	return m, nil
}

// Commit проводит отложенную операцию.
func (s *Service) Commit(ctx context.Context, id int64) (*Movement, error) {
	var m *Movement
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetMovement(ctx, id, true)
		if err != nil {
			return err
		}
		if m.Done {
			return common.ErrMovementDone
		}
		if _, err := s.store.LockAccounts(ctx, m.SenderID, m.RecipientID); err != nil {
			return err
		}
		if err := s.store.MarkMovementDone(ctx, id); err != nil {
			return err
		}
		m.Done = true
		return s.apply(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.logApplied(m)
	return m, nil
}

// Discard удаляет отложенную операцию. Проведённые операции не удаляются.
func (s *Service) Discard(ctx context.Context, id int64) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.store.GetMovement(ctx, id, true)
		if err != nil {
			return err
		}
		if m.Done {
			return common.ErrMovementDone
		}
		return s.store.DeleteMovement(ctx, id)
	})
}

// Get возвращает операцию с документами и строками.
func (s *Service) Get(ctx context.Context, id int64) (*Movement, error) {
	return s.store.GetMovement(ctx, id, false)
}

// Entry: строка выписки: операция, её влияние на счёт и баланс после неё.
type Entry struct {
	Movement     *Movement   `json:"movement"`
	Effect       money.Money `json:"effect"`
	BalanceAfter money.Money `json:"balance_after"`
}

// History возвращает последние limit операций счёта с нарастающим
// балансом. Баланс восстанавливается от текущего назад; отложенные
// операции показываются, но баланс не меняют.
func (s *Service) History(ctx context.Context, accountID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var entries []Entry
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		balances, err := s.store.LockAccounts(ctx, accountID)
		if err != nil {
			return err
		}
		list, err := s.store.ListMovements(ctx, accountID, limit)
		if err != nil {
			return err
		}

		balance := balances[accountID]
		entries = make([]Entry, 0, len(list))
		for _, m := range list {
			e := Entry{Movement: m, BalanceAfter: balance}
			if m.Done {
				e.Effect = m.EffectOn(accountID)
				balance = balance.Sub(e.Effect)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// FindGatewayPayment возвращает платёж шлюза и пополнение, к которому он
// привязан. Нет платежа: common.ErrInstrumentNotFound.
func (s *Service) FindGatewayPayment(ctx context.Context, externalID string) (*Instrument, *Movement, error) {
	in, err := s.store.FindGatewayInstrument(ctx, externalID)
	if err != nil {
		return nil, nil, err
	}
	if in.MovementID == 0 {
		return in, nil, nil
	}
	m, err := s.store.GetMovement(ctx, in.MovementID, false)
	if err != nil {
		return nil, nil, err
	}
	return in, m, nil
}

// MarkCashed отмечает документ инкассированным. Повторная отметка
// ничего не меняет.
func (s *Service) MarkCashed(ctx context.Context, instrumentID int64, at time.Time) (*Instrument, error) {
	if at.IsZero() {
		at = s.now()
	}
	var in *Instrument
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if in, err = s.store.GetInstrument(ctx, instrumentID, true); err != nil {
			return err
		}
		if !in.Kind.Cashable() {
			return fmt.Errorf("%w: %s не инкассируется", common.ErrInvalidInstrument, in.Kind)
		}
		if in.Cashed {
			return nil
		}
		if err := s.store.MarkInstrumentCashed(ctx, instrumentID, at); err != nil {
			return err
		}
		in.Cashed = true
		in.CashedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"instrument_id": in.ID,
		"kind":          in.Kind,
	}).Info("Документ инкассирован")
	return in, nil
}

// Mismatch: расхождение баланса с журналом.
type Mismatch struct {
	AccountID int64       `json:"account_id"`
	Balance   money.Money `json:"balance"`
	Ledger    money.Money `json:"ledger"`
}

// Audit пересчитывает каждый баланс по проведённым операциям.
// Возвращает расхождения и ErrBalanceMismatch, если они есть.
func (s *Service) Audit(ctx context.Context) ([]Mismatch, error) {
	var out []Mismatch
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		balances, err := s.store.AccountBalances(ctx)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(balances))
		for id := range balances {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		total := money.Zero
		for _, id := range ids {
			sum, err := s.store.SumDoneMovements(ctx, id)
			if err != nil {
				return err
			}
			if !sum.Equal(balances[id]) {
				out = append(out, Mismatch{AccountID: id, Balance: balances[id], Ledger: sum})
			}
			total = total.Add(balances[id])
		}
		if !total.IsZero() {
			// Сумма всех балансов обязана быть нулевой
			out = append(out, Mismatch{AccountID: 0, Balance: total, Ledger: money.Zero})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, fmt.Errorf("%w: %s", common.ErrBalanceMismatch,
			common.CountOf(int64(len(out)), "расхождение", "расхождения", "расхождений"))
	}
	return nil, nil
}

// apply меняет балансы сторон операции. Вызывается внутри транзакции.
func (s *Service) apply(ctx context.Context, m *Movement) error {
	if err := s.store.AdjustBalance(ctx, m.SenderID, m.Amount.Neg()); err != nil {
		return fmt.Errorf("ошибка списания: %w", err)
	}
	if err := s.store.AdjustBalance(ctx, m.RecipientID, m.Amount); err != nil {
		return fmt.Errorf("ошибка зачисления: %w", err)
	}
	return nil
}

// fillInstruments дописывает стороны и дату документам, где они не заданы.
func (s *Service) fillInstruments(m *Movement) {
	for _, in := range m.Instruments {
		if in.SenderID == 0 {
			in.SenderID = m.SenderID
		}
		if in.RecipientID == 0 {
			in.RecipientID = m.RecipientID
		}
		if in.IssuedAt.IsZero() {
			in.IssuedAt = m.Date
		}
	}
}

func (s *Service) dateOr(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func (s *Service) logApplied(m *Movement) {
	log.WithFields(log.Fields{
		"movement_id": m.ID,
		"category":    m.Category,
		"amount":      m.Amount.String(),
		"sender":      m.SenderID,
		"recipient":   m.RecipientID,
		"operator":    m.OperatorID,
	}).Info("Операция проведена")
}
