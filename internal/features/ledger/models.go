// Package ledger ведёт журнал денежных операций ассоциации.
// models.go описывает операции, платёжные документы и их проверки.
//
// Знаки: операция уменьшает баланс отправителя на Amount и увеличивает
// баланс получателя на Amount. Отсюда баланс счёта равен сумме операций,
// где он получатель, минус сумма операций, где он отправитель, а сумма
// всех балансов всегда равна нулю.
package ledger

import (
	"fmt"
	"regexp"
	"time"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Category: закрытое перечисление видов операций.
type Category string

const (
	CategorySale        Category = "sale"                 // продажа
	CategoryRecharging  Category = "recharging"           // пополнение счёта
	CategoryTransfer    Category = "transfert"            // перевод между участниками
	CategoryExceptional Category = "exceptional_movement" // ручная корректировка
	CategorySharedEvent Category = "shared_event"         // оплата общего события
)

// ParseCategory проверяет строку из БД или запроса.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	switch c {
	case CategorySale, CategoryRecharging, CategoryTransfer, CategoryExceptional, CategorySharedEvent:
		return c, nil
	default:
		return "", fmt.Errorf("%w: неизвестная категория операции %q", common.ErrInvalidInput, s)
	}
}

// Label возвращает название категории для выписки.
func (c Category) Label() string {
	switch c {
	case CategorySale:
		return "Продажа"
	case CategoryRecharging:
		return "Пополнение"
	case CategoryTransfer:
		return "Перевод"
	case CategoryExceptional:
		return "Корректировка"
	case CategorySharedEvent:
		return "Общее событие"
	default:
		return string(c)
	}
}

// InstrumentKind: способ оплаты.
type InstrumentKind string

const (
	KindCash      InstrumentKind = "cash"
	KindCheque    InstrumentKind = "cheque"
	KindBankDebit InstrumentKind = "bank_debit"
	KindGateway   InstrumentKind = "gateway"
)

// ParseInstrumentKind проверяет строку из БД или запроса.
func ParseInstrumentKind(s string) (InstrumentKind, error) {
	k := InstrumentKind(s)
	switch k {
	case KindCash, KindCheque, KindBankDebit, KindGateway:
		return k, nil
	default:
		return "", fmt.Errorf("%w: неизвестный способ оплаты %q", common.ErrInvalidInput, s)
	}
}

// Cashable сообщает, можно ли отметить документ как инкассированный.
func (k InstrumentKind) Cashable() bool {
	switch k {
	case KindCash, KindCheque, KindGateway:
		return true
	case KindBankDebit:
		return false
	default:
		return false
	}
}

var chequeNumberRe = regexp.MustCompile(`^[0-9]{7}$`)

// Instrument: один платёжный документ: наличные, чек, банковское
// списание или платёж через шлюз. После привязки к операции не меняется
// и никогда не удаляется, кроме отметки об инкассации.
type Instrument struct {
	ID           int64          `json:"id"`
	Kind         InstrumentKind `json:"kind"`
	Amount       money.Money    `json:"amount"`
	SenderID     int64          `json:"sender_id"`
	RecipientID  int64          `json:"recipient_id"`
	IssuedAt     time.Time      `json:"issued_at"`
	ExternalID   string         `json:"external_id,omitempty"`   // обязателен и уникален для gateway
	ChequeNumber string         `json:"cheque_number,omitempty"` // только cheque
	Bank         string         `json:"bank,omitempty"`
	Online       bool           `json:"online,omitempty"` // gateway: оплата онлайн или на месте
	Fee          money.Money    `json:"fee"`              // удержанная шлюзом комиссия
	Cashed       bool           `json:"cashed"`
	CashedAt     *time.Time     `json:"cashed_at,omitempty"`
	MovementID   int64          `json:"movement_id,omitempty"`
}

// Validate проверяет документ до записи.
func (i *Instrument) Validate() error {
	if _, err := ParseInstrumentKind(string(i.Kind)); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInstrument, err)
	}
	if !i.Amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if i.Fee.IsNegative() {
		return fmt.Errorf("%w: отрицательная комиссия", common.ErrInvalidInstrument)
	}
	switch i.Kind {
	case KindCheque:
		if !chequeNumberRe.MatchString(i.ChequeNumber) {
			return common.ErrInvalidChequeNumber
		}
	case KindGateway:
		if i.ExternalID == "" {
			return fmt.Errorf("%w: нет внешнего идентификатора платежа", common.ErrInvalidInstrument)
		}
	case KindCash, KindBankDebit:
	}
	if i.Cashed && !i.Kind.Cashable() {
		return fmt.Errorf("%w: %s не инкассируется", common.ErrInvalidInstrument, i.Kind)
	}
	return nil
}

// SaleLine: строка продажи.
type SaleLine struct {
	Product   string      `json:"product"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
}

// Total возвращает Quantity * UnitPrice.
func (l SaleLine) Total() money.Money { return l.UnitPrice.MulInt(l.Quantity) }

// Movement: запись журнала.
type Movement struct {
	ID            int64         `json:"id"`
	Category      Category      `json:"category"`
	Amount        money.Money   `json:"amount"`
	SenderID      int64         `json:"sender_id"`
	RecipientID   int64         `json:"recipient_id"`
	OperatorID    int64         `json:"operator_id"`
	Date          time.Time     `json:"date"`
	Done          bool          `json:"done"`
	Wording       string        `json:"wording,omitempty"`
	Justification string        `json:"justification,omitempty"`
	EventID       *int64        `json:"event_id,omitempty"`
	LinkedID      *int64        `json:"linked_id,omitempty"` // пополнение, оплатившее продажу
	Instruments   []*Instrument `json:"instruments,omitempty"`
	Lines         []SaleLine    `json:"lines,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// EffectOn возвращает изменение баланса accountID от этой операции.
func (m *Movement) EffectOn(accountID int64) money.Money {
	d := money.Zero
	if m.SenderID == accountID {
		d = d.Sub(m.Amount)
	}
	if m.RecipientID == accountID {
		d = d.Add(m.Amount)
	}
	return d
}

// InstrumentsTotal: сумма привязанных документов.
func (m *Movement) InstrumentsTotal() money.Money {
	total := money.Zero
	for _, in := range m.Instruments {
		total = total.Add(in.Amount)
	}
	return total
}

// Validate проверяет правила категории.
func (m *Movement) Validate() error {
	if m.SenderID == m.RecipientID {
		return common.ErrSelfTransfer
	}
	if m.Amount.IsZero() {
		return common.ErrInvalidAmount
	}
	for _, in := range m.Instruments {
		if err := in.Validate(); err != nil {
			return err
		}
	}

	switch m.Category {
	case CategoryRecharging:
		// Пополнение: отрицательная сумма от участника к ассоциации,
		// покрытая документами ровно на |Amount|.
		if !m.Amount.IsNegative() {
			return common.ErrInvalidAmount
		}
		if len(m.Instruments) == 0 || !m.InstrumentsTotal().Equal(m.Amount.Abs()) {
			return common.ErrReconciliation
		}
	case CategorySale:
		if !m.Amount.IsPositive() {
			return common.ErrInvalidAmount
		}
		if len(m.Instruments) > 0 {
			return fmt.Errorf("%w: документы продажи проводятся связанным пополнением", common.ErrInvalidInstrument)
		}
		if len(m.Lines) > 0 {
			total := money.Zero
			for _, l := range m.Lines {
				if l.Quantity <= 0 || l.UnitPrice.IsNegative() {
					return fmt.Errorf("%w: строка %q", common.ErrInvalidAmount, l.Product)
				}
				total = total.Add(l.Total())
			}
			if !total.Equal(m.Amount) {
				return common.ErrReconciliation
			}
		}
	case CategoryTransfer:
		if !m.Amount.IsPositive() {
			return common.ErrInvalidAmount
		}
		if len(m.Instruments) > 0 {
			return fmt.Errorf("%w: перевод без документов", common.ErrInvalidInstrument)
		}
	case CategoryExceptional:
		// Знак задаёт направление: отрицательная сумма зачисляет участнику.
		if len(m.Instruments) > 0 {
			return fmt.Errorf("%w: корректировка без документов", common.ErrInvalidInstrument)
		}
	case CategorySharedEvent:
		if !m.Amount.IsPositive() {
			return common.ErrInvalidAmount
		}
		if m.EventID == nil {
			return fmt.Errorf("%w: операция события без события", common.ErrInvalidInput)
		}
	default:
		_, err := ParseCategory(string(m.Category))
		return err
	}
	return nil
}
