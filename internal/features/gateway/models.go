package gateway

import (
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

// Поля уведомления шлюза.
const (
	FieldCurrency              = "currency"
	FieldRequestID             = "request_id"
	FieldAmount                = "amount"
	FieldSigned                = "signed"
	FieldTransactionIdentifier = "transaction_identifier"
	FieldVendorToken           = "vendor_token"
)

// RequiredFields: поля, без которых уведомление отклоняется.
var RequiredFields = []string{
	FieldCurrency,
	FieldRequestID,
	FieldAmount,
	FieldSigned,
	FieldTransactionIdentifier,
	FieldVendorToken,
	SignatureField,
}

// Outcome: итог обработки уведомления.
type Outcome string

const (
	OutcomeApplied              Outcome = "applied"
	OutcomeDuplicate            Outcome = "duplicate-ok"
	OutcomeRejectedBadSignature Outcome = "rejected-bad-signature"
	OutcomeRejectedMissingField Outcome = "rejected-missing-field"
)

// Accepted сообщает, что шлюзу нужно ответить успехом.
func (o Outcome) Accepted() bool {
	switch o {
	case OutcomeApplied, OutcomeDuplicate:
		return true
	case OutcomeRejectedBadSignature, OutcomeRejectedMissingField:
		return false
	default:
		return false
	}
}

// Result: результат обработки уведомления.
type Result struct {
	Outcome  Outcome          `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	Movement *ledger.Movement `json:"movement,omitempty"`
}

// Config: параметры шлюза.
type Config struct {
	Secret      string // общий секрет для подписи
	VendorToken string // публичный ключ ассоциации; пустой: не проверяется
	Currency    string // ожидаемая валюта; пустая: не проверяется
	FeeEnabled  bool
	Fees        money.FeeSchedule
	MinRecharge money.Money
	MaxRecharge money.Money
}

// Quote: расчёт оплаты картой для желаемого пополнения.
type Quote struct {
	Recharge money.Money `json:"recharge"`
	Total    money.Money `json:"total"`
	Fee      money.Money `json:"fee"`
}
