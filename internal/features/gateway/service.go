// Package gateway: service.go применяет подтверждённые уведомления как
// пополнения. Идемпотентность держится на уникальности внешнего
// идентификатора платежа в хранилище, а не на проверке перед вставкой.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

// Ledger: часть движка журнала, нужная шлюзу. Реализуется ledger.Service.
type Ledger interface {
	Settle(ctx context.Context, m *ledger.Movement) error
	FindGatewayPayment(ctx context.Context, externalID string) (*ledger.Instrument, *ledger.Movement, error)
	AssociationID() int64
}

// AccountGetter: поиск счёта. Реализуется accounts.Service.
type AccountGetter interface {
	Get(ctx context.Context, id int64) (*accounts.Account, error)
}

// Service обрабатывает уведомления шлюза.
type Service struct {
	ledger   Ledger
	accounts AccountGetter
	audit    audit.Logger
	cfg      Config
}

// NewService создаёт обработчик уведомлений.
func NewService(l Ledger, accts AccountGetter, auditLog audit.Logger, cfg Config) *Service {
	if auditLog == nil {
		auditLog = audit.Discard{}
	}
	return &Service{ledger: l, accounts: accts, audit: auditLog, cfg: cfg}
}

// HandleCallback проверяет и применяет уведомление об оплате.
//
// Порядок проверок: обязательные поля, подпись, затем содержимое
// (счёт, ключ продавца, валюта, сумма). Ошибка возвращается только
// при сбое хранилища; все отказы описываются в Result.
func (s *Service) HandleCallback(ctx context.Context, params map[string]string, accountRef string) (*Result, error) {
	txID := params[FieldTransactionIdentifier]

	for _, f := range RequiredFields {
		if strings.TrimSpace(params[f]) == "" {
			return s.reject(OutcomeRejectedMissingField, "нет поля "+f, txID, accountRef), nil
		}
	}

	// Подписываются только документированные поля, прочие поля формы игнорируются
	if !Verify(signedFields(params), s.cfg.Secret) {
		log.WithFields(log.Fields{
			"component":              "gateway",
			"transaction_identifier": txID,
			"account_ref":            accountRef,
		}).Warn("Неверная подпись уведомления шлюза")
		s.audit.Log(audit.NewEvent(
			audit.WithType(audit.TypeCallbackBadSignature),
			audit.WithMeta("transaction_identifier", txID),
			audit.WithMeta("account_ref", accountRef),
			audit.WithData(redacted(params)),
		))
		return &Result{Outcome: OutcomeRejectedBadSignature, Reason: "неверная подпись"}, nil
	}

	if s.cfg.VendorToken != "" && params[FieldVendorToken] != s.cfg.VendorToken {
		return s.reject(OutcomeRejectedMissingField, "чужой ключ продавца", txID, accountRef), nil
	}
	if s.cfg.Currency != "" && !strings.EqualFold(params[FieldCurrency], s.cfg.Currency) {
		return s.reject(OutcomeRejectedMissingField, "неожиданная валюта "+params[FieldCurrency], txID, accountRef), nil
	}

	accountID, err := strconv.ParseInt(strings.TrimSpace(accountRef), 10, 64)
	if err != nil || accountID <= 0 {
		return s.reject(OutcomeRejectedMissingField, "некорректная ссылка на счёт", txID, accountRef), nil
	}
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		if errors.Is(err, common.ErrAccountNotFound) {
			return s.reject(OutcomeRejectedMissingField, "счёт не найден", txID, accountRef), nil
		}
		return nil, err
	}
	if accountID == s.ledger.AssociationID() {
		return s.reject(OutcomeRejectedMissingField, "пополнение системного счёта", txID, accountRef), nil
	}

	total, err := money.Parse(params[FieldAmount])
	if err != nil || !total.IsPositive() {
		return s.reject(OutcomeRejectedMissingField, "некорректная сумма", txID, accountRef), nil
	}

	fee := money.Zero
	if s.cfg.FeeEnabled {
		fee = s.cfg.Fees.FeeFromTotal(total)
	}
	credited := total.Sub(fee)
	if !credited.IsPositive() {
		return s.reject(OutcomeRejectedMissingField, "сумма меньше комиссии", txID, accountRef), nil
	}

	m := &ledger.Movement{
		Category:    ledger.CategoryRecharging,
		Amount:      credited.Neg(),
		SenderID:    accountID,
		RecipientID: s.ledger.AssociationID(),
		OperatorID:  accountID,
		Wording:     "Пополнение картой",
		Instruments: []*ledger.Instrument{{
			Kind:       ledger.KindGateway,
			Amount:     credited,
			ExternalID: txID,
			Online:     true,
			Fee:        fee,
		}},
	}
	err = s.ledger.Settle(ctx, m)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrDuplicateExternalID):
		return s.duplicate(ctx, txID, accountRef)
	default:
		return nil, fmt.Errorf("ошибка проведения пополнения: %w", err)
	}

	log.WithFields(log.Fields{
		"component":              "gateway",
		"transaction_identifier": txID,
		"account_id":             accountID,
		"total":                  total.String(),
		"fee":                    fee.String(),
		"movement_id":            m.ID,
	}).Info("Пополнение картой проведено")
	s.audit.Log(audit.NewEvent(
		audit.WithType(audit.TypeCallbackApplied),
		audit.WithMeta("transaction_identifier", txID),
		audit.WithMeta("account_id", strconv.FormatInt(accountID, 10)),
		audit.WithData(map[string]string{"total": total.String(), "fee": fee.String()}),
	))
	return &Result{Outcome: OutcomeApplied, Movement: m}, nil
}

// Quote считает, сколько списать с карты, чтобы на счёт пришло recharge.
func (s *Service) Quote(recharge money.Money) (*Quote, error) {
	if recharge.LessThan(s.cfg.MinRecharge) || (s.cfg.MaxRecharge.IsPositive() && s.cfg.MaxRecharge.LessThan(recharge)) {
		return nil, fmt.Errorf("%w: от %s до %s", common.ErrRechargeOutOfRange, s.cfg.MinRecharge, s.cfg.MaxRecharge)
	}
	if !recharge.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if !s.cfg.FeeEnabled {
		return &Quote{Recharge: recharge, Total: recharge, Fee: money.Zero}, nil
	}
	total, err := s.cfg.Fees.TotalFor(recharge)
	if err != nil {
		return nil, err
	}
	return &Quote{Recharge: recharge, Total: total, Fee: total.Sub(recharge)}, nil
}

func (s *Service) duplicate(ctx context.Context, txID, accountRef string) (*Result, error) {
	_, m, err := s.ledger.FindGatewayPayment(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска повторного платежа: %w", err)
	}
	log.WithFields(log.Fields{
		"component":              "gateway",
		"transaction_identifier": txID,
		"account_ref":            accountRef,
	}).Warn("Повторная доставка уведомления шлюза")
	s.audit.Log(audit.NewEvent(
		audit.WithType(audit.TypeCallbackDuplicate),
		audit.WithMeta("transaction_identifier", txID),
		audit.WithMeta("account_ref", accountRef),
	))
	return &Result{Outcome: OutcomeDuplicate, Movement: m}, nil
}

// signedFields оставляет из уведомления поля, входящие в подпись.
func signedFields(params map[string]string) map[string]string {
	out := make(map[string]string, len(RequiredFields))
	for _, f := range RequiredFields {
		out[f] = params[f]
	}
	return out
}

func (s *Service) reject(outcome Outcome, reason, txID, accountRef string) *Result {
	log.WithFields(log.Fields{
		"component":              "gateway",
		"transaction_identifier": txID,
		"account_ref":            accountRef,
		"reason":                 reason,
	}).Warn("Уведомление шлюза отклонено")
	s.audit.Log(audit.NewEvent(
		audit.WithType(audit.TypeCallbackRejected),
		audit.WithMeta("transaction_identifier", txID),
		audit.WithMeta("account_ref", accountRef),
		audit.WithMeta("reason", reason),
	))
	return &Result{Outcome: outcome, Reason: reason}
}

// redacted копирует поля уведомления без подписи для журнала аудита.
func redacted(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k != SignatureField {
			out[k] = v
		}
	}
	return out
}
