// Package common: respond.go содержит общие функции HTTP-обработчиков:
// JSON-ответы, разбор тела и перевод ошибок в коды статуса.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/money"
)

// maxBodyBytes ограничивает тело запроса оператора.
const maxBodyBytes = 1 << 20

// WriteJSON отдаёт v как JSON с кодом status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Не удалось записать ответ")
	}
}

// WriteError отдаёт {"error": "..."} с кодом, подобранным по ошибке.
// Внутренние ошибки логируются, клиенту уходит общий текст.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("Ошибка обработки запроса")
		msg = "внутренняя ошибка"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusFor переводит ошибку учёта в HTTP-статус.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrMovementNotFound),
		errors.Is(err, ErrInstrumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEventDone),
		errors.Is(err, ErrMovementDone),
		errors.Is(err, ErrDuplicateExternalID),
		errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, ErrSelfRegistrationDisabled),
		errors.Is(err, ErrRegistrationClosed):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrInvalidWeight),
		errors.Is(err, ErrZeroTotalWeight),
		errors.Is(err, ErrRechargeOutOfRange),
		errors.Is(err, ErrInvalidChequeNumber),
		errors.Is(err, ErrInvalidInstrument),
		errors.Is(err, ErrInvalidDeadline),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrReconciliation),
		errors.Is(err, money.ErrTooPrecise),
		errors.Is(err, money.ErrFeeRatio):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON читает тело запроса в v. Неизвестные поля запрещены.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: некорректное тело запроса: %v", ErrInvalidInput, err)
	}
	return nil
}

// ParseID разбирает положительный идентификатор из пути или запроса.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: некорректный идентификатор %q", ErrInvalidInput, s)
	}
	return id, nil
}

type operatorKey struct{}

// WithOperator кладёт ID оператора в контекст запроса.
func WithOperator(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// OperatorFrom возвращает ID оператора, проверенного middleware.
func OperatorFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(operatorKey{}).(int64)
	return id, ok
}
