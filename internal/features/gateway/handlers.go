package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Handler принимает уведомления шлюза и считает комиссию для операторов.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик шлюза.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Callback обрабатывает уведомление об оплате. Тело: form-urlencoded,
// счёт передаётся в ?account_id=. Успех и повтор отвечают 200, неверная
// подпись 403, прочие отказы 400.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		common.WriteError(w, r, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}

	res, err := h.service.HandleCallback(r.Context(), params, r.URL.Query().Get("account_id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, statusFor(res.Outcome), res)
}

func statusFor(o Outcome) int {
	switch o {
	case OutcomeApplied, OutcomeDuplicate:
		return http.StatusOK
	case OutcomeRejectedBadSignature:
		return http.StatusForbidden
	case OutcomeRejectedMissingField:
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// RegisterOperator подключает маршруты для операторов.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Get("/gateway/quote", h.Quote)
}

// Quote считает сумму к оплате картой для ?amount=.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	amount, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		common.WriteError(w, r, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}
	q, err := h.service.Quote(amount)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, q)
}
