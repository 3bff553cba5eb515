// Package accounts: handlers.go отдаёт счета и балансы операторам по HTTP.
package accounts

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Handler обрабатывает запросы к счетам.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик счетов.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register подключает маршруты счетов к роутеру операторов.
func (h *Handler) Register(r chi.Router) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/low-balance", h.LowBalance)
	r.Get("/accounts/{id}", h.Get)
	r.Get("/accounts/{id}/balance", h.Balance)
}

type createRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Create заводит счёт.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	a, err := h.service.Create(r.Context(), req.Username, req.FirstName, req.LastName, req.Email)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, a)
}

// Get возвращает счёт.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, a)
}

// Balance возвращает текущий баланс.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	b, err := h.service.Balance(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": b})
}

type lowBalanceResponse struct {
	Threshold money.Money `json:"threshold"`
	Accounts  []*Account  `json:"accounts"`
}

// LowBalance возвращает счета ниже порога уведомления.
func (h *Handler) LowBalance(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.LowBalance(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []*Account{}
	}
	common.WriteJSON(w, http.StatusOK, lowBalanceResponse{Threshold: h.service.Threshold(), Accounts: list})
}
