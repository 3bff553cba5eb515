package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Handler обрабатывает запросы к журналу.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик журнала.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register подключает маршруты журнала к роутеру операторов.
func (h *Handler) Register(r chi.Router) {
	r.Post("/recharges", h.Recharge)
	r.Post("/transfers", h.Transfer)
	r.Post("/exceptional", h.Exceptional)
	r.Post("/sales", h.Sale)

	r.Post("/movements/pending", h.Stage)
	r.Get("/movements/{id}", h.Get)
	r.Post("/movements/{id}/commit", h.Commit)
	r.Delete("/movements/{id}", h.Discard)

	r.Get("/accounts/{id}/history", h.History)
	r.Post("/instruments/{id}/cashed", h.MarkCashed)
	r.Get("/ledger/audit", h.Audit)
}

// instrumentRequest: документ в запросе. Служебные поля (ID, инкассация)
// клиент не задаёт.
type instrumentRequest struct {
	Kind         InstrumentKind `json:"kind"`
	Amount       money.Money    `json:"amount"`
	IssuedAt     time.Time      `json:"issued_at"`
	ExternalID   string         `json:"external_id"`
	ChequeNumber string         `json:"cheque_number"`
	Bank         string         `json:"bank"`
}

func toInstruments(reqs []instrumentRequest) []*Instrument {
	out := make([]*Instrument, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, &Instrument{
			Kind:         r.Kind,
			Amount:       r.Amount,
			IssuedAt:     r.IssuedAt,
			ExternalID:   r.ExternalID,
			ChequeNumber: r.ChequeNumber,
			Bank:         r.Bank,
		})
	}
	return out
}

func operator(r *http.Request) int64 {
	id, _ := common.OperatorFrom(r.Context())
	return id
}

type rechargeRequest struct {
	AccountID   int64               `json:"account_id"`
	Instruments []instrumentRequest `json:"instruments"`
	Wording     string              `json:"wording"`
	Date        time.Time           `json:"date"`
}

// Recharge проводит пополнение документами.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	var req rechargeRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Recharge(r.Context(), RechargeRequest{
		AccountID:   req.AccountID,
		OperatorID:  operator(r),
		Instruments: toInstruments(req.Instruments),
		Wording:     req.Wording,
		Date:        req.Date,
	})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, m)
}

type transferRequest struct {
	SenderID      int64       `json:"sender_id"`
	RecipientID   int64       `json:"recipient_id"`
	Amount        money.Money `json:"amount"`
	Date          time.Time   `json:"date"`
	Justification string      `json:"justification"`
}

// Transfer проводит перевод.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Transfer(r.Context(), TransferRequest{
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		OperatorID:    operator(r),
		Amount:        req.Amount,
		Date:          req.Date,
		Justification: req.Justification,
	})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, m)
}

type exceptionalRequest struct {
	AccountID     int64       `json:"account_id"`
	Credit        bool        `json:"credit"`
	Amount        money.Money `json:"amount"`
	Date          time.Time   `json:"date"`
	Justification string      `json:"justification"`
}

// Exceptional проводит ручную корректировку.
func (h *Handler) Exceptional(w http.ResponseWriter, r *http.Request) {
	var req exceptionalRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.ExceptionalMovement(r.Context(), ExceptionalRequest{
		OperatorID:    operator(r),
		AccountID:     req.AccountID,
		Credit:        req.Credit,
		Amount:        req.Amount,
		Date:          req.Date,
		Justification: req.Justification,
	})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, m)
}

type saleRequest struct {
	SenderID    int64               `json:"sender_id"`
	Amount      money.Money         `json:"amount"`
	Wording     string              `json:"wording"`
	Lines       []SaleLine          `json:"lines"`
	Instruments []instrumentRequest `json:"instruments"`
	Date        time.Time           `json:"date"`
}

// Sale проводит продажу.
func (h *Handler) Sale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Sale(r.Context(), SaleRequest{
		SenderID:    req.SenderID,
		OperatorID:  operator(r),
		Amount:      req.Amount,
		Wording:     req.Wording,
		Lines:       req.Lines,
		Instruments: toInstruments(req.Instruments),
		Date:        req.Date,
	})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, m)
}

type stageRequest struct {
	Category      Category    `json:"category"`
	Amount        money.Money `json:"amount"`
	SenderID      int64       `json:"sender_id"`
	RecipientID   int64       `json:"recipient_id"`
	Date          time.Time   `json:"date"`
	Wording       string      `json:"wording"`
	Justification string      `json:"justification"`
	Lines         []SaleLine  `json:"lines"`
}

// Stage сохраняет операцию без проведения.
func (h *Handler) Stage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	category, err := ParseCategory(string(req.Category))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Stage(r.Context(), &Movement{
		Category:      category,
		Amount:        req.Amount,
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		OperatorID:    operator(r),
		Date:          req.Date,
		Wording:       req.Wording,
		Justification: req.Justification,
		Lines:         req.Lines,
	})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, m)
}

// Get возвращает операцию.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, m)
}

// Commit проводит отложенную операцию.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	m, err := h.service.Commit(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, m)
}

// Discard удаляет отложенную операцию.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := h.service.Discard(r.Context(), id); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History возвращает выписку счёта, ?limit= ограничивает число строк.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.History(r.Context(), id, limit)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	common.WriteJSON(w, http.StatusOK, entries)
}

// MarkCashed отмечает документ инкассированным.
func (h *Handler) MarkCashed(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	in, err := h.service.MarkCashed(r.Context(), id, time.Time{})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, in)
}

// Audit сверяет балансы с журналом. Расхождения отдаются с кодом 409.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.service.Audit(r.Context())
	if err != nil && len(mismatches) == 0 {
		common.WriteError(w, r, err)
		return
	}
	if len(mismatches) > 0 {
		common.WriteJSON(w, http.StatusConflict, map[string]any{"mismatches": mismatches})
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"mismatches": []Mismatch{}})
}
