package events

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Handler обрабатывает запросы к общим событиям.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик событий.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register подключает маршруты событий.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events", h.Create)
	r.Route("/events/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Put("/weights/{accountID}", h.SetWeight)
		r.Post("/weights/{accountID}/add", h.AddWeight)
		r.Delete("/participants/{accountID}", h.RemoveUser)
		r.Post("/register", h.SelfRegister)
		r.Get("/participants", h.Participants)
		r.Get("/registrants", h.Registrants)
		r.Get("/summary", h.Summary)
		r.Post("/finish", h.Finish)
	})
	r.Get("/accounts/{id}/forecast", h.Forecast)
}

func eventID(r *http.Request) (int64, error) {
	return common.ParseID(chi.URLParam(r, "id"))
}

// Create заводит событие. Менеджер по умолчанию: текущий оператор.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	if req.ManagerID == 0 {
		req.ManagerID, _ = common.OperatorFrom(r.Context())
	}
	e, err := h.service.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, e)
}

// Get возвращает событие.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, e)
}

// Update меняет открытое событие.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req UpdateRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	e, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, e)
}

type weightRequest struct {
	Weight      int  `json:"weight"`
	Participant bool `json:"participant"`
}

func (h *Handler) weightArgs(w http.ResponseWriter, r *http.Request) (int64, int64, weightRequest, bool) {
	var req weightRequest
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return 0, 0, req, false
	}
	accountID, err := common.ParseID(chi.URLParam(r, "accountID"))
	if err != nil {
		common.WriteError(w, r, err)
		return 0, 0, req, false
	}
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return 0, 0, req, false
	}
	return id, accountID, req, true
}

// SetWeight задаёт вес регистрации или участия.
func (h *Handler) SetWeight(w http.ResponseWriter, r *http.Request) {
	id, accountID, req, ok := h.weightArgs(w, r)
	if !ok {
		return
	}
	if err := h.service.ChangeWeight(r.Context(), id, accountID, req.Weight, req.Participant); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddWeight прибавляет к весу.
func (h *Handler) AddWeight(w http.ResponseWriter, r *http.Request) {
	id, accountID, req, ok := h.weightArgs(w, r)
	if !ok {
		return
	}
	if err := h.service.AddWeight(r.Context(), id, accountID, req.Weight, req.Participant); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveUser обнуляет оба веса участника.
func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	accountID, err := common.ParseID(chi.URLParam(r, "accountID"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := h.service.RemoveUser(r.Context(), id, accountID); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Weight int `json:"weight"`
}

// SelfRegister записывает на событие самого оператора.
func (h *Handler) SelfRegister(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req registerRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	accountID, _ := common.OperatorFrom(r.Context())
	if err := h.service.SelfRegister(r.Context(), id, accountID, req.Weight); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Participants возвращает участников с ожидаемыми долями.
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	shares, err := h.service.Participants(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, shares)
}

// Registrants возвращает записавшихся.
func (h *Handler) Registrants(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	weights, err := h.service.Registrants(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, weights)
}

// Summary возвращает сводку по весам.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	sum, err := h.service.Summary(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, sum)
}

// Режимы завершения события.
const (
	finishTotal = "total"
	finishUnit  = "unit"
	finishNone  = "none"
)

type finishRequest struct {
	Mode   string      `json:"mode"`
	Price  money.Money `json:"price"`
	Remark string      `json:"remark"`
}

// Finish завершает событие: делит общую цену, списывает цену за единицу
// или закрывает без оплаты.
func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req finishRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	operatorID, _ := common.OperatorFrom(r.Context())

	switch req.Mode {
	case finishTotal, finishUnit:
		finish := h.service.FinishByTotal
		if req.Mode == finishUnit {
			finish = h.service.FinishByUnitPrice
		}
		movements, err := finish(r.Context(), id, operatorID, req.Price)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		common.WriteJSON(w, http.StatusOK, map[string]any{"movements": movements})
	case finishNone:
		e, err := h.service.FinishWithoutPayment(r.Context(), id, operatorID, req.Remark)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		common.WriteJSON(w, http.StatusOK, e)
	default:
		common.WriteError(w, r, fmt.Errorf("%w: неизвестный режим %q", common.ErrInvalidInput, req.Mode))
	}
}

// Forecast возвращает баланс счёта за вычетом ожидаемых долей в открытых
// событиях.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	id, err := common.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	forecast, err := h.service.ForecastBalance(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"forecast":   forecast,
	})
}
