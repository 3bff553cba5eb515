package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/events"
	"borgia.ae/ledger/internal/features/gateway"
	"borgia.ae/ledger/internal/features/ledger"
)

// AuditLister читает журнал аудита.
type AuditLister interface {
	AuditEventsByType(ctx context.Context, eventType string, limit int) ([]audit.Event, error)
}

// Deps: всё, что нужно роутеру.
type Deps struct {
	Accounts *accounts.Handler
	Ledger   *ledger.Handler
	Events   *events.Handler
	Gateway  *gateway.Handler

	Tokens    *TokenVerifier
	Operators AccountGetter
	Audit     audit.Logger
	AuditLog  AuditLister
	Limiter   *RateLimiter // nil: без ограничения
}

// NewRouter собирает маршруты: публичный приём уведомлений шлюза
// и API операторов под /api.
func NewRouter(d Deps) http.Handler {
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(Recoverer)
	// Лимит стоит до OperatorAuth: подбор токена не запускает Argon2id сверх лимита
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/gateway/callback", d.Gateway.Callback)

	r.Route("/api", func(r chi.Router) {
		r.Use(OperatorAuth(d.Tokens, d.Operators, d.Audit))

		d.Accounts.Register(r)
		d.Ledger.Register(r)
		d.Events.Register(r)
		d.Gateway.RegisterOperator(r)
		if d.AuditLog != nil {
			r.Get("/audit", auditHandler(d.AuditLog))
		}
	})
	return r
}

// auditHandler отдаёт записи аудита: ?type= фильтрует по типу,
// ?limit= ограничивает количество (по умолчанию 100).
func auditHandler(lister AuditLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				common.WriteError(w, r, common.ErrInvalidInput)
				return
			}
			limit = n
		}
		list, err := lister.AuditEventsByType(r.Context(), r.URL.Query().Get("type"), limit)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		if list == nil {
			list = []audit.Event{}
		}
		common.WriteJSON(w, http.StatusOK, list)
	}
}
