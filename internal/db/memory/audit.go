package memory

import (
	"context"

	"borgia.ae/ledger/internal/audit"
)

func (s *Store) SaveAuditEvent(ctx context.Context, e audit.Event) error {
	return s.do(ctx, func(st *state) error {
		st.audit = append(st.audit, e)
		return nil
	})
}

// AuditEventsByType возвращает записи аудита типа eventType (все, если
// тип пустой), новые первыми.
func (s *Store) AuditEventsByType(ctx context.Context, eventType string, limit int) ([]audit.Event, error) {
	var out []audit.Event
	err := s.do(ctx, func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if eventType != "" && e.Type != eventType {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}
