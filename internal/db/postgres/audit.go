package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"borgia.ae/ledger/internal/audit"
)

// SaveAuditEvent записывает событие аудита.
func (s *Store) SaveAuditEvent(ctx context.Context, e audit.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("ошибка сериализации данных аудита: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных аудита: %w", err)
	}
	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO audit_events (id, event_type, event_data, event_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Type, data, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

// AuditEventsByType возвращает записи аудита типа eventType (все, если
// тип пустой), новые первыми.
func (s *Store) AuditEventsByType(ctx context.Context, eventType string, limit int) ([]audit.Event, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, event_type, event_data, event_metadata, created_at
		FROM audit_events WHERE ($1 = '' OR event_type = $1)
		ORDER BY created_at DESC LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аудита: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var data, meta []byte
		if err := rows.Scan(&e.ID, &e.Type, &data, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи аудита: %w", err)
		}
		if len(data) > 0 {
			var v any
			if err := json.Unmarshal(data, &v); err == nil {
				e.Data = v
			}
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
