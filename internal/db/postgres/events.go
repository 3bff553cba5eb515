package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/events"
)

const eventColumns = `id, description, date, price, payment_by_ponderation, bills, manager_id,
	allow_self_registration, registration_deadline, done, remark, settled_at, created_at`

func scanEvent(row pgx.Row) (*events.Event, error) {
	e := &events.Event{}
	err := row.Scan(&e.ID, &e.Description, &e.Date, &e.Price, &e.PaymentByPonderation, &e.Bills,
		&e.ManagerID, &e.AllowSelfRegistration, &e.RegistrationDeadline, &e.Done, &e.Remark,
		&e.SettledAt, &e.CreatedAt)
	return e, err
}

// CreateEvent сохраняет событие.
func (s *Store) CreateEvent(ctx context.Context, e *events.Event) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO shared_events
			(description, date, price, payment_by_ponderation, bills, manager_id,
			 allow_self_registration, registration_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, e.Description, e.Date, e.Price, e.PaymentByPonderation, e.Bills, e.ManagerID,
		e.AllowSelfRegistration, e.RegistrationDeadline).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isCode(err, sqlStateForeignKeyViolation) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("ошибка создания события: %w", err)
	}
	return nil
}

// GetEvent возвращает событие; lock блокирует строку до конца транзакции.
func (s *Store) GetEvent(ctx context.Context, id int64, lock bool) (*events.Event, error) {
	e, err := scanEvent(s.q(ctx).QueryRow(ctx, forUpdate(`
		SELECT `+eventColumns+` FROM shared_events WHERE id = $1`, lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrEventNotFound
		}
		return nil, fmt.Errorf("ошибка получения события: %w", err)
	}
	return e, nil
}

// UpdateEvent сохраняет все изменяемые поля события.
func (s *Store) UpdateEvent(ctx context.Context, e *events.Event) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE shared_events SET
			description = $2, date = $3, price = $4, payment_by_ponderation = $5,
			bills = $6, manager_id = $7, allow_self_registration = $8,
			registration_deadline = $9, done = $10, remark = $11, settled_at = $12
		WHERE id = $1
	`, e.ID, e.Description, e.Date, e.Price, e.PaymentByPonderation, e.Bills, e.ManagerID,
		e.AllowSelfRegistration, e.RegistrationDeadline, e.Done, e.Remark, e.SettledAt)
	if err != nil {
		if isCode(err, sqlStateForeignKeyViolation) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("ошибка обновления события: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrEventNotFound
	}
	return nil
}

// ListWeights возвращает строки участия события.
func (s *Store) ListWeights(ctx context.Context, eventID int64) ([]events.Weight, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT event_id, account_id, registration, participation
		FROM event_weights WHERE event_id = $1
		ORDER BY account_id
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения весов: %w", err)
	}
	defer rows.Close()

	var out []events.Weight
	for rows.Next() {
		var w events.Weight
		if err := rows.Scan(&w.EventID, &w.AccountID, &w.Registration, &w.Participation); err != nil {
			return nil, fmt.Errorf("ошибка чтения веса: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWeight возвращает веса участника или нули, если строки нет.
func (s *Store) GetWeight(ctx context.Context, eventID, accountID int64) (events.Weight, error) {
	w := events.Weight{EventID: eventID, AccountID: accountID}
	err := s.q(ctx).QueryRow(ctx, `
		SELECT registration, participation FROM event_weights
		WHERE event_id = $1 AND account_id = $2
	`, eventID, accountID).Scan(&w.Registration, &w.Participation)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return w, fmt.Errorf("ошибка получения веса: %w", err)
	}
	return w, nil
}

// SetWeight создаёт или обновляет строку участия. Строки не удаляются.
func (s *Store) SetWeight(ctx context.Context, w events.Weight) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO event_weights (event_id, account_id, registration, participation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, account_id)
		DO UPDATE SET registration = EXCLUDED.registration, participation = EXCLUDED.participation
	`, w.EventID, w.AccountID, w.Registration, w.Participation)
	if err != nil {
		if isCode(err, sqlStateForeignKeyViolation) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("ошибка записи веса: %w", err)
	}
	return nil
}

// OpenEventsOf возвращает незавершённые события, где участвует счёт.
func (s *Store) OpenEventsOf(ctx context.Context, accountID int64) ([]*events.Event, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT e.id, e.description, e.date, e.price, e.payment_by_ponderation, e.bills, e.manager_id,
			e.allow_self_registration, e.registration_deadline, e.done, e.remark, e.settled_at, e.created_at
		FROM shared_events e
		JOIN event_weights w ON w.event_id = e.id
		WHERE w.account_id = $1 AND w.participation > 0 AND NOT e.done
		ORDER BY e.id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий счёта: %w", err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения события: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
