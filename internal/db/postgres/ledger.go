package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

// LockAccounts блокирует строки счетов в порядке id. Один порядок для
// всех транзакций исключает дедлок двух встречных переводов.
func (s *Store) LockAccounts(ctx context.Context, ids ...int64) (map[int64]money.Money, error) {
	uniq := make(map[int64]struct{}, len(ids))
	list := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := uniq[id]; !ok {
			uniq[id] = struct{}{}
			list = append(list, id)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, balance FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, list)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки счетов: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]money.Money, len(list))
	for rows.Next() {
		var id int64
		var balance money.Money
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
		}
		out[id] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка блокировки счетов: %w", err)
	}
	if len(out) != len(list) {
		return nil, common.ErrAccountNotFound
	}
	return out, nil
}

// AdjustBalance прибавляет delta к балансу.
func (s *Store) AdjustBalance(ctx context.Context, accountID int64, delta money.Money) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, delta)
	if err != nil {
		return fmt.Errorf("ошибка изменения баланса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAccountNotFound
	}
	return nil
}

// AccountBalances возвращает балансы всех счетов.
func (s *Store) AccountBalances(ctx context.Context) (map[int64]money.Money, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, balance FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения балансов: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]money.Money)
	for rows.Next() {
		var id int64
		var balance money.Money
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
		}
		out[id] = balance
	}
	return out, rows.Err()
}

const instrumentColumns = `id, kind, amount, sender_id, recipient_id, issued_at,
	COALESCE(external_id, ''), COALESCE(cheque_number, ''), bank, online, fee,
	cashed, cashed_at, COALESCE(movement_id, 0)`

func scanInstrument(row pgx.Row) (*ledger.Instrument, error) {
	in := &ledger.Instrument{}
	var kind string
	err := row.Scan(&in.ID, &kind, &in.Amount, &in.SenderID, &in.RecipientID, &in.IssuedAt,
		&in.ExternalID, &in.ChequeNumber, &in.Bank, &in.Online, &in.Fee,
		&in.Cashed, &in.CashedAt, &in.MovementID)
	if err != nil {
		return nil, err
	}
	if in.Kind, err = ledger.ParseInstrumentKind(kind); err != nil {
		return nil, err
	}
	return in, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertInstrument сохраняет платёжный документ. Для платежей шлюза
// вставка идёт через ON CONFLICT DO NOTHING по частичному уникальному
// индексу: повтор внешнего идентификатора не ломает транзакцию,
// а возвращает common.ErrDuplicateExternalID.
func (s *Store) InsertInstrument(ctx context.Context, in *ledger.Instrument) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO payment_instruments
			(kind, amount, sender_id, recipient_id, issued_at, external_id,
			 cheque_number, bank, online, fee, cashed, cashed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) WHERE kind = 'gateway' DO NOTHING
		RETURNING id
	`, string(in.Kind), in.Amount, in.SenderID, in.RecipientID, in.IssuedAt,
		nullString(in.ExternalID), nullString(in.ChequeNumber), in.Bank, in.Online,
		in.Fee, in.Cashed, in.CashedAt).Scan(&in.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.ErrDuplicateExternalID
		}
		if isCode(err, sqlStateForeignKeyViolation) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("ошибка записи платёжного документа: %w", err)
	}
	return nil
}

// FindGatewayInstrument ищет платёж шлюза по внешнему идентификатору.
func (s *Store) FindGatewayInstrument(ctx context.Context, externalID string) (*ledger.Instrument, error) {
	in, err := scanInstrument(s.q(ctx).QueryRow(ctx, `
		SELECT `+instrumentColumns+`
		FROM payment_instruments
		WHERE kind = 'gateway' AND external_id = $1
	`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInstrumentNotFound
		}
		return nil, fmt.Errorf("ошибка поиска платежа: %w", err)
	}
	return in, nil
}

// GetInstrument возвращает документ по ID.
func (s *Store) GetInstrument(ctx context.Context, id int64, lock bool) (*ledger.Instrument, error) {
	in, err := scanInstrument(s.q(ctx).QueryRow(ctx, forUpdate(`
		SELECT `+instrumentColumns+` FROM payment_instruments WHERE id = $1`, lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInstrumentNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return in, nil
}

// MarkInstrumentCashed ставит отметку об инкассации.
func (s *Store) MarkInstrumentCashed(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE payment_instruments SET cashed = TRUE, cashed_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки инкассации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrInstrumentNotFound
	}
	return nil
}

// InsertMovement сохраняет операцию, её строки и привязывает документы.
func (s *Store) InsertMovement(ctx context.Context, m *ledger.Movement) error {
	q := s.q(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO movements
			(category, amount, sender_id, recipient_id, operator_id, date, done,
			 wording, justification, event_id, linked_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, string(m.Category), m.Amount, m.SenderID, m.RecipientID, m.OperatorID, m.Date, m.Done,
		m.Wording, m.Justification, m.EventID, m.LinkedID).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if isCode(err, sqlStateForeignKeyViolation) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("ошибка записи операции: %w", err)
	}

	for _, l := range m.Lines {
		if _, err := q.Exec(ctx, `
			INSERT INTO sale_lines (movement_id, product, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, m.ID, l.Product, l.Quantity, l.UnitPrice); err != nil {
			return fmt.Errorf("ошибка записи строки продажи: %w", err)
		}
	}

	for _, in := range m.Instruments {
		tag, err := q.Exec(ctx,
			`UPDATE payment_instruments SET movement_id = $2 WHERE id = $1`, in.ID, m.ID)
		if err != nil {
			return fmt.Errorf("ошибка привязки документа: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: id %d", common.ErrInstrumentNotFound, in.ID)
		}
		in.MovementID = m.ID
	}
	return nil
}

const movementColumns = `id, category, amount, sender_id, recipient_id, operator_id, date, done,
	wording, justification, event_id, linked_id, created_at`

func scanMovement(row pgx.Row) (*ledger.Movement, error) {
	m := &ledger.Movement{}
	var category string
	err := row.Scan(&m.ID, &category, &m.Amount, &m.SenderID, &m.RecipientID, &m.OperatorID,
		&m.Date, &m.Done, &m.Wording, &m.Justification, &m.EventID, &m.LinkedID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if m.Category, err = ledger.ParseCategory(category); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMovement возвращает операцию с документами и строками.
func (s *Store) GetMovement(ctx context.Context, id int64, lock bool) (*ledger.Movement, error) {
	m, err := scanMovement(s.q(ctx).QueryRow(ctx, forUpdate(`
		SELECT `+movementColumns+` FROM movements WHERE id = $1`, lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrMovementNotFound
		}
		return nil, fmt.Errorf("ошибка получения операции: %w", err)
	}
	if err := s.loadDetails(ctx, []*ledger.Movement{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMovements возвращает последние операции счёта.
func (s *Store) ListMovements(ctx context.Context, accountID int64, limit int) ([]*ledger.Movement, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+movementColumns+`
		FROM movements
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения операций: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения операции: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadDetails(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadDetails подгружает документы и строки продаж двумя запросами.
func (s *Store) loadDetails(ctx context.Context, list []*ledger.Movement) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[int64]*ledger.Movement, len(list))
	ids := make([]int64, 0, len(list))
	for _, m := range list {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+instrumentColumns+`
		FROM payment_instruments WHERE movement_id = ANY($1) ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения документов: %w", err)
	}
	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("ошибка чтения документа: %w", err)
		}
		byID[in.MovementID].Instruments = append(byID[in.MovementID].Instruments, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.q(ctx).Query(ctx, `
		SELECT movement_id, product, quantity, unit_price
		FROM sale_lines WHERE movement_id = ANY($1) ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения строк продажи: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var movementID int64
		var l ledger.SaleLine
		if err := rows.Scan(&movementID, &l.Product, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("ошибка чтения строки продажи: %w", err)
		}
		byID[movementID].Lines = append(byID[movementID].Lines, l)
	}
	return rows.Err()
}

// MarkMovementDone переводит отложенную операцию в проведённые.
func (s *Store) MarkMovementDone(ctx context.Context, id int64) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE movements SET done = TRUE WHERE id = $1 AND NOT done`, id)
	if err != nil {
		return fmt.Errorf("ошибка проведения операции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrMovementDone
	}
	return nil
}

// DeleteMovement удаляет отложенную операцию.
func (s *Store) DeleteMovement(ctx context.Context, id int64) error {
	tag, err := s.q(ctx).Exec(ctx,
		`DELETE FROM movements WHERE id = $1 AND NOT done`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления операции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrMovementDone
	}
	return nil
}

// SumDoneMovements пересчитывает баланс по проведённым операциям.
func (s *Store) SumDoneMovements(ctx context.Context, accountID int64) (money.Money, error) {
	var sum money.Money
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN recipient_id = $1 THEN amount ELSE 0 END -
			CASE WHEN sender_id = $1 THEN amount ELSE 0 END
		), 0)
		FROM movements
		WHERE done AND (sender_id = $1 OR recipient_id = $1)
	`, accountID).Scan(&sum)
	if err != nil {
		return money.Zero, fmt.Errorf("ошибка пересчёта баланса: %w", err)
	}
	return sum, nil
}
