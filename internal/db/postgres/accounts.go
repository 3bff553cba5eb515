package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/money"
)

const accountColumns = `id, username, first_name, last_name, email, balance, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (*accounts.Account, error) {
	a := &accounts.Account{}
	err := row.Scan(&a.ID, &a.Username, &a.FirstName, &a.LastName, &a.Email,
		&a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// CreateAccount создаёт счёт с нулевым балансом.
func (s *Store) CreateAccount(ctx context.Context, a *accounts.Account) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO accounts (username, first_name, last_name, email, balance, is_active)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING id, balance, created_at, updated_at
	`, a.Username, a.FirstName, a.LastName, a.Email, a.IsActive).
		Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isCode(err, sqlStateUniqueViolation) {
			return fmt.Errorf("%w: %q", common.ErrUsernameTaken, a.Username)
		}
		return fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return nil
}

// GetAccount возвращает счёт по ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*accounts.Account, error) {
	a, err := scanAccount(s.q(ctx).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrAccountNotFound
		}
		return nil, fmt.Errorf("ошибка получения счёта: %w", err)
	}
	return a, nil
}

// ListBelow возвращает активные счета с балансом строго ниже порога.
func (s *Store) ListBelow(ctx context.Context, threshold money.Money) ([]*accounts.Account, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE is_active AND balance < $1
		ORDER BY id
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска счетов с низким балансом: %w", err)
	}
	defer rows.Close()

	var out []*accounts.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения счёта: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
