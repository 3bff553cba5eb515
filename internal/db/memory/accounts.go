package memory

import (
	"context"
	"fmt"
	"sort"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/money"
)

func (s *Store) CreateAccount(ctx context.Context, a *accounts.Account) error {
	return s.do(ctx, func(st *state) error {
		for _, other := range st.accounts {
			if other.Username == a.Username {
				return fmt.Errorf("%w: %q", common.ErrUsernameTaken, a.Username)
			}
		}
		a.ID = st.id()
		a.Balance = money.Zero
		a.CreatedAt = s.now()
		a.UpdatedAt = a.CreatedAt
		cp := *a
		st.accounts[a.ID] = &cp
		return nil
	})
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*accounts.Account, error) {
	var out *accounts.Account
	err := s.do(ctx, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return common.ErrAccountNotFound
		}
		cp := *a
		out = &cp
		return nil
	})
	return out, err
}

func (s *Store) ListBelow(ctx context.Context, threshold money.Money) ([]*accounts.Account, error) {
	var out []*accounts.Account
	err := s.do(ctx, func(st *state) error {
		for _, a := range st.accounts {
			if a.IsActive && a.Balance.LessThan(threshold) {
				cp := *a
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
