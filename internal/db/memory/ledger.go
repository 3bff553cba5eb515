package memory

import (
	"context"
	"sort"
	"time"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

func (s *Store) LockAccounts(ctx context.Context, ids ...int64) (map[int64]money.Money, error) {
	out := make(map[int64]money.Money, len(ids))
	err := s.do(ctx, func(st *state) error {
		for _, id := range ids {
			a, ok := st.accounts[id]
			if !ok {
				return common.ErrAccountNotFound
			}
			out[id] = a.Balance
		}
		return nil
	})
	return out, err
}

func (s *Store) AdjustBalance(ctx context.Context, accountID int64, delta money.Money) error {
	return s.do(ctx, func(st *state) error {
		a, ok := st.accounts[accountID]
		if !ok {
			return common.ErrAccountNotFound
		}
		a.Balance = a.Balance.Add(delta)
		a.UpdatedAt = s.now()
		return nil
	})
}

func (s *Store) AccountBalances(ctx context.Context) (map[int64]money.Money, error) {
	out := make(map[int64]money.Money)
	err := s.do(ctx, func(st *state) error {
		for id, a := range st.accounts {
			out[id] = a.Balance
		}
		return nil
	})
	return out, err
}

func (s *Store) InsertInstrument(ctx context.Context, in *ledger.Instrument) error {
	return s.do(ctx, func(st *state) error {
		if in.Kind == ledger.KindGateway {
			if _, dup := st.gatewayIDs[in.ExternalID]; dup {
				return common.ErrDuplicateExternalID
			}
		}
		in.ID = st.id()
		st.instruments[in.ID] = copyInstrument(in)
		if in.Kind == ledger.KindGateway {
			st.gatewayIDs[in.ExternalID] = in.ID
		}
		return nil
	})
}

func (s *Store) FindGatewayInstrument(ctx context.Context, externalID string) (*ledger.Instrument, error) {
	var out *ledger.Instrument
	err := s.do(ctx, func(st *state) error {
		id, ok := st.gatewayIDs[externalID]
		if !ok {
			return common.ErrInstrumentNotFound
		}
		out = copyInstrument(st.instruments[id])
		return nil
	})
	return out, err
}

func (s *Store) GetInstrument(ctx context.Context, id int64, _ bool) (*ledger.Instrument, error) {
	var out *ledger.Instrument
	err := s.do(ctx, func(st *state) error {
		in, ok := st.instruments[id]
		if !ok {
			return common.ErrInstrumentNotFound
		}
		out = copyInstrument(in)
		return nil
	})
	return out, err
}

func (s *Store) MarkInstrumentCashed(ctx context.Context, id int64, at time.Time) error {
	return s.do(ctx, func(st *state) error {
		in, ok := st.instruments[id]
		if !ok {
			return common.ErrInstrumentNotFound
		}
		in.Cashed = true
		in.CashedAt = &at
		return nil
	})
}

func (s *Store) InsertMovement(ctx context.Context, m *ledger.Movement) error {
	return s.do(ctx, func(st *state) error {
		for _, id := range []int64{m.SenderID, m.RecipientID, m.OperatorID} {
			if _, ok := st.accounts[id]; !ok {
				return common.ErrAccountNotFound
			}
		}
		m.ID = st.id()
		m.CreatedAt = s.now()
		for _, in := range m.Instruments {
			stored, ok := st.instruments[in.ID]
			if !ok {
				return common.ErrInstrumentNotFound
			}
			stored.MovementID = m.ID
			in.MovementID = m.ID
		}
		st.movements[m.ID] = copyMovement(m)
		return nil
	})
}

func (s *Store) GetMovement(ctx context.Context, id int64, _ bool) (*ledger.Movement, error) {
	var out *ledger.Movement
	err := s.do(ctx, func(st *state) error {
		m, ok := st.movements[id]
		if !ok {
			return common.ErrMovementNotFound
		}
		out = st.assemble(m)
		return nil
	})
	return out, err
}

// assemble копирует операцию и подставляет её документы.
func (st *state) assemble(m *ledger.Movement) *ledger.Movement {
	out := copyMovement(m)
	for _, in := range st.instruments {
		if in.MovementID == m.ID {
			out.Instruments = append(out.Instruments, copyInstrument(in))
		}
	}
	sort.Slice(out.Instruments, func(i, j int) bool { return out.Instruments[i].ID < out.Instruments[j].ID })
	return out
}

func (s *Store) ListMovements(ctx context.Context, accountID int64, limit int) ([]*ledger.Movement, error) {
	var out []*ledger.Movement
	err := s.do(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.SenderID == accountID || m.RecipientID == accountID {
				out = append(out, st.assemble(m))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) MarkMovementDone(ctx context.Context, id int64) error {
	return s.do(ctx, func(st *state) error {
		m, ok := st.movements[id]
		if !ok {
			return common.ErrMovementNotFound
		}
		m.Done = true
		return nil
	})
}

func (s *Store) DeleteMovement(ctx context.Context, id int64) error {
	return s.do(ctx, func(st *state) error {
		m, ok := st.movements[id]
		if !ok {
			return common.ErrMovementNotFound
		}
		if m.Done {
			return common.ErrMovementDone
		}
		delete(st.movements, id)
		return nil
	})
}

func (s *Store) SumDoneMovements(ctx context.Context, accountID int64) (money.Money, error) {
	sum := money.Zero
	err := s.do(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.Done {
				sum = sum.Add(m.EffectOn(accountID))
			}
		}
		return nil
	})
	return sum, err
}
