package memory

import (
	"context"
	"sort"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/events"
)

func (s *Store) CreateEvent(ctx context.Context, e *events.Event) error {
	return s.do(ctx, func(st *state) error {
		if _, ok := st.accounts[e.ManagerID]; !ok {
			return common.ErrAccountNotFound
		}
		e.ID = st.id()
		e.CreatedAt = s.now()
		st.events[e.ID] = copyEvent(e)
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id int64, _ bool) (*events.Event, error) {
	var out *events.Event
	err := s.do(ctx, func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return common.ErrEventNotFound
		}
		out = copyEvent(e)
		return nil
	})
	return out, err
}

func (s *Store) UpdateEvent(ctx context.Context, e *events.Event) error {
	return s.do(ctx, func(st *state) error {
		if _, ok := st.events[e.ID]; !ok {
			return common.ErrEventNotFound
		}
		if _, ok := st.accounts[e.ManagerID]; !ok {
			return common.ErrAccountNotFound
		}
		st.events[e.ID] = copyEvent(e)
		return nil
	})
}

func (s *Store) ListWeights(ctx context.Context, eventID int64) ([]events.Weight, error) {
	var out []events.Weight
	err := s.do(ctx, func(st *state) error {
		for k, w := range st.weights {
			if k.event == eventID {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, err
}

func (s *Store) GetWeight(ctx context.Context, eventID, accountID int64) (events.Weight, error) {
	var out events.Weight
	err := s.do(ctx, func(st *state) error {
		w, ok := st.weights[weightKey{eventID, accountID}]
		if !ok {
			w = events.Weight{EventID: eventID, AccountID: accountID}
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Store) SetWeight(ctx context.Context, w events.Weight) error {
	return s.do(ctx, func(st *state) error {
		if _, ok := st.events[w.EventID]; !ok {
			return common.ErrEventNotFound
		}
		if _, ok := st.accounts[w.AccountID]; !ok {
			return common.ErrAccountNotFound
		}
		st.weights[weightKey{w.EventID, w.AccountID}] = w
		return nil
	})
}

func (s *Store) OpenEventsOf(ctx context.Context, accountID int64) ([]*events.Event, error) {
	var out []*events.Event
	err := s.do(ctx, func(st *state) error {
		for k, w := range st.weights {
			if k.account != accountID || w.Participation == 0 {
				continue
			}
			if e := st.events[k.event]; e != nil && !e.Done {
				out = append(out, copyEvent(e))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
