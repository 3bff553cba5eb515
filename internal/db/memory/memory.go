// Package memory: хранилище в памяти для тестов и локального запуска
// (STORE_DRIVER=memory). Реализует те же интерфейсы, что и postgres,
// с теми же гарантиями: транзакция видит и меняет данные единолично,
// при ошибке всё откатывается, внешний идентификатор платежа уникален.
package memory

import (
	"context"
	"sync"
	"time"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/events"
	"borgia.ae/ledger/internal/features/ledger"
)

type weightKey struct{ event, account int64 }

// state: все данные хранилища. Копируется целиком перед транзакцией.
type state struct {
	nextID      int64
	accounts    map[int64]*accounts.Account
	instruments map[int64]*ledger.Instrument
	gatewayIDs  map[string]int64 // external_id -> instrument id
	movements   map[int64]*ledger.Movement
	events      map[int64]*events.Event
	weights     map[weightKey]events.Weight
	audit       []audit.Event
}

func newState() *state {
	return &state{
		accounts:    make(map[int64]*accounts.Account),
		instruments: make(map[int64]*ledger.Instrument),
		gatewayIDs:  make(map[string]int64),
		movements:   make(map[int64]*ledger.Movement),
		events:      make(map[int64]*events.Event),
		weights:     make(map[weightKey]events.Weight),
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	for k, v := range st.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range st.instruments {
		c.instruments[k] = copyInstrument(v)
	}
	for k, v := range st.gatewayIDs {
		c.gatewayIDs[k] = v
	}
	for k, v := range st.movements {
		c.movements[k] = copyMovement(v)
	}
	for k, v := range st.events {
		c.events[k] = copyEvent(v)
	}
	for k, v := range st.weights {
		c.weights[k] = v
	}
	c.audit = append([]audit.Event(nil), st.audit...)
	return c
}

// Store: хранилище в памяти.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

type txKey struct{}

// WithinTx выполняет fn, удерживая хранилище. Вложенный вызов с ctx
// транзакции выполняется в ней же. При ошибке данные восстанавливаются
// из снимка.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// do выполняет одиночную операцию атомарно: внутри транзакции
// без блокировки, вне её под мьютексом.
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func copyInstrument(in *ledger.Instrument) *ledger.Instrument {
	cp := *in
	if in.CashedAt != nil {
		t := *in.CashedAt
		cp.CashedAt = &t
	}
	return &cp
}

func copyMovement(m *ledger.Movement) *ledger.Movement {
	cp := *m
	cp.Instruments = nil
	cp.Lines = append([]ledger.SaleLine(nil), m.Lines...)
	if m.EventID != nil {
		v := *m.EventID
		cp.EventID = &v
	}
	if m.LinkedID != nil {
		v := *m.LinkedID
		cp.LinkedID = &v
	}
	return &cp
}

func copyEvent(e *events.Event) *events.Event {
	cp := *e
	if e.Price != nil {
		p := *e.Price
		cp.Price = &p
	}
	if e.RegistrationDeadline != nil {
		d := *e.RegistrationDeadline
		cp.RegistrationDeadline = &d
	}
	if e.SettledAt != nil {
		t := *e.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}
