package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/db/memory"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/events"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

type fixture struct {
	store       *memory.Store
	accounts    *accounts.Service
	ledger      *ledger.Service
	svc         *events.Service
	association int64
	manager     int64
	users       []int64
}

func newFixture(t *testing.T, users int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	f := &fixture{store: store}
	create := func(username string) int64 {
		a := &accounts.Account{Username: username, IsActive: true}
		require.NoError(t, store.CreateAccount(ctx, a))
		return a.ID
	}
	f.association = create("association")
	f.manager = create("manager")
	for i := 0; i < users; i++ {
		f.users = append(f.users, create("user"+string(rune('a'+i))))
	}

	f.accounts = accounts.NewService(store, money.Zero, f.association)
	f.ledger = ledger.NewService(store, store, f.association)
	f.svc = events.NewService(store, store, f.ledger, f.accounts, audit.Discard{}, time.UTC)
	return f
}

func (f *fixture) event(t *testing.T, req events.CreateRequest) *events.Event {
	t.Helper()
	if req.Description == "" {
		req.Description = "Soirée"
	}
	if req.Date.IsZero() {
		req.Date = time.Now().AddDate(0, 0, 10)
	}
	req.ManagerID = f.manager
	e, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return e
}

func (f *fixture) participate(t *testing.T, eventID int64, weights ...int) {
	t.Helper()
	for i, w := range weights {
		require.NoError(t, f.svc.ChangeWeight(context.Background(), eventID, f.users[i], w, true))
	}
}

func (f *fixture) balance(t *testing.T, id int64) string {
	t.Helper()
	b, err := f.accounts.Balance(context.Background(), id)
	require.NoError(t, err)
	return b.String()
}

func TestFinishByUnitPrice(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	f.participate(t, e.ID, 2, 3)

	movements, err := f.svc.FinishByUnitPrice(ctx, e.ID, f.manager, money.MustParse("10.00"))
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, ledger.CategorySharedEvent, m.Category)
		require.NotNil(t, m.EventID)
		assert.Equal(t, e.ID, *m.EventID)
		assert.Equal(t, f.association, m.RecipientID)
	}

	assert.Equal(t, "-20.00", f.balance(t, f.users[0]))
	assert.Equal(t, "-30.00", f.balance(t, f.users[1]))
	assert.Equal(t, "50.00", f.balance(t, f.association))

	done, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	assert.True(t, done.PaymentByPonderation)
	require.NotNil(t, done.Price)
	assert.Equal(t, "10.00", done.Price.String())
	assert.NotNil(t, done.SettledAt)
	assert.NotEmpty(t, done.Remark)
}

func TestFinishByTotal(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	f.participate(t, e.ID, 1, 1, 1)

	movements, err := f.svc.FinishByTotal(ctx, e.ID, f.manager, money.MustParse("10.00"))
	require.NoError(t, err)
	require.Len(t, movements, 3)
	for _, u := range f.users {
		assert.Equal(t, "-3.33", f.balance(t, u))
	}
	assert.Equal(t, "9.99", f.balance(t, f.association))

	done, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, done.PaymentByPonderation)

	_, err = f.svc.FinishByTotal(ctx, e.ID, f.manager, money.MustParse("10.00"))
	assert.ErrorIs(t, err, common.ErrEventDone)
	assert.ErrorIs(t, f.svc.ChangeWeight(ctx, e.ID, f.users[0], 5, true), common.ErrEventDone)
}

func TestFinishZeroWeightKeepsEventOpen(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	require.NoError(t, f.svc.ChangeWeight(ctx, e.ID, f.users[0], 2, false))

	_, err := f.svc.FinishByTotal(ctx, e.ID, f.manager, money.MustParse("10.00"))
	assert.ErrorIs(t, err, common.ErrZeroTotalWeight)

	open, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, open.Done)
	assert.Nil(t, open.Price)
	assert.Equal(t, "0.00", f.balance(t, f.association))
}

func TestFinishSkipsZeroShares(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	f.participate(t, e.ID, 1, 1)

	movements, err := f.svc.FinishByTotal(ctx, e.ID, f.manager, money.Zero)
	require.NoError(t, err)
	assert.Empty(t, movements)

	done, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
}

func TestFinishRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	// Счёт ассоциации заводится последним, чтобы его доля проводилась
	// после долей участников.
	treasury := &accounts.Account{Username: "treasury", IsActive: true}
	require.NoError(t, f.store.CreateAccount(ctx, treasury))
	l := ledger.NewService(f.store, f.store, treasury.ID)
	svc := events.NewService(f.store, f.store, l, f.accounts, audit.Discard{}, time.UTC)

	e := f.event(t, events.CreateRequest{})
	f.participate(t, e.ID, 1, 1)
	require.NoError(t, svc.ChangeWeight(ctx, e.ID, treasury.ID, 1, true))

	// Доля самой ассоциации даёт операцию самому себе и падает
	_, err := svc.FinishByUnitPrice(ctx, e.ID, f.manager, money.MustParse("5.00"))
	assert.ErrorIs(t, err, common.ErrSelfTransfer)

	for _, u := range f.users {
		assert.Equal(t, "0.00", f.balance(t, u))
	}
	assert.Equal(t, "0.00", f.balance(t, treasury.ID))
	open, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, open.Done)
}

func TestFinishWithoutPayment(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	f.participate(t, e.ID, 1)

	done, err := f.svc.FinishWithoutPayment(ctx, e.ID, f.manager, "annulé")
	require.NoError(t, err)
	assert.True(t, done.Done)
	assert.Contains(t, done.Remark, "annulé")
	require.NotNil(t, done.Price)
	assert.True(t, done.Price.IsZero())
	assert.Equal(t, "0.00", f.balance(t, f.users[0]))

	_, err = f.svc.FinishWithoutPayment(ctx, e.ID, f.manager, "")
	assert.ErrorIs(t, err, common.ErrEventDone)
}

func TestWeights(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})
	alice, bob := f.users[0], f.users[1]

	assert.ErrorIs(t, f.svc.ChangeWeight(ctx, e.ID, alice, -1, true), common.ErrInvalidWeight)

	require.NoError(t, f.svc.ChangeWeight(ctx, e.ID, alice, 2, false))
	require.NoError(t, f.svc.AddWeight(ctx, e.ID, alice, 1, true))
	require.NoError(t, f.svc.AddWeight(ctx, e.ID, alice, 2, true))
	require.NoError(t, f.svc.ChangeWeight(ctx, e.ID, bob, 1, true))
	assert.ErrorIs(t, f.svc.AddWeight(ctx, e.ID, bob, -2, true), common.ErrInvalidWeight)

	summary, err := f.svc.Summary(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, events.Summary{TotalRegistration: 2, TotalParticipation: 4, Registrants: 1, Participants: 2}, summary)

	require.NoError(t, f.svc.RemoveUser(ctx, e.ID, alice))
	participants, err := f.svc.Participants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, bob, participants[0].AccountID)

	registrants, err := f.svc.Registrants(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, registrants)

	assert.ErrorIs(t, f.svc.ChangeWeight(ctx, 999, alice, 1, true), common.ErrEventNotFound)
	assert.ErrorIs(t, f.svc.ChangeWeight(ctx, e.ID, 999, 1, true), common.ErrAccountNotFound)
}

func TestSelfRegister(t *testing.T) {
	ctx := context.Background()
	today := common.Date(time.Now(), time.UTC)

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, 1)
		e := f.event(t, events.CreateRequest{})
		err := f.svc.SelfRegister(ctx, e.ID, f.users[0], 1)
		assert.ErrorIs(t, err, common.ErrSelfRegistrationDisabled)
	})

	t.Run("before deadline", func(t *testing.T) {
		f := newFixture(t, 1)
		deadline := today.AddDate(0, 0, 3)
		e := f.event(t, events.CreateRequest{AllowSelfRegistration: true, RegistrationDeadline: &deadline})

		require.NoError(t, f.svc.SelfRegister(ctx, e.ID, f.users[0], 2))
		registrants, err := f.svc.Registrants(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, registrants, 1)
		assert.Equal(t, 2, registrants[0].Registration)
		assert.Equal(t, 0, registrants[0].Participation)
	})

	t.Run("deadline day", func(t *testing.T) {
		f := newFixture(t, 1)
		e := &events.Event{
			Description: "Gala", Date: today.AddDate(0, 0, 5), ManagerID: f.manager,
			AllowSelfRegistration: true, RegistrationDeadline: &today,
		}
		require.NoError(t, f.store.CreateEvent(ctx, e))
		assert.NoError(t, f.svc.SelfRegister(ctx, e.ID, f.users[0], 1))
	})

	t.Run("deadline passed", func(t *testing.T) {
		f := newFixture(t, 1)
		yesterday := today.AddDate(0, 0, -1)
		e := &events.Event{
			Description: "Gala", Date: today.AddDate(0, 0, 5), ManagerID: f.manager,
			AllowSelfRegistration: true, RegistrationDeadline: &yesterday,
		}
		require.NoError(t, f.store.CreateEvent(ctx, e))
		assert.ErrorIs(t, f.svc.SelfRegister(ctx, e.ID, f.users[0], 1), common.ErrRegistrationClosed)
	})
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	today := common.Date(time.Now(), time.UTC)
	date := today.AddDate(0, 0, 5)

	late := date.AddDate(0, 0, 1)
	_, err := f.svc.Create(ctx, events.CreateRequest{Description: "x", Date: date, ManagerID: f.manager, RegistrationDeadline: &late})
	assert.ErrorIs(t, err, common.ErrInvalidDeadline)

	past := today.AddDate(0, 0, -1)
	_, err = f.svc.Create(ctx, events.CreateRequest{Description: "x", Date: date, ManagerID: f.manager, RegistrationDeadline: &past})
	assert.ErrorIs(t, err, common.ErrInvalidDeadline)

	_, err = f.svc.Create(ctx, events.CreateRequest{Description: " ", Date: date, ManagerID: f.manager})
	assert.Error(t, err)

	_, err = f.svc.Create(ctx, events.CreateRequest{Description: "x", Date: date, ManagerID: 999})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	onDate := date
	e, err := f.svc.Create(ctx, events.CreateRequest{Description: "x", Date: date, ManagerID: f.manager, RegistrationDeadline: &onDate})
	require.NoError(t, err)
	assert.True(t, e.RegistrationDeadline.Equal(date))
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	e := f.event(t, events.CreateRequest{})

	desc := "Week-end ski"
	price := money.MustParse("120.00")
	byUnit := true
	updated, err := f.svc.Update(ctx, e.ID, events.UpdateRequest{
		Description:          &desc,
		Price:                &price,
		PaymentByPonderation: &byUnit,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, "120.00", updated.Price.String())
	assert.True(t, updated.PaymentByPonderation)

	tooLate := e.Date.AddDate(0, 0, 1)
	_, err = f.svc.Update(ctx, e.ID, events.UpdateRequest{RegistrationDeadline: &tooLate})
	assert.ErrorIs(t, err, common.ErrInvalidDeadline)

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RegistrationDeadline)

	_, err = f.svc.FinishWithoutPayment(ctx, e.ID, f.manager, "")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, e.ID, events.UpdateRequest{Description: &desc})
	assert.ErrorIs(t, err, common.ErrEventDone)
}

func TestForecastBalance(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	alice := f.users[0]

	_, err := f.ledger.Recharge(ctx, ledger.RechargeRequest{
		AccountID:   alice,
		OperatorID:  f.manager,
		Instruments: []*ledger.Instrument{{Kind: ledger.KindCash, Amount: money.MustParse("10.00")}},
	})
	require.NoError(t, err)

	unit := money.MustParse("3.00")
	byUnit := f.event(t, events.CreateRequest{Price: &unit, PaymentByPonderation: true})
	f.participate(t, byUnit.ID, 2)

	total := money.MustParse("12.00")
	byTotal := f.event(t, events.CreateRequest{Price: &total})
	f.participate(t, byTotal.ID, 1, 2)

	noPrice := f.event(t, events.CreateRequest{})
	f.participate(t, noPrice.ID, 1)

	forecast, err := f.svc.ForecastBalance(ctx, alice)
	require.NoError(t, err)
	// 10 - 3*2 - 12*1/3
	assert.Equal(t, "0.00", forecast.String())

	_, err = f.svc.FinishByUnitPrice(ctx, byUnit.ID, f.manager, unit)
	require.NoError(t, err)
	forecast, err = f.svc.ForecastBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "0.00", forecast.String())
	assert.Equal(t, "4.00", f.balance(t, alice))
}
