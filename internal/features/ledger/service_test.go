package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/db/memory"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

type fixture struct {
	store       *memory.Store
	svc         *ledger.Service
	association int64
	alice       int64
	bob         int64
	operator    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	create := func(username string) int64 {
		a := &accounts.Account{Username: username, IsActive: true}
		require.NoError(t, store.CreateAccount(ctx, a))
		return a.ID
	}
	f := &fixture{store: store}
	f.association = create("association")
	f.alice = create("alice")
	f.bob = create("bob")
	f.operator = create("operator")
	f.svc = ledger.NewService(store, store, f.association)
	return f
}

func (f *fixture) balance(t *testing.T, id int64) string {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance.String()
}

func cash(amount string) *ledger.Instrument {
	return &ledger.Instrument{Kind: ledger.KindCash, Amount: money.MustParse(amount)}
}

func (f *fixture) recharge(t *testing.T, id int64, amount string) *ledger.Movement {
	t.Helper()
	m, err := f.svc.Recharge(context.Background(), ledger.RechargeRequest{
		AccountID:   id,
		OperatorID:  f.operator,
		Instruments: []*ledger.Instrument{cash(amount)},
	})
	require.NoError(t, err)
	return m
}

func TestRecharge(t *testing.T) {
	f := newFixture(t)

	m := f.recharge(t, f.alice, "10.00")

	assert.Equal(t, ledger.CategoryRecharging, m.Category)
	assert.Equal(t, "-10.00", m.Amount.String())
	assert.True(t, m.Done)
	require.Len(t, m.Instruments, 1)
	assert.NotZero(t, m.Instruments[0].ID)
	assert.Equal(t, m.ID, m.Instruments[0].MovementID)
	assert.Equal(t, "10.00", f.balance(t, f.alice))
	assert.Equal(t, "-10.00", f.balance(t, f.association))
}

func TestRechargeSeveralInstruments(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.Recharge(context.Background(), ledger.RechargeRequest{
		AccountID:  f.alice,
		OperatorID: f.operator,
		Instruments: []*ledger.Instrument{
			cash("5.50"),
			{Kind: ledger.KindCheque, Amount: money.MustParse("20.00"), ChequeNumber: "1234567", Bank: "LCL"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "-25.50", m.Amount.String())
	assert.Equal(t, "25.50", f.balance(t, f.alice))
}

func TestRechargeRejectsInvalidInstruments(t *testing.T) {
	tests := []struct {
		name        string
		instruments []*ledger.Instrument
		want        error
	}{
		{name: "no instruments", want: common.ErrReconciliation},
		{name: "zero amount", instruments: []*ledger.Instrument{cash("0")}, want: common.ErrInvalidAmount},
		{
			name:        "bad cheque number",
			instruments: []*ledger.Instrument{{Kind: ledger.KindCheque, Amount: money.MustParse("5"), ChequeNumber: "12AB"}},
			want:        common.ErrInvalidChequeNumber,
		},
		{
			name:        "gateway without id",
			instruments: []*ledger.Instrument{{Kind: ledger.KindGateway, Amount: money.MustParse("5")}},
			want:        common.ErrInvalidInstrument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Recharge(context.Background(), ledger.RechargeRequest{
				AccountID:   f.alice,
				OperatorID:  f.operator,
				Instruments: tt.instruments,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "0.00", f.balance(t, f.alice))
		})
	}
}

func TestConcurrentRecharges(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Recharge(context.Background(), ledger.RechargeRequest{
				AccountID:   f.alice,
				OperatorID:  f.operator,
				Instruments: []*ledger.Instrument{cash("10.00")},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "20.00", f.balance(t, f.alice))
	assert.Equal(t, "-20.00", f.balance(t, f.association))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recharge(t, f.alice, "10.00")

	m, err := f.svc.Transfer(ctx, ledger.TransferRequest{
		SenderID:      f.alice,
		RecipientID:   f.bob,
		OperatorID:    f.alice,
		Amount:        money.MustParse("3.50"),
		Justification: "pizza",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryTransfer, m.Category)
	assert.Equal(t, "6.50", f.balance(t, f.alice))
	assert.Equal(t, "3.50", f.balance(t, f.bob))

	t.Run("overdraft allowed", func(t *testing.T) {
		_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
			SenderID: f.bob, RecipientID: f.alice, OperatorID: f.bob, Amount: money.MustParse("5.00"),
		})
		require.NoError(t, err)
		assert.Equal(t, "-1.50", f.balance(t, f.bob))
	})

	t.Run("self transfer", func(t *testing.T) {
		_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
			SenderID: f.alice, RecipientID: f.alice, OperatorID: f.alice, Amount: money.MustParse("1"),
		})
		assert.ErrorIs(t, err, common.ErrSelfTransfer)
	})

	t.Run("non positive amount", func(t *testing.T) {
		for _, amount := range []string{"0", "-1"} {
			_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
				SenderID: f.alice, RecipientID: f.bob, OperatorID: f.alice, Amount: money.MustParse(amount),
			})
			assert.ErrorIs(t, err, common.ErrInvalidAmount)
		}
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
			SenderID: f.alice, RecipientID: 999, OperatorID: f.alice, Amount: money.MustParse("1"),
		})
		assert.ErrorIs(t, err, common.ErrAccountNotFound)
		assert.Equal(t, "11.50", f.balance(t, f.alice))
	})
}

func TestExceptionalMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	credit, err := f.svc.ExceptionalMovement(ctx, ledger.ExceptionalRequest{
		OperatorID: f.operator, AccountID: f.alice, Credit: true, Amount: money.MustParse("5.00"),
		Justification: "geste commercial",
	})
	require.NoError(t, err)
	assert.Equal(t, "-5.00", credit.Amount.String())
	assert.Equal(t, "5.00", f.balance(t, f.alice))

	debit, err := f.svc.ExceptionalMovement(ctx, ledger.ExceptionalRequest{
		OperatorID: f.operator, AccountID: f.alice, Amount: money.MustParse("2.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2.00", debit.Amount.String())
	assert.Equal(t, "3.00", f.balance(t, f.alice))
	assert.Equal(t, "-3.00", f.balance(t, f.association))

	_, err = f.svc.ExceptionalMovement(ctx, ledger.ExceptionalRequest{
		OperatorID: f.operator, AccountID: f.alice, Amount: money.Zero,
	})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestSaleFromBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recharge(t, f.alice, "10.00")

	sale, err := f.svc.Sale(ctx, ledger.SaleRequest{
		SenderID:   f.alice,
		OperatorID: f.operator,
		Amount:     money.MustParse("5.00"),
		Lines: []ledger.SaleLine{
			{Product: "Coca", Quantity: 2, UnitPrice: money.MustParse("1.50")},
			{Product: "Sandwich", Quantity: 1, UnitPrice: money.MustParse("2.00")},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, sale.LinkedID)
	assert.Equal(t, "5.00", f.balance(t, f.alice))

	stored, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 2)

	t.Run("lines must match amount", func(t *testing.T) {
		_, err := f.svc.Sale(ctx, ledger.SaleRequest{
			SenderID:   f.alice,
			OperatorID: f.operator,
			Amount:     money.MustParse("5.00"),
			Lines:      []ledger.SaleLine{{Product: "Coca", Quantity: 1, UnitPrice: money.MustParse("1.50")}},
		})
		assert.ErrorIs(t, err, common.ErrReconciliation)
		assert.Equal(t, "5.00", f.balance(t, f.alice))
	})
}

func TestSaleWithInstruments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sale, err := f.svc.Sale(ctx, ledger.SaleRequest{
		SenderID:    f.bob,
		OperatorID:  f.operator,
		Amount:      money.MustParse("7.00"),
		Instruments: []*ledger.Instrument{cash("7.00")},
	})
	require.NoError(t, err)
	require.NotNil(t, sale.LinkedID)

	funding, err := f.svc.Get(ctx, *sale.LinkedID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryRecharging, funding.Category)
	assert.Equal(t, "-7.00", funding.Amount.String())
	assert.Equal(t, "0.00", f.balance(t, f.bob))
	assert.Equal(t, "0.00", f.balance(t, f.association))

	_, err = f.svc.Sale(ctx, ledger.SaleRequest{
		SenderID:    f.bob,
		OperatorID:  f.operator,
		Amount:      money.MustParse("7.00"),
		Instruments: []*ledger.Instrument{cash("6.99")},
	})
	assert.ErrorIs(t, err, common.ErrReconciliation)
}

func TestSaleRollsBackFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := &ledger.Instrument{Kind: ledger.KindGateway, Amount: money.MustParse("4.00"), ExternalID: "tx-1", Online: true}
	_, err := f.svc.Recharge(ctx, ledger.RechargeRequest{
		AccountID: f.alice, OperatorID: f.alice, Instruments: []*ledger.Instrument{paid},
	})
	require.NoError(t, err)

	// Повтор внешнего идентификатора ломает связанное пополнение:
	// продажа не должна провестись частично.
	_, err = f.svc.Sale(ctx, ledger.SaleRequest{
		SenderID:   f.alice,
		OperatorID: f.operator,
		Amount:     money.MustParse("4.00"),
		Instruments: []*ledger.Instrument{
			{Kind: ledger.KindGateway, Amount: money.MustParse("4.00"), ExternalID: "tx-1"},
		},
	})
	assert.ErrorIs(t, err, common.ErrDuplicateExternalID)
	assert.Equal(t, "4.00", f.balance(t, f.alice))
	assert.Equal(t, "-4.00", f.balance(t, f.association))

	history, err := f.svc.History(ctx, f.alice, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStageCommitDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staged, err := f.svc.Stage(ctx, &ledger.Movement{
		Category:    ledger.CategoryTransfer,
		Amount:      money.MustParse("3.00"),
		SenderID:    f.alice,
		RecipientID: f.bob,
		OperatorID:  f.operator,
	})
	require.NoError(t, err)
	assert.False(t, staged.Done)
	assert.Equal(t, "0.00", f.balance(t, f.alice))

	committed, err := f.svc.Commit(ctx, staged.ID)
	require.NoError(t, err)
	assert.True(t, committed.Done)
	assert.Equal(t, "-3.00", f.balance(t, f.alice))
	assert.Equal(t, "3.00", f.balance(t, f.bob))

	_, err = f.svc.Commit(ctx, staged.ID)
	assert.ErrorIs(t, err, common.ErrMovementDone)
	assert.ErrorIs(t, f.svc.Discard(ctx, staged.ID), common.ErrMovementDone)
	assert.Equal(t, "-3.00", f.balance(t, f.alice))

	pending, err := f.svc.Stage(ctx, &ledger.Movement{
		Category:    ledger.CategoryTransfer,
		Amount:      money.MustParse("1.00"),
		SenderID:    f.bob,
		RecipientID: f.alice,
		OperatorID:  f.operator,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Discard(ctx, pending.ID))
	_, err = f.svc.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, common.ErrMovementNotFound)

	_, err = f.svc.Stage(ctx, &ledger.Movement{
		Category:    ledger.CategoryRecharging,
		Amount:      money.MustParse("-1.00"),
		SenderID:    f.bob,
		RecipientID: f.association,
		OperatorID:  f.operator,
		Instruments: []*ledger.Instrument{cash("1.00")},
	})
	assert.ErrorIs(t, err, common.ErrInvalidInstrument)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recharge(t, f.alice, "10.00")
	_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
		SenderID: f.alice, RecipientID: f.bob, OperatorID: f.alice, Amount: money.MustParse("3.00"),
	})
	require.NoError(t, err)
	_, err = f.svc.Stage(ctx, &ledger.Movement{
		Category: ledger.CategoryTransfer, Amount: money.MustParse("1.00"),
		SenderID: f.bob, RecipientID: f.alice, OperatorID: f.bob,
	})
	require.NoError(t, err)
	_, err = f.svc.Sale(ctx, ledger.SaleRequest{
		SenderID: f.alice, OperatorID: f.operator, Amount: money.MustParse("2.00"),
	})
	require.NoError(t, err)

	entries, err := f.svc.History(ctx, f.alice, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, ledger.CategorySale, entries[0].Movement.Category)
	assert.Equal(t, "-2.00", entries[0].Effect.String())
	assert.Equal(t, "5.00", entries[0].BalanceAfter.String())

	assert.False(t, entries[1].Movement.Done)
	assert.Equal(t, "0.00", entries[1].Effect.String())
	assert.Equal(t, "7.00", entries[1].BalanceAfter.String())

	assert.Equal(t, "-3.00", entries[2].Effect.String())
	assert.Equal(t, "7.00", entries[2].BalanceAfter.String())

	assert.Equal(t, "10.00", entries[3].Effect.String())
	assert.Equal(t, "10.00", entries[3].BalanceAfter.String())

	limited, err := f.svc.History(ctx, f.alice, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMarkCashed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Recharge(ctx, ledger.RechargeRequest{
		AccountID:  f.alice,
		OperatorID: f.operator,
		Instruments: []*ledger.Instrument{
			{Kind: ledger.KindCheque, Amount: money.MustParse("15.00"), ChequeNumber: "7654321"},
			{Kind: ledger.KindBankDebit, Amount: money.MustParse("5.00")},
		},
	})
	require.NoError(t, err)
	cheque, debit := m.Instruments[0], m.Instruments[1]

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cashed, err := f.svc.MarkCashed(ctx, cheque.ID, at)
	require.NoError(t, err)
	assert.True(t, cashed.Cashed)
	require.NotNil(t, cashed.CashedAt)
	assert.True(t, at.Equal(*cashed.CashedAt))

	again, err := f.svc.MarkCashed(ctx, cheque.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, at.Equal(*again.CashedAt))

	_, err = f.svc.MarkCashed(ctx, debit.ID, at)
	assert.ErrorIs(t, err, common.ErrInvalidInstrument)

	_, err = f.svc.MarkCashed(ctx, 999, at)
	assert.ErrorIs(t, err, common.ErrInstrumentNotFound)
}

func TestFindGatewayPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Recharge(ctx, ledger.RechargeRequest{
		AccountID:  f.alice,
		OperatorID: f.alice,
		Instruments: []*ledger.Instrument{
			{Kind: ledger.KindGateway, Amount: money.MustParse("12.00"), ExternalID: "abc", Online: true},
		},
	})
	require.NoError(t, err)

	in, found, err := f.svc.FindGatewayPayment(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "12.00", in.Amount.String())
	assert.Equal(t, m.ID, found.ID)

	_, _, err = f.svc.FindGatewayPayment(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrInstrumentNotFound)
}

func TestAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recharge(t, f.alice, "10.00")
	_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
		SenderID: f.alice, RecipientID: f.bob, OperatorID: f.alice, Amount: money.MustParse("4.00"),
	})
	require.NoError(t, err)

	mismatches, err := f.svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// Изменение баланса в обход журнала
	require.NoError(t, f.store.AdjustBalance(ctx, f.bob, money.MustParse("1.00")))

	mismatches, err = f.svc.Audit(ctx)
	assert.ErrorIs(t, err, common.ErrBalanceMismatch)
	require.Len(t, mismatches, 2)
	assert.Equal(t, f.bob, mismatches[0].AccountID)
	assert.Equal(t, "5.00", mismatches[0].Balance.String())
	assert.Equal(t, "4.00", mismatches[0].Ledger.String())
	assert.Equal(t, int64(0), mismatches[1].AccountID)
	assert.Equal(t, "1.00", mismatches[1].Balance.String())
}

func TestBalancesSumToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recharge(t, f.alice, "20.00")
	f.recharge(t, f.bob, "3.33")
	_, err := f.svc.Transfer(ctx, ledger.TransferRequest{
		SenderID: f.alice, RecipientID: f.bob, OperatorID: f.alice, Amount: money.MustParse("7.77"),
	})
	require.NoError(t, err)
	_, err = f.svc.Sale(ctx, ledger.SaleRequest{SenderID: f.bob, OperatorID: f.operator, Amount: money.MustParse("12.00")})
	require.NoError(t, err)
	_, err = f.svc.ExceptionalMovement(ctx, ledger.ExceptionalRequest{
		OperatorID: f.operator, AccountID: f.bob, Credit: true, Amount: money.MustParse("0.01"),
	})
	require.NoError(t, err)

	balances, err := f.store.AccountBalances(ctx)
	require.NoError(t, err)
	total := money.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	assert.True(t, total.IsZero(), "сумма балансов: %s", total)
}
