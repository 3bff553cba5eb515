package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borgia.ae/ledger/internal/db/memory"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

var errLockTimeout = errors.New("lock timeout")

// flakyStore отклоняет вызов InsertMovement с номером failAt так же,
// как PostgreSQL при таймауте блокировки.
type flakyStore struct {
	*memory.Store
	failAt      int
	movements   int
	instruments int
}

func (s *flakyStore) InsertInstrument(ctx context.Context, in *ledger.Instrument) error {
	s.instruments++
	return s.Store.InsertInstrument(ctx, in)
}

func (s *flakyStore) InsertMovement(ctx context.Context, m *ledger.Movement) error {
	s.movements++
	if s.movements == s.failAt {
		return errLockTimeout
	}
	return s.Store.InsertMovement(ctx, m)
}

type retryKey struct{}

// retryTx повторяет всю транзакцию после errLockTimeout, вложенные
// вызовы выполняются в текущей попытке.
type retryTx struct {
	store   *memory.Store
	retries int
}

func (r retryTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(retryKey{}) != nil {
		return fn(ctx)
	}
	ctx = context.WithValue(ctx, retryKey{}, true)
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if err = r.store.WithinTx(ctx, fn); !errors.Is(err, errLockTimeout) {
			return err
		}
	}
	return err
}

func newFlakyService(f *fixture, failAt int) (*ledger.Service, *flakyStore) {
	fs := &flakyStore{Store: f.store, failAt: failAt}
	return ledger.NewService(fs, retryTx{store: f.store, retries: 2}, f.association), fs
}

func TestRechargeRetriedAfterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, fs := newFlakyService(f, 1)

	m, err := svc.Recharge(ctx, ledger.RechargeRequest{
		AccountID:   f.alice,
		OperatorID:  f.operator,
		Instruments: []*ledger.Instrument{cash("10.00")},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, fs.instruments, "документ сохраняется в каждой попытке")
	assert.Equal(t, "10.00", f.balance(t, f.alice))

	stored, err := f.store.GetMovement(ctx, m.ID, false)
	require.NoError(t, err)
	require.Len(t, stored.Instruments, 1)
	assert.Equal(t, m.Instruments[0].ID, stored.Instruments[0].ID)
	assert.Equal(t, "10.00", stored.Instruments[0].Amount.String())

	mismatches, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestGatewayRechargeRetriedKeepsExternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _ := newFlakyService(f, 1)

	m := &ledger.Movement{
		Category:    ledger.CategoryRecharging,
		Amount:      money.MustParse("-5.00"),
		SenderID:    f.alice,
		RecipientID: f.association,
		OperatorID:  f.alice,
		Instruments: []*ledger.Instrument{{
			Kind:       ledger.KindGateway,
			Amount:     money.MustParse("5.00"),
			ExternalID: "tx-retry",
			Online:     true,
		}},
	}
	require.NoError(t, svc.Settle(ctx, m))

	in, found, err := svc.FindGatewayPayment(ctx, "tx-retry")
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)
	assert.Equal(t, m.ID, in.MovementID)
	assert.Equal(t, "5.00", f.balance(t, f.alice))
}

func TestSaleWithInstrumentsRetriedAfterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Первая попытка сохраняет пополнение и падает на самой продаже.
	svc, fs := newFlakyService(f, 2)

	sale, err := svc.Sale(ctx, ledger.SaleRequest{
		SenderID:    f.alice,
		OperatorID:  f.operator,
		Amount:      money.MustParse("3.50"),
		Instruments: []*ledger.Instrument{cash("3.50")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fs.instruments)
	assert.Equal(t, "0.00", f.balance(t, f.alice))

	require.NotNil(t, sale.LinkedID)
	funding, err := f.store.GetMovement(ctx, *sale.LinkedID, false)
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryRecharging, funding.Category)
	require.Len(t, funding.Instruments, 1)
	assert.Equal(t, "3.50", funding.Instruments[0].Amount.String())

	mismatches, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}
