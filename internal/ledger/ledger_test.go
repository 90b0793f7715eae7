package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFunded(t *testing.T, balance string) (*Ledger, string) {
	t.Helper()
	ctx := context.Background()
	l := New(NewMemoryStore())
	_, err := l.Open(ctx, "acc-1")
	require.NoError(t, err)
	if balance != "0" {
		_, err = l.Credit(ctx, "acc-1", d(balance), "seed:acc-1")
		require.NoError(t, err)
	}
	return l, "acc-1"
}

func TestDebitAndCreditMoveBalance(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "100.00")

	e, err := l.Debit(ctx, acc, d("30.25"), "op-1")
	require.NoError(t, err)
	require.Equal(t, "69.75", e.BalanceAfter.StringFixed(2))
	require.Equal(t, Debit, e.Kind)

	e, err = l.Credit(ctx, acc, d("0.25"), "op-2")
	require.NoError(t, err)
	require.Equal(t, "70.00", e.BalanceAfter.StringFixed(2))

	bal, err := l.Balance(ctx, acc)
	require.NoError(t, err)
	require.True(t, bal.Equal(d("70")))
}

func TestDebitInsufficientFundsHasNoEffect(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "10.00")

	_, err := l.Debit(ctx, acc, d("10.01"), "op-1")
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	bal, err := l.Balance(ctx, acc)
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.StringFixed(2))

	entries, err := l.Entries(ctx, acc, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "10.00")

	_, err := l.Debit(ctx, acc, decimal.Zero, "op-1")
	require.ErrorIs(t, err, errs.ErrInvalidStake)
	_, err = l.Credit(ctx, acc, d("-5"), "op-2")
	require.ErrorIs(t, err, errs.ErrInvalidStake)
	_, err = l.Credit(ctx, acc, d("0.001"), "op-3")
	require.ErrorIs(t, err, errs.ErrInvalidStake)

	_, err = l.Credit(ctx, acc, d("1"), "")
	require.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestRejectsSubCentAmounts(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "10.00")

	_, err := l.Credit(ctx, acc, d("10.005"), "op-1")
	require.ErrorIs(t, err, errs.ErrInvalidStake)
	_, err = l.Debit(ctx, acc, d("0.015"), "op-2")
	require.ErrorIs(t, err, errs.ErrInvalidStake)

	bal, err := l.Balance(ctx, acc)
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.StringFixed(2))
	_, ok, err := l.Lookup(ctx, "op-1")
	require.NoError(t, err)
	require.False(t, ok)

	e, err := l.Credit(ctx, acc, d("2.50"), "op-3")
	require.NoError(t, err)
	require.Equal(t, "12.50", e.BalanceAfter.StringFixed(2))
}

func TestUnknownAccount(t *testing.T) {
	l := New(NewMemoryStore())
	_, err := l.Credit(context.Background(), "ghost", d("1"), "op-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = l.Balance(context.Background(), "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSameOpKeyIsAppliedOnce(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "50.00")

	first, err := l.Debit(ctx, acc, d("20"), "stake:p-1")
	require.NoError(t, err)
	require.False(t, first.Replayed)

	again, err := l.Debit(ctx, acc, d("20"), "stake:p-1")
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, first.Seq, again.Seq)

	bal, _ := l.Balance(ctx, acc)
	require.Equal(t, "30.00", bal.StringFixed(2))
}

func TestLookupByOpKey(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "10.00")

	_, ok, err := l.Lookup(ctx, "op-1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = l.Debit(ctx, acc, d("4"), "op-1")
	require.NoError(t, err)
	e, ok, err := l.Lookup(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Debit, e.Kind)
	require.Equal(t, "6.00", e.BalanceAfter.StringFixed(2))
}

func TestOpKeyReuseWithDifferentAmountConflicts(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "50.00")

	_, err := l.Debit(ctx, acc, d("20"), "stake:p-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, acc, d("25"), "stake:p-1")
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestSequenceIsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "100.00")
	for i := 0; i < 5; i++ {
		_, err := l.Debit(ctx, acc, d("1"), fmt.Sprintf("op-%d", i))
		require.NoError(t, err)
	}
	entries, err := l.Entries(ctx, acc, 10)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i-1].Seq, entries[i].Seq)
	}
}

func TestConcurrentDebitsNeverOversubscribe(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "100.00")

	var ok, rejected atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Go(func() {
			_, err := l.Debit(ctx, acc, d("15"), fmt.Sprintf("race-%d", i))
			switch {
			case err == nil:
				ok.Add(1)
			case errs.KindOf(err) == errs.KindInsufficientFunds:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(6), ok.Load())
	require.Equal(t, int32(14), rejected.Load())

	bal, err := l.Balance(ctx, acc)
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.StringFixed(2))
	require.False(t, bal.IsNegative())
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, acc := newFunded(t, "5.00")
	a, err := l.Open(ctx, acc)
	require.NoError(t, err)
	require.Equal(t, "5.00", a.Balance.StringFixed(2))

	_, err = l.Open(ctx, " ")
	require.ErrorIs(t, err, errs.ErrInvalidRequest)
}
