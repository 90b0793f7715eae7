//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/shared/pgtest"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	db, terminate, err := pgtest.Start(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", err)
		os.Exit(1)
	}
	testDB = db
	code := m.Run()
	terminate()
	os.Exit(code)
}

func TestPostgresStoreContract(t *testing.T) {
	ctx := context.Background()
	l := New(NewPostgresStore(testDB))

	_, err := l.Open(ctx, "pg-acc-1")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "pg-acc-1", d("100"), "pg-seed-1")
	require.NoError(t, err)

	e, err := l.Debit(ctx, "pg-acc-1", d("40.50"), "pg-op-1")
	require.NoError(t, err)
	require.Equal(t, "59.50", e.BalanceAfter.StringFixed(2))
	require.Equal(t, int64(2), e.Seq)

	again, err := l.Debit(ctx, "pg-acc-1", d("40.50"), "pg-op-1")
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, e.Seq, again.Seq)

	_, err = l.Debit(ctx, "pg-acc-1", d("59.51"), "pg-op-2")
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	_, err = l.Debit(ctx, "pg-missing", d("1"), "pg-op-3")
	require.ErrorIs(t, err, errs.ErrNotFound)

	entries, err := l.Entries(ctx, "pg-acc-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "pg-op-1", entries[0].OpKey)
}

func TestPostgresConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	l := New(NewPostgresStore(testDB))
	_, err := l.Open(ctx, "pg-acc-race")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "pg-acc-race", d("100"), "pg-seed-race")
	require.NoError(t, err)

	var ok atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			if _, err := l.Debit(ctx, "pg-acc-race", d("15"), fmt.Sprintf("pg-race-%d", i)); err == nil {
				ok.Add(1)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(6), ok.Load())
	bal, err := l.Balance(ctx, "pg-acc-race")
	require.NoError(t, err)
	require.Equal(t, "10.00", bal.StringFixed(2))
}
