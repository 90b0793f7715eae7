//go:build integration

package cryptotx

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/rates"
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

func TestPostgresWorkflow(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewPostgresStore(testDB))
	_, err := l.Open(ctx, "pg-c-1")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "pg-c-1", d("1000"), "pg-c-seed")
	require.NoError(t, err)

	store := NewPostgresStore(testDB)
	wf := NewWorkflow(store, l, rates.NewProvider())
	actor := Actor{ID: "pg-c-1"}

	var ok atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Go(func() {
			if _, err := wf.Request(ctx, actor, RequestInput{AccountID: "pg-c-1", Type: Withdrawal, Asset: "USDT", CryptoAmount: d("10")}); err == nil {
				ok.Add(1)
			}
		})
	}
	wg.Wait()
	require.Equal(t, int32(DefaultMaxPendingWithdrawals), ok.Load())

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, DefaultMaxPendingWithdrawals)
	require.True(t, pending[0].RateStale)

	approved, err := wf.Approve(ctx, admin, pending[0].ID, ApproveInput{ExternalRef: "0xdef"})
	require.NoError(t, err)
	require.Equal(t, Approved, approved.State)

	bal, err := l.Balance(ctx, "pg-c-1")
	require.NoError(t, err)
	require.Equal(t, "990.00", bal.StringFixed(2))

	_, err = wf.Approve(ctx, admin, pending[0].ID, ApproveInput{})
	require.ErrorIs(t, err, errs.ErrAlreadyTerminal)

	stale := approved
	stale.Version = 99
	require.ErrorIs(t, store.Update(ctx, stale, 1), ErrVersionConflict)
}
