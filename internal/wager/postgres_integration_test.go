//go:build integration

package wager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
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

func TestPostgresPlaceAndSettle(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewPostgresStore(testDB))
	_, err := l.Open(ctx, "pg-w-1")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "pg-w-1", d("100"), "pg-w-seed")
	require.NoError(t, err)

	store := NewPostgresStore(testDB)
	require.NoError(t, store.UpsertOdd(ctx, Odd{ID: "pg-odd-1", MarketID: "m-1", Value: d("1.90")}))
	require.NoError(t, store.UpsertOdd(ctx, Odd{ID: "pg-odd-2", MarketID: "m-2", Value: d("2.10")}))
	svc := NewService(store, l)

	pl, err := svc.Place(ctx, PlaceRequest{AccountID: "pg-w-1", Selections: []Selection{
		{OddID: "pg-odd-1", Stake: d("25"), OddValue: d("1.90")},
		{OddID: "pg-odd-2", Stake: d("25"), OddValue: d("2.10")},
	}})
	require.NoError(t, err)
	require.Equal(t, "50.00", pl.Balance.StringFixed(2))

	got, legs, err := store.Parlay(ctx, pl.Parlay.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	require.Equal(t, "3.990", got.CombinedOdds.StringFixed(3))

	_, err = svc.SettleLeg(ctx, legs[0].ID, LegWon)
	require.NoError(t, err)
	s, err := svc.SettleLeg(ctx, legs[1].ID, LegWon)
	require.NoError(t, err)
	require.Equal(t, ResultWon, s.Parlay.Result)
	require.Equal(t, "199.50", s.Balance.StringFixed(2))

	_, err = svc.SettleLeg(ctx, legs[1].ID, LegWon)
	require.ErrorIs(t, err, errs.ErrAlreadyTerminal)

	o, err := store.Odd(ctx, "pg-odd-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), o.Bets)
}

func TestPostgresSaveSettlementRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewPostgresStore(testDB))
	_, err := l.Open(ctx, "pg-w-2")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "pg-w-2", d("10"), "pg-w2-seed")
	require.NoError(t, err)

	store := NewPostgresStore(testDB)
	require.NoError(t, store.UpsertOdd(ctx, Odd{ID: "pg-odd-3", MarketID: "m-3", Value: d("3.00")}))
	svc := NewService(store, l)
	pl, err := svc.Place(ctx, PlaceRequest{AccountID: "pg-w-2", Selections: []Selection{
		{OddID: "pg-odd-3", Stake: d("10"), OddValue: d("3.00")},
	}})
	require.NoError(t, err)

	p := pl.Parlay
	p.Version = 2
	err = store.SaveSettlement(ctx, p, pl.Legs[0], 7)
	require.ErrorIs(t, err, ErrVersionConflict)
}
