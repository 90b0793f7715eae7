package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New("ledger.debit", KindInsufficientFunds, "balance 10.00 < 20.00")

	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestIsThroughWrapping(t *testing.T) {
	inner := New("wager.place", KindInvalidOdd, "odd not found")
	wrapped := fmt.Errorf("place parlay: %w", inner)

	require.ErrorIs(t, wrapped, ErrInvalidOdd)
	require.Equal(t, KindInvalidOdd, KindOf(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorStringCarriesCause(t *testing.T) {
	err := Wrap("cryptotx.approve", KindConflict, errors.New("version mismatch"))

	str := err.Error()
	require.True(t, strings.Contains(str, "cryptotx.approve"))
	require.True(t, strings.Contains(str, "kind=conflict"))
	require.True(t, strings.Contains(str, "version mismatch"))
	require.NotNil(t, err.Unwrap())
}
