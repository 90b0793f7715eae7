package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func fast(tries uint) Config {
	return Config{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast(5), func(err error) bool { return errors.Is(err, errBusy) }, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errBusy
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fast(5), func(err error) bool { return errors.Is(err, errBusy) }, func() (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxTries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(3), func(err error) bool { return errors.Is(err, errBusy) }, func() (int, error) {
		calls++
		return 0, errBusy
	})
	require.ErrorIs(t, err, errBusy)
	require.Equal(t, 3, calls)
}
