package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHonoursLevel(t *testing.T) {
	l, err := New("wager-service", "prod", "warn")
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zap.InfoLevel))
	require.True(t, l.Core().Enabled(zap.WarnLevel))

	l, err = New("wager-service", "local", "")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = New("wager-service", "prod", "loud")
	require.Error(t, err)
}
