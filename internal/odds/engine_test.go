package odds

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCombineMultipliesLegs(t *testing.T) {
	got, err := Combine([]decimal.Decimal{d("2.0"), d("3.0")})
	require.NoError(t, err)
	require.True(t, got.Equal(d("6")), "got %s", got)
}

func TestCombineSingleLegIsItsOwnOdd(t *testing.T) {
	got, err := Combine([]decimal.Decimal{d("1.85")})
	require.NoError(t, err)
	require.True(t, got.Equal(d("1.85")))
}

func TestCombineRoundsHalfUpToThreePlaces(t *testing.T) {
	// 1.15 × 1.15 × 1.15 = 1.520875
	got, err := Combine([]decimal.Decimal{d("1.15"), d("1.15"), d("1.15")})
	require.NoError(t, err)
	require.Equal(t, "1.521", got.StringFixed(OddsScale))
}

func TestCombineRejectsBadInput(t *testing.T) {
	_, err := Combine(nil)
	require.ErrorIs(t, err, errs.ErrInvalidOdd)

	_, err = Combine([]decimal.Decimal{d("1.90"), d("1.00")})
	require.ErrorIs(t, err, errs.ErrInvalidOdd)

	_, err = Combine([]decimal.Decimal{d("0.5")})
	require.ErrorIs(t, err, errs.ErrInvalidOdd)
}

func TestPotentialPayoutScenario(t *testing.T) {
	combined, err := Combine([]decimal.Decimal{d("1.90"), d("2.10")})
	require.NoError(t, err)
	require.Equal(t, "3.990", combined.StringFixed(OddsScale))

	payout, err := PotentialPayout(d("50.00"), combined)
	require.NoError(t, err)
	require.Equal(t, "149.50", payout.StringFixed(USDScale))
}

func TestPotentialPayoutRejectsStake(t *testing.T) {
	_, err := PotentialPayout(decimal.Zero, d("2"))
	require.ErrorIs(t, err, errs.ErrInvalidStake)

	_, err = PotentialPayout(d("-1"), d("2"))
	require.ErrorIs(t, err, errs.ErrInvalidStake)
}

func TestRoundUSDHalfUp(t *testing.T) {
	require.Equal(t, "0.13", RoundUSD(d("0.125")).StringFixed(USDScale))
	require.Equal(t, "0.12", RoundUSD(d("0.124")).StringFixed(USDScale))
}
