package odds

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// Escalas fixas: valores em USD com 2 casas, odds combinadas com 3.
const (
	USDScale  int32 = 2
	OddsScale int32 = 3
)

var one = decimal.NewFromInt(1)

// RoundUSD arredonda half-up para centavos.
func RoundUSD(v decimal.Decimal) decimal.Decimal { return v.Round(USDScale) }

// RoundOdds arredonda half-up para a escala de odds armazenada.
func RoundOdds(v decimal.Decimal) decimal.Decimal { return v.Round(OddsScale) }

// ValidateStake rejeita stake zero ou negativo.
func ValidateStake(stake decimal.Decimal) error {
	if stake.LessThanOrEqual(decimal.Zero) {
		return errs.New("odds.stake", errs.KindInvalidStake, "stake must be > 0, got "+stake.String())
	}
	return nil
}

// ValidateOdd rejeita odds <= 1.
func ValidateOdd(v decimal.Decimal) error {
	if v.LessThanOrEqual(one) {
		return errs.New("odds.odd", errs.KindInvalidOdd, "odd must be > 1, got "+v.String())
	}
	return nil
}

// Combine multiplica as odds das pernas. Uma única perna retorna a própria odd.
func Combine(legOdds []decimal.Decimal) (decimal.Decimal, error) {
	if len(legOdds) == 0 {
		return decimal.Zero, errs.New("odds.combine", errs.KindInvalidOdd, "at least one leg required")
	}
	product := one
	for _, o := range legOdds {
		if err := ValidateOdd(o); err != nil {
			return decimal.Zero, err
		}
		product = product.Mul(o)
	}
	return RoundOdds(product), nil
}

// PotentialPayout = stake × odds − stake, em centavos.
func PotentialPayout(stake, combined decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateStake(stake); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateOdd(combined); err != nil {
		return decimal.Zero, err
	}
	return RoundUSD(stake.Mul(combined).Sub(stake)), nil
}
