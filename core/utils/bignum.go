package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DecimalToBig converts a shopspring/decimal value persisted from the
// database into the *big.Int go-ethereum's transaction types expect. Values
// in this domain (wei amounts, gas, gas price) are always integral; any
// fractional component indicates a corrupt row and is truncated away rather
// than silently rounded up.
func DecimalToBig(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

// BigToDecimal is the inverse of DecimalToBig, used when persisting values
// computed from on-chain/codec arithmetic back into decimal columns.
func BigToDecimal(b *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(b, 0)
}

// Cost computes value + gas*gasPrice, the maximum debit a transaction can
// impose on its sender (spec's definition of "cost").
func Cost(value, gas, gasPrice decimal.Decimal) decimal.Decimal {
	return value.Add(gas.Mul(gasPrice))
}
