package math

import "math/big"

// BpsDenominator is the basis-point scale: 1 bps = 0.01%
const BpsDenominator = 10_000

// Wad is the 1e18 fixed-point unit used for health factors and oracle prices
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// BpsOf returns amount * bps / 10_000, rounded down.
func BpsOf(amount *big.Int, bps uint16) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// FlashLoanPremium returns the premium owed on a loan of amount at the given
// basis-point rate. Rounds down, matching Aave's percentMul.
func FlashLoanPremium(amount *big.Int, premiumBps uint16) *big.Int {
	return BpsOf(amount, premiumBps)
}

// TotalOwed returns principal + premium without mutating either input.
func TotalOwed(principal, premium *big.Int) *big.Int {
	return new(big.Int).Add(principal, premium)
}

// IsStrictlyProfitable reports whether final exceeds required. Break-even is
// not profitable: gas paid outside the measured balance makes it net-negative.
func IsStrictlyProfitable(final, required *big.Int) bool {
	return final.Cmp(required) > 0
}

// MinOutWithSlippage returns quote reduced by slippageBps, the minimum
// acceptable output for a swap leg.
func MinOutWithSlippage(quote *big.Int, slippageBps uint16) *big.Int {
	out := new(big.Int).Mul(quote, big.NewInt(BpsDenominator-int64(slippageBps)))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// HealthFactor returns weightedCollateral * 1e18 / debt. A result below 1e18
// means the account is eligible for liquidation. Debt of zero yields
// MaxHealthFactor.
func HealthFactor(weightedCollateral, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	hf := new(big.Int).Mul(weightedCollateral, Wad)
	return hf.Div(hf, debt)
}

// MaxHealthFactor is returned for accounts with no debt (uint256 max on chain).
var MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Float64 converts x for metric observation. Values beyond float64 precision
// lose digits but keep their magnitude, unlike a Uint64 conversion which
// wraps.
func Float64(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
