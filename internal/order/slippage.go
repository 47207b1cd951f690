package order

import (
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(BasisPointsDivisor)

// ApplySlippageToPrice widens price by bps in the direction that is worse
// for the trader: up when buying (long increase, short decrease), down
// otherwise.
func ApplySlippageToPrice(bps int64, price decimal.Decimal, isIncrease, isLong bool) decimal.Decimal {
	factor := BasisPointsDivisor - bps
	if isIncrease == isLong {
		factor = BasisPointsDivisor + bps
	}
	return price.Mul(decimal.NewFromInt(factor)).Div(bpsDivisor)
}

// ApplySlippageToMinOut lowers a swap's minimum output by bps.
func ApplySlippageToMinOut(bps int64, minOut decimal.Decimal) decimal.Decimal {
	return minOut.Mul(decimal.NewFromInt(BasisPointsDivisor - bps)).Div(bpsDivisor)
}

// BasisPoints returns num/den in whole basis points, truncated. A zero
// denominator yields zero.
func BasisPoints(num, den decimal.Decimal) int64 {
	if den.IsZero() {
		return 0
	}
	return num.Mul(bpsDivisor).Div(den).Truncate(0).IntPart()
}

// EditedAcceptablePrice recomputes an order's acceptable price after its
// trigger price changes. The old distance between acceptable and trigger
// price, in basis points, is re-applied to the new trigger price. Swaps have
// no acceptable price; stop-losses keep theirs unchanged. A zero
// newTriggerPrice keeps the old trigger price.
func EditedAcceptablePrice(o Order, newTriggerPrice decimal.Decimal) decimal.Decimal {
	if o.Kind.IsSwap() {
		return decimal.Zero
	}
	if o.Kind == KindStopLossDecrease {
		return o.AcceptablePrice
	}

	impactBps := BasisPoints(o.AcceptablePrice.Sub(o.TriggerPrice).Abs(), o.TriggerPrice)
	price := newTriggerPrice
	if price.IsZero() {
		price = o.TriggerPrice
	}
	return ApplySlippageToPrice(impactBps, price, o.Kind.IsIncrease(), o.IsLong)
}
