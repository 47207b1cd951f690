package order

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoCollateral is returned when leverage or liquidation is computed
// without collateral or size.
var ErrNoCollateral = errors.New("position has no collateral or size")

// OrdersExecutedImmediately returns the trigger decrease orders that would
// fire at markPrice: "above" orders when mark is above their trigger, and
// "below" orders when mark is below it. A zero markPrice matches nothing.
func OrdersExecutedImmediately(orders []Order, markPrice decimal.Decimal) []Order {
	if markPrice.IsZero() {
		return nil
	}

	var out []Order
	for _, o := range orders {
		if !o.Kind.IsTriggerDecrease() {
			continue
		}
		if o.TriggerThreshold == ThresholdAbove && markPrice.GreaterThan(o.TriggerPrice) ||
			o.TriggerThreshold == ThresholdBelow && markPrice.LessThan(o.TriggerPrice) {
			out = append(out, o)
		}
	}
	return out
}

// IsLiquidityRisk reports whether required exceeds half of available.
func IsLiquidityRisk(available, required decimal.Decimal) bool {
	threshold := available.Mul(decimal.NewFromInt(LiquidityRiskThresholdBps)).Div(bpsDivisor)
	return threshold.LessThan(required)
}

// NextLeverage returns position size over collateral after an increase.
func NextLeverage(sizeUsd, sizeDeltaUsd, collateralUsd, collateralDeltaUsd decimal.Decimal) (decimal.Decimal, error) {
	collateral := collateralUsd.Add(collateralDeltaUsd)
	if !collateral.IsPositive() {
		return decimal.Zero, ErrNoCollateral
	}
	return sizeUsd.Add(sizeDeltaUsd).Div(collateral), nil
}

// LiquidationPrice approximates the mark price at which remaining
// collateral falls to minCollateralFactor of the position size. Fees and
// funding are ignored. The result is never negative.
func LiquidationPrice(entryPrice, sizeUsd, collateralUsd, minCollateralFactor decimal.Decimal, isLong bool) (decimal.Decimal, error) {
	if !sizeUsd.IsPositive() || !collateralUsd.IsPositive() {
		return decimal.Zero, ErrNoCollateral
	}

	// Share of entry price the position can lose before liquidation
	buffer := collateralUsd.Sub(sizeUsd.Mul(minCollateralFactor)).Div(sizeUsd)
	move := entryPrice.Mul(buffer)

	if isLong {
		return decimal.Max(entryPrice.Sub(move), decimal.Zero), nil
	}
	return entryPrice.Add(move), nil
}
