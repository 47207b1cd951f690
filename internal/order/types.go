package order

import (
	"github.com/shopspring/decimal"
)

// BasisPointsDivisor is 100% in basis points.
const BasisPointsDivisor = 10000

// LiquidityRiskThresholdBps is the share of available liquidity an order may
// consume before it is flagged as a liquidity risk.
const LiquidityRiskThresholdBps = 5000

// MaxAllowedLeverage is the highest leverage an edited increase order may reach.
var MaxAllowedLeverage = decimal.NewFromInt(100)

// Kind is an order type.
type Kind int

const (
	KindMarketSwap Kind = iota
	KindLimitSwap
	KindMarketIncrease
	KindLimitIncrease
	KindMarketDecrease
	KindLimitDecrease
	KindStopLossDecrease
	KindLiquidation
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindMarketSwap:
		return "market_swap"
	case KindLimitSwap:
		return "limit_swap"
	case KindMarketIncrease:
		return "market_increase"
	case KindLimitIncrease:
		return "limit_increase"
	case KindMarketDecrease:
		return "market_decrease"
	case KindLimitDecrease:
		return "limit_decrease"
	case KindStopLossDecrease:
		return "stop_loss_decrease"
	case KindLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// IsSwap reports whether k is a swap order.
func (k Kind) IsSwap() bool {
	return k == KindMarketSwap || k == KindLimitSwap
}

// IsIncrease reports whether k opens or grows a position.
func (k Kind) IsIncrease() bool {
	return k == KindMarketIncrease || k == KindLimitIncrease
}

// IsLimit reports whether k is a limit order (swap or increase).
func (k Kind) IsLimit() bool {
	return k == KindLimitSwap || k == KindLimitIncrease
}

// IsTriggerDecrease reports whether k is a take-profit or stop-loss.
func (k Kind) IsTriggerDecrease() bool {
	return k == KindLimitDecrease || k == KindStopLossDecrease
}

// Threshold is the side of the trigger price that fires an order.
type Threshold int

const (
	ThresholdAbove Threshold = iota
	ThresholdBelow
)

// Order is an open order as stored on chain.
type Order struct {
	Kind             Kind
	IsLong           bool
	SizeDeltaUsd     decimal.Decimal
	TriggerPrice     decimal.Decimal
	AcceptablePrice  decimal.Decimal
	MinOutputAmount  decimal.Decimal // Swaps only
	TriggerThreshold Threshold
}
