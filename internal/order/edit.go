package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Edit validation errors, in the order they are checked.
var (
	ErrUpdating       = errors.New("updating order")
	ErrEnterRatio     = errors.New("enter a ratio")
	ErrEnterNewRatio  = errors.New("enter a new ratio")
	ErrLoading        = errors.New("loading")
	ErrEnterAmount    = errors.New("enter an amount")
	ErrEnterPrice     = errors.New("enter a price")
	ErrNothingChanged = errors.New("enter new amount or price")
	ErrPriceAboveMark = errors.New("price above mark price")
	ErrPriceBelowMark = errors.New("price below mark price")
	ErrPriceAboveLiq  = errors.New("price above liquidation price")
	ErrPriceBelowLiq  = errors.New("price below liquidation price")
	ErrMaxLeverage    = errors.New("max leverage exceeded")
)

// Edit is a proposed change to an open order plus the market context needed
// to validate it.
type Edit struct {
	Order      Order
	Submitting bool

	// Position orders
	SizeDeltaUsd     decimal.Decimal
	TriggerPrice     decimal.Decimal
	MarkPrice        decimal.NullDecimal // Invalid while prices load
	LiquidationPrice decimal.NullDecimal // Existing position's, if any
	PositionIsLong   bool
	NextLeverage     decimal.NullDecimal // After the edit, limit increases only

	// Swap orders
	TriggerRatio    decimal.Decimal
	MarkRatio       decimal.NullDecimal
	RatioInverted   bool
	MinOutputAmount decimal.Decimal
}

// ValidateEdit returns the first reason the edit cannot be submitted, or nil.
func ValidateEdit(e Edit) error {
	if e.Submitting {
		return ErrUpdating
	}
	if e.Order.Kind.IsSwap() {
		return validateSwapEdit(e)
	}

	if !e.MarkPrice.Valid {
		return ErrLoading
	}
	mark := e.MarkPrice.Decimal

	if !e.SizeDeltaUsd.IsPositive() {
		return ErrEnterAmount
	}
	if !e.TriggerPrice.IsPositive() {
		return ErrEnterPrice
	}
	if e.SizeDeltaUsd.Equal(e.Order.SizeDeltaUsd) && e.TriggerPrice.Equal(e.Order.TriggerPrice) {
		return ErrNothingChanged
	}

	if e.Order.Kind.IsLimit() {
		if e.Order.IsLong && e.TriggerPrice.GreaterThanOrEqual(mark) {
			return ErrPriceAboveMark
		}
		if !e.Order.IsLong && e.TriggerPrice.LessThanOrEqual(mark) {
			return ErrPriceBelowMark
		}
	}

	if e.Order.Kind.IsTriggerDecrease() {
		if err := validateTriggerDecrease(e, mark); err != nil {
			return err
		}
	}

	if e.Order.Kind == KindLimitIncrease && e.NextLeverage.Valid && e.NextLeverage.Decimal.GreaterThan(MaxAllowedLeverage) {
		return fmt.Errorf("%w: %sx", ErrMaxLeverage, MaxAllowedLeverage.StringFixed(1))
	}
	return nil
}

func validateSwapEdit(e Edit) error {
	if !e.TriggerRatio.IsPositive() || !e.MinOutputAmount.IsPositive() {
		return ErrEnterRatio
	}
	if e.MinOutputAmount.Equal(e.Order.MinOutputAmount) {
		return ErrEnterNewRatio
	}
	if e.MarkRatio.Valid {
		if !e.RatioInverted && e.MarkRatio.Decimal.LessThan(e.TriggerRatio) {
			return ErrPriceAboveMark
		}
		if e.RatioInverted && e.MarkRatio.Decimal.GreaterThan(e.TriggerRatio) {
			return ErrPriceBelowMark
		}
	}
	return nil
}

// validateTriggerDecrease checks take-profit and stop-loss prices against the
// position's liquidation price, then against mark.
func validateTriggerDecrease(e Edit, mark decimal.Decimal) error {
	if liq := e.LiquidationPrice; liq.Valid && !liq.Decimal.IsZero() {
		if e.PositionIsLong && e.TriggerPrice.LessThanOrEqual(liq.Decimal) {
			return ErrPriceBelowLiq
		}
		if !e.PositionIsLong && e.TriggerPrice.GreaterThanOrEqual(liq.Decimal) {
			return ErrPriceAboveLiq
		}
	}

	takeProfit := e.Order.Kind == KindLimitDecrease
	if e.Order.IsLong {
		if takeProfit && e.TriggerPrice.LessThanOrEqual(mark) {
			return ErrPriceBelowMark
		}
		if !takeProfit && e.TriggerPrice.GreaterThanOrEqual(mark) {
			return ErrPriceAboveMark
		}
		return nil
	}
	if takeProfit && e.TriggerPrice.GreaterThanOrEqual(mark) {
		return ErrPriceAboveMark
	}
	if !takeProfit && e.TriggerPrice.LessThanOrEqual(mark) {
		return ErrPriceBelowMark
	}
	return nil
}
