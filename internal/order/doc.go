// Package order holds the pure order math behind editing and confirming
// perpetual and swap orders.
//
// All amounts are shopspring/decimal values in USD or token units; slippage
// and impact are expressed in basis points.
package order
