package order

import (
	"errors"
	"fmt"
)

// Confirmation gating errors, in the order they are checked.
var (
	ErrPriceImpactNotAcknowledged = errors.New("price impact not yet acknowledged")
	ErrCreating                   = errors.New("creating order")
	ErrPendingApproval            = errors.New("pending token approval")
	ErrTriggerOrdersNotAccepted   = errors.New("accept confirmation of trigger orders")
)

// Confirmation is the state of an order confirmation before submit.
type Confirmation struct {
	PriceImpactUnacknowledged bool
	Submitting                bool
	Err                       error // Validation error from the order form
	NeedsApproval             bool  // Pay token allowance is insufficient
	PayTokenSymbol            string
	IsIncrease                bool
	ImmediateOrders           []Order // See OrdersExecutedImmediately
	TriggerWarningAccepted    bool
}

// ConfirmState returns why the order cannot be submitted yet, or nil when
// the submit action is enabled.
func ConfirmState(c Confirmation) error {
	switch {
	case c.PriceImpactUnacknowledged:
		return ErrPriceImpactNotAcknowledged
	case c.Submitting:
		return ErrCreating
	case c.Err != nil:
		return c.Err
	case c.NeedsApproval:
		return fmt.Errorf("%w: %s", ErrPendingApproval, c.PayTokenSymbol)
	case c.IsIncrease && len(c.ImmediateOrders) > 0 && !c.TriggerWarningAccepted:
		return ErrTriggerOrdersNotAccepted
	}
	return nil
}
