package credit

import (
	"math/big"
	"strconv"

	"creditra/core/types"
)

const (
	EventTypeOpened      = "credit.opened"
	EventTypeSuspended   = "credit.suspend"
	EventTypeClosed      = "credit.closed"
	EventTypeDefaulted   = "credit.default"
	EventTypeDrawn       = "credit.drawn"
	EventTypeRepaid      = "credit.repaid"
	EventTypeRiskUpdated = "credit.risk_updated"
)

// NewOpenedEvent returns the canonical payload for a newly opened credit line.
func NewOpenedEvent(l *CreditLine) *types.Event {
	return newLifecycleEvent(EventTypeOpened, "opened", l)
}

// NewSuspendedEvent returns the payload emitted when a line is suspended.
func NewSuspendedEvent(l *CreditLine) *types.Event {
	return newLifecycleEvent(EventTypeSuspended, "suspend", l)
}

// NewClosedEvent returns the payload emitted when a line is closed.
func NewClosedEvent(l *CreditLine) *types.Event {
	return newLifecycleEvent(EventTypeClosed, "closed", l)
}

// NewDefaultedEvent returns the payload emitted when a line is defaulted.
func NewDefaultedEvent(l *CreditLine) *types.Event {
	return newLifecycleEvent(EventTypeDefaulted, "default", l)
}

// NewDrawnEvent returns the payload for a successful draw.
func NewDrawnEvent(l *CreditLine, amount *big.Int, timestamp int64) *types.Event {
	attrs := map[string]string{
		"amount":    formatAmount(amount),
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	if l != nil {
		attrs["borrower"] = l.Borrower.String()
		attrs["newUtilizedAmount"] = formatAmount(l.UtilizedAmount)
	}
	return &types.Event{Type: EventTypeDrawn, Attributes: attrs}
}

// NewRepaidEvent returns the payload for a successful repayment. The amount
// attribute carries the amount the borrower requested; when the borrower
// overpays, the stored record reflects the capped amount while the event keeps
// the requested figure.
func NewRepaidEvent(l *CreditLine, requested *big.Int, timestamp int64) *types.Event {
	attrs := map[string]string{
		"amount":    formatAmount(requested),
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	if l != nil {
		attrs["borrower"] = l.Borrower.String()
		attrs["newUtilizedAmount"] = formatAmount(l.UtilizedAmount)
	}
	return &types.Event{Type: EventTypeRepaid, Attributes: attrs}
}

// NewRiskUpdatedEvent returns the payload emitted after an admin adjusts the
// risk parameters of an existing line.
func NewRiskUpdatedEvent(l *CreditLine) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["borrower"] = l.Borrower.String()
		attrs["creditLimit"] = formatAmount(l.CreditLimit)
		attrs["interestRateBps"] = strconv.FormatUint(uint64(l.InterestRateBps), 10)
		attrs["riskScore"] = strconv.FormatUint(uint64(l.RiskScore), 10)
	}
	return &types.Event{Type: EventTypeRiskUpdated, Attributes: attrs}
}

func newLifecycleEvent(eventType, subtype string, l *CreditLine) *types.Event {
	attrs := map[string]string{"eventType": subtype}
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["borrower"] = l.Borrower.String()
	attrs["status"] = l.Status.String()
	attrs["creditLimit"] = formatAmount(l.CreditLimit)
	attrs["interestRateBps"] = strconv.FormatUint(uint64(l.InterestRateBps), 10)
	attrs["riskScore"] = strconv.FormatUint(uint64(l.RiskScore), 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
