package escrow

import (
	"encoding/hex"
	"strconv"

	"safehands/core/types"
)

const (
	EventTypeEscrowDeposited = "escrow.deposited"
	EventTypeEscrowApproved  = "escrow.approved"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowCancelled = "escrow.cancelled"
	EventTypeEscrowDisputed  = "escrow.disputed"
	EventTypeEscrowResolved  = "escrow.resolved"
	EventTypeEscrowExpired   = "escrow.expired"
)

// NewDepositedEvent returns the canonical event payload for a newly funded
// escrow.
func NewDepositedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDeposited, e) }

// NewApprovedEvent returns the event payload emitted when a party records its
// approval.
func NewApprovedEvent(e *Escrow, approver [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowApproved, e)
	evt.Attributes["approver"] = hex.EncodeToString(approver[:])
	return evt
}

// NewReleasedEvent returns the event payload for a release of escrow funds to
// the freelancer.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewCancelledEvent returns the event payload for a client-initiated refund.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, e) }

// NewDisputedEvent returns the event payload emitted when an escrow is frozen
// pending arbitration.
func NewDisputedEvent(e *Escrow, caller [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	evt.Attributes["caller"] = hex.EncodeToString(caller[:])
	return evt
}

// NewResolvedEvent returns the event payload emitted when an arbiter settles a
// dispute.
func NewResolvedEvent(e *Escrow, winner [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, e)
	evt.Attributes["winner"] = hex.EncodeToString(winner[:])
	return evt
}

// NewExpiredEvent returns the event payload emitted when a timeout claim
// refunds the client after the deadline.
func NewExpiredEvent(e *Escrow, caller [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowExpired, e)
	evt.Attributes["caller"] = hex.EncodeToString(caller[:])
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["client"] = hex.EncodeToString(sanitized.Client[:])
	attrs["freelancer"] = hex.EncodeToString(sanitized.Freelancer[:])
	attrs["asset"] = sanitized.Asset
	attrs["amount"] = sanitized.Amount.String()
	attrs["state"] = sanitized.State.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Deadline != 0 {
		attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	}
	if sanitized.Arbiter != sanitized.Client {
		attrs["arbiter"] = hex.EncodeToString(sanitized.Arbiter[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
