package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"streampay/core/types"
)

const (
	EventTypeInitialized        = "escrow.initialized"
	EventTypeMilestoneCompleted = "escrow.milestone_completed"
	EventTypeFundsReleased      = "escrow.funds_released"
	EventTypeDisputeOpened      = "escrow.dispute_opened"
	EventTypeDisputeResolved    = "escrow.dispute_resolved"
	EventTypeCancelled          = "escrow.cancelled"
	EventTypeCompleted          = "escrow.completed"
)

// NewInitializedEvent returns the canonical payload emitted once the deposit
// has been pulled into custody and the agreement persisted.
func NewInitializedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["client"] = formatAddress(e.Client)
		attrs["developer"] = formatAddress(e.Developer)
		attrs["totalAmount"] = formatAmount(e.TotalAmount)
		attrs["milestoneCount"] = strconv.Itoa(len(e.Milestones))
		attrs["disputeWindow"] = strconv.FormatUint(e.DisputeWindow, 10)
	}
	return &types.Event{Type: EventTypeInitialized, Attributes: attrs}
}

// NewMilestoneCompletedEvent returns the payload emitted when the backend
// attests a milestone, starting the dispute window timer.
func NewMilestoneCompletedEvent(e *Escrow, index uint32, m *Milestone) *types.Event {
	attrs := baseAttributes(e)
	attrs["index"] = strconv.FormatUint(uint64(index), 10)
	if m != nil {
		attrs["prUrl"] = m.PRURL
		attrs["completedAt"] = strconv.FormatInt(m.CompletedAt, 10)
	}
	return &types.Event{Type: EventTypeMilestoneCompleted, Attributes: attrs}
}

// NewFundsReleasedEvent returns the payload emitted when a milestone share is
// paid out. The auto flag distinguishes timeout releases from explicit
// approvals.
func NewFundsReleasedEvent(e *Escrow, index uint32, developerAmount *big.Int, auto bool) *types.Event {
	attrs := baseAttributes(e)
	attrs["index"] = strconv.FormatUint(uint64(index), 10)
	attrs["amount"] = formatAmount(developerAmount)
	attrs["auto"] = strconv.FormatBool(auto)
	if e != nil {
		attrs["developer"] = formatAddress(e.Developer)
	}
	return &types.Event{Type: EventTypeFundsReleased, Attributes: attrs}
}

// NewDisputeOpenedEvent returns the payload emitted when the client freezes a
// milestone inside its dispute window.
func NewDisputeOpenedEvent(e *Escrow, index uint32, reason string, openedAt int64) *types.Event {
	attrs := baseAttributes(e)
	attrs["index"] = strconv.FormatUint(uint64(index), 10)
	attrs["reason"] = reason
	attrs["openedAt"] = strconv.FormatInt(openedAt, 10)
	return &types.Event{Type: EventTypeDisputeOpened, Attributes: attrs}
}

// NewDisputeResolvedEvent returns the payload emitted after arbitration. The
// recipient is the developer when the dispute resolved in their favour and
// the client otherwise; amount is the value that moved to them.
func NewDisputeResolvedEvent(e *Escrow, index uint32, recipient [20]byte, amount *big.Int, outcome string) *types.Event {
	attrs := baseAttributes(e)
	attrs["index"] = strconv.FormatUint(uint64(index), 10)
	attrs["recipient"] = formatAddress(recipient)
	attrs["amount"] = formatAmount(amount)
	attrs["outcome"] = outcome
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when the client cancels and
// the unreleased remainder is refunded.
func NewCancelledEvent(e *Escrow, refunded *big.Int) *types.Event {
	attrs := baseAttributes(e)
	attrs["refunded"] = formatAmount(refunded)
	if e != nil {
		attrs["client"] = formatAddress(e.Client)
	}
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

// NewCompletedEvent returns the payload emitted once every milestone is
// released or refunded.
func NewCompletedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["releasedAmount"] = formatAmount(e.ReleasedAmount)
	}
	return &types.Event{Type: EventTypeCompleted, Attributes: attrs}
}

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e != nil {
		attrs["id"] = hex.EncodeToString(e.ID[:])
		attrs["token"] = e.Token
	}
	return attrs
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
