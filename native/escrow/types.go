package escrow

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// EscrowStatus represents the lifecycle states of an escrow agreement. The
// status is monotone: once Completed or Cancelled an agreement never returns
// to Active.
type EscrowStatus uint8

const (
	// StatusActive marks agreements whose milestones are still in flight.
	StatusActive EscrowStatus = iota
	// StatusCompleted marks agreements where every milestone has been
	// released or refunded.
	StatusCompleted
	// StatusCancelled marks agreements the client cancelled; the unreleased
	// remainder has been returned.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// String renders the canonical lowercase label used on the wire and in events.
func (s EscrowStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MilestoneStatus represents the state of an individual milestone.
type MilestoneStatus uint8

const (
	// MilestonePending marks work that has not been attested yet.
	MilestonePending MilestoneStatus = iota
	// MilestonePendingRelease marks work the backend attested as complete;
	// funds await client approval or the dispute window to elapse.
	MilestonePendingRelease
	// MilestoneReleased marks funds paid out to the developer. Terminal.
	MilestoneReleased
	// MilestoneDisputed marks funds frozen by a client dispute until the
	// backend arbitrates.
	MilestoneDisputed
	// MilestoneRefunded marks funds returned to the client after a dispute
	// resolved in their favour. Terminal.
	MilestoneRefunded
)

// Valid reports whether the status value is within the supported range.
func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestonePendingRelease, MilestoneReleased, MilestoneDisputed, MilestoneRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the milestone can transition no further.
func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneReleased || s == MilestoneRefunded
}

// String renders the canonical lowercase label.
func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestonePendingRelease:
		return "pending_release"
	case MilestoneReleased:
		return "released"
	case MilestoneDisputed:
		return "disputed"
	case MilestoneRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// MaxMilestones caps the milestone sequence length per agreement. The
// completion scan stays linear over at most this many entries.
const MaxMilestones = 10

// Milestone is one unit of work with a proportional payout. Title, trigger
// keyword and bps are immutable after initialization; PRURL and CompletedAt
// are set exactly once, together, when the backend attests completion.
type Milestone struct {
	Title          string
	TriggerKeyword string
	Bps            uint32
	Status         MilestoneStatus
	PRURL          string
	CompletedAt    int64
}

// Clone returns a copy the caller may mutate freely.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// markCompleted performs the Pending -> PendingRelease transition, recording
// the evidence URL and timestamp as a pair. A single transition function keeps
// the PRURL/CompletedAt both-or-neither invariant from ever splitting.
func (m *Milestone) markCompleted(prURL string, at int64) error {
	if m.Status != MilestonePending {
		return ErrMilestoneAlreadyCompleted
	}
	m.Status = MilestonePendingRelease
	m.PRURL = prURL
	m.CompletedAt = at
	return nil
}

// Escrow is one milestone-based agreement: the client deposits TotalAmount of
// Token up front and the engine releases it to the developer per milestone,
// less a platform fee paid to the backend.
type Escrow struct {
	ID             [32]byte
	Client         [20]byte
	Developer      [20]byte
	Backend        [20]byte
	Token          string
	TotalAmount    *big.Int
	ReleasedAmount *big.Int
	DisputeWindow  uint64
	CreatedAt      int64
	Status         EscrowStatus
	Milestones     []*Milestone
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(e.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	if e.ReleasedAmount != nil {
		clone.ReleasedAmount = new(big.Int).Set(e.ReleasedAmount)
	} else {
		clone.ReleasedAmount = big.NewInt(0)
	}
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, m := range e.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

// MilestoneAt returns the milestone at the 0-based index. The sequence never
// reorders or resizes after initialization, so the index is a stable handle.
func (e *Escrow) MilestoneAt(index uint32) (*Milestone, error) {
	if e == nil || uint64(index) >= uint64(len(e.Milestones)) {
		return nil, ErrMilestoneNotFound
	}
	m := e.Milestones[index]
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	return m, nil
}

// assertActive gates every mutating operation on escrow-level status.
func (e *Escrow) assertActive() error {
	switch e.Status {
	case StatusActive:
		return nil
	case StatusCompleted:
		return ErrEscrowCompleted
	case StatusCancelled:
		return ErrEscrowCancelled
	default:
		return fmt.Errorf("escrow: invalid status %d", e.Status)
	}
}

// ValidateMilestones enforces the initialization invariants: 1..MaxMilestones
// entries, every bps positive, and bps summing to exactly 10000.
func ValidateMilestones(milestones []*Milestone) error {
	if len(milestones) == 0 {
		return ErrNoMilestones
	}
	if len(milestones) > MaxMilestones {
		return ErrTooManyMilestones
	}
	var totalBps uint64
	for _, m := range milestones {
		if m == nil || m.Bps == 0 {
			return ErrInvalidMilestoneBps
		}
		totalBps += uint64(m.Bps)
	}
	if totalBps != bpsDenominator {
		return ErrInvalidMilestoneBps
	}
	return nil
}

var tokenSymbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// NormalizeToken canonicalises a token symbol to uppercase and rejects
// anything that is not a short alphanumeric identifier. The engine treats the
// symbol as an opaque asset handle beyond this check.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !tokenSymbolPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, symbol)
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises an escrow record, returning a clone
// with canonical token casing and non-nil amounts. The original is never
// mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.TotalAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.ReleasedAmount.Sign() < 0 || clone.ReleasedAmount.Cmp(clone.TotalAmount) > 0 {
		return nil, fmt.Errorf("escrow: released amount out of range")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if err := ValidateMilestones(clone.Milestones); err != nil {
		return nil, err
	}
	for _, m := range clone.Milestones {
		if !m.Status.Valid() {
			return nil, fmt.Errorf("escrow: invalid milestone status %d", m.Status)
		}
	}
	return clone, nil
}
