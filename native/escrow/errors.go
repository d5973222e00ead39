package escrow

import "errors"

// The engine reports failures through a closed set of sentinel errors. Every
// operation either completes fully or returns one of these with no state
// change; callers match with errors.Is and map the code to a user message.
var (
	// Initialization.
	ErrAlreadyInitialized = errors.New("escrow: already initialized")
	ErrNotInitialized     = errors.New("escrow: not initialized")

	// Input validation.
	ErrInvalidAmount       = errors.New("escrow: amount must be positive")
	ErrNoMilestones        = errors.New("escrow: at least one milestone required")
	ErrTooManyMilestones   = errors.New("escrow: too many milestones")
	ErrInvalidMilestoneBps = errors.New("escrow: milestone bps must be positive and sum to 10000")

	// Escrow-level state.
	ErrEscrowCompleted = errors.New("escrow: escrow completed")
	ErrEscrowCancelled = errors.New("escrow: escrow cancelled")

	// Milestone-level state.
	ErrMilestoneNotFound          = errors.New("escrow: milestone not found")
	ErrMilestoneAlreadyCompleted  = errors.New("escrow: milestone already completed")
	ErrMilestoneNotPendingRelease = errors.New("escrow: milestone not pending release")
	ErrMilestoneNotCompleted      = errors.New("escrow: milestone completion timestamp missing")
	ErrMilestoneNotDisputed       = errors.New("escrow: milestone not disputed")

	// Dispute timing.
	ErrNoDisputeWindow     = errors.New("escrow: no dispute window configured")
	ErrDisputeWindowOpen   = errors.New("escrow: dispute window still open")
	ErrDisputeWindowClosed = errors.New("escrow: dispute window closed")

	// Release policy.
	ErrManualApprovalRequired            = errors.New("escrow: manual approval required")
	ErrCannotCancelWithPendingMilestones = errors.New("escrow: cannot cancel with pending milestones")

	// Arithmetic.
	ErrOverflow = errors.New("escrow: arithmetic overflow")
)

// Boundary errors raised by the collaborators the engine delegates to. They
// sit outside the taxonomy above: the host surfaces them as call aborts
// rather than escrow state codes.
var (
	ErrUnauthorized        = errors.New("escrow: unauthorized caller")
	ErrInvalidToken        = errors.New("escrow: invalid token symbol")
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
)
