package escrow

import "math"

// Dispute window policy. Pure functions of (completion time, window length,
// current time); the engine owns when they are consulted.

// DisputeDeadline returns the instant the dispute window closes:
// completedAt + disputeWindow with checked addition. A zero window has no
// deadline and callers must branch on it before asking.
func DisputeDeadline(completedAt int64, disputeWindow uint64) (int64, error) {
	if disputeWindow > math.MaxInt64 || completedAt > math.MaxInt64-int64(disputeWindow) {
		return 0, ErrOverflow
	}
	return completedAt + int64(disputeWindow), nil
}

// windowClosed reports whether the dispute window has elapsed at now. The
// window is open while now < deadline and closed once now >= deadline.
func windowClosed(completedAt int64, disputeWindow uint64, now int64) (bool, error) {
	deadline, err := DisputeDeadline(completedAt, disputeWindow)
	if err != nil {
		return false, err
	}
	return now >= deadline, nil
}

// remainingWindow returns the seconds until the dispute window closes for a
// milestone, or 0 when no window applies: the milestone is not awaiting
// release, the agreement has no dispute window, or the window already closed.
func remainingWindow(m *Milestone, disputeWindow uint64, now int64) (uint64, error) {
	if m == nil || m.Status != MilestonePendingRelease || disputeWindow == 0 {
		return 0, nil
	}
	if m.CompletedAt == 0 {
		return 0, ErrMilestoneNotCompleted
	}
	deadline, err := DisputeDeadline(m.CompletedAt, disputeWindow)
	if err != nil {
		return 0, err
	}
	if now >= deadline {
		return 0, nil
	}
	return uint64(deadline - now), nil
}
