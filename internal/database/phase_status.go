package database

// Escalate implements the phase-status escalation algorithm of §4.1: the
// sole authority for how a (phase, status) pair moves. It is a pure,
// commutative-over-"ignore" function so concurrent writers that each
// compute Escalate(old, candidate) and persist the result converge
// regardless of interleaving (§5, §8's idempotence property).
//
// old is the row's current pair; proposed is the caller's desired pair.
// The returned pair is what should be written back; changed reports
// whether it differs from old (callers can skip the write when false).
func Escalate(old, proposed PhaseStatus) (result PhaseStatus, changed bool) {
	oldFailed := old.Status.Name == StatusFailed
	newFailed := proposed.Status.Name == StatusFailed

	switch {
	case oldFailed && newFailed:
		if proposed.Phase.Ord < old.Phase.Ord {
			// Earlier failure wins: replace phase only, keep status failed.
			return PhaseStatus{Phase: proposed.Phase, Status: old.Status}, true
		}
		return old, false

	case oldFailed && !newFailed:
		// A successful/in-progress report can never un-fail an ancestor.
		return old, false

	case !oldFailed && newFailed:
		// First failure observed: record both phase and status.
		return proposed, true

	default: // !oldFailed && !newFailed
		switch {
		case proposed.Phase.Ord < old.Phase.Ord:
			return old, false
		case proposed.Phase.Ord == old.Phase.Ord:
			if proposed.Status.Ord > old.Status.Ord {
				return PhaseStatus{Phase: old.Phase, Status: proposed.Status}, true
			}
			return old, false
		default: // proposed.Phase.Ord > old.Phase.Ord
			return proposed, true
		}
	}
}
