package wht

import "time"

// predecessor maps each forward status to the only status it may follow.
var predecessor = map[Status]Status{
	StatusPrepared:     StatusDraft,
	StatusReviewed:     StatusPrepared,
	StatusSubmitted:    StatusReviewed,
	StatusAcknowledged: StatusSubmitted,
}

// CanTransition reports whether target legally follows current. AMENDED is
// reachable from SUBMITTED or ACKNOWLEDGED only; every other transition must
// match its exact predecessor.
func CanTransition(current, target Status) bool {
	if target == StatusAmended {
		return current == StatusSubmitted || current == StatusAcknowledged
	}
	prev, ok := predecessor[target]
	return ok && current == prev
}

// Advance moves the filing to target, stamping the acting user and time on
// the step that was taken. ErrInvalidTransition leaves the filing untouched.
// Acknowledgement additionally requires the authority reference, handled by
// the service before calling here.
func Advance(filing *Filing, target Status, actorID int64, now time.Time) error {
	if !CanTransition(filing.Status, target) {
		return ErrInvalidTransition
	}
	switch target {
	case StatusPrepared:
		filing.PreparedBy = &actorID
		filing.PreparedAt = &now
	case StatusReviewed:
		filing.ReviewedBy = &actorID
		filing.ReviewedAt = &now
	case StatusSubmitted:
		filing.SubmittedBy = &actorID
		filing.SubmittedAt = &now
	case StatusAcknowledged:
		filing.AcknowledgedAt = &now
	case StatusAmended:
		filing.AmendedBy = &actorID
		filing.AmendedAt = &now
	}
	filing.Status = target
	filing.UpdatedAt = now
	return nil
}

// mutable reports whether the filing's record set may still change. A
// submitted or acknowledged filing is frozen until amended.
func mutable(status Status) bool {
	switch status {
	case StatusDraft, StatusPrepared, StatusReviewed, StatusAmended:
		return true
	}
	return false
}
