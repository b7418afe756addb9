package recon

import "time"

// predecessor maps each reachable status to the only status it may follow.
// No step can be skipped and nothing moves backwards.
var predecessor = map[Status]Status{
	StatusInProgress: StatusDraft,
	StatusCompleted:  StatusInProgress,
	StatusApproved:   StatusCompleted,
}

// CanTransition reports whether target legally follows current.
func CanTransition(current, target Status) bool {
	prev, ok := predecessor[target]
	return ok && current == prev
}

// Advance moves the document to target, stamping the acting user and time on
// the step that was taken. ErrInvalidTransition leaves the document untouched.
func Advance(doc *Document, target Status, actorID int64, now time.Time) error {
	if !CanTransition(doc.Status, target) {
		return ErrInvalidTransition
	}
	switch target {
	case StatusInProgress:
		doc.PreparedBy = &actorID
		doc.PreparedAt = &now
	case StatusCompleted:
		doc.ReviewedBy = &actorID
		doc.ReviewedAt = &now
	case StatusApproved:
		doc.ApprovedBy = &actorID
		doc.ApprovedAt = &now
	}
	doc.Status = target
	doc.UpdatedAt = now
	return nil
}
