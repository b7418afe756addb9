package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld indicates another writer holds the document lock.
	ErrLockHeld = errors.New("document lock held")
)
