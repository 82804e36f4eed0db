package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the underlying engine is not initialised;
	// operations fail fast instead of hanging.
	ErrUnavailable = errors.New("store unavailable")
	// ErrValidation indicates a malformed payload or missing required fields.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates an insert against an already-used primary key.
	ErrConflict = errors.New("already exists")
)

// BulkError reports a partial bulk insert: the successful subset is
// committed, the failed keys are listed here.
type BulkError struct {
	Collection string   `json:"collection"`
	Total      int      `json:"total"`
	FailedIDs  []string `json:"failedIds"`
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("store: bulk insert into %s: %d of %d items failed (%s)",
		e.Collection, len(e.FailedIDs), e.Total, strings.Join(e.FailedIDs, ", "))
}

// Failed returns the number of rejected items.
func (e *BulkError) Failed() int {
	return len(e.FailedIDs)
}
