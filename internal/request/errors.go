package request

import (
	"fmt"
	"strings"
)

// ValidationError reports a submission field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a submission rejected by the duplicate guard. It
// names the document types already in flight for the same subject.
type ConflictError struct {
	Overlapping []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("documents already in flight for this subject: %s",
		strings.Join(e.Overlapping, ", "))
}
