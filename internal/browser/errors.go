package browser

import (
	"fmt"
	"time"
)

// NavigationError reports a page load that failed after exhausting retries.
type NavigationError struct {
	URL   string
	Cause error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// ElementNotFoundError reports a selector that never became interactable
// within the wait timeout.
type ElementNotFoundError struct {
	Selector string
	Cause    error
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not interactable: %v", e.Selector, e.Cause)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Cause }

// FrameNotFoundError reports that no frame on the page exposes the selector.
type FrameNotFoundError struct {
	Selector string
}

func (e *FrameNotFoundError) Error() string {
	return fmt.Sprintf("no frame exposes selector %q", e.Selector)
}

// DownloadTimeoutError reports that no new file appeared in the scratch
// directory before the deadline.
type DownloadTimeoutError struct {
	Timeout time.Duration
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download timeout after %s", e.Timeout)
}
