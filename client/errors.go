package client

import "fmt"

// SessionFetchError is returned when the session descriptor cannot be fetched
// or does not contain a base currency. It is fatal for an export run.
type SessionFetchError struct {
	Err error
}

func (e *SessionFetchError) Error() string {
	return fmt.Sprintf("fetch session failed: %v", e.Err)
}

func (e *SessionFetchError) Unwrap() error {
	return e.Err
}

// PageFetchError is returned when a transactions page cannot be fetched or
// decoded. Page is the 1-based index of the failing page.
type PageFetchError struct {
	Page int
	Err  error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch failed for page=%d: %v", e.Page, e.Err)
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}
