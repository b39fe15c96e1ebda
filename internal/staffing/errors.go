package staffing

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrBusy signals that a crawl cycle is already running. Manual triggers
// that arrive mid-cycle are rejected, not queued.
var ErrBusy = errors.New("crawl cycle already running")

// Registry sentinels, wrapped in a *StorageError by store implementations.
var (
	ErrSourceNotFound  = errors.New("source not found")
	ErrDuplicateSource = errors.New("source url already registered")
)

// FetchError is a classified failure of a single fetch attempt.
type FetchError struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError rejects a payload whose mandatory fields are missing or invalid.
type ParseError struct {
	Field string
	URL   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: missing or invalid field %q", e.URL, e.Field)
}

// StorageError wraps a store append or read failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError maps a raw fetch error onto the failure taxonomy.
func ClassifyFetchError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	return FailureProtocol
}
