package repo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies repository failures
type ErrorKind string

const (
	KindInvalidURL       ErrorKind = "invalid-url"
	KindNotFound         ErrorKind = "not-found"
	KindPermissionDenied ErrorKind = "permission-denied"
	KindNetwork          ErrorKind = "network"
	KindArchive          ErrorKind = "archive"
	KindUnsafeArchive    ErrorKind = "unsafe-archive"
)

// Error is a classified failure of one repository source.
type Error struct {
	Kind ErrorKind
	// Repo is the identity of the failing repository ("" when not yet bound,
	// e.g. URL validation before a source exists).
	Repo string
	Err  error
}

func (e *Error) Error() string {
	if e.Repo == "" {
		if e.Err == nil {
			return string(e.Kind)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Repo, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Repo, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified repository error.
func NewError(kind ErrorKind, repo string, err error) *Error {
	return &Error{Kind: kind, Repo: repo, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// RefreshErrors aggregates per-source failures of one refresh. A non-empty
// value means the refresh was partial, not that it produced nothing: sources
// that succeeded still contributed to the published index.
type RefreshErrors []*Error

func (re RefreshErrors) Error() string {
	if len(re) == 0 {
		return "refresh failed"
	}
	parts := make([]string, len(re))
	for i, e := range re {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d repository error(s): %s", len(re), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (re RefreshErrors) Unwrap() []error {
	errs := make([]error, len(re))
	for i, e := range re {
		errs[i] = e
	}
	return errs
}
