package store

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a file record
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSkipped     Status = "SKIPPED"
	StatusPrimary     Status = "PRIMARY"
	StatusDuplicate   Status = "DUPLICATE"
	StatusStagedOK    Status = "STAGED_OK"
	StatusStagedError Status = "STAGED_ERROR"
)

var allStatuses = []Status{
	StatusPending,
	StatusSkipped,
	StatusPrimary,
	StatusDuplicate,
	StatusStagedOK,
	StatusStagedError,
}

// primaryRoleStatuses are the states in which a record is the canonical copy of its content
var primaryRoleStatuses = []Status{StatusPrimary, StatusStagedOK, StatusStagedError}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a persisted value into a known Status
func ParseStatus(value string) (Status, error) {
	s := Status(strings.TrimSpace(value))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return s, nil
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSkipped, StatusPrimary, StatusDuplicate, StatusStagedOK, StatusStagedError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Resetting to PENDING is not an edge; only ResetAll does that.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSkipped || next == StatusPrimary || next == StatusDuplicate
	case StatusPrimary:
		return next == StatusStagedOK || next == StatusStagedError
	case StatusSkipped, StatusDuplicate, StatusStagedOK, StatusStagedError:
		return false
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending, StatusPrimary:
		return false
	}
	return true
}

// HasPrimaryRole reports whether a record in state s is the canonical copy of its content
func (s Status) HasPrimaryRole() bool {
	for _, p := range primaryRoleStatuses {
		if s == p {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
