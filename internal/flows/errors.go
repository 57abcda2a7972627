/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flows

import (
	"fmt"

	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/models"
)

// ValidationError reports a malformed schedule or action list. It is always
// surfaced before any persistence attempt.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError carries the full list of conflicting flows and ranges so the
// caller can display them. The write is rejected whole, never partially
// committed.
type ConflictError struct {
	Conflicts []conflict.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("schedule conflicts with flow %q", e.Conflicts[0].FlowName)
	}
	return fmt.Sprintf("schedule conflicts with %d flows", len(e.Conflicts))
}

// InvalidStateError reports an operation that is not legal in the flow's
// current status, such as editing or re-running a running flow. The flow is
// left untouched.
type InvalidStateError struct {
	FlowID string
	Status models.FlowStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s flow %s while status is %s", e.Op, e.FlowID, e.Status)
}

// NotFoundError reports a missing flow.
type NotFoundError struct {
	FlowID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flow %s not found", e.FlowID)
}
