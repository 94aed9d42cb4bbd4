package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrGraphNotFound is returned when no compiled graph is active for a bot.
var ErrGraphNotFound = errors.New("no active graph")

// ErrNodeNotFound is returned when the program does not contain a referenced node.
var ErrNodeNotFound = errors.New("node not found")

// ErrUnknownNodeType is returned when decoding a node whose type is not part of the catalog.
var ErrUnknownNodeType = errors.New("unknown node type")

// ErrInvalidNodeData is returned when a node's data misses required fields.
var ErrInvalidNodeData = errors.New("invalid node data")

// ErrInvalidHandle is returned when an edge carries a malformed source handle.
var ErrInvalidHandle = errors.New("invalid source handle")

// ErrInvalidTimeRange is returned for a malformed or out of bounds hour range.
var ErrInvalidTimeRange = errors.New("invalid time range")

// ErrUnknownOperator is returned when an option carries an operator outside the enum.
var ErrUnknownOperator = errors.New("unknown operator")

// ErrUnknownEntryType is returned when decoding a history entry of an unknown type.
var ErrUnknownEntryType = errors.New("unknown history entry type")

var (
	// ErrNoMatchingOption is returned when no option matched the input and the node has no default.
	ErrNoMatchingOption = errors.New("no matching option")

	// ErrInvalidInput is returned when an answer is rejected by an input-capture node.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionSuspended is returned when an ordinary message reaches a session that waits for a callback.
	ErrSessionSuspended = errors.New("session is waiting for a webservice callback")

	// ErrNotSuspended is returned when a callback reaches a session that is not parked.
	ErrNotSuspended = errors.New("session is not suspended")

	// ErrCorrelationMismatch is returned when a callback carries a stale correlation key.
	ErrCorrelationMismatch = errors.New("correlation key does not match")

	// ErrStepLimit is returned when a turn executes too many automatic nodes in a row.
	ErrStepLimit = errors.New("automatic step limit exceeded")
)

var (
	// ErrPersistence marks storage, locking and commit failures. The turn did not advance and may be retried.
	ErrPersistence = errors.New("persistence failure")

	// ErrCommitConflict is returned when the stored session version differs from the expected one.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrWebserviceDispatch marks a failed outbound webservice call. The session stays parked.
	ErrWebserviceDispatch = errors.New("webservice dispatch failed")
)

// RoutingError reports that the input of a waiting session could not be routed.
// The session is left untouched; Prompt and Control re-render the halted node.
type RoutingError struct {
	NodeID  string
	Input   string
	Cause   error
	Prompt  []Message
	Control *Control
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %q cannot route input %q: %v", e.NodeID, e.Input, e.Cause)
}

func (e *RoutingError) Unwrap() error {
	return e.Cause
}

// ExecutionError reports a failure while executing an automatic node.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
