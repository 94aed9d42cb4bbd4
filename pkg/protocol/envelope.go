// Package protocol implements the wire contract of the turn endpoint: the response
// envelope with its exact-cased fields, the per-type message shapes, and the inbound
// request payloads.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/flowbot/pkg/domain"
)

// StatusCode is the logical outcome of a turn, reported as StatusId.
type StatusCode int

const (
	StatusSuccess          StatusCode = 1
	StatusInvalidRequest   StatusCode = 2
	StatusNoMatchingOption StatusCode = 3
	StatusSessionSuspended StatusCode = 4
	StatusCommitFailed     StatusCode = 5
	StatusBotUnavailable   StatusCode = 6
	StatusExecutionFailed  StatusCode = 7
	StatusSessionNotFound  StatusCode = 8
)

// Description returns the default StatusDescription of the code.
func (c StatusCode) Description() string {
	switch c {
	case StatusSuccess:
		return "Success"
	case StatusInvalidRequest:
		return "Invalid request"
	case StatusNoMatchingOption:
		return "No option matched the input"
	case StatusSessionSuspended:
		return "Waiting for webservice response"
	case StatusCommitFailed:
		return "Could not save the conversation, please retry"
	case StatusBotUnavailable:
		return "Bot is not available"
	case StatusExecutionFailed:
		return "Execution failed"
	case StatusSessionNotFound:
		return "Session not found"
	default:
		return "Unknown status"
	}
}

// Label returns a short machine-friendly name, used for metrics and logs.
func (c StatusCode) Label() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusInvalidRequest:
		return "invalid_request"
	case StatusNoMatchingOption:
		return "no_matching_option"
	case StatusSessionSuspended:
		return "session_suspended"
	case StatusCommitFailed:
		return "commit_failed"
	case StatusBotUnavailable:
		return "bot_unavailable"
	case StatusExecutionFailed:
		return "execution_failed"
	case StatusSessionNotFound:
		return "session_not_found"
	default:
		return "unknown"
	}
}

// SenderBot is the sender reported on every envelope.
const SenderBot = "bot"

// Envelope is the response body of the turn endpoint.
type Envelope struct {
	StatusID          StatusCode      `json:"StatusId"`
	StatusDescription string          `json:"StatusDescription"`
	Sender            string          `json:"sender"`
	Messages          []Message       `json:"messages"`
	Control           *domain.Control `json:"control,omitempty"`
}

// NewEnvelope converts domain messages into wire messages. It fails if any message
// misses a required field.
func NewEnvelope(code StatusCode, msgs []domain.Message, control *domain.Control) (*Envelope, error) {
	wire := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		w, err := FromDomain(m)
		if err != nil {
			return nil, err
		}
		wire = append(wire, w)
	}
	return &Envelope{
		StatusID:          code,
		StatusDescription: code.Description(),
		Sender:            SenderBot,
		Messages:          wire,
		Control:           control,
	}, nil
}

// Failure builds an envelope without messages.
func Failure(code StatusCode, description string) *Envelope {
	if description == "" {
		description = code.Description()
	}
	return &Envelope{
		StatusID:          code,
		StatusDescription: description,
		Sender:            SenderBot,
		Messages:          []Message{},
	}
}

// MarshalJSON guarantees messages is an array, never null.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Messages == nil {
		e.Messages = []Message{}
	}
	return json.Marshal(plain(e))
}

// StatusFor classifies an error returned by the engine.
func StatusFor(err error) StatusCode {
	var (
		validation *ValidationError
		routing    *domain.RoutingError
	)
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &validation):
		return StatusInvalidRequest
	case errors.As(err, &routing):
		return StatusNoMatchingOption
	case errors.Is(err, domain.ErrSessionSuspended):
		return StatusSessionSuspended
	case errors.Is(err, domain.ErrPersistence):
		return StatusCommitFailed
	case errors.Is(err, domain.ErrGraphNotFound):
		return StatusBotUnavailable
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrCorrelationMismatch),
		errors.Is(err, domain.ErrNotSuspended):
		return StatusSessionNotFound
	default:
		return StatusExecutionFailed
	}
}

// FromError builds the failure envelope of an engine error. Routing errors carry the
// re-rendered prompt of the waiting node so the client can ask again.
func FromError(err error) *Envelope {
	code := StatusFor(err)

	var routing *domain.RoutingError
	if errors.As(err, &routing) {
		env, convErr := NewEnvelope(code, routing.Prompt, routing.Control)
		if convErr == nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				env.StatusDescription = "The answer is not valid"
			}
			return env
		}
	}

	description := code.Description()
	var validation *ValidationError
	if errors.As(err, &validation) {
		description = fmt.Sprintf("%s: %s", description, validation.Error())
	}
	return Failure(code, description)
}
