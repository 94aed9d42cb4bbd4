package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/flowbot/pkg/domain"
)

// DefaultMaxInputSize is the default limit, in bytes, of an inbound message text.
const DefaultMaxInputSize = 4096

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrInputTooLarge  = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8    = errors.New("input contains invalid UTF-8 sequences")
)

// FieldError is a single field validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// ValidationError reports a malformed inbound payload.
type ValidationError struct {
	Fields []FieldError
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid wraps err as a ValidationError.
func Invalid(err error) error {
	return &ValidationError{Err: err}
}

// TurnRequest is the body of an inbound end-user message.
type TurnRequest struct {
	Phone  string `json:"phone"`
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

// Validate checks the request fields.
func (r TurnRequest) Validate() error {
	var fields []FieldError
	if !domain.ValidPhone(r.Phone) {
		fields = append(fields, FieldError{Field: "phone", Reason: "must be 5 to 20 digits, optionally prefixed by +"})
	}
	if r.Sender != "" && r.Sender != string(domain.SenderUser) {
		fields = append(fields, FieldError{Field: "sender", Reason: "must be \"user\" when present"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CallbackRequest is the body a webservice posts back to resume a parked session.
type CallbackRequest struct {
	Value     string            `json:"value"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Validate checks the callback fields.
func (r CallbackRequest) Validate() error {
	for k := range r.Variables {
		if strings.TrimSpace(k) == "" {
			return &ValidationError{Fields: []FieldError{{Field: "variables", Reason: "empty variable name"}}}
		}
	}
	return nil
}

// SanitizeText cleans user input by enforcing the size limit, validating UTF-8,
// and stripping control characters other than newline, tab and carriage return.
func SanitizeText(input string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxInputSize
	}

	// 1. Enforce size limit (reject rather than truncate)
	if len(input) > limit {
		return "", Invalid(fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit))
	}

	// 2. Validate UTF-8
	if !utf8.ValidString(input) {
		return "", Invalid(ErrInvalidUTF8)
	}

	// 3. Strip control characters
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
