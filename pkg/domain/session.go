package domain

import (
	"regexp"
	"time"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{5,20}$`)

// ValidPhone reports whether s looks like an end-user phone number.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// Status describes where a session stands between turns.
type Status string

const (
	// StatusIdle is a session that has not run yet.
	StatusIdle Status = "idle"
	// StatusWaiting is a session halted on a decision node.
	StatusWaiting Status = "waiting_input"
	// StatusSuspended is a session parked on a webservice node until its callback.
	StatusSuspended Status = "suspended"
	// StatusFinished is a session whose walk reached a node without outgoing edges.
	StatusFinished Status = "finished"
)

// Variables are the string-valued session variables captured during a conversation.
type Variables map[string]string

// Clone returns an independent copy.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// SessionKey identifies the single session of an end user talking to a bot.
type SessionKey struct {
	ProcessID string
	Phone     string
}

func (k SessionKey) String() string {
	return k.ProcessID + ":" + k.Phone
}

// Session is the runtime state of one conversation.
type Session struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ProcessID      string    `json:"standard_process_id"`
	Phone          string    `json:"phone"`
	Variables      Variables `json:"variables"`
	CurrentNodeID  string    `json:"current_node_id,omitempty"`
	Status         Status    `json:"status"`
	CorrelationKey string    `json:"correlation_key,omitempty"`

	// Turn is the commit version. It grows by one on every committed turn.
	Turn int64 `json:"turn"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an idle session for the given bot and phone.
func NewSession(id, userID, processID, phone string, now time.Time) *Session {
	return &Session{
		SessionID: id,
		UserID:    userID,
		ProcessID: processID,
		Phone:     phone,
		Variables: make(Variables),
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the (bot, phone) key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{ProcessID: s.ProcessID, Phone: s.Phone}
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Variables = s.Variables.Clone()
	return &c
}
