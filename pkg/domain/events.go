package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventNodeLeave    EventType = "node_leave"
	EventActionCall   EventType = "action_call"
	EventActionReturn EventType = "action_return"
	EventTurnEnd      EventType = "turn_end"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
}

// ActionEvent represents the execution of a registered action.
type ActionEvent struct {
	EventBase
	NodeID  string         `json:"node_id"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// TurnEvent summarizes a handled turn. Outcome is a short label such as
// "success" or "no_matching_option".
type TurnEvent struct {
	EventBase
	ProcessID string        `json:"standard_process_id"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnActionCall   func(context.Context, *ActionEvent)
	OnActionReturn func(context.Context, *ActionEvent)
	OnTurnEnd      func(context.Context, *TurnEvent)
}
