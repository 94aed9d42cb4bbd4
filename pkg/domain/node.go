package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// NodeType identifies the variant of a node's data.
type NodeType string

const (
	// NodeTypeStart marks the single entry point of a graph.
	NodeTypeStart NodeType = "start"
	// NodeTypeMessage sends a text message and continues.
	NodeTypeMessage NodeType = "message"
	// NodeTypeImage sends an image and continues.
	NodeTypeImage NodeType = "image"
	// NodeTypeURL sends a link and continues.
	NodeTypeURL NodeType = "url"
	// NodeTypeSendItem sends a card. Consecutive cards are replayed as a carousel.
	NodeTypeSendItem NodeType = "send_item"
	// NodeTypeSetVariable assigns a session variable and continues.
	NodeTypeSetVariable NodeType = "set_variable"
	// NodeTypeAction runs a registered action and continues.
	NodeTypeAction NodeType = "action"
	// NodeTypeOptions presents a menu and halts waiting for a choice.
	NodeTypeOptions NodeType = "options"
	// NodeTypeInput asks a question and halts waiting for a free-text answer.
	NodeTypeInput NodeType = "input"
	// NodeTypeTimeRouting routes by the hour of the day.
	NodeTypeTimeRouting NodeType = "time_routing"
	// NodeTypeWebservice parks the session until an external callback arrives.
	NodeTypeWebservice NodeType = "webservice"
)

// Behavior classifies how the interpreter treats a node.
type Behavior int

const (
	// BehaviorAuto nodes execute and follow their link immediately.
	BehaviorAuto Behavior = iota
	// BehaviorDecision nodes halt the turn and route on the next inbound message.
	BehaviorDecision
	// BehaviorSuspend nodes halt the session until a correlated callback.
	BehaviorSuspend
)

// Position is the editor canvas location of a node. It carries no semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a dialogue step in the authored graph.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// NodeData is implemented by the configuration variant of each node type.
type NodeData interface {
	Kind() NodeType
	Behavior() Behavior
	Validate() error
}

// Brancher is implemented by node data whose outgoing edges are selected by handle index.
type Brancher interface {
	NodeData
	// Branch returns the operator and value compiled for the i-th handle.
	// The boolean is false when the node has no such branch.
	Branch(i int) (Operator, string, bool)
}

// UnmarshalJSON decodes the data payload into the variant selected by the node type.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string         `json:"id"`
		Type     NodeType       `json:"type"`
		Position Position       `json:"position"`
		Data     map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	data, err := DecodeNodeData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}

	n.ID = raw.ID
	n.Type = raw.Type
	n.Position = raw.Position
	n.Data = data
	return nil
}

// DecodeNodeData converts a loosely typed data map (as produced by the editor) into
// the typed variant for the given node type.
func DecodeNodeData(t NodeType, raw map[string]any) (NodeData, error) {
	target := newNodeData(t)
	if target == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", t, err)
	}
	return target, nil
}

func newNodeData(t NodeType) NodeData {
	switch t {
	case NodeTypeStart:
		return &StartData{}
	case NodeTypeMessage:
		return &MessageData{}
	case NodeTypeImage:
		return &ImageData{}
	case NodeTypeURL:
		return &URLData{}
	case NodeTypeSendItem:
		return &SendItemData{}
	case NodeTypeSetVariable:
		return &SetVariableData{}
	case NodeTypeAction:
		return &ActionData{}
	case NodeTypeOptions:
		return &MenuData{}
	case NodeTypeInput:
		return &InputData{}
	case NodeTypeTimeRouting:
		return &TimeRoutingData{}
	case NodeTypeWebservice:
		return &WebserviceData{}
	default:
		return nil
	}
}

// StartData is the (empty) configuration of the entry node.
type StartData struct{}

func (StartData) Kind() NodeType     { return NodeTypeStart }
func (StartData) Behavior() Behavior { return BehaviorAuto }
func (StartData) Validate() error    { return nil }

// MessageData configures a text message node.
type MessageData struct {
	Text string `json:"text" mapstructure:"text"`
}

func (MessageData) Kind() NodeType     { return NodeTypeMessage }
func (MessageData) Behavior() Behavior { return BehaviorAuto }
func (d MessageData) Validate() error  { return required("text", d.Text) }

// ImageData configures an image node.
type ImageData struct {
	URL     string `json:"url" mapstructure:"url"`
	Caption string `json:"caption,omitempty" mapstructure:"caption"`
}

func (ImageData) Kind() NodeType     { return NodeTypeImage }
func (ImageData) Behavior() Behavior { return BehaviorAuto }
func (d ImageData) Validate() error  { return required("url", d.URL) }

// URLData configures a link node.
type URLData struct {
	URL  string `json:"url" mapstructure:"url"`
	Text string `json:"text" mapstructure:"text"`
}

func (URLData) Kind() NodeType     { return NodeTypeURL }
func (URLData) Behavior() Behavior { return BehaviorAuto }
func (d URLData) Validate() error {
	if err := required("url", d.URL); err != nil {
		return err
	}
	return required("text", d.Text)
}

// SendItemData configures a card node.
type SendItemData struct {
	Title    string `json:"title" mapstructure:"title"`
	Subtitle string `json:"subtitle,omitempty" mapstructure:"subtitle"`
	ImageURL string `json:"image_url,omitempty" mapstructure:"image_url"`
	URL      string `json:"url,omitempty" mapstructure:"url"`
}

func (SendItemData) Kind() NodeType     { return NodeTypeSendItem }
func (SendItemData) Behavior() Behavior { return BehaviorAuto }
func (d SendItemData) Validate() error  { return required("title", d.Title) }

// SetVariableData assigns Value (interpolated) to the session variable Name.
type SetVariableData struct {
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value" mapstructure:"value"`
}

func (SetVariableData) Kind() NodeType     { return NodeTypeSetVariable }
func (SetVariableData) Behavior() Behavior { return BehaviorAuto }
func (d SetVariableData) Validate() error  { return required("name", d.Name) }

// ActionData invokes a registered action by name.
type ActionData struct {
	Name string         `json:"name" mapstructure:"name"`
	Args map[string]any `json:"args,omitempty" mapstructure:"args"`
}

func (ActionData) Kind() NodeType     { return NodeTypeAction }
func (ActionData) Behavior() Behavior { return BehaviorAuto }
func (d ActionData) Validate() error  { return required("name", d.Name) }

// MenuOption is one choice of an options-menu node.
type MenuOption struct {
	Label    string `json:"label" mapstructure:"label"`
	Value    string `json:"value" mapstructure:"value"`
	ImageURL string `json:"image_url,omitempty" mapstructure:"image_url"`
}

// MenuData configures an options-menu node. Handle option-i selects Options[i].
type MenuData struct {
	Text    string       `json:"text" mapstructure:"text"`
	Name    string       `json:"name,omitempty" mapstructure:"name"`
	Options []MenuOption `json:"options" mapstructure:"options"`
}

func (MenuData) Kind() NodeType     { return NodeTypeOptions }
func (MenuData) Behavior() Behavior { return BehaviorDecision }

func (d MenuData) Validate() error {
	if len(d.Options) == 0 {
		return fmt.Errorf("%w: options menu has no options", ErrInvalidNodeData)
	}
	seen := make(map[string]bool, len(d.Options))
	for i, opt := range d.Options {
		if opt.Value == "" || opt.Label == "" {
			return fmt.Errorf("%w: option %d requires label and value", ErrInvalidNodeData, i)
		}
		if seen[opt.Value] {
			return fmt.Errorf("%w: duplicate option value %q", ErrInvalidNodeData, opt.Value)
		}
		seen[opt.Value] = true
	}
	return nil
}

func (d MenuData) Branch(i int) (Operator, string, bool) {
	if i < 0 || i >= len(d.Options) {
		return "", "", false
	}
	return OperatorEquals, d.Options[i].Value, true
}

// InputKind constrains the value accepted by an input-capture node.
type InputKind string

const (
	InputText   InputKind = "text"
	InputNumber InputKind = "number"
	InputEmail  InputKind = "email"
	InputPhone  InputKind = "phone"
)

// InputData configures an input-capture node. The raw answer is stored in Variable.
type InputData struct {
	Text      string    `json:"text" mapstructure:"text"`
	Variable  string    `json:"variable" mapstructure:"variable"`
	InputType InputKind `json:"input_type,omitempty" mapstructure:"input_type"`
}

func (InputData) Kind() NodeType     { return NodeTypeInput }
func (InputData) Behavior() Behavior { return BehaviorDecision }

func (d InputData) Validate() error {
	if err := required("variable", d.Variable); err != nil {
		return err
	}
	switch d.InputType {
	case "", InputText, InputNumber, InputEmail, InputPhone:
		return nil
	default:
		return fmt.Errorf("%w: unknown input_type %q", ErrInvalidNodeData, d.InputType)
	}
}

// Branch always reports false: input nodes leave through a single link or a default.
func (InputData) Branch(int) (Operator, string, bool) { return "", "", false }

// ControlType is the control type announced to the client while waiting on this node.
func (d InputData) ControlType() string {
	if d.InputType == "" {
		return string(InputText)
	}
	return string(d.InputType)
}

// Accept checks an answer against the input kind.
func (d InputData) Accept(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: empty answer", ErrInvalidInput)
	}
	switch d.InputType {
	case InputNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidInput, value)
		}
	case InputEmail:
		if _, err := mail.ParseAddress(value); err != nil || !strings.Contains(value, "@") {
			return fmt.Errorf("%w: %q is not an email address", ErrInvalidInput, value)
		}
	case InputPhone:
		if !phonePattern.MatchString(value) {
			return fmt.Errorf("%w: %q is not a phone number", ErrInvalidInput, value)
		}
	}
	return nil
}

// TimeRoutingData configures a time-routing node. Handle option-i selects Ranges[i].
type TimeRoutingData struct {
	Text   string      `json:"text,omitempty" mapstructure:"text"`
	Ranges []HourRange `json:"ranges" mapstructure:"ranges"`
	// Immediate evaluates the ranges on arrival instead of waiting for a message.
	Immediate bool `json:"immediate,omitempty" mapstructure:"immediate"`
}

func (TimeRoutingData) Kind() NodeType     { return NodeTypeTimeRouting }
func (TimeRoutingData) Behavior() Behavior { return BehaviorDecision }

func (d TimeRoutingData) Validate() error {
	for i, r := range d.Ranges {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("range %d: %w", i, err)
		}
	}
	return nil
}

func (d TimeRoutingData) Branch(i int) (Operator, string, bool) {
	if i < 0 || i >= len(d.Ranges) {
		return "", "", false
	}
	return OperatorTimeRange, d.Ranges[i].String(), true
}

// WebserviceData configures a webservice-wait node. The callback value is matched
// against Outcomes (handle option-i) and stored in Variable when set.
type WebserviceData struct {
	URL      string   `json:"url" mapstructure:"url"`
	Method   string   `json:"method,omitempty" mapstructure:"method"`
	Text     string   `json:"text,omitempty" mapstructure:"text"`
	Variable string   `json:"variable,omitempty" mapstructure:"variable"`
	Outcomes []string `json:"outcomes,omitempty" mapstructure:"outcomes"`
}

func (WebserviceData) Kind() NodeType     { return NodeTypeWebservice }
func (WebserviceData) Behavior() Behavior { return BehaviorSuspend }
func (d WebserviceData) Validate() error  { return required("url", d.URL) }

func (d WebserviceData) Branch(i int) (Operator, string, bool) {
	if i < 0 || i >= len(d.Outcomes) {
		return "", "", false
	}
	return OperatorEquals, d.Outcomes[i], true
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidNodeData, field)
	}
	return nil
}
