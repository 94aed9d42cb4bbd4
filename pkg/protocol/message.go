package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/flowbot/pkg/domain"
)

// Message is an outgoing message on the wire. Only the fields allowed for its Type
// are serialized.
type Message struct {
	Type     domain.MessageType
	Text     string
	URL      string
	Options  []domain.MenuOption
	Title    string
	Subtitle string
	ImageURL string
}

// FromDomain converts and validates a domain message.
func FromDomain(m domain.Message) (Message, error) {
	var w Message
	switch v := m.(type) {
	case domain.TextMessage:
		w = Message{Type: domain.MessageText, Text: v.Text}
	case domain.OptionsMessage:
		w = Message{Type: domain.MessageOptions, Options: v.Options}
	case domain.ImageMessage:
		w = Message{Type: domain.MessageImage, URL: v.URL}
	case domain.URLMessage:
		w = Message{Type: domain.MessageURL, URL: v.URL, Text: v.Text}
	case domain.SendItemMessage:
		w = Message{Type: domain.MessageSendItem, Title: v.Title, Subtitle: v.Subtitle, ImageURL: v.ImageURL, URL: v.URL}
	default:
		return Message{}, fmt.Errorf("%w: unsupported message %T", ErrInvalidMessage, m)
	}
	if err := w.Validate(); err != nil {
		return Message{}, err
	}
	return w, nil
}

// Validate checks the required fields of the message type.
func (m Message) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s message requires %s", ErrInvalidMessage, m.Type, field)
	}
	switch m.Type {
	case domain.MessageText:
		if m.Text == "" {
			return missing("text")
		}
	case domain.MessageOptions:
		if len(m.Options) == 0 {
			return missing("options")
		}
		for _, o := range m.Options {
			if o.Label == "" || o.Value == "" {
				return missing("label and value on every option")
			}
		}
	case domain.MessageImage:
		if m.URL == "" {
			return missing("url")
		}
	case domain.MessageURL:
		if m.URL == "" {
			return missing("url")
		}
		if m.Text == "" {
			return missing("text")
		}
	case domain.MessageSendItem:
		if m.Title == "" {
			return missing("title")
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

type textWire struct {
	Type domain.MessageType `json:"type"`
	Text string             `json:"text"`
}

type optionsWire struct {
	Type    domain.MessageType  `json:"type"`
	Options []domain.MenuOption `json:"options"`
}

type imageWire struct {
	Type domain.MessageType `json:"type"`
	URL  string             `json:"url"`
}

type urlWire struct {
	Type domain.MessageType `json:"type"`
	URL  string             `json:"url"`
	Text string             `json:"text"`
}

type sendItemWire struct {
	Type     domain.MessageType `json:"type"`
	Title    string             `json:"title"`
	Subtitle string             `json:"subtitle,omitempty"`
	ImageURL string             `json:"image_url,omitempty"`
	URL      string             `json:"url,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	switch m.Type {
	case domain.MessageText:
		return json.Marshal(textWire{Type: m.Type, Text: m.Text})
	case domain.MessageOptions:
		return json.Marshal(optionsWire{Type: m.Type, Options: m.Options})
	case domain.MessageImage:
		return json.Marshal(imageWire{Type: m.Type, URL: m.URL})
	case domain.MessageURL:
		return json.Marshal(urlWire{Type: m.Type, URL: m.URL, Text: m.Text})
	default:
		return json.Marshal(sendItemWire{Type: m.Type, Title: m.Title, Subtitle: m.Subtitle, ImageURL: m.ImageURL, URL: m.URL})
	}
}

// allowedFields lists the keys each message type may carry besides "type".
var allowedFields = map[domain.MessageType]map[string]bool{
	domain.MessageText:     {"text": true},
	domain.MessageOptions:  {"options": true},
	domain.MessageImage:    {"url": true},
	domain.MessageURL:      {"url": true, "text": true},
	domain.MessageSendItem: {"title": true, "subtitle": true, "image_url": true, "url": true},
}

// UnmarshalJSON rejects fields that are not allowed for the message type.
func (m *Message) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var t domain.MessageType
	if err := json.Unmarshal(fields["type"], &t); err != nil {
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	allowed, ok := allowedFields[t]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, t)
	}
	for k := range fields {
		if k != "type" && !allowed[k] {
			return fmt.Errorf("%w: %s message cannot carry %q", ErrInvalidMessage, t, k)
		}
	}

	var all struct {
		Text     string              `json:"text"`
		URL      string              `json:"url"`
		Options  []domain.MenuOption `json:"options"`
		Title    string              `json:"title"`
		Subtitle string              `json:"subtitle"`
		ImageURL string              `json:"image_url"`
	}
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	out := Message{
		Type:     t,
		Text:     all.Text,
		URL:      all.URL,
		Options:  all.Options,
		Title:    all.Title,
		Subtitle: all.Subtitle,
		ImageURL: all.ImageURL,
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*m = out
	return nil
}
