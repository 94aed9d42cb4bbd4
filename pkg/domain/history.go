package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryType identifies the kind of a history entry.
type EntryType string

const (
	EntryText              EntryType = "Text"
	EntryOptions           EntryType = "Options"
	EntryImage             EntryType = "Image"
	EntryURL               EntryType = "URL"
	EntrySendItem          EntryType = "SendItem"
	EntryUserInput         EntryType = "UserInput"
	EntryWaitingWebservice EntryType = "waitingwebservice"
)

// Sender identifies who produced a history entry.
type Sender string

const (
	SenderBot  Sender = "bot"
	SenderUser Sender = "user"
)

// EntryPayload is the type-specific content of a history entry.
type EntryPayload interface {
	EntryType() EntryType
}

type TextPayload struct {
	Text string `json:"text"`
}

type OptionsPayload struct {
	Options []MenuOption `json:"options"`
}

type ImagePayload struct {
	URL string `json:"url"`
}

type URLPayload struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

type SendItemPayload struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

type UserInputPayload struct {
	Text string `json:"text"`
}

// WaitingWebservicePayload marks the point where a session parked for a callback.
type WaitingWebservicePayload struct {
	CorrelationKey string `json:"correlation_key"`
	URL            string `json:"url,omitempty"`
}

func (TextPayload) EntryType() EntryType              { return EntryText }
func (OptionsPayload) EntryType() EntryType           { return EntryOptions }
func (ImagePayload) EntryType() EntryType             { return EntryImage }
func (URLPayload) EntryType() EntryType               { return EntryURL }
func (SendItemPayload) EntryType() EntryType          { return EntrySendItem }
func (UserInputPayload) EntryType() EntryType         { return EntryUserInput }
func (WaitingWebservicePayload) EntryType() EntryType { return EntryWaitingWebservice }

// HistoryEntry is one persisted element of a conversation log.
// Sender may be empty, in which case readers infer it from the type.
type HistoryEntry struct {
	Type    EntryType
	Sender  Sender
	NodeID  string
	Created time.Time
	Payload EntryPayload
}

// NewEntry builds an entry whose type follows the payload.
func NewEntry(sender Sender, nodeID string, created time.Time, payload EntryPayload) HistoryEntry {
	return HistoryEntry{
		Type:    payload.EntryType(),
		Sender:  sender,
		NodeID:  nodeID,
		Created: created,
		Payload: payload,
	}
}

// EffectiveSender returns the explicit sender, or user for UserInput and bot otherwise.
func (e HistoryEntry) EffectiveSender() Sender {
	if e.Sender != "" {
		return e.Sender
	}
	if e.Type == EntryUserInput {
		return SenderUser
	}
	return SenderBot
}

type historyEntryJSON struct {
	Type    EntryType       `json:"type"`
	Sender  Sender          `json:"sender,omitempty"`
	NodeID  string          `json:"node_id,omitempty"`
	Created time.Time       `json:"created"`
	Payload json.RawMessage `json:"payload"`
}

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(historyEntryJSON{
		Type:    e.Type,
		Sender:  e.Sender,
		NodeID:  e.NodeID,
		Created: e.Created,
		Payload: payload,
	})
}

func (e *HistoryEntry) UnmarshalJSON(b []byte) error {
	var raw historyEntryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = HistoryEntry{
		Type:    raw.Type,
		Sender:  raw.Sender,
		NodeID:  raw.NodeID,
		Created: raw.Created,
		Payload: payload,
	}
	return nil
}

// DecodePayload decodes a raw payload into the variant of the given entry type.
func DecodePayload(t EntryType, raw json.RawMessage) (EntryPayload, error) {
	switch t {
	case EntryText:
		return decodePayload[TextPayload](raw)
	case EntryOptions:
		return decodePayload[OptionsPayload](raw)
	case EntryImage:
		return decodePayload[ImagePayload](raw)
	case EntryURL:
		return decodePayload[URLPayload](raw)
	case EntrySendItem:
		return decodePayload[SendItemPayload](raw)
	case EntryUserInput:
		return decodePayload[UserInputPayload](raw)
	case EntryWaitingWebservice:
		return decodePayload[WaitingWebservicePayload](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryType, t)
	}
}

func decodePayload[T EntryPayload](raw json.RawMessage) (EntryPayload, error) {
	var p T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", p.EntryType(), err)
		}
	}
	return p, nil
}

// PayloadFor maps an outgoing message to the history payload that records it.
func PayloadFor(msg Message) EntryPayload {
	switch m := msg.(type) {
	case TextMessage:
		return TextPayload{Text: m.Text}
	case OptionsMessage:
		return OptionsPayload{Options: m.Options}
	case ImageMessage:
		return ImagePayload{URL: m.URL}
	case URLMessage:
		return URLPayload{URL: m.URL, Text: m.Text}
	case SendItemMessage:
		return SendItemPayload{Title: m.Title, Subtitle: m.Subtitle, ImageURL: m.ImageURL, URL: m.URL}
	default:
		return nil
	}
}
