package domain

// MessageType identifies an outgoing message variant.
type MessageType string

const (
	MessageText     MessageType = "Text"
	MessageOptions  MessageType = "Options"
	MessageImage    MessageType = "Image"
	MessageURL      MessageType = "URL"
	MessageSendItem MessageType = "SendItem"
)

// Message is an outgoing bot message produced during a turn.
type Message interface {
	MessageType() MessageType
}

// TextMessage is a plain text message.
type TextMessage struct {
	Text string
}

// OptionsMessage presents the choices of a menu.
type OptionsMessage struct {
	Options []MenuOption
}

// ImageMessage sends an image by URL.
type ImageMessage struct {
	URL string
}

// URLMessage sends a link with its label.
type URLMessage struct {
	URL  string
	Text string
}

// SendItemMessage sends a card.
type SendItemMessage struct {
	Title    string
	Subtitle string
	ImageURL string
	URL      string
}

func (TextMessage) MessageType() MessageType     { return MessageText }
func (OptionsMessage) MessageType() MessageType  { return MessageOptions }
func (ImageMessage) MessageType() MessageType    { return MessageImage }
func (URLMessage) MessageType() MessageType      { return MessageURL }
func (SendItemMessage) MessageType() MessageType { return MessageSendItem }

// Control types announced to the client while a session waits.
const (
	ControlOptions     = "options"
	ControlTimeRouting = "time_routing"
	ControlWebservice  = "waitingwebservice"
)

// Control tells the client what kind of answer the session is waiting for.
type Control struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// WebserviceCall is the outbound request issued after a session parks on a webservice node.
type WebserviceCall struct {
	CorrelationKey string    `json:"correlation_key"`
	SessionID      string    `json:"session_id"`
	ProcessID      string    `json:"standard_process_id"`
	NodeID         string    `json:"node_id"`
	URL            string    `json:"-"`
	Method         string    `json:"-"`
	Variables      Variables `json:"variables"`
}
