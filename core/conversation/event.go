package conversation

// Kind classifies an inbound event.
type Kind string

const (
	// KindCommand is a slash command; Payload holds the name without the slash.
	KindCommand Kind = "command"
	// KindButton is an inline button press; Payload holds the button data.
	KindButton Kind = "button"
	// KindText is a plain message, including reply-keyboard labels.
	KindText Kind = "text"
)

// Event is one user action delivered by the transport.
type Event struct {
	// ID identifies the delivery; redeliveries carry the same ID. Empty disables deduplication.
	ID        string
	UserID    int64
	ChatID    int64
	Kind      Kind
	Payload   string
	Username  string
	FirstName string
}

func (e Event) chat() int64 {
	if e.ChatID != 0 {
		return e.ChatID
	}
	return e.UserID
}

// InlineButton is a button attached to a message. Exactly one of Payload or URL is set.
type InlineButton struct {
	Text    string
	Payload string
	URL     string
}

// Keyboard describes the markup sent along with a reply.
type Keyboard struct {
	Inline [][]InlineButton
	// Reply rows replace the persistent reply keyboard.
	Reply [][]string
	// Remove hides a previously shown reply keyboard.
	Remove bool
}

// Reply is one outbound message.
type Reply struct {
	ChatID   int64
	Text     string
	Keyboard *Keyboard
}

// Inline builds a one-button-per-row inline keyboard.
func Inline(buttons ...InlineButton) *Keyboard {
	rows := make([][]InlineButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineButton{b})
	}
	return &Keyboard{Inline: rows}
}

// Btn is shorthand for a payload button.
func Btn(text, payload string) InlineButton {
	return InlineButton{Text: text, Payload: payload}
}

// Link is shorthand for a URL button.
func Link(text, url string) InlineButton {
	return InlineButton{Text: text, URL: url}
}
